package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"programline/internal/config"
	"programline/internal/db"
	"programline/internal/domain"
	"programline/internal/engine"
	"programline/internal/engine/auth"
	"programline/internal/llm"
	"programline/internal/migrate"
	"programline/internal/repo"
)

type fakeLLM struct {
	data  string
	err   error
	calls int
	last  llm.Request
}

func (f *fakeLLM) Invoke(_ context.Context, req llm.Request) (llm.Response, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Success: true, Data: json.RawMessage(f.data)}, nil
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	LLM    *fakeLLM
	Config *config.Config
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default()
	fake := &fakeLLM{}
	eng := engine.New(conn, cfg)
	eng.LLM = fake
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background(), LLM: fake, Config: cfg}
}

const tester = "tester"

func (env testEnv) createProgram(t *testing.T, mutate ...func(*engine.CreateProgramOptions)) domain.Program {
	t.Helper()
	opts := engine.CreateProgramOptions{
		NameEN:       "Health Innovation Accelerator",
		ProgramType:  "accelerator",
		ContactEmail: "programs@example.org",
		Mentors: []domain.Mentor{
			{Name: "Dr. Noor", Expertise: "digital health"},
			{Name: "Sam Lee", Expertise: "go-to-market"},
		},
		ActorID: tester,
	}
	for _, m := range mutate {
		m(&opts)
	}
	p, err := env.Engine.CreateProgram(env.Ctx, opts)
	require.NoError(t, err)
	return p
}

func (env testEnv) launch(t *testing.T, p domain.Program) domain.Program {
	t.Helper()
	p, err := env.Engine.LaunchProgram(env.Ctx, engine.LaunchOptions{
		ProgramID:        p.ID,
		Checklist:        checkAll(env.Config.Gates.Launch.Checklist),
		AnnouncementText: "Applications are open",
		ActorID:          tester,
	})
	require.NoError(t, err)
	return p
}

func (env testEnv) submit(t *testing.T, p domain.Program, id, name, email string) domain.Application {
	t.Helper()
	a, err := env.Engine.SubmitApplication(env.Ctx, engine.SubmitApplicationOptions{
		ID:             id,
		ProgramID:      p.ID,
		ApplicantName:  name,
		ApplicantEmail: email,
		Profile:        map[string]any{"idea": name + " idea"},
		ActorID:        tester,
	})
	require.NoError(t, err)
	return a
}

// cohort launches a program, takes three applications and closes intake.
func (env testEnv) cohort(t *testing.T) domain.Program {
	t.Helper()
	p := env.launch(t, env.createProgram(t))
	env.submit(t, p, "app-1", "Amal", "amal@example.org")
	env.submit(t, p, "app-2", "Badr", "")
	env.submit(t, p, "app-3", "Carla", "carla@example.org")
	p, err := env.Engine.CloseApplications(env.Ctx, p.ID, 0, tester)
	require.NoError(t, err)
	require.Equal(t, domain.ProgramSelection, p.Status)
	return p
}

func TestLaunchProgramEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)
	require.Equal(t, domain.ProgramPlanning, p.Status)

	launched := env.launch(t, p)
	assert.Equal(t, domain.ProgramApplicationsOpen, launched.Status)
	assert.Equal(t, "2024-01-01", launched.LaunchDate)
	assert.Equal(t, p.Version+1, launched.Version)
	assert.Len(t, launched.LaunchChecklist, len(env.Config.Gates.Launch.Checklist))

	notes, err := env.Engine.ListNotifications(env.Ctx, repo.NotificationFilter{EntityType: "program", EntityID: p.ID, Type: "program_launched"})
	require.NoError(t, err)
	assert.Len(t, notes, 1)

	jobs, err := env.Engine.ListEmailJobs(env.Ctx, repo.EmailJobFilter{EntityID: p.ID})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.TriggerProgramLaunched, jobs[0].Trigger)
	assert.Equal(t, "programs@example.org", jobs[0].RecipientEmail)
	assert.Equal(t, domain.EmailPending, jobs[0].Status)

	stored, err := env.Engine.GetProgram(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, launched.Version, stored.Version)
	assert.Equal(t, "Applications are open", stored.AnnouncementText)

	events, err := env.Engine.ActivityLog(env.Ctx, repo.EventFilter{ProgramID: p.ID, Type: "program.launched"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestLaunchProgramNotReady(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)
	values := checkAll(env.Config.Gates.Launch.Checklist)
	values["budget_approved"] = false

	_, err := env.Engine.LaunchProgram(env.Ctx, engine.LaunchOptions{ProgramID: p.ID, Checklist: values, ActorID: tester})
	require.ErrorIs(t, err, engine.ErrGateNotReady)
	var gate *engine.GateError
	require.ErrorAs(t, err, &gate)
	assert.Equal(t, []string{"budget_approved"}, gate.Missing)

	stored, err := env.Engine.GetProgram(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProgramPlanning, stored.Status)
	notes, err := env.Engine.ListNotifications(env.Ctx, repo.NotificationFilter{EntityID: p.ID})
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestLaunchStaleVersion(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)
	_, err := env.Engine.UpdateProgram(env.Ctx, engine.UpdateProgramOptions{ID: p.ID, DescriptionEN: ptr("updated"), ActorID: tester})
	require.NoError(t, err)

	_, err = env.Engine.LaunchProgram(env.Ctx, engine.LaunchOptions{
		ProgramID:       p.ID,
		Checklist:       checkAll(env.Config.Gates.Launch.Checklist),
		ExpectedVersion: p.Version,
		ActorID:         tester,
	})
	require.ErrorIs(t, err, engine.ErrVersionConflict)
}

func TestProgramTransitions(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)

	var te *domain.TransitionError
	_, err := env.Engine.SetProgramStatus(env.Ctx, engine.SetProgramStatusOptions{ProgramID: p.ID, Status: domain.ProgramSelection, ActorID: tester})
	require.ErrorAs(t, err, &te)

	_, err = env.Engine.SetProgramStatus(env.Ctx, engine.SetProgramStatusOptions{ProgramID: p.ID, Status: domain.ProgramActive, ActorID: tester})
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Error(), "program start")

	_, err = env.Engine.StartProgram(env.Ctx, p.ID, 0, tester)
	require.ErrorAs(t, err, &te)

	forced, err := env.Engine.SetProgramStatus(env.Ctx, engine.SetProgramStatusOptions{ProgramID: p.ID, Status: domain.ProgramSelection, Force: true, ActorID: tester})
	require.NoError(t, err)
	assert.Equal(t, domain.ProgramSelection, forced.Status)

	_, err = env.Engine.StartProgram(env.Ctx, p.ID, 0, tester)
	require.ErrorIs(t, err, engine.ErrGateNotReady)

	cancelled, err := env.Engine.CancelProgram(env.Ctx, p.ID, forced.Version, tester)
	require.NoError(t, err)
	assert.Equal(t, domain.ProgramCancelled, cancelled.Status)

	_, err = env.Engine.CancelProgram(env.Ctx, p.ID, 0, tester)
	require.ErrorAs(t, err, &te)
	_, err = env.Engine.UpdateProgram(env.Ctx, engine.UpdateProgramOptions{ID: p.ID, NameEN: ptr("other"), ActorID: tester})
	require.ErrorIs(t, err, engine.ErrProgramClosed)
}

func TestCreateProgramValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProgram(env.Ctx, engine.CreateProgramOptions{ProgramType: "x", ActorID: tester})
	var verr validator.ValidationErrors
	require.ErrorAs(t, err, &verr)

	_, err = env.Engine.CreateProgram(env.Ctx, engine.CreateProgramOptions{
		NameEN: "n", ProgramType: "x", ActorID: tester,
		Mentors: []domain.Mentor{{Name: "A"}, {Name: "A"}},
	})
	require.ErrorIs(t, err, engine.ErrInvalidInput)

	_, err = env.Engine.CreateProgram(env.Ctx, engine.CreateProgramOptions{NameEN: "n", ProgramType: "x", StrategicPlanID: "nope", ActorID: tester})
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestSubmitApplicationRequiresOpenProgram(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)
	_, err := env.Engine.SubmitApplication(env.Ctx, engine.SubmitApplicationOptions{ProgramID: p.ID, ApplicantName: "Early", ActorID: tester})
	var te *domain.TransitionError
	require.ErrorAs(t, err, &te)
}

func TestScreeningJoinsByID(t *testing.T) {
	env := newTestEnv(t)
	p := env.launch(t, env.createProgram(t))
	env.submit(t, p, "app-1", "Amal", "amal@example.org")
	env.submit(t, p, "app-2", "Badr", "badr@example.org")

	env.LLM.data = `{"scored_applications":[
		{"application_id":"app-2","applicant_name":"Wrong Name","total_score":91,"recommendation":"accept"},
		{"application_id":"app-1","total_score":40,"recommendation":"reject","reasoning":"thin"},
		{"application_id":"ghost","total_score":99,"recommendation":"accept"}
	]}`
	prop, err := env.Engine.ScreenApplications(env.Ctx, p.ID, tester)
	require.NoError(t, err)
	require.Len(t, prop.Results, 2)
	assert.Equal(t, "app-2", prop.Results[0].ApplicationID)
	assert.Equal(t, "Badr", prop.Results[0].ApplicantName)
	assert.Equal(t, "app-1", prop.Results[1].ApplicationID)
	require.Len(t, prop.Unmatched, 1)
	assert.Equal(t, "ghost", prop.Unmatched[0].ApplicationID)
	assert.Equal(t, "screening", env.LLM.last.Purpose)
	assert.Contains(t, env.LLM.last.Prompt, "app-1")

	// Proposals are not persisted.
	a, err := env.Engine.GetApplication(env.Ctx, "app-2")
	require.NoError(t, err)
	assert.Equal(t, domain.AppSubmitted, a.Status)
	assert.Nil(t, a.AIScore)

	apps, err := env.Engine.ApplyScreening(env.Ctx, engine.ApplyScreeningOptions{
		ProgramID:             p.ID,
		Results:               prop.Results,
		SelectedForAcceptance: []string{"app-2"},
		ActorID:               tester,
	})
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, domain.AppAccepted, apps[0].Status)
	require.NotNil(t, apps[0].AIScore)
	assert.InDelta(t, 91, *apps[0].AIScore, 1e-9)
	assert.Equal(t, domain.AppRejected, apps[1].Status)
	assert.Equal(t, "thin", apps[1].AIReasoning)
}

func TestScreeningLLMFailure(t *testing.T) {
	env := newTestEnv(t)
	p := env.launch(t, env.createProgram(t))
	env.submit(t, p, "app-1", "Amal", "")

	env.LLM.err = errors.New("quota exceeded")
	_, err := env.Engine.ScreenApplications(env.Ctx, p.ID, tester)
	require.ErrorIs(t, err, llm.ErrInvocationFailed)

	env.LLM.err = nil
	env.LLM.data = `"not json at all"`
	_, err = env.Engine.ScreenApplications(env.Ctx, p.ID, tester)
	require.ErrorIs(t, err, llm.ErrInvocationFailed)
}

func TestApplyScreeningIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	p := env.launch(t, env.createProgram(t))
	env.submit(t, p, "app-1", "Amal", "")
	env.submit(t, p, "app-2", "Badr", "")

	_, err := env.Engine.ApplyScreening(env.Ctx, engine.ApplyScreeningOptions{
		ProgramID: p.ID,
		Results: []engine.ScreeningResult{
			{ApplicationID: "app-1", TotalScore: 80, Recommendation: "accept"},
			{ApplicationID: "unknown", TotalScore: 10, Recommendation: "reject"},
			{ApplicationID: "app-2", TotalScore: 20, Recommendation: "reject"},
		},
		SelectedForAcceptance: []string{"app-1"},
		ActorID:               tester,
	})
	require.ErrorIs(t, err, repo.ErrNotFound)

	for _, id := range []string{"app-1", "app-2"} {
		a, err := env.Engine.GetApplication(env.Ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.AppSubmitted, a.Status, id)
		assert.Nil(t, a.AIScore, id)
	}

	_, err = env.Engine.ApplyScreening(env.Ctx, engine.ApplyScreeningOptions{
		ProgramID:             p.ID,
		Results:               []engine.ScreeningResult{{ApplicationID: "app-1", TotalScore: 80}},
		SelectedForAcceptance: []string{"app-2"},
		ActorID:               tester,
	})
	require.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestFinalizeSelectionQueuesStatusEmails(t *testing.T) {
	env := newTestEnv(t)
	p := env.cohort(t)

	_, err := env.Engine.FinalizeSelection(env.Ctx, engine.FinalizeSelectionOptions{
		ProgramID:   p.ID,
		SelectedIDs: []string{"app-1"},
		RejectedIDs: []string{"app-1"},
		ActorID:     tester,
	})
	require.ErrorIs(t, err, engine.ErrInvalidInput)

	out, err := env.Engine.FinalizeSelection(env.Ctx, engine.FinalizeSelectionOptions{
		ProgramID:        p.ID,
		SelectedIDs:      []string{"app-2", "app-1"},
		RejectedIDs:      []string{"app-3"},
		RejectionMessage: "Thank you for applying",
		ActorID:          tester,
	})
	require.NoError(t, err)
	require.Len(t, out.Accepted, 2)
	require.Len(t, out.Rejected, 1)
	assert.Equal(t, domain.AppRejected, out.Rejected[0].Status)

	rejected, err := env.Engine.ListEmailJobs(env.Ctx, repo.EmailJobFilter{EntityID: "app-3"})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, domain.TriggerApplicationStatus, rejected[0].Trigger)
	assert.Equal(t, "rejected", rejected[0].Variables["status"])
	assert.Equal(t, "Thank you for applying", rejected[0].Variables["rejection_message"])

	// app-2 has no email address.
	none, err := env.Engine.ListEmailJobs(env.Ctx, repo.EmailJobFilter{EntityID: "app-2"})
	require.NoError(t, err)
	assert.Empty(t, none)

	notes, err := env.Engine.ListNotifications(env.Ctx, repo.NotificationFilter{EntityID: p.ID, Type: "selection_finalized"})
	require.NoError(t, err)
	assert.Len(t, notes, 1)

	// Decided applications cannot be flipped.
	_, err = env.Engine.FinalizeSelection(env.Ctx, engine.FinalizeSelectionOptions{ProgramID: p.ID, SelectedIDs: []string{"app-3"}, ActorID: tester})
	var te *domain.TransitionError
	require.ErrorAs(t, err, &te)
}

func TestMentorMatching(t *testing.T) {
	env := newTestEnv(t)
	p := env.cohort(t)

	_, err := env.Engine.ProposeMentorMatches(env.Ctx, p.ID)
	require.ErrorIs(t, err, engine.ErrGateNotReady)

	_, err = env.Engine.FinalizeSelection(env.Ctx, engine.FinalizeSelectionOptions{
		ProgramID: p.ID, SelectedIDs: []string{"app-1", "app-2"}, RejectedIDs: []string{"app-3"}, ActorID: tester,
	})
	require.NoError(t, err)

	fenced := "```json\n" + `{"matches":[
		{"application_id":"app-1","mentor_name":"Dr. Noor","match_score":88,"reasoning":"health"},
		{"application_id":"app-2","mentor_name":"Ghost Mentor","match_score":70},
		{"application_id":"app-3","mentor_name":"Sam Lee","match_score":60}
	]}` + "\n```"
	env.LLM.data = mustJSONString(t, fenced)
	prop, err := env.Engine.ProposeMentorMatches(env.Ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, prop.Matches, 1)
	assert.Equal(t, "Amal", prop.Matches[0].ParticipantName)
	assert.Len(t, prop.Unmatched, 2)

	apps, err := env.Engine.ApplyMentorMatches(env.Ctx, engine.ApplyMentorOptions{ProgramID: p.ID, Matches: prop.Matches, ActorID: tester})
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "Dr. Noor", apps[0].AssignedMentor)
	require.NotNil(t, apps[0].MentorMatchScore)
	assert.InDelta(t, 88, *apps[0].MentorMatchScore, 1e-9)

	_, err = env.Engine.ApplyMentorMatches(env.Ctx, engine.ApplyMentorOptions{
		ProgramID: p.ID,
		Matches:   []engine.MentorMatch{{ApplicationID: "app-3", MentorName: "Sam Lee", MatchScore: 50}},
		ActorID:   tester,
	})
	require.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestCompletionFanOut(t *testing.T) {
	env := newTestEnv(t)
	p := env.cohort(t)
	_, err := env.Engine.FinalizeSelection(env.Ctx, engine.FinalizeSelectionOptions{
		ProgramID: p.ID, SelectedIDs: []string{"app-1", "app-2"}, RejectedIDs: []string{"app-3"}, ActorID: tester,
	})
	require.NoError(t, err)
	p, err = env.Engine.StartProgram(env.Ctx, p.ID, 0, tester)
	require.NoError(t, err)
	require.Equal(t, domain.ProgramActive, p.Status)

	items := env.Config.Gates.Completion.Checklist
	three := map[string]bool{items[0].Key: true, items[1].Key: true, items[2].Key: true}
	_, err = env.Engine.CompleteProgram(env.Ctx, engine.CompleteOptions{ProgramID: p.ID, Checklist: three, ActorID: tester})
	require.ErrorIs(t, err, engine.ErrGateNotReady)

	four := map[string]bool{items[0].Key: true, items[1].Key: true, items[2].Key: true, items[3].Key: true}
	done, err := env.Engine.CompleteProgram(env.Ctx, engine.CompleteOptions{
		ProgramID:      p.ID,
		Checklist:      four,
		CompletionData: map[string]any{"graduates": 2},
		Outcomes:       domain.Outcomes{PilotsGenerated: 3, PartnershipsFormed: 1},
		ActorID:        tester,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ProgramCompleted, done.Status)
	assert.Equal(t, "2024-01-01", done.CompletionDate)
	assert.Equal(t, 3, done.Outcomes.PilotsGenerated)

	jobs, err := env.Engine.ListEmailJobs(env.Ctx, repo.EmailJobFilter{EntityID: p.ID})
	require.NoError(t, err)
	var completed []string
	for _, j := range jobs {
		if j.Trigger == domain.TriggerProgramCompleted {
			completed = append(completed, j.RecipientEmail)
		}
	}
	assert.Equal(t, []string{"amal@example.org"}, completed)

	notes, err := env.Engine.ListNotifications(env.Ctx, repo.NotificationFilter{EntityID: p.ID, Type: "program_completed"})
	require.NoError(t, err)
	assert.Len(t, notes, 1)

	_, err = env.Engine.AddSession(env.Ctx, engine.AddSessionOptions{ProgramID: p.ID, Topic: "late", ActorID: tester})
	require.ErrorIs(t, err, engine.ErrProgramClosed)
}

func TestDeleteSessionAtPreservesOrder(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)
	for i, topic := range []string{"Kickoff", "Discovery", "Prototype", "Demo day"} {
		_, err := env.Engine.AddSession(env.Ctx, engine.AddSessionOptions{ProgramID: p.ID, Week: i + 1, Topic: topic, ActorID: tester})
		require.NoError(t, err)
	}
	before, err := env.Engine.ListSessions(env.Ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, before.Sessions, 4)

	after, err := env.Engine.DeleteSessionAt(env.Ctx, p.ID, 1, before.Version, tester)
	require.NoError(t, err)
	assert.Equal(t, before.Version+1, after.Version)
	if diff := cmp.Diff([]string{"Kickoff", "Prototype", "Demo day"}, topics(after.Sessions)); diff != "" {
		t.Fatalf("sessions after delete (-want +got):\n%s", diff)
	}
	for _, s := range after.Sessions {
		assert.NotEqual(t, before.Sessions[1].ID, s.ID)
	}

	_, err = env.Engine.DeleteSessionAt(env.Ctx, p.ID, 3, 0, tester)
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.DeleteSessionAt(env.Ctx, p.ID, -1, 0, tester)
	require.ErrorIs(t, err, engine.ErrInvalidInput)

	last, err := env.Engine.DeleteSession(env.Ctx, p.ID, after.Sessions[2].ID, 0, tester)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"Kickoff", "Prototype"}, topics(last.Sessions)); diff != "" {
		t.Fatalf("sessions after delete by id (-want +got):\n%s", diff)
	}
}

func TestSessionStaleVersion(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)
	start, err := env.Engine.ListSessions(env.Ctx, p.ID)
	require.NoError(t, err)

	first, err := env.Engine.AddSession(env.Ctx, engine.AddSessionOptions{ProgramID: p.ID, Topic: "Kickoff", ExpectedVersion: start.Version, ActorID: tester})
	require.NoError(t, err)

	_, err = env.Engine.AddSession(env.Ctx, engine.AddSessionOptions{ProgramID: p.ID, Topic: "Clobber", ExpectedVersion: start.Version, ActorID: tester})
	require.ErrorIs(t, err, engine.ErrVersionConflict)
	_, err = env.Engine.DeleteSessionAt(env.Ctx, p.ID, 0, start.Version, tester)
	require.ErrorIs(t, err, engine.ErrVersionConflict)

	now, err := env.Engine.ListSessions(env.Ctx, p.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(first, now); diff != "" {
		t.Fatalf("stale writes changed the list (-want +got):\n%s", diff)
	}
}

func TestLessonsFeedback(t *testing.T) {
	env := newTestEnv(t)
	plan, err := env.Engine.CreateStrategicPlan(env.Ctx, engine.CreateStrategicPlanOptions{Title: "Vision 2030", ActorID: tester})
	require.NoError(t, err)

	bare := env.createProgram(t)
	_, err = env.Engine.PushLessonFeedback(env.Ctx, bare.ID, tester)
	var gate *engine.GateError
	require.ErrorAs(t, err, &gate)
	assert.Equal(t, []string{"strategic_plan", "lessons"}, gate.Missing)

	p := env.createProgram(t, func(o *engine.CreateProgramOptions) { o.StrategicPlanID = plan.ID })
	_, err = env.Engine.AddLesson(env.Ctx, engine.AddLessonOptions{ProgramID: p.ID, Type: domain.LessonSuccess, Description: "Strong mentor pool", ActorID: tester})
	require.NoError(t, err)
	_, err = env.Engine.AddLesson(env.Ctx, engine.AddLessonOptions{ProgramID: p.ID, Type: domain.LessonChallenge, Description: "Late start", ActorID: tester})
	require.NoError(t, err)
	_, err = env.Engine.AddLesson(env.Ctx, engine.AddLessonOptions{ProgramID: p.ID, Type: "gossip", Description: "x", ActorID: tester})
	require.Error(t, err)

	successes, err := env.Engine.ListLessons(env.Ctx, p.ID, domain.LessonSuccess)
	require.NoError(t, err)
	assert.Len(t, successes, 1)

	env.LLM.data = `{"summary":"Mentors carried the cohort."}`
	fb, err := env.Engine.PushLessonFeedback(env.Ctx, p.ID, tester)
	require.NoError(t, err)
	assert.Equal(t, "Mentors carried the cohort.", fb.Summary)
	assert.Equal(t, 2, fb.LessonCount)

	env.LLM.err = errors.New("offline")
	fb, err = env.Engine.PushLessonFeedback(env.Ctx, p.ID, tester)
	require.NoError(t, err)
	assert.Contains(t, fb.Summary, "2 lessons learned (1 successes, 1 challenges, 0 improvements)")

	align, err := env.Engine.StrategicAlignment(env.Ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, align.FeedbackCount)
	require.Len(t, align.Programs, 1)
	assert.Equal(t, p.ID, align.Programs[0].ID)
	assert.Equal(t, 1, align.ByStatus["planning"])
}

func TestReports(t *testing.T) {
	env := newTestEnv(t)
	p := env.cohort(t)
	_, err := env.Engine.FinalizeSelection(env.Ctx, engine.FinalizeSelectionOptions{
		ProgramID: p.ID, SelectedIDs: []string{"app-1", "app-2"}, RejectedIDs: []string{"app-3"}, ActorID: tester,
	})
	require.NoError(t, err)

	_, err = env.Engine.RecordPilot(env.Ctx, engine.RecordWorkOptions{Title: "Clinic triage", CreatedBy: "amal@example.org", ProgramID: p.ID, ActorID: tester})
	require.NoError(t, err)
	_, err = env.Engine.RecordPilot(env.Ctx, engine.RecordWorkOptions{Title: "Pharmacy bot", CreatedBy: "amal@example.org", ActorID: tester})
	require.NoError(t, err)
	_, err = env.Engine.RecordSolution(env.Ctx, engine.RecordWorkOptions{Title: "Unrelated", CreatedBy: "carla@example.org", ActorID: tester})
	require.NoError(t, err)

	alumni, err := env.Engine.AlumniImpact(env.Ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, alumni.Alumni, 2)
	assert.Equal(t, 2, alumni.TotalPilots)
	assert.Equal(t, 0, alumni.TotalSolutions)
	assert.Equal(t, 2, alumni.Alumni[0].Pilots)

	_, err = env.Engine.RecordKPIContribution(env.Ctx, engine.RecordKPIOptions{ProgramID: p.ID, KPIKey: "jobs_created", Value: 4, ActorID: tester})
	require.NoError(t, err)
	_, err = env.Engine.RecordKPIContribution(env.Ctx, engine.RecordKPIOptions{ProgramID: p.ID, KPIKey: "jobs_created", Value: 1.5, ActorID: tester})
	require.NoError(t, err)

	kpi, err := env.Engine.KPITracker(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, kpi.TotalApplicants)
	assert.Equal(t, 2, kpi.Applications["accepted"])
	require.NotNil(t, kpi.AcceptanceRate)
	assert.InDelta(t, 2.0/3.0, *kpi.AcceptanceRate, 1e-9)
	assert.Nil(t, kpi.AverageAIScore)
	assert.InDelta(t, 5.5, kpi.Contributions["jobs_created"], 1e-9)

	dash, err := env.Engine.ProgramDashboard(env.Ctx, p.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, p.ID, dash.Program.ID)
	assert.Equal(t, kpi.TotalApplicants, dash.KPI.TotalApplicants)
	assert.Len(t, dash.Activity, 5)

	pilotJobs, err := env.Engine.ListEmailJobs(env.Ctx, repo.EmailJobFilter{Status: domain.EmailPending})
	require.NoError(t, err)
	found := 0
	for _, j := range pilotJobs {
		if j.Trigger == domain.TriggerPilotCreated {
			found++
		}
	}
	assert.Equal(t, 2, found)
}

func TestRetryEmailJobOnlyForDead(t *testing.T) {
	env := newTestEnv(t)
	p := env.launch(t, env.createProgram(t))
	jobs, err := env.Engine.ListEmailJobs(env.Ctx, repo.EmailJobFilter{EntityID: p.ID})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	_, err = env.Engine.RetryEmailJob(env.Ctx, jobs[0].ID, tester)
	var te *domain.TransitionError
	require.ErrorAs(t, err, &te)

	now := "2024-01-01T09:30:00Z"
	require.NoError(t, env.Engine.Repo.MarkEmailFailed(env.Ctx, jobs[0].ID, 5, "hub down", now, true, now))
	job, err := env.Engine.RetryEmailJob(env.Ctx, jobs[0].ID, tester)
	require.NoError(t, err)
	assert.Equal(t, domain.EmailPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
}

func TestRBACGrantRevoke(t *testing.T) {
	env := newTestEnv(t)
	org := env.Config.Workspace.OrgID
	r := env.Engine.Repo
	tx, err := r.DB.BeginTx(env.Ctx, nil)
	require.NoError(t, err)
	now := "2024-01-01T00:00:00Z"
	require.NoError(t, r.EnsureOrg(env.Ctx, tx, org, "", now))
	require.NoError(t, r.SyncRolesTx(env.Ctx, tx, env.Config.RBAC.Roles))
	require.NoError(t, r.EnsureActor(env.Ctx, tx, tester, now))
	require.NoError(t, r.AssignRole(env.Ctx, tx, org, tester, "owner"))
	require.NoError(t, tx.Commit())

	require.NoError(t, env.Engine.GrantRole(env.Ctx, org, tester, "bob", "viewer"))
	who, err := env.Engine.WhoAmI(env.Ctx, org, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"viewer"}, who.Roles)
	assert.Contains(t, who.Permissions, "report.read")
	assert.NotContains(t, who.Permissions, "program.launch")

	err = env.Engine.GrantRole(env.Ctx, org, "bob", "eve", "owner")
	var forbidden auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, "rbac.manage", forbidden.Permission)

	require.ErrorIs(t, env.Engine.GrantRole(env.Ctx, org, tester, "bob", "wizard"), engine.ErrInvalidInput)
	require.ErrorIs(t, env.Engine.RevokeRole(env.Ctx, org, tester, tester, "owner"), engine.ErrInvalidInput)
	require.NoError(t, env.Engine.RevokeRole(env.Ctx, org, tester, "bob", "viewer"))
	require.ErrorIs(t, env.Engine.RevokeRole(env.Ctx, org, tester, "bob", "viewer"), repo.ErrNotFound)
}

func TestAPIKeys(t *testing.T) {
	env := newTestEnv(t)
	created, err := env.Engine.CreateAPIKey(env.Ctx, tester, "ci")
	require.NoError(t, err)
	assert.Regexp(t, `^pl_[0-9a-f]{48}$`, created.Key)
	assert.NotEqual(t, created.Key, created.KeyHash)

	actor, err := env.Engine.ResolveAPIKey(env.Ctx, created.Key)
	require.NoError(t, err)
	assert.Equal(t, tester, actor)

	require.ErrorIs(t, env.Engine.DeleteAPIKey(env.Ctx, created.ID, "someone-else"), repo.ErrNotFound)
	require.NoError(t, env.Engine.DeleteAPIKey(env.Ctx, created.ID, tester))
	_, err = env.Engine.ResolveAPIKey(env.Ctx, created.Key)
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func topics(items []domain.Session) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		out = append(out, s.Topic)
	}
	return out
}

func mustJSONString(t *testing.T, s string) string {
	t.Helper()
	data, err := json.Marshal(s)
	require.NoError(t, err)
	return string(data)
}

func ptr[T any](v T) *T { return &v }

func TestOrgScopedListings(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	home := env.createProgram(t)
	away := env.createProgram(t, func(o *engine.CreateProgramOptions) { o.OrgID = "org-b" })
	record := func(programID, email string) domain.Pilot {
		pl, err := e.RecordPilot(env.Ctx, engine.RecordWorkOptions{Title: "Clinic pilot", CreatedBy: email, ProgramID: programID, ActorID: tester})
		require.NoError(t, err)
		return pl
	}
	atHome := record(home.ID, "a@example.org")
	loose := record("", "b@example.org")
	abroad := record(away.ID, "c@example.org")
	pilotIDs := func(items []domain.Pilot) []string {
		out := []string{}
		for _, pl := range items {
			out = append(out, pl.ID)
		}
		return out
	}

	homeScope := e.OrgScope(e.WorkspaceOrg())
	assert.True(t, homeScope.Unowned)
	pilots, err := e.ListPilots(env.Ctx, repo.WorkFilter{Scope: homeScope})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{atHome.ID, loose.ID}, pilotIDs(pilots))

	orgB := e.OrgScope("org-b")
	assert.False(t, orgB.Unowned)
	pilots, err = e.ListPilots(env.Ctx, repo.WorkFilter{Scope: orgB})
	require.NoError(t, err)
	assert.Equal(t, []string{abroad.ID}, pilotIDs(pilots))

	jobs, err := e.ListEmailJobs(env.Ctx, repo.EmailJobFilter{Scope: orgB})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, abroad.ID, jobs[0].EntityID)
	org, err := e.EmailJobOrg(env.Ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "org-b", org)

	stats, err := e.OutboxStats(env.Ctx, orgB)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[domain.EmailPending])
	stats, err = e.OutboxStats(env.Ctx, homeScope)
	require.NoError(t, err)
	assert.Equal(t, 2, stats[domain.EmailPending])

	events, err := e.ActivityLog(env.Ctx, repo.EventFilter{Scope: orgB, Limit: 50})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	for _, ev := range events {
		assert.Equal(t, away.ID, ev.ProgramID, ev.Type)
	}
}
