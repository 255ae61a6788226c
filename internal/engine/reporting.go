package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"programline/internal/domain"
	"programline/internal/events"
	"programline/internal/repo"
)

type AlumniEntry struct {
	ApplicationID string `json:"application_id"`
	Name          string `json:"name"`
	Email         string `json:"email,omitempty"`
	Organization  string `json:"organization,omitempty"`
	Pilots        int    `json:"pilots"`
	Solutions     int    `json:"solutions"`
}

type AlumniReport struct {
	ProgramID      string          `json:"program_id"`
	Alumni         []AlumniEntry   `json:"alumni"`
	TotalPilots    int             `json:"total_pilots"`
	TotalSolutions int             `json:"total_solutions"`
	Outcomes       domain.Outcomes `json:"outcomes"`
}

// AlumniImpact joins accepted participants to the pilots and solutions they
// created, by email.
func (e Engine) AlumniImpact(ctx context.Context, programID string) (AlumniReport, error) {
	p, err := e.Repo.GetProgram(ctx, programID)
	if err != nil {
		return AlumniReport{}, err
	}
	accepted, err := e.Repo.ListApplications(ctx, repo.ApplicationFilter{
		ProgramID: p.ID,
		Statuses:  []domain.ApplicationStatus{domain.AppAccepted},
		Oldest:    true,
	})
	if err != nil {
		return AlumniReport{}, err
	}
	var emails []string
	for _, a := range accepted {
		if a.ApplicantEmail != "" {
			emails = append(emails, a.ApplicantEmail)
		}
	}
	pilots, solutions, err := e.Repo.CountByCreator(ctx, emails)
	if err != nil {
		return AlumniReport{}, err
	}
	rep := AlumniReport{ProgramID: p.ID, Alumni: []AlumniEntry{}, Outcomes: p.Outcomes}
	for _, a := range accepted {
		entry := AlumniEntry{
			ApplicationID: a.ID,
			Name:          a.ApplicantName,
			Email:         a.ApplicantEmail,
			Organization:  a.Organization,
		}
		if a.ApplicantEmail != "" {
			entry.Pilots = pilots[a.ApplicantEmail]
			entry.Solutions = solutions[a.ApplicantEmail]
		}
		rep.TotalPilots += entry.Pilots
		rep.TotalSolutions += entry.Solutions
		rep.Alumni = append(rep.Alumni, entry)
	}
	return rep, nil
}

type KPIReport struct {
	ProgramID        string             `json:"program_id"`
	Status           string             `json:"status"`
	Applications     map[string]int     `json:"applications"`
	TotalApplicants  int                `json:"total_applicants"`
	AcceptanceRate   *float64           `json:"acceptance_rate,omitempty"`
	AverageAIScore   *float64           `json:"average_ai_score,omitempty"`
	ScoredApplicants int                `json:"scored_applicants"`
	Outcomes         domain.Outcomes    `json:"outcomes"`
	Contributions    map[string]float64 `json:"contributions"`
}

// AcceptanceRate is accepted over decided, nil when nothing is decided.
func AcceptanceRate(byStatus map[string]int) *float64 {
	accepted := byStatus[string(domain.AppAccepted)]
	decided := accepted + byStatus[string(domain.AppRejected)]
	if decided == 0 {
		return nil
	}
	rate := float64(accepted) / float64(decided)
	return &rate
}

func (e Engine) KPITracker(ctx context.Context, programID string) (KPIReport, error) {
	p, err := e.Repo.GetProgram(ctx, programID)
	if err != nil {
		return KPIReport{}, err
	}
	st, err := e.Repo.ApplicationStats(ctx, p.ID)
	if err != nil {
		return KPIReport{}, err
	}
	contribs, err := e.Repo.ListKPIContributions(ctx, p.ID)
	if err != nil {
		return KPIReport{}, err
	}
	total := 0
	for _, n := range st.ByStatus {
		total += n
	}
	return KPIReport{
		ProgramID:        p.ID,
		Status:           string(p.Status),
		Applications:     st.ByStatus,
		TotalApplicants:  total,
		AcceptanceRate:   AcceptanceRate(st.ByStatus),
		AverageAIScore:   st.AvgAIScore,
		ScoredApplicants: st.Scored,
		Outcomes:         p.Outcomes,
		Contributions:    repo.SumKPIContributions(contribs),
	}, nil
}

type RecordKPIOptions struct {
	ProgramID string  `validate:"required"`
	KPIKey    string  `validate:"required"`
	Value     float64 `validate:"gte=0"`
	Note      string
	ActorID   string `validate:"required"`
}

func (e Engine) RecordKPIContribution(ctx context.Context, opts RecordKPIOptions) (domain.KPIContribution, error) {
	if err := check(opts); err != nil {
		return domain.KPIContribution{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.KPIContribution{}, err
	}
	defer tx.Rollback()
	p, err := e.Repo.GetProgramTx(ctx, tx, opts.ProgramID)
	if err != nil {
		return domain.KPIContribution{}, err
	}
	k := domain.KPIContribution{
		ID:        newID(),
		ProgramID: p.ID,
		KPIKey:    strings.TrimSpace(opts.KPIKey),
		Value:     opts.Value,
		Note:      opts.Note,
		ActorID:   opts.ActorID,
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertKPIContributionTx(ctx, tx, k); err != nil {
		return k, err
	}
	if err := e.events().Append(ctx, tx, "kpi.contributed", p.ID, "kpi_contribution", k.ID, opts.ActorID, events.EventPayload{
		"kpi_key": k.KPIKey,
		"value":   k.Value,
	}); err != nil {
		return k, err
	}
	return k, tx.Commit()
}

type AlignedProgram struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type AlignmentReport struct {
	Plan          domain.StrategicPlan `json:"plan"`
	Programs      []AlignedProgram     `json:"programs"`
	ByStatus      map[string]int       `json:"by_status"`
	Contributions map[string]float64   `json:"contributions"`
	FeedbackCount int                  `json:"feedback_count"`
}

// StrategicAlignment summarizes every live program linked to a plan.
func (e Engine) StrategicAlignment(ctx context.Context, planID string) (AlignmentReport, error) {
	plan, err := e.Repo.GetStrategicPlan(ctx, planID)
	if err != nil {
		return AlignmentReport{}, fmt.Errorf("strategic plan %s: %w", planID, err)
	}
	programs, err := e.Repo.ListPrograms(ctx, repo.ProgramFilter{StrategicPlanID: plan.ID})
	if err != nil {
		return AlignmentReport{}, err
	}
	rep := AlignmentReport{Plan: plan, Programs: []AlignedProgram{}, ByStatus: map[string]int{}}
	ids := make([]string, 0, len(programs))
	for _, p := range programs {
		rep.Programs = append(rep.Programs, AlignedProgram{ID: p.ID, Name: p.NameEN, Status: string(p.Status)})
		rep.ByStatus[string(p.Status)]++
		ids = append(ids, p.ID)
	}
	sort.Slice(rep.Programs, func(i, j int) bool { return rep.Programs[i].Name < rep.Programs[j].Name })
	contribs, err := e.Repo.ListKPIContributions(ctx, ids...)
	if err != nil {
		return AlignmentReport{}, err
	}
	rep.Contributions = repo.SumKPIContributions(contribs)
	if rep.FeedbackCount, err = e.Repo.CountFeedback(ctx, plan.ID); err != nil {
		return AlignmentReport{}, err
	}
	return rep, nil
}

type Dashboard struct {
	Program  domain.Program `json:"program"`
	KPI      KPIReport      `json:"kpi"`
	Alumni   AlumniReport   `json:"alumni"`
	Activity []domain.Event `json:"activity"`
	Sessions int            `json:"sessions"`
}

// ProgramDashboard gathers the program reports concurrently.
func (e Engine) ProgramDashboard(ctx context.Context, programID string, activityLimit int) (Dashboard, error) {
	p, err := e.Repo.GetProgram(ctx, programID)
	if err != nil {
		return Dashboard{}, err
	}
	if activityLimit <= 0 {
		activityLimit = 20
	}
	d := Dashboard{Program: p}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.KPI, err = e.KPITracker(gctx, p.ID)
		return err
	})
	g.Go(func() (err error) {
		d.Alumni, err = e.AlumniImpact(gctx, p.ID)
		return err
	})
	g.Go(func() (err error) {
		d.Activity, err = e.ActivityLog(gctx, repo.EventFilter{ProgramID: p.ID, Limit: activityLimit})
		return err
	})
	g.Go(func() error {
		items, err := e.Repo.ListSessions(gctx, p.ID)
		d.Sessions = len(items)
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	return d, nil
}

func (e Engine) ActivityLog(ctx context.Context, f repo.EventFilter) ([]domain.Event, error) {
	items, err := e.Repo.LatestEvents(ctx, f)
	return nonNil(items), err
}

// Pilot and solution records carry only what the alumni join needs.

type RecordWorkOptions struct {
	Title     string `validate:"required"`
	CreatedBy string `validate:"required,email"`
	ProgramID string
	ActorID   string `validate:"required"`
}

func (e Engine) RecordPilot(ctx context.Context, opts RecordWorkOptions) (domain.Pilot, error) {
	if err := check(opts); err != nil {
		return domain.Pilot{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Pilot{}, err
	}
	defer tx.Rollback()
	if opts.ProgramID != "" {
		if _, err := e.Repo.GetProgramTx(ctx, tx, opts.ProgramID); err != nil {
			return domain.Pilot{}, err
		}
	}
	pl := domain.Pilot{ID: newID(), Title: opts.Title, CreatedBy: opts.CreatedBy, ProgramID: opts.ProgramID, CreatedAt: e.stamp()}
	if err := e.Repo.InsertPilotTx(ctx, tx, pl); err != nil {
		return pl, err
	}
	if err := e.enqueueEmail(ctx, tx, domain.TriggerPilotCreated, pl.CreatedBy, "pilot", pl.ID, map[string]any{"title": pl.Title}); err != nil {
		return pl, err
	}
	if err := e.events().Append(ctx, tx, "pilot.created", pl.ProgramID, "pilot", pl.ID, opts.ActorID, events.EventPayload{"created_by": pl.CreatedBy}); err != nil {
		return pl, err
	}
	return pl, tx.Commit()
}

func (e Engine) RecordSolution(ctx context.Context, opts RecordWorkOptions) (domain.Solution, error) {
	if err := check(opts); err != nil {
		return domain.Solution{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Solution{}, err
	}
	defer tx.Rollback()
	if opts.ProgramID != "" {
		if _, err := e.Repo.GetProgramTx(ctx, tx, opts.ProgramID); err != nil {
			return domain.Solution{}, err
		}
	}
	s := domain.Solution{ID: newID(), Title: opts.Title, CreatedBy: opts.CreatedBy, ProgramID: opts.ProgramID, CreatedAt: e.stamp()}
	if err := e.Repo.InsertSolutionTx(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.events().Append(ctx, tx, "solution.created", s.ProgramID, "solution", s.ID, opts.ActorID, events.EventPayload{"created_by": s.CreatedBy}); err != nil {
		return s, err
	}
	return s, tx.Commit()
}

func (e Engine) ListPilots(ctx context.Context, f repo.WorkFilter) ([]domain.Pilot, error) {
	items, err := e.Repo.ListPilots(ctx, f)
	return nonNil(items), err
}

func (e Engine) ListSolutions(ctx context.Context, f repo.WorkFilter) ([]domain.Solution, error) {
	items, err := e.Repo.ListSolutions(ctx, f)
	return nonNil(items), err
}
