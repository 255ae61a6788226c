package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"programline/internal/domain"
	"programline/internal/events"
	"programline/internal/llm"
	"programline/internal/metrics"
	"programline/internal/repo"
)

type MentorMatch struct {
	ApplicationID   string  `json:"application_id" validate:"required"`
	ParticipantName string  `json:"participant_name"`
	MentorName      string  `json:"mentor_name" validate:"required"`
	MatchScore      float64 `json:"match_score" validate:"gte=0,lte=100"`
	Reasoning       string  `json:"reasoning,omitempty"`
}

type MentorProposal struct {
	ProgramID string        `json:"program_id"`
	Matches   []MentorMatch `json:"matches"`
	// Unmatched holds items naming an unknown application or mentor.
	Unmatched []MentorMatch `json:"unmatched,omitempty"`
}

var mentorStatuses = []domain.ProgramStatus{domain.ProgramApplicationsOpen, domain.ProgramSelection, domain.ProgramActive}

const mentorSystemPrompt = `You pair program participants with mentors. Every participant gets exactly one mentor chosen from the list. Score each pairing from 0 to 100. Return every application_id exactly as given and mentor_name exactly as listed.`

var mentorSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"matches": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"application_id":   map[string]any{"type": "string"},
					"participant_name": map[string]any{"type": "string"},
					"mentor_name":      map[string]any{"type": "string"},
					"match_score":      map[string]any{"type": "number"},
					"reasoning":        map[string]any{"type": "string"},
				},
				"required": []string{"application_id", "mentor_name", "match_score"},
			},
		},
	},
	"required": []string{"matches"},
}

func mentorPrompt(p domain.Program, accepted []domain.Application) (string, error) {
	type participant struct {
		ApplicationID string         `json:"application_id"`
		Name          string         `json:"participant_name"`
		Organization  string         `json:"organization,omitempty"`
		Profile       map[string]any `json:"profile,omitempty"`
	}
	people := make([]participant, 0, len(accepted))
	for _, a := range accepted {
		people = append(people, participant{ApplicationID: a.ID, Name: a.ApplicantName, Organization: a.Organization, Profile: a.Profile})
	}
	mentors, err := json.MarshalIndent(p.Mentors, "", "  ")
	if err != nil {
		return "", err
	}
	list, err := json.MarshalIndent(people, "", "  ")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Program: %s\n\nMentors:\n%s\n\nParticipants:\n%s\n", p.NameEN, mentors, list)
	return b.String(), nil
}

// ProposeMentorMatches asks the model to pair accepted participants with the
// program mentors. Pairings naming anything unknown are set aside.
func (e Engine) ProposeMentorMatches(ctx context.Context, programID string) (prop MentorProposal, err error) {
	defer func() { metrics.RecordGate("mentor_matching", err) }()
	p, err := e.Repo.GetProgram(ctx, programID)
	if err != nil {
		return prop, err
	}
	if err := requireStatus(p, "mentor matching", mentorStatuses...); err != nil {
		return prop, err
	}
	accepted, err := e.Repo.ListApplications(ctx, repo.ApplicationFilter{
		ProgramID: p.ID,
		Statuses:  []domain.ApplicationStatus{domain.AppAccepted},
		Oldest:    true,
	})
	if err != nil {
		return prop, err
	}
	var missing []string
	if len(p.Mentors) == 0 {
		missing = append(missing, "mentors")
	}
	if len(accepted) == 0 {
		missing = append(missing, "accepted_applications")
	}
	if len(missing) > 0 {
		return prop, &GateError{Gate: "mentor_matching", Missing: missing}
	}
	prompt, err := mentorPrompt(p, accepted)
	if err != nil {
		return prop, err
	}
	var matches []MentorMatch
	if err := llm.Call(ctx, e.LLM, e.logger(), llm.Request{
		Prompt:             prompt,
		SystemPrompt:       mentorSystemPrompt,
		ResponseJSONSchema: mentorSchema,
		Purpose:            "mentor_matching",
	}, "matches", &matches); err != nil {
		return prop, err
	}
	byID := make(map[string]domain.Application, len(accepted))
	for _, a := range accepted {
		byID[a.ID] = a
	}
	prop.ProgramID = p.ID
	prop.Matches = []MentorMatch{}
	seen := map[string]bool{}
	for _, m := range matches {
		a, ok := byID[m.ApplicationID]
		if !ok || seen[m.ApplicationID] || !domain.HasMentor(p.Mentors, m.MentorName) {
			prop.Unmatched = append(prop.Unmatched, m)
			continue
		}
		seen[m.ApplicationID] = true
		m.ParticipantName = a.ApplicantName
		prop.Matches = append(prop.Matches, m)
	}
	return prop, nil
}

type ApplyMentorOptions struct {
	ProgramID string        `validate:"required"`
	Matches   []MentorMatch `validate:"required,min=1,dive"`
	ActorID   string        `validate:"required"`
}

// ApplyMentorMatches assigns mentors in one transaction.
func (e Engine) ApplyMentorMatches(ctx context.Context, opts ApplyMentorOptions) (out []domain.Application, err error) {
	defer func() { metrics.RecordGate("mentor_apply", err) }()
	if err := check(opts); err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProgramTx(ctx, tx, opts.ProgramID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(p, "mentor matching", mentorStatuses...); err != nil {
		return nil, err
	}
	now := e.stamp()
	seen := map[string]bool{}
	for _, m := range opts.Matches {
		if seen[m.ApplicationID] {
			return nil, fmt.Errorf("%w: application %s listed twice", ErrInvalidInput, m.ApplicationID)
		}
		seen[m.ApplicationID] = true
		if !domain.HasMentor(p.Mentors, m.MentorName) {
			return nil, fmt.Errorf("%w: %q is not a mentor of this program", ErrInvalidInput, m.MentorName)
		}
		a, err := e.Repo.GetApplicationTx(ctx, tx, m.ApplicationID)
		if err != nil {
			return nil, fmt.Errorf("application %s: %w", m.ApplicationID, err)
		}
		if a.ProgramID != p.ID {
			return nil, fmt.Errorf("application %s: %w", m.ApplicationID, repo.ErrNotFound)
		}
		if a.Status != domain.AppAccepted {
			return nil, fmt.Errorf("%w: application %s is %s, only accepted participants get mentors", ErrInvalidInput, a.ID, a.Status)
		}
		if err := e.Repo.AssignMentorTx(ctx, tx, a.ID, m.MentorName, m.MatchScore, now); err != nil {
			return nil, err
		}
	}
	if err := e.events().Append(ctx, tx, "mentors.assigned", p.ID, "program", p.ID, opts.ActorID, events.EventPayload{
		"count": len(opts.Matches),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	for _, m := range opts.Matches {
		a, err := e.Repo.GetApplication(ctx, m.ApplicationID)
		if err != nil {
			return out, err
		}
		out = append(out, a)
	}
	return out, nil
}
