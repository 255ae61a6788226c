package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"programline/internal/domain"
	"programline/internal/events"
	"programline/internal/llm"
	"programline/internal/metrics"
	"programline/internal/repo"
)

// ScreeningResult is one scored application as proposed by the model.
type ScreeningResult struct {
	ApplicationID  string             `json:"application_id" validate:"required"`
	ApplicantName  string             `json:"applicant_name"`
	TotalScore     float64            `json:"total_score" validate:"gte=0,lte=100"`
	Scores         map[string]float64 `json:"scores,omitempty"`
	Reasoning      string             `json:"reasoning,omitempty"`
	Recommendation string             `json:"recommendation,omitempty"`
}

// ScreeningProposal is returned for review and never stored.
type ScreeningProposal struct {
	ProgramID string            `json:"program_id"`
	Results   []ScreeningResult `json:"results"`
	// Unmatched holds items whose id is not an eligible application.
	Unmatched []ScreeningResult `json:"unmatched,omitempty"`
}

const screeningSystemPrompt = `You evaluate applications to an innovation program. Score each applicant from 0 to 100 overall and per criterion. Recommend one of accept, review, reject. Return every application_id exactly as given.`

func screeningSchema(criteria []string) map[string]any {
	scoreProps := map[string]any{}
	for _, c := range criteria {
		scoreProps[c] = map[string]any{"type": "number"}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"scored_applications": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"application_id": map[string]any{"type": "string"},
						"applicant_name": map[string]any{"type": "string"},
						"total_score":    map[string]any{"type": "number"},
						"scores":         map[string]any{"type": "object", "properties": scoreProps},
						"reasoning":      map[string]any{"type": "string"},
						"recommendation": map[string]any{"type": "string", "enum": []string{"accept", "review", "reject"}},
					},
					"required": []string{"application_id", "total_score", "recommendation"},
				},
			},
		},
		"required": []string{"scored_applications"},
	}
}

func screeningPrompt(p domain.Program, criteria []string, apps []domain.Application) (string, error) {
	type applicant struct {
		ApplicationID string         `json:"application_id"`
		Name          string         `json:"applicant_name"`
		Organization  string         `json:"organization,omitempty"`
		Profile       map[string]any `json:"profile,omitempty"`
	}
	list := make([]applicant, 0, len(apps))
	for _, a := range apps {
		list = append(list, applicant{ApplicationID: a.ID, Name: a.ApplicantName, Organization: a.Organization, Profile: a.Profile})
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Program: %s\nType: %s\n", p.NameEN, p.ProgramType)
	if p.DescriptionEN != "" {
		fmt.Fprintf(&b, "Description: %s\n", p.DescriptionEN)
	}
	fmt.Fprintf(&b, "Criteria: %s\n\nApplications:\n%s\n", strings.Join(criteria, ", "), data)
	return b.String(), nil
}

var screenableStatuses = []domain.ApplicationStatus{domain.AppSubmitted, domain.AppUnderReview}

// ScreenApplications asks the model to score every eligible application and
// joins the answer back by application id.
func (e Engine) ScreenApplications(ctx context.Context, programID, actorID string) (prop ScreeningProposal, err error) {
	defer func() { metrics.RecordGate("screening", err) }()
	cfg, err := e.config()
	if err != nil {
		return prop, err
	}
	p, err := e.Repo.GetProgram(ctx, programID)
	if err != nil {
		return prop, err
	}
	if err := requireStatus(p, "screening", domain.ProgramApplicationsOpen, domain.ProgramSelection); err != nil {
		return prop, err
	}
	apps, err := e.Repo.ListApplications(ctx, repo.ApplicationFilter{ProgramID: p.ID, Statuses: screenableStatuses, Oldest: true})
	if err != nil {
		return prop, err
	}
	prop.ProgramID = p.ID
	prop.Results = []ScreeningResult{}
	if len(apps) == 0 {
		return prop, nil
	}
	prompt, err := screeningPrompt(p, cfg.Screening.Criteria, apps)
	if err != nil {
		return prop, err
	}
	var scored []ScreeningResult
	if err := llm.Call(ctx, e.LLM, e.logger(), llm.Request{
		Prompt:             prompt,
		SystemPrompt:       screeningSystemPrompt,
		ResponseJSONSchema: screeningSchema(cfg.Screening.Criteria),
		Purpose:            "screening",
	}, "scored_applications", &scored); err != nil {
		return prop, err
	}
	byID := make(map[string]domain.Application, len(apps))
	for _, a := range apps {
		byID[a.ID] = a
	}
	seen := map[string]bool{}
	for _, r := range scored {
		a, ok := byID[r.ApplicationID]
		if !ok || seen[r.ApplicationID] {
			prop.Unmatched = append(prop.Unmatched, r)
			continue
		}
		seen[r.ApplicationID] = true
		r.ApplicantName = a.ApplicantName
		prop.Results = append(prop.Results, r)
	}
	sort.SliceStable(prop.Results, func(i, j int) bool {
		return prop.Results[i].TotalScore > prop.Results[j].TotalScore
	})
	e.logger().Info("screening proposed",
		zap.String("program_id", p.ID),
		zap.String("actor_id", actorID),
		zap.Int("results", len(prop.Results)),
		zap.Int("unmatched", len(prop.Unmatched)),
	)
	return prop, nil
}

// ScreeningStatus derives the status written back for one result.
func ScreeningStatus(selected bool, recommendation string) domain.ApplicationStatus {
	switch {
	case selected:
		return domain.AppAccepted
	case strings.EqualFold(strings.TrimSpace(recommendation), "reject"):
		return domain.AppRejected
	default:
		return domain.AppUnderReview
	}
}

type ApplyScreeningOptions struct {
	ProgramID             string            `validate:"required"`
	Results               []ScreeningResult `validate:"required,min=1,dive"`
	SelectedForAcceptance []string
	ActorID               string `validate:"required"`
}

// ApplyScreening writes every result in one transaction. Any bad id aborts
// the whole batch.
func (e Engine) ApplyScreening(ctx context.Context, opts ApplyScreeningOptions) (out []domain.Application, err error) {
	defer func() { metrics.RecordGate("screening_apply", err) }()
	if err := check(opts); err != nil {
		return nil, err
	}
	inBatch := map[string]bool{}
	for _, r := range opts.Results {
		if inBatch[r.ApplicationID] {
			return nil, fmt.Errorf("%w: application %s listed twice", ErrInvalidInput, r.ApplicationID)
		}
		inBatch[r.ApplicationID] = true
	}
	selected := map[string]bool{}
	for _, id := range opts.SelectedForAcceptance {
		if !inBatch[id] {
			return nil, fmt.Errorf("%w: selected application %s has no screening result", ErrInvalidInput, id)
		}
		selected[id] = true
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
	if err := requireStatus(p, "screening", domain.ProgramApplicationsOpen, domain.ProgramSelection); err != nil {
		return nil, err
	}
	now := e.stamp()
	counts := map[domain.ApplicationStatus]int{}
	for _, r := range opts.Results {
		a, err := e.Repo.GetApplicationTx(ctx, tx, r.ApplicationID)
		if err != nil {
			return nil, fmt.Errorf("application %s: %w", r.ApplicationID, err)
		}
		if a.ProgramID != p.ID {
			return nil, fmt.Errorf("application %s: %w", r.ApplicationID, repo.ErrNotFound)
		}
		if !a.Status.Screenable() {
			return nil, &domain.TransitionError{Entity: "application", From: string(a.Status), Reason: "already decided, not eligible for screening"}
		}
		status := ScreeningStatus(selected[a.ID], r.Recommendation)
		if err := domain.ApplicationTransition(a.Status, status); err != nil {
			return nil, err
		}
		if err := e.Repo.ApplyScreeningTx(ctx, tx, repo.ScreeningUpdate{
			ID:             a.ID,
			Status:         status,
			Score:          r.TotalScore,
			Scores:         r.Scores,
			Reasoning:      r.Reasoning,
			Recommendation: r.Recommendation,
		}, now); err != nil {
			return nil, err
		}
		counts[status]++
	}
	if err := e.events().Append(ctx, tx, "applications.screened", p.ID, "program", p.ID, opts.ActorID, events.EventPayload{
		"count":        len(opts.Results),
		"accepted":     counts[domain.AppAccepted],
		"rejected":     counts[domain.AppRejected],
		"under_review": counts[domain.AppUnderReview],
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	out = make([]domain.Application, 0, len(opts.Results))
	for _, r := range opts.Results {
		a, err := e.Repo.GetApplication(ctx, r.ApplicationID)
		if err != nil {
			return out, err
		}
		out = append(out, a)
	}
	return out, nil
}
