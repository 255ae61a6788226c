package engine

import (
	"context"
	"fmt"

	"programline/internal/domain"
	"programline/internal/events"
	"programline/internal/metrics"
	"programline/internal/repo"
)

type CompleteOptions struct {
	ProgramID       string `validate:"required"`
	Checklist       map[string]bool
	CompletionData  map[string]any
	Outcomes        domain.Outcomes
	ExpectedVersion int64
	ActorID         string `validate:"required"`
}

// CompleteProgram closes an active program and queues one completion email
// per accepted participant with an address.
func (e Engine) CompleteProgram(ctx context.Context, opts CompleteOptions) (p domain.Program, err error) {
	defer func() { metrics.RecordGate("completion", err) }()
	cfg, err := e.config()
	if err != nil {
		return p, err
	}
	if err := check(opts); err != nil {
		return p, err
	}
	o := opts.Outcomes
	if o.PilotsGenerated < 0 || o.PartnershipsFormed < 0 || o.SolutionsDeployed < 0 {
		return p, fmt.Errorf("%w: outcomes cannot be negative", ErrInvalidInput)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()

	p, err = e.loadProgram(ctx, tx, opts.ProgramID, opts.ExpectedVersion)
	if err != nil {
		return p, err
	}
	if err := domain.ProgramTransition(p.Status, domain.ProgramCompleted, false); err != nil {
		return p, err
	}
	items := cfg.Gates.Completion.Checklist
	if _, ok := CompletionReady(items, opts.Checklist, cfg.Gates.Completion.MinChecked); !ok {
		return p, &GateError{Gate: "completion", Missing: unchecked(items, opts.Checklist)}
	}
	p.Status = domain.ProgramCompleted
	p.CompletionChecklist = normalizeChecklist(items, opts.Checklist)
	p.CompletionDate = e.today()
	p.CompletionData = opts.CompletionData
	p.Outcomes = opts.Outcomes
	p.UpdatedAt = e.stamp()
	v, err := e.Repo.UpdateProgramTx(ctx, tx, p)
	if err != nil {
		return p, err
	}
	p.Version = v

	participants, err := e.Repo.ListApplicationsTx(ctx, tx, repo.ApplicationFilter{
		ProgramID: p.ID,
		Statuses:  []domain.ApplicationStatus{domain.AppAccepted},
		Oldest:    true,
	})
	if err != nil {
		return p, err
	}
	queued := 0
	for _, a := range participants {
		if a.ApplicantEmail == "" {
			continue
		}
		if err := e.enqueueEmail(ctx, tx, domain.TriggerProgramCompleted, a.ApplicantEmail, "program", p.ID, map[string]any{
			"program_name":    p.NameEN,
			"participant":     a.ApplicantName,
			"completion_date": p.CompletionDate,
			"application_id":  a.ID,
		}); err != nil {
			return p, err
		}
		queued++
	}
	message := fmt.Sprintf("%d participants completed the program", len(participants))
	if err := e.notify(ctx, tx, p, "program_completed", "Program completed: "+p.NameEN, message, opts.ActorID); err != nil {
		return p, err
	}
	if err := e.events().Append(ctx, tx, "program.completed", p.ID, "program", p.ID, opts.ActorID, events.EventPayload{
		"completion_date": p.CompletionDate,
		"outcomes":        p.Outcomes,
		"participants":    len(participants),
		"emails_queued":   queued,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}
