package engine

import (
	"context"
	"fmt"
	"strings"

	"programline/internal/domain"
	"programline/internal/events"
	"programline/internal/repo"
)

type SubmitApplicationOptions struct {
	ID             string
	ProgramID      string `validate:"required"`
	ApplicantName  string `validate:"required"`
	ApplicantEmail string `validate:"omitempty,email"`
	Organization   string
	Profile        map[string]any
	ActorID        string `validate:"required"`
}

// SubmitApplication accepts applications only while the program is open
// for them.
func (e Engine) SubmitApplication(ctx context.Context, opts SubmitApplicationOptions) (domain.Application, error) {
	if err := check(opts); err != nil {
		return domain.Application{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProgramTx(ctx, tx, opts.ProgramID)
	if err != nil {
		return domain.Application{}, err
	}
	if err := requireStatus(p, "submitting an application", domain.ProgramApplicationsOpen); err != nil {
		return domain.Application{}, err
	}
	now := e.stamp()
	a := domain.Application{
		ID:             opts.ID,
		ProgramID:      p.ID,
		ApplicantName:  strings.TrimSpace(opts.ApplicantName),
		ApplicantEmail: strings.TrimSpace(opts.ApplicantEmail),
		Organization:   opts.Organization,
		Profile:        opts.Profile,
		Status:         domain.AppSubmitted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if a.ID == "" {
		a.ID = newID()
	}
	if err := e.Repo.InsertApplicationTx(ctx, tx, a); err != nil {
		return a, fmt.Errorf("insert application: %w", err)
	}
	if err := e.events().Append(ctx, tx, "application.submitted", p.ID, "application", a.ID, opts.ActorID, events.EventPayload{
		"applicant_name": a.ApplicantName,
	}); err != nil {
		return a, err
	}
	return a, tx.Commit()
}

func (e Engine) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	return e.Repo.GetApplication(ctx, id)
}

func (e Engine) ListApplications(ctx context.Context, f repo.ApplicationFilter) ([]domain.Application, error) {
	if f.ProgramID != "" {
		if _, err := e.Repo.GetProgram(ctx, f.ProgramID); err != nil {
			return nil, err
		}
	}
	for _, s := range f.Statuses {
		if !s.Valid() {
			return nil, fmt.Errorf("%w: unknown application status %q", ErrInvalidInput, s)
		}
	}
	items, err := e.Repo.ListApplications(ctx, f)
	return nonNil(items), err
}

// SetApplicationStatus moves one application along its lifecycle outside
// of a gate, for example to waitlist it.
func (e Engine) SetApplicationStatus(ctx context.Context, id string, status domain.ApplicationStatus, actorID string) (domain.Application, error) {
	if actorID == "" {
		return domain.Application{}, fmt.Errorf("%w: actor required", ErrInvalidInput)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetApplicationTx(ctx, tx, id)
	if err != nil {
		return a, err
	}
	p, err := e.Repo.GetProgramTx(ctx, tx, a.ProgramID)
	if err != nil {
		return a, err
	}
	if err := requireOpen(p); err != nil {
		return a, err
	}
	from := a.Status
	if err := domain.ApplicationTransition(from, status); err != nil {
		return a, err
	}
	if from == status {
		return a, nil
	}
	a.Status = status
	a.UpdatedAt = e.stamp()
	if err := e.Repo.SetApplicationStatusTx(ctx, tx, a.ID, status, a.UpdatedAt); err != nil {
		return a, err
	}
	if err := e.events().Append(ctx, tx, "application.status", p.ID, "application", a.ID, actorID, events.EventPayload{
		"from": from,
		"to":   status,
	}); err != nil {
		return a, err
	}
	return a, tx.Commit()
}
