package engine

import (
	"context"
	"fmt"
	"sort"

	"programline/internal/domain"
	"programline/internal/events"
	"programline/internal/metrics"
	"programline/internal/repo"
)

// SelectionSet is an operator's working decision. An id is in at most one
// of the two sets.
type SelectionSet struct {
	selected map[string]struct{}
	rejected map[string]struct{}
}

func NewSelectionSet() *SelectionSet {
	return &SelectionSet{selected: map[string]struct{}{}, rejected: map[string]struct{}{}}
}

func (s *SelectionSet) init() {
	if s.selected == nil {
		s.selected = map[string]struct{}{}
	}
	if s.rejected == nil {
		s.rejected = map[string]struct{}{}
	}
}

func (s *SelectionSet) Accept(id string) {
	s.init()
	delete(s.rejected, id)
	s.selected[id] = struct{}{}
}

func (s *SelectionSet) Reject(id string) {
	s.init()
	delete(s.selected, id)
	s.rejected[id] = struct{}{}
}

func (s *SelectionSet) Clear(id string) {
	delete(s.selected, id)
	delete(s.rejected, id)
}

func (s *SelectionSet) IsSelected(id string) bool {
	_, ok := s.selected[id]
	return ok
}

func (s *SelectionSet) IsRejected(id string) bool {
	_, ok := s.rejected[id]
	return ok
}

func (s *SelectionSet) Selected() []string { return sortedKeys(s.selected) }

func (s *SelectionSet) Rejected() []string { return sortedKeys(s.rejected) }

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type FinalizeSelectionOptions struct {
	ProgramID        string `validate:"required"`
	SelectedIDs      []string
	RejectedIDs      []string
	RejectionMessage string
	ActorID          string `validate:"required"`
}

type SelectionOutcome struct {
	Accepted []domain.Application `json:"accepted"`
	Rejected []domain.Application `json:"rejected"`
}

// FinalizeSelection records the decisions and queues one status email per
// decided applicant.
func (e Engine) FinalizeSelection(ctx context.Context, opts FinalizeSelectionOptions) (out SelectionOutcome, err error) {
	defer func() { metrics.RecordGate("selection", err) }()
	if err := check(opts); err != nil {
		return out, err
	}
	set := NewSelectionSet()
	for _, id := range opts.SelectedIDs {
		set.Accept(id)
	}
	for _, id := range opts.RejectedIDs {
		if set.IsSelected(id) {
			return out, fmt.Errorf("%w: application %s is both selected and rejected", ErrInvalidInput, id)
		}
		set.Reject(id)
	}
	if len(set.selected)+len(set.rejected) == 0 {
		return out, fmt.Errorf("%w: nothing to finalize", ErrInvalidInput)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return out, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProgramTx(ctx, tx, opts.ProgramID)
	if err != nil {
		return out, err
	}
	if err := requireStatus(p, "selection", domain.ProgramSelection); err != nil {
		return out, err
	}
	now := e.stamp()
	decide := func(id string, to domain.ApplicationStatus) (domain.Application, error) {
		a, err := e.Repo.GetApplicationTx(ctx, tx, id)
		if err != nil {
			return a, fmt.Errorf("application %s: %w", id, err)
		}
		if a.ProgramID != p.ID {
			return a, fmt.Errorf("application %s: %w", id, repo.ErrNotFound)
		}
		if err := domain.ApplicationTransition(a.Status, to); err != nil {
			return a, err
		}
		if err := e.Repo.SetApplicationStatusTx(ctx, tx, id, to, now); err != nil {
			return a, err
		}
		a.Status = to
		a.UpdatedAt = now
		vars := map[string]any{
			"program_name":   p.NameEN,
			"applicant_name": a.ApplicantName,
			"status":         string(to),
		}
		if to == domain.AppRejected {
			vars["rejection_message"] = opts.RejectionMessage
		}
		return a, e.enqueueEmail(ctx, tx, domain.TriggerApplicationStatus, a.ApplicantEmail, "program_application", a.ID, vars)
	}
	for _, id := range set.Selected() {
		a, err := decide(id, domain.AppAccepted)
		if err != nil {
			return SelectionOutcome{}, err
		}
		out.Accepted = append(out.Accepted, a)
	}
	for _, id := range set.Rejected() {
		a, err := decide(id, domain.AppRejected)
		if err != nil {
			return SelectionOutcome{}, err
		}
		out.Rejected = append(out.Rejected, a)
	}
	message := fmt.Sprintf("%d accepted, %d rejected", len(out.Accepted), len(out.Rejected))
	if err := e.notify(ctx, tx, p, "selection_finalized", "Selection finalized: "+p.NameEN, message, opts.ActorID); err != nil {
		return SelectionOutcome{}, err
	}
	if err := e.events().Append(ctx, tx, "selection.finalized", p.ID, "program", p.ID, opts.ActorID, events.EventPayload{
		"accepted": set.Selected(),
		"rejected": set.Rejected(),
	}); err != nil {
		return SelectionOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return SelectionOutcome{}, err
	}
	return out, nil
}
