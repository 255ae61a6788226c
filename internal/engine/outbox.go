package engine

import (
	"context"
	"fmt"

	"programline/internal/domain"
	"programline/internal/repo"
)

func (e Engine) ListNotifications(ctx context.Context, f repo.NotificationFilter) ([]domain.Notification, error) {
	items, err := e.Repo.ListNotifications(ctx, f)
	return nonNil(items), err
}

func (e Engine) ListEmailJobs(ctx context.Context, f repo.EmailJobFilter) ([]domain.EmailJob, error) {
	switch f.Status {
	case "", domain.EmailPending, domain.EmailSent, domain.EmailDead:
	default:
		return nil, fmt.Errorf("%w: unknown email job status %q", ErrInvalidInput, f.Status)
	}
	items, err := e.Repo.ListEmailJobs(ctx, f)
	return nonNil(items), err
}

func (e Engine) GetEmailJob(ctx context.Context, id string) (domain.EmailJob, error) {
	return e.Repo.GetEmailJob(ctx, id)
}

// RetryEmailJob puts a dead job back in the queue with a fresh attempt count.
func (e Engine) RetryEmailJob(ctx context.Context, id, actorID string) (domain.EmailJob, error) {
	if actorID == "" {
		return domain.EmailJob{}, fmt.Errorf("%w: actor required", ErrInvalidInput)
	}
	job, err := e.Repo.GetEmailJob(ctx, id)
	if err != nil {
		return job, err
	}
	if job.Status != domain.EmailDead {
		return job, &domain.TransitionError{Entity: "email job", From: job.Status, Reason: "only dead jobs can be retried"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return job, err
	}
	defer tx.Rollback()
	if err := e.Repo.RequeueEmailJob(ctx, tx, id, e.stamp()); err != nil {
		return job, err
	}
	programID := ""
	if job.EntityType == "program" {
		programID = job.EntityID
	}
	if err := e.events().Append(ctx, tx, "email.requeued", programID, "email_job", job.ID, actorID, nil); err != nil {
		return job, err
	}
	if err := tx.Commit(); err != nil {
		return job, err
	}
	return e.Repo.GetEmailJob(ctx, id)
}

// OutboxStats counts jobs per status within a scope.
func (e Engine) OutboxStats(ctx context.Context, scope repo.OrgScope) (map[string]int, error) {
	return e.Repo.CountEmailJobsByStatus(ctx, scope)
}
