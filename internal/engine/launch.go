package engine

import (
	"context"

	"go.uber.org/zap"

	"programline/internal/domain"
	"programline/internal/events"
	"programline/internal/metrics"
)

type LaunchOptions struct {
	ProgramID        string `validate:"required"`
	Checklist        map[string]bool
	AnnouncementText string
	ExpectedVersion  int64
	ActorID          string `validate:"required"`
}

// LaunchProgram opens applications once every required launch item is
// checked. The notification, the contact email job and the event commit
// with the status change.
func (e Engine) LaunchProgram(ctx context.Context, opts LaunchOptions) (p domain.Program, err error) {
	defer func() { metrics.RecordGate("launch", err) }()
	cfg, err := e.config()
	if err != nil {
		return p, err
	}
	if err := check(opts); err != nil {
		return p, err
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
	if err := domain.ProgramTransition(p.Status, domain.ProgramApplicationsOpen, false); err != nil {
		return p, err
	}
	items := cfg.Gates.Launch.Checklist
	if missing := LaunchReady(items, opts.Checklist); len(missing) > 0 {
		return p, &GateError{Gate: "launch", Missing: missing}
	}
	p.Status = domain.ProgramApplicationsOpen
	p.LaunchChecklist = normalizeChecklist(items, opts.Checklist)
	p.LaunchDate = e.today()
	p.AnnouncementText = opts.AnnouncementText
	p.UpdatedAt = e.stamp()
	v, err := e.Repo.UpdateProgramTx(ctx, tx, p)
	if err != nil {
		return p, err
	}
	p.Version = v

	if err := e.notify(ctx, tx, p, "program_launched", "Program launched: "+p.NameEN, p.AnnouncementText, opts.ActorID); err != nil {
		return p, err
	}
	if err := e.enqueueEmail(ctx, tx, domain.TriggerProgramLaunched, p.ContactEmail, "program", p.ID, map[string]any{
		"program_name":      p.NameEN,
		"launch_date":       p.LaunchDate,
		"announcement_text": p.AnnouncementText,
		"applications_open": p.Timeline.ApplicationsOpen,
	}); err != nil {
		return p, err
	}
	if err := e.events().Append(ctx, tx, "program.launched", p.ID, "program", p.ID, opts.ActorID, events.EventPayload{
		"launch_date": p.LaunchDate,
		"checklist":   p.LaunchChecklist,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	e.logger().Info("program launched", zap.String("program_id", p.ID), zap.Int64("version", p.Version))
	return p, nil
}
