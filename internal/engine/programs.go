package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"programline/internal/domain"
	"programline/internal/events"
	"programline/internal/repo"
)

type CreateProgramOptions struct {
	ID              string
	OrgID           string
	NameEN          string `validate:"required"`
	NameAR          string
	DescriptionEN   string
	DescriptionAR   string
	ProgramType     string `validate:"required"`
	Timeline        domain.Timeline
	Mentors         []domain.Mentor `validate:"dive"`
	FundingDetails  map[string]any
	ContactEmail    string `validate:"omitempty,email"`
	StrategicPlanID string
	ActorID         string `validate:"required"`
}

func (e Engine) CreateProgram(ctx context.Context, opts CreateProgramOptions) (domain.Program, error) {
	cfg, err := e.config()
	if err != nil {
		return domain.Program{}, err
	}
	if err := check(opts); err != nil {
		return domain.Program{}, err
	}
	if err := validateMentors(opts.Mentors); err != nil {
		return domain.Program{}, err
	}
	if opts.OrgID == "" {
		opts.OrgID = cfg.Workspace.OrgID
	}
	if opts.ID == "" {
		opts.ID = newID()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Program{}, err
	}
	defer tx.Rollback()

	if opts.StrategicPlanID != "" {
		if err := e.checkPlan(ctx, tx, opts.StrategicPlanID, opts.OrgID); err != nil {
			return domain.Program{}, err
		}
	}
	now := e.stamp()
	p := domain.Program{
		ID:              opts.ID,
		OrgID:           opts.OrgID,
		NameEN:          opts.NameEN,
		NameAR:          opts.NameAR,
		DescriptionEN:   opts.DescriptionEN,
		DescriptionAR:   opts.DescriptionAR,
		ProgramType:     opts.ProgramType,
		Status:          domain.ProgramPlanning,
		Timeline:        opts.Timeline,
		Mentors:         opts.Mentors,
		FundingDetails:  opts.FundingDetails,
		ContactEmail:    opts.ContactEmail,
		StrategicPlanID: opts.StrategicPlanID,
		Version:         1,
		CreatedBy:       opts.ActorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.Repo.EnsureOrg(ctx, tx, p.OrgID, "", now); err != nil {
		return domain.Program{}, err
	}
	if err := e.Repo.InsertProgramTx(ctx, tx, p); err != nil {
		return domain.Program{}, fmt.Errorf("insert program: %w", err)
	}
	if err := e.events().Append(ctx, tx, "program.created", p.ID, "program", p.ID, opts.ActorID, events.EventPayload{
		"status": p.Status,
		"type":   p.ProgramType,
	}); err != nil {
		return domain.Program{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Program{}, err
	}
	return p, nil
}

func (e Engine) checkPlan(ctx context.Context, tx *sql.Tx, planID, orgID string) error {
	plan, err := e.Repo.GetStrategicPlanTx(ctx, tx, planID)
	if err != nil {
		return fmt.Errorf("strategic plan %s: %w", planID, err)
	}
	if plan.OrgID != orgID {
		return fmt.Errorf("%w: strategic plan %s belongs to another organization", ErrInvalidInput, planID)
	}
	return nil
}

func validateMentors(mentors []domain.Mentor) error {
	seen := map[string]struct{}{}
	for _, m := range mentors {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return fmt.Errorf("%w: mentor name required", ErrInvalidInput)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate mentor %q", ErrInvalidInput, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func (e Engine) GetProgram(ctx context.Context, id string) (domain.Program, error) {
	return e.Repo.GetProgram(ctx, id)
}

func (e Engine) ListPrograms(ctx context.Context, f repo.ProgramFilter) ([]domain.Program, error) {
	return e.Repo.ListPrograms(ctx, f)
}

// UpdateProgramOptions uses nil for fields left unchanged.
type UpdateProgramOptions struct {
	ID              string `validate:"required"`
	ExpectedVersion int64
	NameEN          *string
	NameAR          *string
	DescriptionEN   *string
	DescriptionAR   *string
	ProgramType     *string
	Timeline        *domain.Timeline
	Mentors         *[]domain.Mentor
	FundingDetails  map[string]any
	ContactEmail    *string `validate:"omitempty,email"`
	StrategicPlanID *string
	ActorID         string `validate:"required"`
}

func (e Engine) UpdateProgram(ctx context.Context, opts UpdateProgramOptions) (domain.Program, error) {
	if err := check(opts); err != nil {
		return domain.Program{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Program{}, err
	}
	defer tx.Rollback()

	p, err := e.loadProgram(ctx, tx, opts.ID, opts.ExpectedVersion)
	if err != nil {
		return p, err
	}
	if err := requireOpen(p); err != nil {
		return p, err
	}
	var changed []string
	set := func(field string, dst *string, v *string) {
		if v != nil && *v != *dst {
			*dst = *v
			changed = append(changed, field)
		}
	}
	set("name_en", &p.NameEN, opts.NameEN)
	set("name_ar", &p.NameAR, opts.NameAR)
	set("description_en", &p.DescriptionEN, opts.DescriptionEN)
	set("description_ar", &p.DescriptionAR, opts.DescriptionAR)
	set("program_type", &p.ProgramType, opts.ProgramType)
	set("contact_email", &p.ContactEmail, opts.ContactEmail)
	if strings.TrimSpace(p.NameEN) == "" || strings.TrimSpace(p.ProgramType) == "" {
		return p, fmt.Errorf("%w: name_en and program_type cannot be empty", ErrInvalidInput)
	}
	if opts.StrategicPlanID != nil && *opts.StrategicPlanID != p.StrategicPlanID {
		if *opts.StrategicPlanID != "" {
			if err := e.checkPlan(ctx, tx, *opts.StrategicPlanID, p.OrgID); err != nil {
				return p, err
			}
		}
		p.StrategicPlanID = *opts.StrategicPlanID
		changed = append(changed, "strategic_plan_id")
	}
	if opts.Timeline != nil {
		p.Timeline = *opts.Timeline
		changed = append(changed, "timeline")
	}
	if opts.Mentors != nil {
		if err := validateMentors(*opts.Mentors); err != nil {
			return p, err
		}
		p.Mentors = *opts.Mentors
		changed = append(changed, "mentors")
	}
	if opts.FundingDetails != nil {
		p.FundingDetails = opts.FundingDetails
		changed = append(changed, "funding_details")
	}
	if len(changed) == 0 {
		return p, nil
	}
	p.UpdatedAt = e.stamp()
	v, err := e.Repo.UpdateProgramTx(ctx, tx, p)
	if err != nil {
		return p, err
	}
	p.Version = v
	if err := e.events().Append(ctx, tx, "program.updated", p.ID, "program", p.ID, opts.ActorID, events.EventPayload{
		"fields":  changed,
		"version": p.Version,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

func (e Engine) DeleteProgram(ctx context.Context, id string, expectedVersion int64, actorID string) error {
	if actorID == "" {
		return fmt.Errorf("%w: actor required", ErrInvalidInput)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SoftDeleteProgramTx(ctx, tx, id, expectedVersion, e.stamp()); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, "program.deleted", id, "program", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

type SetProgramStatusOptions struct {
	ProgramID       string               `validate:"required"`
	Status          domain.ProgramStatus `validate:"required"`
	ExpectedVersion int64
	Force           bool
	ActorID         string `validate:"required"`
}

// gateOwned maps statuses that only a gate may set without force.
var gateOwned = map[domain.ProgramStatus]string{
	domain.ProgramApplicationsOpen: "the launch gate",
	domain.ProgramActive:           "program start",
	domain.ProgramCompleted:        "the completion gate",
}

// SetProgramStatus moves a program along the lifecycle. Without force the
// move must be in the transition table and not owned by a gate.
func (e Engine) SetProgramStatus(ctx context.Context, opts SetProgramStatusOptions) (domain.Program, error) {
	if err := check(opts); err != nil {
		return domain.Program{}, err
	}
	if owner, ok := gateOwned[opts.Status]; ok && !opts.Force {
		return domain.Program{}, &domain.TransitionError{Entity: "program", To: string(opts.Status), Reason: "use " + owner}
	}
	return e.transition(ctx, opts.ProgramID, opts.Status, opts.ExpectedVersion, opts.Force, opts.ActorID, nil)
}

func (e Engine) CancelProgram(ctx context.Context, id string, expectedVersion int64, actorID string) (domain.Program, error) {
	return e.transition(ctx, id, domain.ProgramCancelled, expectedVersion, false, actorID, nil)
}

// CloseApplications moves applications_open to selection.
func (e Engine) CloseApplications(ctx context.Context, id string, expectedVersion int64, actorID string) (domain.Program, error) {
	return e.transition(ctx, id, domain.ProgramSelection, expectedVersion, false, actorID, nil)
}

// StartProgram moves selection to active once a cohort exists.
func (e Engine) StartProgram(ctx context.Context, id string, expectedVersion int64, actorID string) (domain.Program, error) {
	return e.transition(ctx, id, domain.ProgramActive, expectedVersion, false, actorID, func(ctx context.Context, tx *sql.Tx, p domain.Program) error {
		accepted, err := e.Repo.ListApplicationsTx(ctx, tx, repo.ApplicationFilter{
			ProgramID: p.ID,
			Statuses:  []domain.ApplicationStatus{domain.AppAccepted},
			Limit:     1,
		})
		if err != nil {
			return err
		}
		if len(accepted) == 0 {
			return &GateError{Gate: "start", Missing: []string{"accepted_applications"}}
		}
		return nil
	})
}

func (e Engine) transition(ctx context.Context, id string, to domain.ProgramStatus, expected int64, force bool, actorID string,
	precheck func(context.Context, *sql.Tx, domain.Program) error) (domain.Program, error) {
	if actorID == "" {
		return domain.Program{}, fmt.Errorf("%w: actor required", ErrInvalidInput)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Program{}, err
	}
	defer tx.Rollback()

	p, err := e.loadProgram(ctx, tx, id, expected)
	if err != nil {
		return p, err
	}
	from := p.Status
	if err := domain.ProgramTransition(from, to, force); err != nil {
		return p, err
	}
	if precheck != nil && !force {
		if err := precheck(ctx, tx, p); err != nil {
			return p, err
		}
	}
	p.Status = to
	p.UpdatedAt = e.stamp()
	v, err := e.Repo.UpdateProgramTx(ctx, tx, p)
	if err != nil {
		return p, err
	}
	p.Version = v
	if err := e.events().Append(ctx, tx, "program.status", p.ID, "program", p.ID, actorID, events.EventPayload{
		"from":  from,
		"to":    to,
		"force": force,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

type CreateStrategicPlanOptions struct {
	ID      string
	OrgID   string
	Title   string `validate:"required"`
	ActorID string `validate:"required"`
}

func (e Engine) CreateStrategicPlan(ctx context.Context, opts CreateStrategicPlanOptions) (domain.StrategicPlan, error) {
	cfg, err := e.config()
	if err != nil {
		return domain.StrategicPlan{}, err
	}
	if err := check(opts); err != nil {
		return domain.StrategicPlan{}, err
	}
	plan := domain.StrategicPlan{ID: opts.ID, OrgID: opts.OrgID, Title: opts.Title, CreatedAt: e.stamp()}
	if plan.ID == "" {
		plan.ID = newID()
	}
	if plan.OrgID == "" {
		plan.OrgID = cfg.Workspace.OrgID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return plan, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureOrg(ctx, tx, plan.OrgID, "", plan.CreatedAt); err != nil {
		return plan, err
	}
	if err := e.Repo.InsertStrategicPlanTx(ctx, tx, plan); err != nil {
		return plan, err
	}
	if err := e.events().Append(ctx, tx, "strategic_plan.created", "", "strategic_plan", plan.ID, opts.ActorID, events.EventPayload{"title": plan.Title}); err != nil {
		return plan, err
	}
	return plan, tx.Commit()
}
