package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"programline/internal/config"
	"programline/internal/domain"
	"programline/internal/engine/auth"
	"programline/internal/events"
	"programline/internal/llm"
	"programline/internal/repo"
)

var (
	// ErrVersionConflict is returned when expected_version is stale.
	ErrVersionConflict = repo.ErrVersionConflict
	ErrGateNotReady    = errors.New("gate not ready")
	ErrInvalidInput    = errors.New("invalid input")
	// ErrProgramClosed rejects edits to completed or cancelled programs.
	ErrProgramClosed = errors.New("program is closed")
)

// GateError lists what a workflow gate is still missing.
type GateError struct {
	Gate    string
	Missing []string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("%s gate not ready: missing %v", e.Gate, e.Missing)
}

func (e *GateError) Unwrap() error { return ErrGateNotReady }

var validate = validator.New()

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	LLM    llm.Invoker
	Logger *zap.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		LLM:    llm.Disabled{},
		Logger: zap.NewNop(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) today() string {
	return e.now().UTC().Format("2006-01-02")
}

func (e Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) config() (*config.Config, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	return e.Config, nil
}

func newID() string {
	return uuid.NewString()
}

func check(opts any) error {
	return validate.Struct(opts)
}

// loadProgram reads the program in tx and enforces expected when set.
func (e Engine) loadProgram(ctx context.Context, tx *sql.Tx, id string, expected int64) (domain.Program, error) {
	p, err := e.Repo.GetProgramTx(ctx, tx, id)
	if err != nil {
		return p, err
	}
	if expected > 0 && p.Version != expected {
		return p, fmt.Errorf("%w: program %s is at version %d, expected %d", ErrVersionConflict, id, p.Version, expected)
	}
	return p, nil
}

func requireOpen(p domain.Program) error {
	if p.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrProgramClosed, p.ID, p.Status)
	}
	return nil
}

func requireStatus(p domain.Program, gate string, allowed ...domain.ProgramStatus) error {
	if domain.ProgramAllows(p.Status, allowed...) {
		return nil
	}
	return &domain.TransitionError{
		Entity: "program",
		From:   string(p.Status),
		Reason: fmt.Sprintf("%s requires status %v", gate, allowed),
	}
}

// notify writes one in-app notification about a program.
func (e Engine) notify(ctx context.Context, tx *sql.Tx, p domain.Program, typ, title, message, actorID string) error {
	return e.Repo.InsertNotificationTx(ctx, tx, domain.Notification{
		ID:         newID(),
		Type:       typ,
		Title:      title,
		Message:    message,
		EntityType: "program",
		EntityID:   p.ID,
		ActorID:    actorID,
		CreatedAt:  e.stamp(),
	})
}

func (e Engine) enqueueEmail(ctx context.Context, tx *sql.Tx, trigger, recipient, entityType, entityID string, vars map[string]any) error {
	if recipient == "" {
		return nil
	}
	now := e.stamp()
	return e.Repo.EnqueueEmailTx(ctx, tx, domain.EmailJob{
		ID:             newID(),
		Trigger:        trigger,
		RecipientEmail: recipient,
		EntityType:     entityType,
		EntityID:       entityID,
		Variables:      vars,
		Status:         domain.EmailPending,
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}
