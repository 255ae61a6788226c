package engine

import (
	"context"
	"database/sql"
	"fmt"

	"programline/internal/domain"
	"programline/internal/events"
)

// SessionList is the curriculum together with the program version it was
// read at.
type SessionList struct {
	ProgramID string           `json:"program_id"`
	Version   int64            `json:"version"`
	Sessions  []domain.Session `json:"sessions"`
}

type AddSessionOptions struct {
	ProgramID       string `validate:"required"`
	Week            int    `validate:"gte=0"`
	Topic           string `validate:"required"`
	Date            string `validate:"omitempty,datetime=2006-01-02"`
	Facilitator     string
	MeetingLink     string `validate:"omitempty,url"`
	ExpectedVersion int64
	ActorID         string `validate:"required"`
}

func (e Engine) ListSessions(ctx context.Context, programID string) (SessionList, error) {
	p, err := e.Repo.GetProgram(ctx, programID)
	if err != nil {
		return SessionList{}, err
	}
	items, err := e.Repo.ListSessions(ctx, p.ID)
	if err != nil {
		return SessionList{}, err
	}
	return SessionList{ProgramID: p.ID, Version: p.Version, Sessions: nonNil(items)}, nil
}

// AddSession appends a session to the end of the curriculum.
func (e Engine) AddSession(ctx context.Context, opts AddSessionOptions) (SessionList, error) {
	if err := check(opts); err != nil {
		return SessionList{}, err
	}
	return e.mutateSessions(ctx, opts.ProgramID, opts.ExpectedVersion, opts.ActorID, func(tx *sql.Tx, _ []domain.Session) (string, events.EventPayload, error) {
		pos, err := e.Repo.NextSessionPositionTx(ctx, tx, opts.ProgramID)
		if err != nil {
			return "", nil, err
		}
		s := domain.Session{
			ID:          newID(),
			ProgramID:   opts.ProgramID,
			Position:    pos,
			Week:        opts.Week,
			Topic:       opts.Topic,
			Date:        opts.Date,
			Facilitator: opts.Facilitator,
			MeetingLink: opts.MeetingLink,
			CreatedAt:   e.stamp(),
		}
		if err := e.Repo.InsertSessionTx(ctx, tx, s); err != nil {
			return "", nil, err
		}
		return "session.added", events.EventPayload{"session_id": s.ID, "topic": s.Topic, "position": s.Position}, nil
	})
}

// DeleteSession removes a session by id.
func (e Engine) DeleteSession(ctx context.Context, programID, sessionID string, expectedVersion int64, actorID string) (SessionList, error) {
	return e.mutateSessions(ctx, programID, expectedVersion, actorID, func(tx *sql.Tx, _ []domain.Session) (string, events.EventPayload, error) {
		if err := e.Repo.DeleteSessionTx(ctx, tx, programID, sessionID); err != nil {
			return "", nil, fmt.Errorf("session %s: %w", sessionID, err)
		}
		return "session.deleted", events.EventPayload{"session_id": sessionID}, nil
	})
}

// DeleteSessionAt removes the session at index i of the ordered list.
func (e Engine) DeleteSessionAt(ctx context.Context, programID string, i int, expectedVersion int64, actorID string) (SessionList, error) {
	return e.mutateSessions(ctx, programID, expectedVersion, actorID, func(tx *sql.Tx, current []domain.Session) (string, events.EventPayload, error) {
		if i < 0 || i >= len(current) {
			return "", nil, fmt.Errorf("%w: session index %d out of range [0,%d)", ErrInvalidInput, i, len(current))
		}
		target := current[i]
		if err := e.Repo.DeleteSessionTx(ctx, tx, programID, target.ID); err != nil {
			return "", nil, err
		}
		return "session.deleted", events.EventPayload{"session_id": target.ID, "index": i}, nil
	})
}

// mutateSessions bumps the program version first so a stale expected version
// fails before anything is written.
func (e Engine) mutateSessions(ctx context.Context, programID string, expected int64, actorID string,
	apply func(*sql.Tx, []domain.Session) (string, events.EventPayload, error)) (SessionList, error) {
	if actorID == "" {
		return SessionList{}, fmt.Errorf("%w: actor required", ErrInvalidInput)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return SessionList{}, err
	}
	defer tx.Rollback()

	p, err := e.loadProgram(ctx, tx, programID, expected)
	if err != nil {
		return SessionList{}, err
	}
	if err := requireOpen(p); err != nil {
		return SessionList{}, err
	}
	v, err := e.Repo.BumpProgramVersionTx(ctx, tx, p.ID, p.Version, e.stamp())
	if err != nil {
		return SessionList{}, err
	}
	current, err := e.Repo.ListSessionsTx(ctx, tx, p.ID)
	if err != nil {
		return SessionList{}, err
	}
	typ, payload, err := apply(tx, current)
	if err != nil {
		return SessionList{}, err
	}
	if payload == nil {
		payload = events.EventPayload{}
	}
	payload["version"] = v
	if err := e.events().Append(ctx, tx, typ, p.ID, "program", p.ID, actorID, payload); err != nil {
		return SessionList{}, err
	}
	items, err := e.Repo.ListSessionsTx(ctx, tx, p.ID)
	if err != nil {
		return SessionList{}, err
	}
	if err := tx.Commit(); err != nil {
		return SessionList{}, err
	}
	return SessionList{ProgramID: p.ID, Version: v, Sessions: nonNil(items)}, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
