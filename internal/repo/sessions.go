package repo

import (
	"context"
	"database/sql"

	"programline/internal/domain"
)

func (r Repo) ListSessions(ctx context.Context, programID string) ([]domain.Session, error) {
	return r.ListSessionsTx(ctx, nil, programID)
}

// ListSessionsTx returns the curriculum in display order.
func (r Repo) ListSessionsTx(ctx context.Context, tx *sql.Tx, programID string) ([]domain.Session, error) {
	rows, err := r.on(tx).QueryContext(ctx, `SELECT id,program_id,position,COALESCE(week,0),topic,COALESCE(date,''),COALESCE(facilitator,''),COALESCE(meeting_link,''),created_at
FROM program_sessions WHERE program_id=? ORDER BY position ASC, created_at ASC, id ASC`, programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.ProgramID, &s.Position, &s.Week, &s.Topic, &s.Date, &s.Facilitator, &s.MeetingLink, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// NextSessionPositionTx returns one past the highest position in use.
func (r Repo) NextSessionPositionTx(ctx context.Context, tx *sql.Tx, programID string) (int, error) {
	var pos int
	err := r.on(tx).QueryRowContext(ctx, `SELECT COALESCE(MAX(position), -1) + 1 FROM program_sessions WHERE program_id=?`, programID).Scan(&pos)
	return pos, err
}

func (r Repo) InsertSessionTx(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	var week any
	if s.Week > 0 {
		week = s.Week
	}
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO program_sessions(id,program_id,position,week,topic,date,facilitator,meeting_link,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ProgramID, s.Position, week, s.Topic, nullable(s.Date), nullable(s.Facilitator), nullable(s.MeetingLink), s.CreatedAt)
	return err
}

func (r Repo) DeleteSessionTx(ctx context.Context, tx *sql.Tx, programID, id string) error {
	res, err := r.on(tx).ExecContext(ctx, `DELETE FROM program_sessions WHERE program_id=? AND id=?`, programID, id)
	return affectedOrNotFound(res, err)
}
