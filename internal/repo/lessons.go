package repo

import (
	"context"
	"database/sql"

	"programline/internal/domain"
)

func (r Repo) InsertLessonTx(ctx context.Context, tx *sql.Tx, l domain.Lesson) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO program_lessons(id,program_id,type,description,created_by,created_at) VALUES (?,?,?,?,?,?)`,
		l.ID, l.ProgramID, string(l.Type), l.Description, l.CreatedBy, l.CreatedAt)
	return err
}

func (r Repo) DeleteLessonTx(ctx context.Context, tx *sql.Tx, programID, id string) error {
	res, err := r.on(tx).ExecContext(ctx, `DELETE FROM program_lessons WHERE program_id=? AND id=?`, programID, id)
	return affectedOrNotFound(res, err)
}

func (r Repo) ListLessons(ctx context.Context, programID string, lessonType domain.LessonType) ([]domain.Lesson, error) {
	return r.ListLessonsTx(ctx, nil, programID, lessonType)
}

func (r Repo) ListLessonsTx(ctx context.Context, tx *sql.Tx, programID string, lessonType domain.LessonType) ([]domain.Lesson, error) {
	query := `SELECT id,program_id,type,description,created_by,created_at FROM program_lessons WHERE program_id=?`
	args := []any{programID}
	if lessonType != "" {
		query += ` AND type=?`
		args = append(args, string(lessonType))
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.on(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Lesson
	for rows.Next() {
		var l domain.Lesson
		var t string
		if err := rows.Scan(&l.ID, &l.ProgramID, &t, &l.Description, &l.CreatedBy, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Type = domain.LessonType(t)
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) InsertStrategicPlanTx(ctx context.Context, tx *sql.Tx, p domain.StrategicPlan) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO strategic_plans(id,org_id,title,created_at) VALUES (?,?,?,?)`, p.ID, p.OrgID, p.Title, p.CreatedAt)
	return duplicate(err, "strategic plan", p.ID)
}

func (r Repo) GetStrategicPlan(ctx context.Context, id string) (domain.StrategicPlan, error) {
	return r.GetStrategicPlanTx(ctx, nil, id)
}

func (r Repo) GetStrategicPlanTx(ctx context.Context, tx *sql.Tx, id string) (domain.StrategicPlan, error) {
	var p domain.StrategicPlan
	err := r.on(tx).QueryRowContext(ctx, `SELECT id,org_id,title,created_at FROM strategic_plans WHERE id=?`, id).
		Scan(&p.ID, &p.OrgID, &p.Title, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListStrategicPlans(ctx context.Context, orgID string) ([]domain.StrategicPlan, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,title,created_at FROM strategic_plans WHERE org_id=? ORDER BY created_at DESC, id DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StrategicPlan
	for rows.Next() {
		var p domain.StrategicPlan
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Title, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertFeedbackTx(ctx context.Context, tx *sql.Tx, f domain.StrategicPlanFeedback) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO strategic_plan_feedback(id,strategic_plan_id,program_id,summary,lesson_count,actor_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		f.ID, f.StrategicPlanID, f.ProgramID, f.Summary, f.LessonCount, f.ActorID, f.CreatedAt)
	return err
}

func (r Repo) CountFeedback(ctx context.Context, planID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM strategic_plan_feedback WHERE strategic_plan_id=?`, planID).Scan(&n)
	return n, err
}

func (r Repo) ListFeedback(ctx context.Context, planID string) ([]domain.StrategicPlanFeedback, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,strategic_plan_id,program_id,summary,lesson_count,actor_id,created_at
FROM strategic_plan_feedback WHERE strategic_plan_id=? ORDER BY created_at DESC, id DESC`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StrategicPlanFeedback
	for rows.Next() {
		var f domain.StrategicPlanFeedback
		if err := rows.Scan(&f.ID, &f.StrategicPlanID, &f.ProgramID, &f.Summary, &f.LessonCount, &f.ActorID, &f.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}
