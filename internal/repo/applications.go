package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"programline/internal/domain"
)

const applicationColumns = `id,program_id,applicant_name,applicant_email,organization,profile_json,status,
ai_score,ai_scores_json,ai_reasoning,ai_recommendation,assigned_mentor,mentor_match_score,created_at,updated_at`

func scanApplication(row scanner) (domain.Application, error) {
	var (
		a                                      domain.Application
		email, org, profile, scores, reasoning sql.NullString
		recommendation, mentor                 sql.NullString
		score, mentorScore                     sql.NullFloat64
		status                                 string
	)
	err := row.Scan(&a.ID, &a.ProgramID, &a.ApplicantName, &email, &org, &profile, &status,
		&score, &scores, &reasoning, &recommendation, &mentor, &mentorScore, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Status = domain.ApplicationStatus(status)
	a.ApplicantEmail = email.String
	a.Organization = org.String
	a.AIReasoning = reasoning.String
	a.AIRecommendation = recommendation.String
	a.AssignedMentor = mentor.String
	a.AIScore = floatPtr(score)
	a.MentorMatchScore = floatPtr(mentorScore)
	if err := decodeJSON(profile, &a.Profile); err != nil {
		return a, fmt.Errorf("decode application %s profile: %w", a.ID, err)
	}
	if err := decodeJSON(scores, &a.AIScores); err != nil {
		return a, fmt.Errorf("decode application %s scores: %w", a.ID, err)
	}
	return a, nil
}

func (r Repo) InsertApplicationTx(ctx context.Context, tx *sql.Tx, a domain.Application) error {
	profile, err := encodeJSON(a.Profile)
	if err != nil {
		return err
	}
	scores, err := encodeJSON(a.AIScores)
	if err != nil {
		return err
	}
	_, err = r.on(tx).ExecContext(ctx, `INSERT INTO program_applications(`+applicationColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ProgramID, a.ApplicantName, nullable(a.ApplicantEmail), nullable(a.Organization), profile, string(a.Status),
		nullableFloat(a.AIScore), scores, nullable(a.AIReasoning), nullable(a.AIRecommendation), nullable(a.AssignedMentor),
		nullableFloat(a.MentorMatchScore), a.CreatedAt, a.UpdatedAt)
	return duplicate(err, "application", a.ID)
}

func (r Repo) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	return r.GetApplicationTx(ctx, nil, id)
}

func (r Repo) GetApplicationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Application, error) {
	return scanApplication(r.on(tx).QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM program_applications WHERE id=?`, id))
}

type ApplicationFilter struct {
	ProgramID       string
	Statuses        []domain.ApplicationStatus
	Limit           int
	CursorCreatedAt string
	CursorID        string
	// Oldest orders by submission time ascending, which keeps prompts stable.
	Oldest bool
}

func (r Repo) ListApplications(ctx context.Context, f ApplicationFilter) ([]domain.Application, error) {
	return r.ListApplicationsTx(ctx, nil, f)
}

func (r Repo) ListApplicationsTx(ctx context.Context, tx *sql.Tx, f ApplicationFilter) ([]domain.Application, error) {
	var clauses []string
	var args []any
	if f.ProgramID != "" {
		clauses = append(clauses, "program_id=?")
		args = append(args, f.ProgramID)
	}
	if len(f.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	order := "created_at DESC, id DESC"
	if f.Oldest {
		order = "created_at ASC, id ASC"
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		if f.Oldest {
			clauses = append(clauses, "(created_at > ? OR (created_at = ? AND id > ?))")
		} else {
			clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		}
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + applicationColumns + ` FROM program_applications ` + where + ` ORDER BY ` + order
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.on(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ScreeningUpdate is the AI verdict written back to one application.
type ScreeningUpdate struct {
	ID             string
	Status         domain.ApplicationStatus
	Score          float64
	Scores         map[string]float64
	Reasoning      string
	Recommendation string
}

func (r Repo) ApplyScreeningTx(ctx context.Context, tx *sql.Tx, u ScreeningUpdate, now string) error {
	scores, err := encodeJSON(u.Scores)
	if err != nil {
		return err
	}
	res, err := r.on(tx).ExecContext(ctx, `UPDATE program_applications
SET status=?, ai_score=?, ai_scores_json=?, ai_reasoning=?, ai_recommendation=?, updated_at=? WHERE id=?`,
		string(u.Status), u.Score, scores, nullable(u.Reasoning), nullable(u.Recommendation), now, u.ID)
	return affectedOrNotFound(res, err)
}

func (r Repo) SetApplicationStatusTx(ctx context.Context, tx *sql.Tx, id string, status domain.ApplicationStatus, now string) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE program_applications SET status=?, updated_at=? WHERE id=?`, string(status), now, id)
	return affectedOrNotFound(res, err)
}

func (r Repo) AssignMentorTx(ctx context.Context, tx *sql.Tx, id, mentor string, score float64, now string) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE program_applications SET assigned_mentor=?, mentor_match_score=?, updated_at=? WHERE id=?`,
		mentor, score, now, id)
	return affectedOrNotFound(res, err)
}

// ApplicationStats summarizes one program's applications.
type ApplicationStats struct {
	ByStatus   map[string]int
	AvgAIScore *float64
	Scored     int
}

func (r Repo) ApplicationStats(ctx context.Context, programID string) (ApplicationStats, error) {
	st := ApplicationStats{ByStatus: map[string]int{}}
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM program_applications WHERE program_id=? GROUP BY status`, programID)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, err
		}
		st.ByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return st, err
	}
	var avg sql.NullFloat64
	if err := r.DB.QueryRowContext(ctx, `SELECT AVG(ai_score), COUNT(ai_score) FROM program_applications WHERE program_id=?`, programID).
		Scan(&avg, &st.Scored); err != nil {
		return st, err
	}
	st.AvgAIScore = floatPtr(avg)
	return st, nil
}

func affectedOrNotFound(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
