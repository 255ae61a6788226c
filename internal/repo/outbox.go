package repo

import (
	"context"
	"database/sql"
	"strings"

	"programline/internal/domain"
)

func (r Repo) InsertNotificationTx(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO notifications(id,type,title,message,entity_type,entity_id,actor_id,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		n.ID, n.Type, n.Title, nullable(n.Message), n.EntityType, n.EntityID, n.ActorID, n.CreatedAt)
	return err
}

type NotificationFilter struct {
	EntityType string
	EntityID   string
	Type       string
	Limit      int
}

func (r Repo) ListNotifications(ctx context.Context, f NotificationFilter) ([]domain.Notification, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.EntityType != "" {
		clauses = append(clauses, "entity_type=?")
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	query := `SELECT id,type,title,COALESCE(message,''),entity_type,entity_id,actor_id,created_at FROM notifications WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Message, &n.EntityType, &n.EntityID, &n.ActorID, &n.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

const emailJobColumns = `id,trigger_name,recipient_email,entity_type,entity_id,variables_json,status,attempts,
COALESCE(last_error,''),next_attempt_at,COALESCE(sent_at,''),created_at,updated_at`

func scanEmailJob(row scanner) (domain.EmailJob, error) {
	var j domain.EmailJob
	var vars sql.NullString
	err := row.Scan(&j.ID, &j.Trigger, &j.RecipientEmail, &j.EntityType, &j.EntityID, &vars, &j.Status, &j.Attempts,
		&j.LastError, &j.NextAttemptAt, &j.SentAt, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	if err := decodeJSON(vars, &j.Variables); err != nil {
		return j, err
	}
	return j, nil
}

// EnqueueEmailTx adds a pending job to the outbox inside the gate transaction.
func (r Repo) EnqueueEmailTx(ctx context.Context, tx *sql.Tx, j domain.EmailJob) error {
	vars, err := encodeJSON(j.Variables)
	if err != nil {
		return err
	}
	if j.Status == "" {
		j.Status = domain.EmailPending
	}
	if j.NextAttemptAt == "" {
		j.NextAttemptAt = j.CreatedAt
	}
	if j.UpdatedAt == "" {
		j.UpdatedAt = j.CreatedAt
	}
	_, err = r.on(tx).ExecContext(ctx, `INSERT INTO email_jobs(id,trigger_name,recipient_email,entity_type,entity_id,variables_json,status,attempts,next_attempt_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.Trigger, j.RecipientEmail, j.EntityType, j.EntityID, vars, j.Status, j.Attempts, j.NextAttemptAt, j.CreatedAt, j.UpdatedAt)
	return err
}

func (r Repo) GetEmailJob(ctx context.Context, id string) (domain.EmailJob, error) {
	return scanEmailJob(r.DB.QueryRowContext(ctx, `SELECT `+emailJobColumns+` FROM email_jobs WHERE id=?`, id))
}

type EmailJobFilter struct {
	Status   string
	EntityID string
	Limit    int
	Scope    OrgScope
}

func (r Repo) ListEmailJobs(ctx context.Context, f EmailJobFilter) ([]domain.EmailJob, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Scope.set() {
		clause, scopeArgs := f.Scope.emailJobClause()
		clauses = append(clauses, clause)
		args = append(args, scopeArgs...)
	}
	query := `SELECT ` + emailJobColumns + ` FROM email_jobs WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return r.queryEmailJobs(ctx, query, args...)
}

// DueEmailJobs returns pending jobs whose next attempt is at or before now,
// oldest first.
func (r Repo) DueEmailJobs(ctx context.Context, now string, limit int) ([]domain.EmailJob, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.queryEmailJobs(ctx, `SELECT `+emailJobColumns+` FROM email_jobs
WHERE status='pending' AND next_attempt_at<=? ORDER BY next_attempt_at ASC, id ASC LIMIT ?`, now, limit)
}

func (r Repo) queryEmailJobs(ctx context.Context, query string, args ...any) ([]domain.EmailJob, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EmailJob
	for rows.Next() {
		j, err := scanEmailJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

// ClaimEmailJob pushes next_attempt_at to leaseUntil if the job is still due,
// so a second dispatcher skips it. It reports whether the claim won.
func (r Repo) ClaimEmailJob(ctx context.Context, id, now, leaseUntil string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE email_jobs SET next_attempt_at=?, updated_at=? WHERE id=? AND status='pending' AND next_attempt_at<=?`,
		leaseUntil, now, id, now)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r Repo) MarkEmailSent(ctx context.Context, id string, attempts int, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE email_jobs SET status='sent', attempts=?, last_error=NULL, sent_at=?, updated_at=? WHERE id=?`,
		attempts, now, now, id)
	return affectedOrNotFound(res, err)
}

// MarkEmailFailed records a failed attempt. dead moves the job out of the queue.
func (r Repo) MarkEmailFailed(ctx context.Context, id string, attempts int, lastErr, nextAttemptAt string, dead bool, now string) error {
	status := domain.EmailPending
	if dead {
		status = domain.EmailDead
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE email_jobs SET status=?, attempts=?, last_error=?, next_attempt_at=?, updated_at=? WHERE id=?`,
		status, attempts, lastErr, nextAttemptAt, now, id)
	return affectedOrNotFound(res, err)
}

// RequeueEmailJob returns a dead job to the queue with a fresh attempt budget.
func (r Repo) RequeueEmailJob(ctx context.Context, tx *sql.Tx, id, now string) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE email_jobs SET status='pending', attempts=0, next_attempt_at=?, updated_at=? WHERE id=? AND status='dead'`,
		now, now, id)
	return affectedOrNotFound(res, err)
}

func (r Repo) CountEmailJobsByStatus(ctx context.Context, scope OrgScope) (map[string]int, error) {
	query := `SELECT status, count(*) FROM email_jobs`
	var args []any
	if scope.set() {
		clause, scopeArgs := scope.emailJobClause()
		query += ` WHERE ` + clause
		args = scopeArgs
	}
	rows, err := r.DB.QueryContext(ctx, query+` GROUP BY status`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		res[s] = n
	}
	return res, rows.Err()
}
