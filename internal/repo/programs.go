package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"programline/internal/domain"
)

const programColumns = `id,org_id,name_en,name_ar,description_en,description_ar,program_type,status,
timeline_json,launch_checklist_json,completion_checklist_json,mentors_json,outcomes_json,funding_json,
contact_email,launch_date,announcement_text,completion_date,completion_data_json,strategic_plan_id,
version,is_deleted,created_by,created_at,updated_at`

func scanProgram(row scanner) (domain.Program, error) {
	var (
		p                                                     domain.Program
		nameAR, descEN, descAR, contact, launchDate, announce sql.NullString
		completionDate, planID, createdBy                     sql.NullString
		timeline, launchCL, completionCL, mentors, outcomes   sql.NullString
		funding, completionData                               sql.NullString
		status                                                string
		deleted                                               int
	)
	err := row.Scan(&p.ID, &p.OrgID, &p.NameEN, &nameAR, &descEN, &descAR, &p.ProgramType, &status,
		&timeline, &launchCL, &completionCL, &mentors, &outcomes, &funding,
		&contact, &launchDate, &announce, &completionDate, &completionData, &planID,
		&p.Version, &deleted, &createdBy, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Status = domain.ProgramStatus(status)
	p.NameAR = nameAR.String
	p.DescriptionEN = descEN.String
	p.DescriptionAR = descAR.String
	p.ContactEmail = contact.String
	p.LaunchDate = launchDate.String
	p.AnnouncementText = announce.String
	p.CompletionDate = completionDate.String
	p.StrategicPlanID = planID.String
	p.CreatedBy = createdBy.String
	p.IsDeleted = deleted != 0
	for _, col := range []struct {
		raw sql.NullString
		dst any
	}{
		{timeline, &p.Timeline},
		{launchCL, &p.LaunchChecklist},
		{completionCL, &p.CompletionChecklist},
		{mentors, &p.Mentors},
		{outcomes, &p.Outcomes},
		{funding, &p.FundingDetails},
		{completionData, &p.CompletionData},
	} {
		if err := decodeJSON(col.raw, col.dst); err != nil {
			return p, fmt.Errorf("decode program %s: %w", p.ID, err)
		}
	}
	return p, nil
}

func programArgs(p domain.Program) ([]any, error) {
	var encoded []any
	for _, v := range []any{p.Timeline, p.LaunchChecklist, p.CompletionChecklist, p.Mentors, p.Outcomes, p.FundingDetails, p.CompletionData} {
		s, err := encodeJSON(v)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, s)
	}
	return encoded, nil
}

func (r Repo) InsertProgramTx(ctx context.Context, tx *sql.Tx, p domain.Program) error {
	enc, err := programArgs(p)
	if err != nil {
		return err
	}
	_, err = r.on(tx).ExecContext(ctx, `INSERT INTO programs(`+programColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.OrgID, p.NameEN, nullable(p.NameAR), nullable(p.DescriptionEN), nullable(p.DescriptionAR), p.ProgramType, string(p.Status),
		enc[0], enc[1], enc[2], enc[3], enc[4], enc[5],
		nullable(p.ContactEmail), nullable(p.LaunchDate), nullable(p.AnnouncementText), nullable(p.CompletionDate), enc[6], nullable(p.StrategicPlanID),
		p.Version, boolInt(p.IsDeleted), nullable(p.CreatedBy), p.CreatedAt, p.UpdatedAt)
	return duplicate(err, "program", p.ID)
}

func (r Repo) GetProgram(ctx context.Context, id string) (domain.Program, error) {
	return r.GetProgramTx(ctx, nil, id)
}

// GetProgramTx returns a live program; soft-deleted rows read as not found.
func (r Repo) GetProgramTx(ctx context.Context, tx *sql.Tx, id string) (domain.Program, error) {
	return scanProgram(r.on(tx).QueryRowContext(ctx, `SELECT `+programColumns+` FROM programs WHERE id=? AND is_deleted=0`, id))
}

type ProgramFilter struct {
	OrgID           string
	Status          string
	StrategicPlanID string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListPrograms(ctx context.Context, f ProgramFilter) ([]domain.Program, error) {
	clauses := []string{"is_deleted=0"}
	var args []any
	if f.OrgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, f.OrgID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.StrategicPlanID != "" {
		clauses = append(clauses, "strategic_plan_id=?")
		args = append(args, f.StrategicPlanID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + programColumns + ` FROM programs WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProgramTx writes every mutable column when the stored version still
// equals p.Version, then bumps it. It returns the new version.
func (r Repo) UpdateProgramTx(ctx context.Context, tx *sql.Tx, p domain.Program) (int64, error) {
	enc, err := programArgs(p)
	if err != nil {
		return 0, err
	}
	res, err := r.on(tx).ExecContext(ctx, `UPDATE programs SET
name_en=?, name_ar=?, description_en=?, description_ar=?, program_type=?, status=?,
timeline_json=?, launch_checklist_json=?, completion_checklist_json=?, mentors_json=?, outcomes_json=?, funding_json=?,
contact_email=?, launch_date=?, announcement_text=?, completion_date=?, completion_data_json=?, strategic_plan_id=?,
version=version+1, updated_at=?
WHERE id=? AND version=? AND is_deleted=0`,
		p.NameEN, nullable(p.NameAR), nullable(p.DescriptionEN), nullable(p.DescriptionAR), p.ProgramType, string(p.Status),
		enc[0], enc[1], enc[2], enc[3], enc[4], enc[5],
		nullable(p.ContactEmail), nullable(p.LaunchDate), nullable(p.AnnouncementText), nullable(p.CompletionDate), enc[6], nullable(p.StrategicPlanID),
		p.UpdatedAt, p.ID, p.Version)
	if err != nil {
		return 0, err
	}
	if err := r.checkVersioned(ctx, tx, res, p.ID); err != nil {
		return 0, err
	}
	return p.Version + 1, nil
}

// BumpProgramVersionTx advances the version of a program whose child rows
// changed. expected <= 0 skips the comparison.
func (r Repo) BumpProgramVersionTx(ctx context.Context, tx *sql.Tx, id string, expected int64, now string) (int64, error) {
	query := `UPDATE programs SET version=version+1, updated_at=? WHERE id=? AND is_deleted=0`
	args := []any{now, id}
	if expected > 0 {
		query += ` AND version=?`
		args = append(args, expected)
	}
	res, err := r.on(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	if err := r.checkVersioned(ctx, tx, res, id); err != nil {
		return 0, err
	}
	var v int64
	if err := r.on(tx).QueryRowContext(ctx, `SELECT version FROM programs WHERE id=?`, id).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func (r Repo) SoftDeleteProgramTx(ctx context.Context, tx *sql.Tx, id string, expected int64, now string) error {
	query := `UPDATE programs SET is_deleted=1, version=version+1, updated_at=? WHERE id=? AND is_deleted=0`
	args := []any{now, id}
	if expected > 0 {
		query += ` AND version=?`
		args = append(args, expected)
	}
	res, err := r.on(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return r.checkVersioned(ctx, tx, res, id)
}

// checkVersioned tells a missing program apart from a stale version.
func (r Repo) checkVersioned(ctx context.Context, tx *sql.Tx, res sql.Result, id string) error {
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var one int
	err := r.on(tx).QueryRowContext(ctx, `SELECT 1 FROM programs WHERE id=? AND is_deleted=0`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrVersionConflict
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
