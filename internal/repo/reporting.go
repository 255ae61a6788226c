package repo

import (
	"context"
	"database/sql"
	"strings"

	"programline/internal/domain"
)

func (r Repo) InsertPilotTx(ctx context.Context, tx *sql.Tx, p domain.Pilot) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO pilots(id,title,created_by,program_id,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Title, p.CreatedBy, nullable(p.ProgramID), p.CreatedAt)
	return err
}

func (r Repo) InsertSolutionTx(ctx context.Context, tx *sql.Tx, s domain.Solution) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO solutions(id,title,created_by,program_id,created_at) VALUES (?,?,?,?,?)`,
		s.ID, s.Title, s.CreatedBy, nullable(s.ProgramID), s.CreatedAt)
	return err
}

// WorkFilter narrows pilot and solution listings.
type WorkFilter struct {
	CreatedBy string
	Scope     OrgScope
}

func (r Repo) GetPilot(ctx context.Context, id string) (domain.Pilot, error) {
	var p domain.Pilot
	err := r.DB.QueryRowContext(ctx, `SELECT id,title,created_by,COALESCE(program_id,''),created_at FROM pilots WHERE id=?`, id).
		Scan(&p.ID, &p.Title, &p.CreatedBy, &p.ProgramID, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListPilots(ctx context.Context, f WorkFilter) ([]domain.Pilot, error) {
	rows, err := r.listCreated(ctx, "pilots", f)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Pilot
	for rows.Next() {
		var p domain.Pilot
		if err := rows.Scan(&p.ID, &p.Title, &p.CreatedBy, &p.ProgramID, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) ListSolutions(ctx context.Context, f WorkFilter) ([]domain.Solution, error) {
	rows, err := r.listCreated(ctx, "solutions", f)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Solution
	for rows.Next() {
		var s domain.Solution
		if err := rows.Scan(&s.ID, &s.Title, &s.CreatedBy, &s.ProgramID, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// table is one of the two fixed entity tables, never caller input.
func (r Repo) listCreated(ctx context.Context, table string, f WorkFilter) (*sql.Rows, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.Scope.set() {
		clause, scopeArgs := f.Scope.workClause()
		clauses = append(clauses, clause)
		args = append(args, scopeArgs...)
	}
	query := `SELECT id,title,created_by,COALESCE(program_id,''),created_at FROM ` + table +
		` WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	return r.DB.QueryContext(ctx, query, args...)
}

// CountByCreator counts pilots and solutions per creator email.
func (r Repo) CountByCreator(ctx context.Context, emails []string) (pilots, solutions map[string]int, err error) {
	pilots = map[string]int{}
	solutions = map[string]int{}
	if len(emails) == 0 {
		return pilots, solutions, nil
	}
	for _, t := range []struct {
		table string
		dst   map[string]int
	}{{"pilots", pilots}, {"solutions", solutions}} {
		args := make([]any, 0, len(emails))
		for _, e := range emails {
			args = append(args, e)
		}
		rows, err := r.DB.QueryContext(ctx, `SELECT created_by, count(*) FROM `+t.table+` WHERE created_by IN (`+placeholders(len(emails))+`) GROUP BY created_by`, args...)
		if err != nil {
			return nil, nil, err
		}
		for rows.Next() {
			var who string
			var n int
			if err := rows.Scan(&who, &n); err != nil {
				rows.Close()
				return nil, nil, err
			}
			t.dst[who] = n
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, nil, err
		}
		rows.Close()
	}
	return pilots, solutions, nil
}

func (r Repo) InsertKPIContributionTx(ctx context.Context, tx *sql.Tx, k domain.KPIContribution) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO kpi_contributions(id,program_id,kpi_key,value,note,actor_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		k.ID, k.ProgramID, k.KPIKey, k.Value, nullable(k.Note), k.ActorID, k.CreatedAt)
	return err
}

func (r Repo) ListKPIContributions(ctx context.Context, programIDs ...string) ([]domain.KPIContribution, error) {
	if len(programIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(programIDs))
	for _, id := range programIDs {
		args = append(args, id)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,program_id,kpi_key,value,COALESCE(note,''),actor_id,created_at
FROM kpi_contributions WHERE program_id IN (`+placeholders(len(programIDs))+`) ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.KPIContribution
	for rows.Next() {
		var k domain.KPIContribution
		if err := rows.Scan(&k.ID, &k.ProgramID, &k.KPIKey, &k.Value, &k.Note, &k.ActorID, &k.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, k)
	}
	return res, rows.Err()
}

// SumKPIContributions totals contributions per kpi key.
func SumKPIContributions(items []domain.KPIContribution) map[string]float64 {
	res := map[string]float64{}
	for _, k := range items {
		res[strings.TrimSpace(k.KPIKey)] += k.Value
	}
	return res
}
