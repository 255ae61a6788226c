package repo

// OrgScope limits a listing to one organization. Unowned also matches rows
// no program ties to an organization (pilots and solutions recorded without a
// program, API key events); only the workspace organization sees those.
// A zero scope matches everything.
type OrgScope struct {
	OrgID   string
	Unowned bool
}

func (s OrgScope) set() bool { return s.OrgID != "" }

func (s OrgScope) emailJobClause() (string, []any) {
	clause := `((entity_type='program' AND entity_id IN (SELECT id FROM programs WHERE org_id=?))
 OR (entity_type='program_application' AND entity_id IN (SELECT a.id FROM program_applications a JOIN programs p ON p.id=a.program_id WHERE p.org_id=?))
 OR (entity_type='pilot' AND entity_id IN (SELECT pl.id FROM pilots pl JOIN programs p ON p.id=pl.program_id WHERE p.org_id=?))`
	if s.Unowned {
		clause += `
 OR (entity_type='pilot' AND entity_id IN (SELECT id FROM pilots WHERE program_id IS NULL))`
	}
	return clause + `)`, []any{s.OrgID, s.OrgID, s.OrgID}
}

func (s OrgScope) workClause() (string, []any) {
	clause := `(program_id IN (SELECT id FROM programs WHERE org_id=?)`
	if s.Unowned {
		clause += ` OR program_id IS NULL`
	}
	return clause + `)`, []any{s.OrgID}
}

func (s OrgScope) eventClause() (string, []any) {
	clause := `(program_id IN (SELECT id FROM programs WHERE org_id=?)
 OR (entity_kind='strategic_plan' AND entity_id IN (SELECT id FROM strategic_plans WHERE org_id=?))
 OR (program_id IS NULL AND json_extract(payload_json,'$.org_id')=?)`
	if s.Unowned {
		clause += `
 OR (program_id IS NULL AND entity_kind IN ('pilot','solution','api_key'))`
	}
	return clause + `)`, []any{s.OrgID, s.OrgID, s.OrgID}
}
