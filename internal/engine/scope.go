package engine

import (
	"context"

	"programline/internal/repo"
)

// WorkspaceOrg is the organization local workspaces and unscoped records
// belong to.
func (e Engine) WorkspaceOrg() string {
	if e.Config == nil {
		return ""
	}
	return e.Config.Workspace.OrgID
}

// OrgScope limits listings to orgID. The workspace organization also sees
// records that no program ties to an organization.
func (e Engine) OrgScope(orgID string) repo.OrgScope {
	return repo.OrgScope{OrgID: orgID, Unowned: orgID != "" && orgID == e.WorkspaceOrg()}
}

// Authorize returns auth.ForbiddenError unless actorID holds perm in orgID.
func (e Engine) Authorize(ctx context.Context, orgID, actorID, perm string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return e.Auth.Require(ctx, tx, orgID, actorID, perm)
}

// ProgramOrg returns the organization that owns a live program.
func (e Engine) ProgramOrg(ctx context.Context, programID string) (string, error) {
	p, err := e.Repo.GetProgram(ctx, programID)
	if err != nil {
		return "", err
	}
	return p.OrgID, nil
}

// ApplicationOrg resolves an application through its program.
func (e Engine) ApplicationOrg(ctx context.Context, applicationID string) (string, error) {
	a, err := e.Repo.GetApplication(ctx, applicationID)
	if err != nil {
		return "", err
	}
	return e.ProgramOrg(ctx, a.ProgramID)
}

func (e Engine) PlanOrg(ctx context.Context, planID string) (string, error) {
	plan, err := e.Repo.GetStrategicPlan(ctx, planID)
	if err != nil {
		return "", err
	}
	return plan.OrgID, nil
}

// EmailJobOrg resolves a job through the entity that queued it. Pilots
// recorded without a program belong to the workspace organization.
func (e Engine) EmailJobOrg(ctx context.Context, jobID string) (string, error) {
	job, err := e.Repo.GetEmailJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	switch job.EntityType {
	case "program":
		return e.ProgramOrg(ctx, job.EntityID)
	case "program_application":
		return e.ApplicationOrg(ctx, job.EntityID)
	case "pilot":
		pl, err := e.Repo.GetPilot(ctx, job.EntityID)
		if err != nil {
			return "", err
		}
		if pl.ProgramID == "" {
			return e.WorkspaceOrg(), nil
		}
		return e.ProgramOrg(ctx, pl.ProgramID)
	default:
		return e.WorkspaceOrg(), nil
	}
}
