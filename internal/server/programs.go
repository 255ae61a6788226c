package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"programline/internal/domain"
	"programline/internal/engine"
	"programline/internal/repo"
)

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

type programPath struct {
	ProgramID string `path:"program_id"`
}

type programBody struct {
	Body ProgramResponse `json:"body"`
}

func programOut(e engine.Engine, p domain.Program) *programBody {
	return &programBody{Body: programResponse(p, e.Config)}
}

func registerPrograms(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-program",
		Method:        http.MethodPost,
		Path:          "/programs",
		Summary:       "Create program",
		Tags:          []string{"programs"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProgramRequest `json:"body"`
	}) (*programBody, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		b := input.Body
		orgID, err := bodyOrg(ctx, e, b.OrgID)
		if err != nil {
			return nil, err
		}
		actorID, err := authorizeIn(ctx, e, orgID, "program.create")
		if err != nil {
			return nil, handleError(err)
		}
		p, err := e.CreateProgram(ctx, engine.CreateProgramOptions{
			ID:              b.ID,
			OrgID:           orgID,
			NameEN:          b.NameEN,
			NameAR:          b.NameAR,
			DescriptionEN:   b.DescriptionEN,
			DescriptionAR:   b.DescriptionAR,
			ProgramType:     b.ProgramType,
			Timeline:        b.Timeline,
			Mentors:         b.Mentors,
			FundingDetails:  b.FundingDetails,
			ContactEmail:    b.ContactEmail,
			StrategicPlanID: b.StrategicPlanID,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return programOut(e, p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-programs",
		Method:      http.MethodGet,
		Path:        "/programs",
		Summary:     "List programs",
		Tags:        []string{"programs"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status          string `query:"status" enum:"planning,applications_open,selection,active,completed,cancelled"`
		StrategicPlanID string `query:"strategic_plan_id"`
		Limit           int    `query:"limit" default:"50"`
		Cursor          string `query:"cursor"`
	}) (*struct {
		Body paginatedPrograms `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "program.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.ListPrograms(ctx, repo.ProgramFilter{
			OrgID:           callerOrg(ctx, e),
			Status:          input.Status,
			StrategicPlanID: input.StrategicPlanID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedPrograms{}
		if len(items) > limit {
			items = items[:limit]
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		resp.Items = mapPrograms(items, e.Config)
		return &struct {
			Body paginatedPrograms `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-program",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}",
		Summary:     "Get program",
		Tags:        []string{"programs"},
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *programPath) (*programBody, error) {
		if _, err := requireProgram(ctx, e, input.ProgramID, "program.read"); err != nil {
			return nil, handleError(err)
		}
		p, err := e.GetProgram(ctx, input.ProgramID)
		if err != nil {
			return nil, handleError(err)
		}
		return programOut(e, p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-program",
		Method:      http.MethodPatch,
		Path:        "/programs/{program_id}",
		Summary:     "Update program fields",
		Tags:        []string{"programs"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProgramID string               `path:"program_id"`
		Body      UpdateProgramRequest `json:"body"`
	}) (*programBody, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requireProgram(ctx, e, input.ProgramID, "program.update")
		if err != nil {
			return nil, handleError(err)
		}
		b := input.Body
		p, err := e.UpdateProgram(ctx, engine.UpdateProgramOptions{
			ID:              input.ProgramID,
			ExpectedVersion: b.ExpectedVersion,
			NameEN:          b.NameEN,
			NameAR:          b.NameAR,
			DescriptionEN:   b.DescriptionEN,
			DescriptionAR:   b.DescriptionAR,
			ProgramType:     b.ProgramType,
			Timeline:        b.Timeline,
			Mentors:         b.Mentors,
			FundingDetails:  b.FundingDetails,
			ContactEmail:    b.ContactEmail,
			StrategicPlanID: b.StrategicPlanID,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return programOut(e, p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-program",
		Method:        http.MethodDelete,
		Path:          "/programs/{program_id}",
		Summary:       "Soft delete program",
		Tags:          []string{"programs"},
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProgramID       string `path:"program_id"`
		ExpectedVersion int64  `query:"expected_version"`
	}) (*struct{}, error) {
		actorID, err := requireProgram(ctx, e, input.ProgramID, "program.update")
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteProgram(ctx, input.ProgramID, input.ExpectedVersion, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-program-status",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/status",
		Summary:     "Move program to a status",
		Description: "Statuses owned by a gate need force, which requires program.force.",
		Tags:        []string{"programs"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProgramID string                  `path:"program_id"`
		Body      SetProgramStatusRequest `json:"body"`
	}) (*programBody, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		perm := "program.update"
		if input.Body.Force {
			perm = "program.force"
		}
		actorID, err := requireProgram(ctx, e, input.ProgramID, perm)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := e.SetProgramStatus(ctx, engine.SetProgramStatusOptions{
			ProgramID:       input.ProgramID,
			Status:          domain.ProgramStatus(input.Body.Status),
			ExpectedVersion: input.Body.ExpectedVersion,
			Force:           input.Body.Force,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return programOut(e, p), nil
	})

	lifecycle := []struct {
		id, path, summary string
		run               func(context.Context, string, int64, string) (domain.Program, error)
	}{
		{"cancel-program", "/programs/{program_id}/cancel", "Cancel program", e.CancelProgram},
		{"close-applications", "/programs/{program_id}/close-applications", "Close the application window", e.CloseApplications},
		{"start-program", "/programs/{program_id}/start", "Start the cohort", e.StartProgram},
	}
	for _, step := range lifecycle {
		run := step.run
		huma.Register(api, huma.Operation{
			OperationID: step.id,
			Method:      http.MethodPost,
			Path:        step.path,
			Summary:     step.summary,
			Tags:        []string{"programs"},
			Errors:      writeErrors,
		}, func(ctx context.Context, input *struct {
			ProgramID string         `path:"program_id"`
			Body      VersionRequest `json:"body" required:"false"`
		}) (*programBody, error) {
			actorID, err := requireProgram(ctx, e, input.ProgramID, "program.update")
			if err != nil {
				return nil, handleError(err)
			}
			p, err := run(ctx, input.ProgramID, input.Body.ExpectedVersion, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return programOut(e, p), nil
		})
	}
}

func registerStrategicPlans(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-strategic-plan",
		Method:        http.MethodPost,
		Path:          "/strategic-plans",
		Summary:       "Create strategic plan",
		Tags:          []string{"plans"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateStrategicPlanRequest `json:"body"`
	}) (*struct {
		Body domain.StrategicPlan `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		orgID, err := bodyOrg(ctx, e, input.Body.OrgID)
		if err != nil {
			return nil, err
		}
		actorID, err := authorizeIn(ctx, e, orgID, "program.create")
		if err != nil {
			return nil, handleError(err)
		}
		plan, err := e.CreateStrategicPlan(ctx, engine.CreateStrategicPlanOptions{
			ID:      input.Body.ID,
			OrgID:   orgID,
			Title:   input.Body.Title,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StrategicPlan `json:"body"`
		}{Body: plan}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-strategic-plans",
		Method:      http.MethodGet,
		Path:        "/strategic-plans",
		Summary:     "List strategic plans",
		Tags:        []string{"plans"},
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		OrgID string `query:"org_id"`
	}) (*struct {
		Body []domain.StrategicPlan `json:"body"`
	}, error) {
		orgID := input.OrgID
		if orgID == "" {
			orgID = callerOrg(ctx, e)
		}
		if _, err := authorizeIn(ctx, e, orgID, "program.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListStrategicPlans(ctx, orgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.StrategicPlan `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

// bodyOrg resolves an org_id given in a request body. Records are created in
// the caller's organization; naming another one is refused.
func bodyOrg(ctx context.Context, e engine.Engine, orgID string) (string, error) {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return "", authErr
	}
	own := orgFor(principal, e)
	if orgID != "" && orgID != own {
		return "", newAPIError(http.StatusForbidden, "forbidden", "org_id must be the caller's organization", map[string]any{"org_id": orgID})
	}
	return own, nil
}
