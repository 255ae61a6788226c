package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"programline/internal/domain"
	"programline/internal/engine"
	"programline/internal/notify"
	"programline/internal/repo"
)

var readErrors = []int{http.StatusForbidden, http.StatusNotFound}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "program-kpis",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}/reports/kpis",
		Summary:     "KPI tracker",
		Tags:        []string{"reports"},
		Errors:      readErrors,
	}, func(ctx context.Context, input *programPath) (*struct {
		Body engine.KPIReport `json:"body"`
	}, error) {
		if _, err := requireProgram(ctx, e, input.ProgramID, "report.read"); err != nil {
			return nil, handleError(err)
		}
		rep, err := e.KPITracker(ctx, input.ProgramID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.KPIReport `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "program-alumni",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}/reports/alumni",
		Summary:     "Alumni impact",
		Tags:        []string{"reports"},
		Errors:      readErrors,
	}, func(ctx context.Context, input *programPath) (*struct {
		Body engine.AlumniReport `json:"body"`
	}, error) {
		if _, err := requireProgram(ctx, e, input.ProgramID, "report.read"); err != nil {
			return nil, handleError(err)
		}
		rep, err := e.AlumniImpact(ctx, input.ProgramID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.AlumniReport `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "program-dashboard",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}/dashboard",
		Summary:     "Program dashboard",
		Tags:        []string{"reports"},
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		ProgramID string `path:"program_id"`
		Activity  int    `query:"activity" default:"20" maximum:"200"`
	}) (*struct {
		Body engine.Dashboard `json:"body"`
	}, error) {
		if _, err := requireProgram(ctx, e, input.ProgramID, "report.read"); err != nil {
			return nil, handleError(err)
		}
		d, err := e.ProgramDashboard(ctx, input.ProgramID, input.Activity)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Dashboard `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "strategic-alignment",
		Method:      http.MethodGet,
		Path:        "/strategic-plans/{plan_id}/alignment",
		Summary:     "Programs aligned to a strategic plan",
		Tags:        []string{"reports"},
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		PlanID string `path:"plan_id"`
	}) (*struct {
		Body engine.AlignmentReport `json:"body"`
	}, error) {
		if _, err := requirePlan(ctx, e, input.PlanID, "report.read"); err != nil {
			return nil, handleError(err)
		}
		rep, err := e.StrategicAlignment(ctx, input.PlanID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.AlignmentReport `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-kpi",
		Method:        http.MethodPost,
		Path:          "/programs/{program_id}/kpis",
		Summary:       "Record a KPI contribution",
		Tags:          []string{"reports"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProgramID string           `path:"program_id"`
		Body      RecordKPIRequest `json:"body"`
	}) (*struct {
		Body domain.KPIContribution `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requireProgram(ctx, e, input.ProgramID, "kpi.contribute")
		if err != nil {
			return nil, handleError(err)
		}
		k, err := e.RecordKPIContribution(ctx, engine.RecordKPIOptions{
			ProgramID: input.ProgramID,
			KPIKey:    input.Body.KPIKey,
			Value:     input.Body.Value,
			Note:      input.Body.Note,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.KPIContribution `json:"body"`
		}{Body: k}, nil
	})
}

func registerWork(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-pilot",
		Method:        http.MethodPost,
		Path:          "/pilots",
		Summary:       "Record a pilot",
		Tags:          []string{"alumni"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body RecordWorkRequest `json:"body"`
	}) (*struct {
		Body domain.Pilot `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requireWork(ctx, e, input.Body.ProgramID)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := e.RecordPilot(ctx, workOptions(input.Body, actorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Pilot `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pilots",
		Method:      http.MethodGet,
		Path:        "/pilots",
		Summary:     "List pilots",
		Tags:        []string{"alumni"},
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		CreatedBy string `query:"created_by"`
	}) (*struct {
		Body []domain.Pilot `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "report.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListPilots(ctx, repo.WorkFilter{CreatedBy: input.CreatedBy, Scope: e.OrgScope(callerOrg(ctx, e))})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Pilot `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-solution",
		Method:        http.MethodPost,
		Path:          "/solutions",
		Summary:       "Record a solution",
		Tags:          []string{"alumni"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body RecordWorkRequest `json:"body"`
	}) (*struct {
		Body domain.Solution `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requireWork(ctx, e, input.Body.ProgramID)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.RecordSolution(ctx, workOptions(input.Body, actorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Solution `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-solutions",
		Method:      http.MethodGet,
		Path:        "/solutions",
		Summary:     "List solutions",
		Tags:        []string{"alumni"},
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		CreatedBy string `query:"created_by"`
	}) (*struct {
		Body []domain.Solution `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "report.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListSolutions(ctx, repo.WorkFilter{CreatedBy: input.CreatedBy, Scope: e.OrgScope(callerOrg(ctx, e))})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Solution `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

// requireWork authorizes recording a pilot or solution. Work tied to a
// program is checked in that program's organization.
func requireWork(ctx context.Context, e engine.Engine, programID string) (string, error) {
	if programID == "" {
		return requirePermission(ctx, e, "entity.record")
	}
	return requireProgram(ctx, e, programID, "entity.record")
}

func workOptions(b RecordWorkRequest, actorID string) engine.RecordWorkOptions {
	return engine.RecordWorkOptions{Title: b.Title, CreatedBy: b.CreatedBy, ProgramID: b.ProgramID, ActorID: actorID}
}

func registerInbox(api huma.API, e engine.Engine, d *notify.Dispatcher) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}/notifications",
		Summary:     "List in-app notifications for a program",
		Tags:        []string{"outbox"},
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		ProgramID string `path:"program_id"`
		Type      string `query:"type"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		if _, err := requireProgram(ctx, e, input.ProgramID, "notification.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListNotifications(ctx, repo.NotificationFilter{
			EntityType: "program",
			EntityID:   input.ProgramID,
			Type:       input.Type,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-email-jobs",
		Method:      http.MethodGet,
		Path:        "/outbox/jobs",
		Summary:     "List email jobs",
		Tags:        []string{"outbox"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:"pending,sent,dead"`
		EntityID string `query:"entity_id"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.EmailJob `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "outbox.manage"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListEmailJobs(ctx, repo.EmailJobFilter{
			Status:   input.Status,
			EntityID: input.EntityID,
			Limit:    normalizeLimit(input.Limit),
			Scope:    e.OrgScope(callerOrg(ctx, e)),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.EmailJob `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "outbox-stats",
		Method:      http.MethodGet,
		Path:        "/outbox/stats",
		Summary:     "Count email jobs per status",
		Tags:        []string{"outbox"},
		Errors:      readErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "outbox.manage"); err != nil {
			return nil, handleError(err)
		}
		stats, err := e.OutboxStats(ctx, e.OrgScope(callerOrg(ctx, e)))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-email-job",
		Method:      http.MethodGet,
		Path:        "/outbox/jobs/{job_id}",
		Summary:     "Get email job",
		Tags:        []string{"outbox"},
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body domain.EmailJob `json:"body"`
	}, error) {
		if _, err := requireEmailJob(ctx, e, input.JobID, "outbox.manage"); err != nil {
			return nil, handleError(err)
		}
		job, err := e.GetEmailJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.EmailJob `json:"body"`
		}{Body: job}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "retry-email-job",
		Method:      http.MethodPost,
		Path:        "/outbox/jobs/{job_id}/retry",
		Summary:     "Requeue a dead email job",
		Tags:        []string{"outbox"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body domain.EmailJob `json:"body"`
	}, error) {
		actorID, err := requireEmailJob(ctx, e, input.JobID, "outbox.manage")
		if err != nil {
			return nil, handleError(err)
		}
		job, err := e.RetryEmailJob(ctx, input.JobID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.EmailJob `json:"body"`
		}{Body: job}, nil
	})

	if d == nil {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dispatch-outbox",
		Method:      http.MethodPost,
		Path:        "/outbox/dispatch",
		Summary:     "Run one delivery pass",
		Tags:        []string{"outbox"},
		Errors:      []int{http.StatusForbidden, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body notify.Result `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "outbox.manage"); err != nil {
			return nil, handleError(err)
		}
		res, err := d.RunOnce(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body notify.Result `json:"body"`
		}{Body: res}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Tags:        []string{"events"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProgramID  string `query:"program_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		// A program filter is already bounded by that program's organization.
		scope := repo.OrgScope{}
		if input.ProgramID != "" {
			if _, err := requireProgram(ctx, e, input.ProgramID, "event.read"); err != nil {
				return nil, handleError(err)
			}
		} else {
			if _, err := requirePermission(ctx, e, "event.read"); err != nil {
				return nil, handleError(err)
			}
			scope = e.OrgScope(callerOrg(ctx, e))
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ActivityLog(ctx, repo.EventFilter{
			ProgramID:  input.ProgramID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      limit + 1,
			Cursor:     cursorID,
			Scope:      scope,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		resp.Items = nonNilSlice(items)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}
