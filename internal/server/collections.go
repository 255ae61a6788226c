package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"programline/internal/domain"
	"programline/internal/engine"
	"programline/internal/repo"
)

func registerApplications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-application",
		Method:        http.MethodPost,
		Path:          "/programs/{program_id}/applications",
		Summary:       "Submit application",
		Tags:          []string{"applications"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProgramID string                   `path:"program_id"`
		Body      SubmitApplicationRequest `json:"body"`
	}) (*struct {
		Body domain.Application `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requireProgram(ctx, e, input.ProgramID, "application.submit")
		if err != nil {
			return nil, handleError(err)
		}
		a, err := e.SubmitApplication(ctx, engine.SubmitApplicationOptions{
			ID:             input.Body.ID,
			ProgramID:      input.ProgramID,
			ApplicantName:  input.Body.ApplicantName,
			ApplicantEmail: input.Body.ApplicantEmail,
			Organization:   input.Body.Organization,
			Profile:        input.Body.Profile,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Application `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-applications",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}/applications",
		Summary:     "List applications",
		Tags:        []string{"applications"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProgramID string `path:"program_id"`
		Status    string `query:"status" doc:"Comma separated statuses"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedApplications `json:"body"`
	}, error) {
		if _, err := requireProgram(ctx, e, input.ProgramID, "application.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		f := repo.ApplicationFilter{
			ProgramID:       input.ProgramID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		}
		for _, s := range strings.Split(input.Status, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Statuses = append(f.Statuses, domain.ApplicationStatus(s))
			}
		}
		items, err := e.ListApplications(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedApplications{}
		if len(items) > limit {
			items = items[:limit]
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		resp.Items = nonNilSlice(items)
		return &struct {
			Body paginatedApplications `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-application",
		Method:      http.MethodGet,
		Path:        "/applications/{application_id}",
		Summary:     "Get application",
		Tags:        []string{"applications"},
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ApplicationID string `path:"application_id"`
	}) (*struct {
		Body domain.Application `json:"body"`
	}, error) {
		if _, err := requireApplication(ctx, e, input.ApplicationID, "application.read"); err != nil {
			return nil, handleError(err)
		}
		a, err := e.GetApplication(ctx, input.ApplicationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Application `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-application-status",
		Method:      http.MethodPost,
		Path:        "/applications/{application_id}/status",
		Summary:     "Move one application along its lifecycle",
		Tags:        []string{"applications"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ApplicationID string                      `path:"application_id"`
		Body          SetApplicationStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Application `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requireApplication(ctx, e, input.ApplicationID, "program.select")
		if err != nil {
			return nil, handleError(err)
		}
		a, err := e.SetApplicationStatus(ctx, input.ApplicationID, domain.ApplicationStatus(input.Body.Status), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Application `json:"body"`
		}{Body: a}, nil
	})
}

type sessionsBody struct {
	Body engine.SessionList `json:"body"`
}

func sessionsOut(list engine.SessionList) *sessionsBody {
	list.Sessions = nonNilSlice(list.Sessions)
	return &sessionsBody{Body: list}
}

func registerSessions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}/sessions",
		Summary:     "List sessions in order",
		Tags:        []string{"sessions"},
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *programPath) (*sessionsBody, error) {
		if _, err := requireProgram(ctx, e, input.ProgramID, "program.read"); err != nil {
			return nil, handleError(err)
		}
		list, err := e.ListSessions(ctx, input.ProgramID)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionsOut(list), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-session",
		Method:        http.MethodPost,
		Path:          "/programs/{program_id}/sessions",
		Summary:       "Append a session",
		Tags:          []string{"sessions"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProgramID string            `path:"program_id"`
		Body      AddSessionRequest `json:"body"`
	}) (*sessionsBody, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requireProgram(ctx, e, input.ProgramID, "program.session")
		if err != nil {
			return nil, handleError(err)
		}
		list, err := e.AddSession(ctx, engine.AddSessionOptions{
			ProgramID:       input.ProgramID,
			Week:            input.Body.Week,
			Topic:           input.Body.Topic,
			Date:            input.Body.Date,
			Facilitator:     input.Body.Facilitator,
			MeetingLink:     input.Body.MeetingLink,
			ExpectedVersion: input.Body.ExpectedVersion,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return sessionsOut(list), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-session",
		Method:      http.MethodDelete,
		Path:        "/programs/{program_id}/sessions/{session_id}",
		Summary:     "Delete a session by id",
		Tags:        []string{"sessions"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProgramID       string `path:"program_id"`
		SessionID       string `path:"session_id"`
		ExpectedVersion int64  `query:"expected_version"`
	}) (*sessionsBody, error) {
		actorID, err := requireProgram(ctx, e, input.ProgramID, "program.session")
		if err != nil {
			return nil, handleError(err)
		}
		list, err := e.DeleteSession(ctx, input.ProgramID, input.SessionID, input.ExpectedVersion, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionsOut(list), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-session-at",
		Method:      http.MethodDelete,
		Path:        "/programs/{program_id}/sessions/at/{index}",
		Summary:     "Delete the session at a zero-based position",
		Tags:        []string{"sessions"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProgramID       string `path:"program_id"`
		Index           int    `path:"index" minimum:"0"`
		ExpectedVersion int64  `query:"expected_version"`
	}) (*sessionsBody, error) {
		actorID, err := requireProgram(ctx, e, input.ProgramID, "program.session")
		if err != nil {
			return nil, handleError(err)
		}
		list, err := e.DeleteSessionAt(ctx, input.ProgramID, input.Index, input.ExpectedVersion, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionsOut(list), nil
	})
}

func registerLessons(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-lessons",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}/lessons",
		Summary:     "List lessons learned",
		Tags:        []string{"lessons"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProgramID string `path:"program_id"`
		Type      string `query:"type" enum:"success,challenge,improvement"`
	}) (*struct {
		Body []domain.Lesson `json:"body"`
	}, error) {
		if _, err := requireProgram(ctx, e, input.ProgramID, "program.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListLessons(ctx, input.ProgramID, domain.LessonType(input.Type))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Lesson `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-lesson",
		Method:        http.MethodPost,
		Path:          "/programs/{program_id}/lessons",
		Summary:       "Record a lesson",
		Tags:          []string{"lessons"},
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProgramID string           `path:"program_id"`
		Body      AddLessonRequest `json:"body"`
	}) (*struct {
		Body domain.Lesson `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requireProgram(ctx, e, input.ProgramID, "program.lessons")
		if err != nil {
			return nil, handleError(err)
		}
		l, err := e.AddLesson(ctx, engine.AddLessonOptions{
			ProgramID:       input.ProgramID,
			Type:            domain.LessonType(input.Body.Type),
			Description:     input.Body.Description,
			ExpectedVersion: input.Body.ExpectedVersion,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Lesson `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-lesson",
		Method:        http.MethodDelete,
		Path:          "/programs/{program_id}/lessons/{lesson_id}",
		Summary:       "Delete a lesson",
		Tags:          []string{"lessons"},
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProgramID       string `path:"program_id"`
		LessonID        string `path:"lesson_id"`
		ExpectedVersion int64  `query:"expected_version"`
	}) (*struct{}, error) {
		actorID, err := requireProgram(ctx, e, input.ProgramID, "program.lessons")
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteLesson(ctx, input.ProgramID, input.LessonID, input.ExpectedVersion, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
