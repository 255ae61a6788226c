package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"programline/internal/domain"
	"programline/internal/engine"
)

var gateErrors = append([]int{http.StatusBadGateway}, writeErrors...)

type applicationsBody struct {
	Body []domain.Application `json:"body"`
}

func registerGates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "launch-program",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/launch",
		Summary:     "Run the launch gate",
		Description: "Opens applications once every required checklist item is checked.",
		Tags:        []string{"gates"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProgramID string        `path:"program_id"`
		Body      LaunchRequest `json:"body"`
	}) (*programBody, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requireProgram(ctx, e, input.ProgramID, "program.launch")
		if err != nil {
			return nil, handleError(err)
		}
		p, err := e.LaunchProgram(ctx, engine.LaunchOptions{
			ProgramID:        input.ProgramID,
			Checklist:        input.Body.Checklist,
			AnnouncementText: input.Body.AnnouncementText,
			ExpectedVersion:  input.Body.ExpectedVersion,
			ActorID:          actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return programOut(e, p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "propose-screening",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/screening/proposals",
		Summary:     "Score pending applications with the model",
		Description: "Returns a proposal for review. Nothing is stored.",
		Tags:        []string{"gates"},
		Errors:      gateErrors,
	}, func(ctx context.Context, input *programPath) (*struct {
		Body engine.ScreeningProposal `json:"body"`
	}, error) {
		actorID, err := requireProgram(ctx, e, input.ProgramID, "program.screen")
		if err != nil {
			return nil, handleError(err)
		}
		prop, err := e.ScreenApplications(ctx, input.ProgramID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ScreeningProposal `json:"body"`
		}{Body: prop}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-screening",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/screening",
		Summary:     "Write reviewed screening results",
		Tags:        []string{"gates"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProgramID string                `path:"program_id"`
		Body      ApplyScreeningRequest `json:"body"`
	}) (*applicationsBody, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requireProgram(ctx, e, input.ProgramID, "program.screen")
		if err != nil {
			return nil, handleError(err)
		}
		apps, err := e.ApplyScreening(ctx, engine.ApplyScreeningOptions{
			ProgramID:             input.ProgramID,
			Results:               screeningResults(input.Body.Results),
			SelectedForAcceptance: input.Body.SelectedForAcceptance,
			ActorID:               actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &applicationsBody{Body: nonNilSlice(apps)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "propose-mentor-matches",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/mentors/proposals",
		Summary:     "Propose mentor matches for accepted participants",
		Tags:        []string{"gates"},
		Errors:      gateErrors,
	}, func(ctx context.Context, input *programPath) (*struct {
		Body engine.MentorProposal `json:"body"`
	}, error) {
		if _, err := requireProgram(ctx, e, input.ProgramID, "program.mentor"); err != nil {
			return nil, handleError(err)
		}
		prop, err := e.ProposeMentorMatches(ctx, input.ProgramID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.MentorProposal `json:"body"`
		}{Body: prop}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-mentor-matches",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/mentors",
		Summary:     "Assign mentors",
		Tags:        []string{"gates"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProgramID string              `path:"program_id"`
		Body      ApplyMentorsRequest `json:"body"`
	}) (*applicationsBody, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requireProgram(ctx, e, input.ProgramID, "program.mentor")
		if err != nil {
			return nil, handleError(err)
		}
		apps, err := e.ApplyMentorMatches(ctx, engine.ApplyMentorOptions{
			ProgramID: input.ProgramID,
			Matches:   mentorMatches(input.Body.Matches),
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &applicationsBody{Body: nonNilSlice(apps)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finalize-selection",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/selection",
		Summary:     "Finalize the cohort",
		Description: "Accepts and rejects applications and queues one status email per decided applicant.",
		Tags:        []string{"gates"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProgramID string                   `path:"program_id"`
		Body      FinalizeSelectionRequest `json:"body"`
	}) (*struct {
		Body engine.SelectionOutcome `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requireProgram(ctx, e, input.ProgramID, "program.select")
		if err != nil {
			return nil, handleError(err)
		}
		out, err := e.FinalizeSelection(ctx, engine.FinalizeSelectionOptions{
			ProgramID:        input.ProgramID,
			SelectedIDs:      input.Body.SelectedIDs,
			RejectedIDs:      input.Body.RejectedIDs,
			RejectionMessage: input.Body.RejectionMessage,
			ActorID:          actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out.Accepted = nonNilSlice(out.Accepted)
		out.Rejected = nonNilSlice(out.Rejected)
		return &struct {
			Body engine.SelectionOutcome `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-program",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/complete",
		Summary:     "Run the completion gate",
		Tags:        []string{"gates"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProgramID string          `path:"program_id"`
		Body      CompleteRequest `json:"body"`
	}) (*programBody, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, err := requireProgram(ctx, e, input.ProgramID, "program.complete")
		if err != nil {
			return nil, handleError(err)
		}
		p, err := e.CompleteProgram(ctx, engine.CompleteOptions{
			ProgramID:       input.ProgramID,
			Checklist:       input.Body.Checklist,
			CompletionData:  input.Body.CompletionData,
			Outcomes:        domain.Outcomes(input.Body.Outcomes),
			ExpectedVersion: input.Body.ExpectedVersion,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return programOut(e, p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "push-lesson-feedback",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/lessons/feedback",
		Summary:     "Summarize lessons into the linked strategic plan",
		Tags:        []string{"gates"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *programPath) (*struct {
		Body domain.StrategicPlanFeedback `json:"body"`
	}, error) {
		actorID, err := requireProgram(ctx, e, input.ProgramID, "program.lessons")
		if err != nil {
			return nil, handleError(err)
		}
		fb, err := e.PushLessonFeedback(ctx, input.ProgramID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StrategicPlanFeedback `json:"body"`
		}{Body: fb}, nil
	})
}
