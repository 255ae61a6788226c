package server

import (
	"programline/internal/config"
	"programline/internal/domain"
	"programline/internal/engine"
)

// Request payloads

type CreateProgramRequest struct {
	ID              string          `json:"id,omitempty"`
	OrgID           string          `json:"org_id,omitempty"`
	NameEN          string          `json:"name_en"`
	NameAR          string          `json:"name_ar,omitempty"`
	DescriptionEN   string          `json:"description_en,omitempty"`
	DescriptionAR   string          `json:"description_ar,omitempty"`
	ProgramType     string          `json:"program_type"`
	Timeline        domain.Timeline `json:"timeline,omitempty"`
	Mentors         []domain.Mentor `json:"mentors,omitempty"`
	FundingDetails  map[string]any  `json:"funding_details,omitempty"`
	ContactEmail    string          `json:"contact_email,omitempty" format:"email"`
	StrategicPlanID string          `json:"strategic_plan_id,omitempty"`
}

type UpdateProgramRequest struct {
	ExpectedVersion int64            `json:"expected_version,omitempty"`
	NameEN          *string          `json:"name_en,omitempty"`
	NameAR          *string          `json:"name_ar,omitempty"`
	DescriptionEN   *string          `json:"description_en,omitempty"`
	DescriptionAR   *string          `json:"description_ar,omitempty"`
	ProgramType     *string          `json:"program_type,omitempty"`
	Timeline        *domain.Timeline `json:"timeline,omitempty"`
	Mentors         *[]domain.Mentor `json:"mentors,omitempty"`
	FundingDetails  map[string]any   `json:"funding_details,omitempty"`
	ContactEmail    *string          `json:"contact_email,omitempty"`
	StrategicPlanID *string          `json:"strategic_plan_id,omitempty"`
}

type SetProgramStatusRequest struct {
	Status          string `json:"status" enum:"planning,applications_open,selection,active,completed,cancelled"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
	Force           bool   `json:"force,omitempty"`
}

type VersionRequest struct {
	ExpectedVersion int64 `json:"expected_version,omitempty"`
}

type LaunchRequest struct {
	Checklist        map[string]bool `json:"checklist"`
	AnnouncementText string          `json:"announcement_text,omitempty"`
	ExpectedVersion  int64           `json:"expected_version,omitempty"`
}

type ScreeningResultRequest struct {
	ApplicationID  string             `json:"application_id"`
	ApplicantName  string             `json:"applicant_name,omitempty"`
	TotalScore     float64            `json:"total_score" minimum:"0" maximum:"100"`
	Scores         map[string]float64 `json:"scores,omitempty"`
	Reasoning      string             `json:"reasoning,omitempty"`
	Recommendation string             `json:"recommendation,omitempty"`
}

type ApplyScreeningRequest struct {
	Results               []ScreeningResultRequest `json:"results" minItems:"1"`
	SelectedForAcceptance []string                 `json:"selected_for_acceptance,omitempty"`
}

type MentorMatchRequest struct {
	ApplicationID   string  `json:"application_id"`
	ParticipantName string  `json:"participant_name,omitempty"`
	MentorName      string  `json:"mentor_name"`
	MatchScore      float64 `json:"match_score,omitempty" minimum:"0" maximum:"100"`
	Reasoning       string  `json:"reasoning,omitempty"`
}

type ApplyMentorsRequest struct {
	Matches []MentorMatchRequest `json:"matches" minItems:"1"`
}

type FinalizeSelectionRequest struct {
	SelectedIDs      []string `json:"selected_ids,omitempty"`
	RejectedIDs      []string `json:"rejected_ids,omitempty"`
	RejectionMessage string   `json:"rejection_message,omitempty"`
}

type OutcomesRequest struct {
	PilotsGenerated    int `json:"pilots_generated,omitempty" minimum:"0"`
	PartnershipsFormed int `json:"partnerships_formed,omitempty" minimum:"0"`
	SolutionsDeployed  int `json:"solutions_deployed,omitempty" minimum:"0"`
}

type CompleteRequest struct {
	Checklist       map[string]bool `json:"checklist"`
	CompletionData  map[string]any  `json:"completion_data,omitempty"`
	Outcomes        OutcomesRequest `json:"outcomes,omitempty"`
	ExpectedVersion int64           `json:"expected_version,omitempty"`
}

type SubmitApplicationRequest struct {
	ID             string         `json:"id,omitempty"`
	ApplicantName  string         `json:"applicant_name"`
	ApplicantEmail string         `json:"applicant_email,omitempty" format:"email"`
	Organization   string         `json:"organization,omitempty"`
	Profile        map[string]any `json:"profile,omitempty"`
}

type SetApplicationStatusRequest struct {
	Status string `json:"status" enum:"submitted,under_review,accepted,rejected,waitlisted"`
}

type AddSessionRequest struct {
	Week            int    `json:"week,omitempty" minimum:"0"`
	Topic           string `json:"topic"`
	Date            string `json:"date,omitempty" format:"date"`
	Facilitator     string `json:"facilitator,omitempty"`
	MeetingLink     string `json:"meeting_link,omitempty"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

type AddLessonRequest struct {
	Type            string `json:"type" enum:"success,challenge,improvement"`
	Description     string `json:"description"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

type RecordKPIRequest struct {
	KPIKey string  `json:"kpi_key"`
	Value  float64 `json:"value" minimum:"0"`
	Note   string  `json:"note,omitempty"`
}

type RecordWorkRequest struct {
	Title     string `json:"title"`
	CreatedBy string `json:"created_by" format:"email"`
	ProgramID string `json:"program_id,omitempty"`
}

type CreateStrategicPlanRequest struct {
	ID    string `json:"id,omitempty"`
	OrgID string `json:"org_id,omitempty"`
	Title string `json:"title"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	OrgID       string   `json:"org_id,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	OrgID       string   `json:"org_id,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// ProgramResponse adds the live gate readiness to a program.
type ProgramResponse struct {
	domain.Program
	LaunchMissing     []string `json:"launch_missing"`
	CompletionChecked int      `json:"completion_checked"`
	CompletionReady   bool     `json:"completion_ready"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	// Key is only present in the create response.
	Key string `json:"key,omitempty"`
}

type paginatedPrograms struct {
	Items      []ProgramResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type paginatedApplications struct {
	Items      []domain.Application `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// Conversion helpers

func programResponse(p domain.Program, cfg *config.Config) ProgramResponse {
	resp := ProgramResponse{Program: p, LaunchMissing: []string{}}
	if cfg == nil {
		return resp
	}
	resp.LaunchMissing = nonNilSlice(engine.LaunchReady(cfg.Gates.Launch.Checklist, p.LaunchChecklist))
	resp.CompletionChecked, resp.CompletionReady = engine.CompletionReady(cfg.Gates.Completion.Checklist, p.CompletionChecklist, cfg.Gates.Completion.MinChecked)
	return resp
}

func mapPrograms(items []domain.Program, cfg *config.Config) []ProgramResponse {
	res := make([]ProgramResponse, 0, len(items))
	for _, p := range items {
		res = append(res, programResponse(p, cfg))
	}
	return res
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt}
}

func screeningResults(in []ScreeningResultRequest) []engine.ScreeningResult {
	out := make([]engine.ScreeningResult, 0, len(in))
	for _, r := range in {
		out = append(out, engine.ScreeningResult(r))
	}
	return out
}

func mentorMatches(in []MentorMatchRequest) []engine.MentorMatch {
	out := make([]engine.MentorMatch, 0, len(in))
	for _, m := range in {
		out = append(out, engine.MentorMatch(m))
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
