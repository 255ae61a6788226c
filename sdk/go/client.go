package programlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Programline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Program represents the API program model (partial).
type Program struct {
	ID               string          `json:"id"`
	OrgID            string          `json:"org_id"`
	NameEN           string          `json:"name_en"`
	NameAR           string          `json:"name_ar,omitempty"`
	ProgramType      string          `json:"program_type"`
	Status           string          `json:"status"`
	ContactEmail     string          `json:"contact_email,omitempty"`
	LaunchDate       string          `json:"launch_date,omitempty"`
	LaunchChecklist  map[string]bool `json:"launch_checklist,omitempty"`
	CompletionDate   string          `json:"completion_date,omitempty"`
	StrategicPlanID  string          `json:"strategic_plan_id,omitempty"`
	Version          int64           `json:"version"`
	LaunchMissing    []string        `json:"launch_missing"`
	CompletionReady  bool            `json:"completion_ready"`
	AnnouncementText string          `json:"announcement_text,omitempty"`
}

// Mentor is one entry of a program's mentor list.
type Mentor struct {
	Name      string `json:"name"`
	Expertise string `json:"expertise,omitempty"`
}

// CreateProgramInput holds the fields accepted by CreateProgram.
type CreateProgramInput struct {
	ID              string   `json:"id,omitempty"`
	NameEN          string   `json:"name_en"`
	NameAR          string   `json:"name_ar,omitempty"`
	DescriptionEN   string   `json:"description_en,omitempty"`
	ProgramType     string   `json:"program_type"`
	Mentors         []Mentor `json:"mentors,omitempty"`
	ContactEmail    string   `json:"contact_email,omitempty"`
	StrategicPlanID string   `json:"strategic_plan_id,omitempty"`
}

// Application represents a program application.
type Application struct {
	ID               string   `json:"id"`
	ProgramID        string   `json:"program_id"`
	ApplicantName    string   `json:"applicant_name"`
	ApplicantEmail   string   `json:"applicant_email,omitempty"`
	Status           string   `json:"status"`
	AIScore          *float64 `json:"ai_score,omitempty"`
	AIRecommendation string   `json:"ai_recommendation,omitempty"`
	AssignedMentor   string   `json:"assigned_mentor,omitempty"`
	CreatedAt        string   `json:"created_at"`
}

// SelectionOutcome lists the applications decided by FinalizeSelection.
type SelectionOutcome struct {
	Accepted []Application `json:"accepted"`
	Rejected []Application `json:"rejected"`
}

// Outcomes are the completion counters of a program.
type Outcomes struct {
	PilotsGenerated    int `json:"pilots_generated"`
	PartnershipsFormed int `json:"partnerships_formed"`
	SolutionsDeployed  int `json:"solutions_deployed"`
}

// KPIReport is the program KPI tracker.
type KPIReport struct {
	ProgramID        string             `json:"program_id"`
	Status           string             `json:"status"`
	Applications     map[string]int     `json:"applications"`
	TotalApplicants  int                `json:"total_applicants"`
	AcceptanceRate   *float64           `json:"acceptance_rate,omitempty"`
	AverageAIScore   *float64           `json:"average_ai_score,omitempty"`
	ScoredApplicants int                `json:"scored_applicants"`
	Outcomes         Outcomes           `json:"outcomes"`
	Contributions    map[string]float64 `json:"contributions"`
}

// AlumniReport joins participants to the pilots and solutions they created.
type AlumniReport struct {
	ProgramID string `json:"program_id"`
	Alumni    []struct {
		ApplicationID string `json:"application_id"`
		Name          string `json:"name"`
		Email         string `json:"email,omitempty"`
		Pilots        int    `json:"pilots"`
		Solutions     int    `json:"solutions"`
	} `json:"alumni"`
	TotalPilots    int      `json:"total_pilots"`
	TotalSolutions int      `json:"total_solutions"`
	Outcomes       Outcomes `json:"outcomes"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProgramID  string `json:"program_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Principal is the caller as the server sees it.
type Principal struct {
	ActorID     string   `json:"actor_id"`
	OrgID       string   `json:"org_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// APIError wraps non-2xx responses. Code and Details come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Missing returns the unchecked items of a gate_not_ready error.
func (e *APIError) Missing() []string {
	raw, ok := e.Details["missing"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// PaginatedPrograms wraps program list responses with cursors.
type PaginatedPrograms struct {
	Items      []Program `json:"items"`
	NextCursor string    `json:"next_cursor"`
}

// PaginatedApplications wraps application list responses with cursors.
type PaginatedApplications struct {
	Items      []Application `json:"items"`
	NextCursor string        `json:"next_cursor"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateProgram creates a program in planning.
func (c *Client) CreateProgram(ctx context.Context, in CreateProgramInput) (Program, error) {
	var resp Program
	err := c.do(ctx, http.MethodPost, "programs", in, &resp)
	return resp, err
}

// GetProgram fetches a program with its gate readiness.
func (c *Client) GetProgram(ctx context.Context, id string) (Program, error) {
	var resp Program
	err := c.do(ctx, http.MethodGet, programPath(id, ""), nil, &resp)
	return resp, err
}

// ListPrograms returns one page of programs, optionally filtered by status.
func (c *Client) ListPrograms(ctx context.Context, status string, limit int, cursor string) (PaginatedPrograms, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	var resp PaginatedPrograms
	err := c.do(ctx, http.MethodGet, withQuery("programs", q, limit, cursor), nil, &resp)
	return resp, err
}

// LaunchProgram runs the launch gate with the given checklist values.
func (c *Client) LaunchProgram(ctx context.Context, id string, checklist map[string]bool, announcement string, expectedVersion int64) (Program, error) {
	body := map[string]any{
		"checklist":         checklist,
		"announcement_text": announcement,
		"expected_version":  expectedVersion,
	}
	var resp Program
	err := c.do(ctx, http.MethodPost, programPath(id, "launch"), body, &resp)
	return resp, err
}

// CloseApplications moves an open program to selection.
func (c *Client) CloseApplications(ctx context.Context, id string, expectedVersion int64) (Program, error) {
	var resp Program
	err := c.do(ctx, http.MethodPost, programPath(id, "close-applications"), map[string]any{"expected_version": expectedVersion}, &resp)
	return resp, err
}

// SubmitApplication applies to an open program.
func (c *Client) SubmitApplication(ctx context.Context, programID, name, email string, profile map[string]any) (Application, error) {
	body := map[string]any{
		"applicant_name":  name,
		"applicant_email": email,
	}
	if profile != nil {
		body["profile"] = profile
	}
	var resp Application
	err := c.do(ctx, http.MethodPost, programPath(programID, "applications"), body, &resp)
	return resp, err
}

// ListApplications returns one page of a program's applications.
func (c *Client) ListApplications(ctx context.Context, programID string, statuses []string, limit int, cursor string) (PaginatedApplications, error) {
	q := url.Values{}
	if len(statuses) > 0 {
		q.Set("status", strings.Join(statuses, ","))
	}
	var resp PaginatedApplications
	err := c.do(ctx, http.MethodGet, withQuery(programPath(programID, "applications"), q, limit, cursor), nil, &resp)
	return resp, err
}

// FinalizeSelection accepts and rejects applications in one call.
func (c *Client) FinalizeSelection(ctx context.Context, programID string, selected, rejected []string, rejectionMessage string) (SelectionOutcome, error) {
	body := map[string]any{
		"selected_ids":      selected,
		"rejected_ids":      rejected,
		"rejection_message": rejectionMessage,
	}
	var resp SelectionOutcome
	err := c.do(ctx, http.MethodPost, programPath(programID, "selection"), body, &resp)
	return resp, err
}

// CompleteProgram runs the completion gate.
func (c *Client) CompleteProgram(ctx context.Context, programID string, checklist map[string]bool, outcomes Outcomes, expectedVersion int64) (Program, error) {
	body := map[string]any{
		"checklist":        checklist,
		"outcomes":         outcomes,
		"expected_version": expectedVersion,
	}
	var resp Program
	err := c.do(ctx, http.MethodPost, programPath(programID, "complete"), body, &resp)
	return resp, err
}

// KPIs returns the program KPI tracker.
func (c *Client) KPIs(ctx context.Context, programID string) (KPIReport, error) {
	var resp KPIReport
	err := c.do(ctx, http.MethodGet, programPath(programID, "reports/kpis"), nil, &resp)
	return resp, err
}

// Alumni returns the alumni impact report.
func (c *Client) Alumni(ctx context.Context, programID string) (AlumniReport, error) {
	var resp AlumniReport
	err := c.do(ctx, http.MethodGet, programPath(programID, "reports/alumni"), nil, &resp)
	return resp, err
}

// Events returns recent events for a program.
func (c *Client) Events(ctx context.Context, programID string, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, programID, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, programID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if programID != "" {
		q.Set("program_id", programID)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q, limit, cursor), nil, &resp)
	return resp, err
}

// Me returns the authenticated principal.
func (c *Client) Me(ctx context.Context) (Principal, error) {
	var resp Principal
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func programPath(id, sub string) string {
	p := "programs/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func withQuery(endpoint string, q url.Values, limit int, cursor string) string {
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
