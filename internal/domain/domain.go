package domain

type Timeline struct {
	ApplicationsOpen  string `json:"applications_open,omitempty" format:"date"`
	ApplicationsClose string `json:"applications_close,omitempty" format:"date"`
	Start             string `json:"start,omitempty" format:"date"`
	End               string `json:"end,omitempty" format:"date"`
}

type Mentor struct {
	Name         string `json:"name"`
	Expertise    string `json:"expertise,omitempty"`
	Organization string `json:"organization,omitempty"`
}

type Outcomes struct {
	PilotsGenerated    int `json:"pilots_generated"`
	PartnershipsFormed int `json:"partnerships_formed"`
	SolutionsDeployed  int `json:"solutions_deployed"`
}

type Program struct {
	ID                  string          `json:"id"`
	OrgID               string          `json:"org_id"`
	NameEN              string          `json:"name_en"`
	NameAR              string          `json:"name_ar,omitempty"`
	DescriptionEN       string          `json:"description_en,omitempty"`
	DescriptionAR       string          `json:"description_ar,omitempty"`
	ProgramType         string          `json:"program_type"`
	Status              ProgramStatus   `json:"status" enum:"planning,applications_open,selection,active,completed,cancelled"`
	Timeline            Timeline        `json:"timeline"`
	LaunchChecklist     map[string]bool `json:"launch_checklist,omitempty"`
	CompletionChecklist map[string]bool `json:"completion_checklist,omitempty"`
	Mentors             []Mentor        `json:"mentors,omitempty"`
	Outcomes            Outcomes        `json:"outcomes"`
	FundingDetails      map[string]any  `json:"funding_details,omitempty"`
	ContactEmail        string          `json:"contact_email,omitempty"`
	LaunchDate          string          `json:"launch_date,omitempty" format:"date"`
	AnnouncementText    string          `json:"announcement_text,omitempty"`
	CompletionDate      string          `json:"completion_date,omitempty" format:"date"`
	CompletionData      map[string]any  `json:"completion_data,omitempty"`
	StrategicPlanID     string          `json:"strategic_plan_id,omitempty"`
	Version             int64           `json:"version"`
	IsDeleted           bool            `json:"is_deleted"`
	CreatedBy           string          `json:"created_by,omitempty"`
	CreatedAt           string          `json:"created_at" format:"date-time"`
	UpdatedAt           string          `json:"updated_at" format:"date-time"`
}

// HasMentor reports whether name is one of mentors. Program carries no
// methods so API responses can embed it.
func HasMentor(mentors []Mentor, name string) bool {
	for _, m := range mentors {
		if m.Name == name {
			return true
		}
	}
	return false
}

type Application struct {
	ID               string             `json:"id"`
	ProgramID        string             `json:"program_id"`
	ApplicantName    string             `json:"applicant_name"`
	ApplicantEmail   string             `json:"applicant_email,omitempty"`
	Organization     string             `json:"organization,omitempty"`
	Profile          map[string]any     `json:"profile,omitempty"`
	Status           ApplicationStatus  `json:"status" enum:"submitted,under_review,accepted,rejected,waitlisted"`
	AIScore          *float64           `json:"ai_score,omitempty"`
	AIScores         map[string]float64 `json:"ai_scores,omitempty"`
	AIReasoning      string             `json:"ai_reasoning,omitempty"`
	AIRecommendation string             `json:"ai_recommendation,omitempty"`
	AssignedMentor   string             `json:"assigned_mentor,omitempty"`
	MentorMatchScore *float64           `json:"mentor_match_score,omitempty"`
	CreatedAt        string             `json:"created_at" format:"date-time"`
	UpdatedAt        string             `json:"updated_at" format:"date-time"`
}

type Session struct {
	ID          string `json:"id"`
	ProgramID   string `json:"program_id"`
	Position    int    `json:"position"`
	Week        int    `json:"week,omitempty"`
	Topic       string `json:"topic"`
	Date        string `json:"date,omitempty" format:"date"`
	Facilitator string `json:"facilitator,omitempty"`
	MeetingLink string `json:"meeting_link,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type LessonType string

const (
	LessonSuccess     LessonType = "success"
	LessonChallenge   LessonType = "challenge"
	LessonImprovement LessonType = "improvement"
)

func (t LessonType) Valid() bool {
	switch t {
	case LessonSuccess, LessonChallenge, LessonImprovement:
		return true
	}
	return false
}

type Lesson struct {
	ID          string     `json:"id"`
	ProgramID   string     `json:"program_id"`
	Type        LessonType `json:"type" enum:"success,challenge,improvement"`
	Description string     `json:"description"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
}

type StrategicPlan struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type StrategicPlanFeedback struct {
	ID              string `json:"id"`
	StrategicPlanID string `json:"strategic_plan_id"`
	ProgramID       string `json:"program_id"`
	Summary         string `json:"summary"`
	LessonCount     int    `json:"lesson_count"`
	ActorID         string `json:"actor_id"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

type Notification struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Title      string `json:"title"`
	Message    string `json:"message,omitempty"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// Email triggers understood by the email hub.
const (
	TriggerProgramLaunched   = "program.launched"
	TriggerProgramCompleted  = "program.completed"
	TriggerApplicationStatus = "program.application_status"
	TriggerPilotCreated      = "pilot.created"
)

const (
	EmailPending = "pending"
	EmailSent    = "sent"
	EmailDead    = "dead"
)

type EmailJob struct {
	ID             string         `json:"id"`
	Trigger        string         `json:"trigger"`
	RecipientEmail string         `json:"recipient_email"`
	EntityType     string         `json:"entity_type"`
	EntityID       string         `json:"entity_id"`
	Variables      map[string]any `json:"variables,omitempty"`
	Status         string         `json:"status" enum:"pending,sent,dead"`
	Attempts       int            `json:"attempts"`
	LastError      string         `json:"last_error,omitempty"`
	NextAttemptAt  string         `json:"next_attempt_at" format:"date-time"`
	SentAt         string         `json:"sent_at,omitempty" format:"date-time"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
	UpdatedAt      string         `json:"updated_at" format:"date-time"`
}

type KPIContribution struct {
	ID        string  `json:"id"`
	ProgramID string  `json:"program_id"`
	KPIKey    string  `json:"kpi_key"`
	Value     float64 `json:"value"`
	Note      string  `json:"note,omitempty"`
	ActorID   string  `json:"actor_id"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// Pilot and Solution carry only what the alumni views join on.
type Pilot struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedBy string `json:"created_by"`
	ProgramID string `json:"program_id,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Solution struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedBy string `json:"created_by"`
	ProgramID string `json:"program_id,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProgramID  string `json:"program_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ActorProfile struct {
	OrgID       string   `json:"org_id"`
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}
