package domain

import "fmt"

type ProgramStatus string

const (
	ProgramPlanning         ProgramStatus = "planning"
	ProgramApplicationsOpen ProgramStatus = "applications_open"
	ProgramSelection        ProgramStatus = "selection"
	ProgramActive           ProgramStatus = "active"
	ProgramCompleted        ProgramStatus = "completed"
	ProgramCancelled        ProgramStatus = "cancelled"
)

type ApplicationStatus string

const (
	AppSubmitted   ApplicationStatus = "submitted"
	AppUnderReview ApplicationStatus = "under_review"
	AppAccepted    ApplicationStatus = "accepted"
	AppRejected    ApplicationStatus = "rejected"
	AppWaitlisted  ApplicationStatus = "waitlisted"
)

var programTransitions = map[ProgramStatus][]ProgramStatus{
	ProgramPlanning:         {ProgramApplicationsOpen, ProgramCancelled},
	ProgramApplicationsOpen: {ProgramSelection, ProgramCancelled},
	ProgramSelection:        {ProgramActive, ProgramCancelled},
	ProgramActive:           {ProgramCompleted, ProgramCancelled},
}

var applicationTransitions = map[ApplicationStatus][]ApplicationStatus{
	AppSubmitted:   {AppUnderReview, AppAccepted, AppRejected, AppWaitlisted},
	AppUnderReview: {AppAccepted, AppRejected, AppWaitlisted},
	AppWaitlisted:  {AppAccepted, AppRejected},
}

// TransitionError reports a state change the lifecycle does not allow.
type TransitionError struct {
	Entity string
	From   string
	To     string
	// Reason is set when the table allows the move but another path owns it.
	Reason string
}

func (e *TransitionError) Error() string {
	switch {
	case e.From == "":
		return fmt.Sprintf("%s cannot move to %s: %s", e.Entity, e.To, e.Reason)
	case e.To == "":
		return fmt.Sprintf("%s is %s: %s", e.Entity, e.From, e.Reason)
	}
	msg := fmt.Sprintf("invalid %s status transition %s -> %s", e.Entity, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (s ProgramStatus) Valid() bool {
	switch s {
	case ProgramPlanning, ProgramApplicationsOpen, ProgramSelection, ProgramActive, ProgramCompleted, ProgramCancelled:
		return true
	}
	return false
}

func (s ProgramStatus) Terminal() bool {
	return s == ProgramCompleted || s == ProgramCancelled
}

// ProgramTransition validates a program status change. force skips the table
// but still rejects unknown states.
func ProgramTransition(from, to ProgramStatus, force bool) error {
	if !to.Valid() {
		return fmt.Errorf("unknown program status %q", to)
	}
	if force {
		return nil
	}
	for _, next := range programTransitions[from] {
		if next == to {
			return nil
		}
	}
	return &TransitionError{Entity: "program", From: string(from), To: string(to)}
}

func (s ApplicationStatus) Valid() bool {
	switch s {
	case AppSubmitted, AppUnderReview, AppAccepted, AppRejected, AppWaitlisted:
		return true
	}
	return false
}

// Screenable reports whether AI screening may still act on the application.
func (s ApplicationStatus) Screenable() bool {
	return s == AppSubmitted || s == AppUnderReview
}

// ApplicationTransition validates an application status change. Re-applying
// the current status is allowed.
func ApplicationTransition(from, to ApplicationStatus) error {
	if !to.Valid() {
		return fmt.Errorf("unknown application status %q", to)
	}
	if from == to {
		return nil
	}
	for _, next := range applicationTransitions[from] {
		if next == to {
			return nil
		}
	}
	return &TransitionError{Entity: "application", From: string(from), To: string(to)}
}

// ProgramAllows reports whether status is one of allowed.
func ProgramAllows(status ProgramStatus, allowed ...ProgramStatus) bool {
	for _, s := range allowed {
		if s == status {
			return true
		}
	}
	return false
}
