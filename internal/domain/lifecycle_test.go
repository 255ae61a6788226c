package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgramTransitions(t *testing.T) {
	allowed := [][2]ProgramStatus{
		{ProgramPlanning, ProgramApplicationsOpen},
		{ProgramApplicationsOpen, ProgramSelection},
		{ProgramSelection, ProgramActive},
		{ProgramActive, ProgramCompleted},
		{ProgramPlanning, ProgramCancelled},
		{ProgramActive, ProgramCancelled},
	}
	for _, tc := range allowed {
		assert.NoError(t, ProgramTransition(tc[0], tc[1], false), "%s -> %s", tc[0], tc[1])
	}

	denied := [][2]ProgramStatus{
		{ProgramPlanning, ProgramActive},
		{ProgramApplicationsOpen, ProgramCompleted},
		{ProgramCompleted, ProgramActive},
		{ProgramCancelled, ProgramPlanning},
		{ProgramCompleted, ProgramCancelled},
	}
	for _, tc := range denied {
		err := ProgramTransition(tc[0], tc[1], false)
		var te *TransitionError
		require.True(t, errors.As(err, &te), "%s -> %s", tc[0], tc[1])
		assert.Equal(t, "program", te.Entity)
	}
}

func TestProgramTransitionForce(t *testing.T) {
	assert.NoError(t, ProgramTransition(ProgramCompleted, ProgramActive, true))
	assert.Error(t, ProgramTransition(ProgramPlanning, "archived", true))
}

func TestApplicationTransitions(t *testing.T) {
	assert.NoError(t, ApplicationTransition(AppSubmitted, AppAccepted))
	assert.NoError(t, ApplicationTransition(AppUnderReview, AppRejected))
	assert.NoError(t, ApplicationTransition(AppWaitlisted, AppAccepted))
	assert.NoError(t, ApplicationTransition(AppAccepted, AppAccepted))
	assert.Error(t, ApplicationTransition(AppAccepted, AppRejected))
	assert.Error(t, ApplicationTransition(AppRejected, AppUnderReview))
	assert.Error(t, ApplicationTransition(AppWaitlisted, AppUnderReview))
	assert.Error(t, ApplicationTransition(AppSubmitted, "withdrawn"))
}

func TestScreenable(t *testing.T) {
	assert.True(t, AppSubmitted.Screenable())
	assert.True(t, AppUnderReview.Screenable())
	assert.False(t, AppAccepted.Screenable())
	assert.False(t, AppWaitlisted.Screenable())
}
