package engine_test

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"programline/internal/config"
	"programline/internal/domain"
	"programline/internal/engine"
)

func checkAll(items []config.ChecklistItem) map[string]bool {
	out := map[string]bool{}
	for _, item := range items {
		out[item.Key] = true
	}
	return out
}

func TestLaunchReadyNeedsEveryRequiredItem(t *testing.T) {
	items := config.Default().Gates.Launch.Checklist
	required := config.Default().RequiredLaunchKeys()
	require.Len(t, required, 5)

	assert.Empty(t, engine.LaunchReady(items, checkAll(items)))

	for _, key := range required {
		values := checkAll(items)
		values[key] = false
		assert.Equal(t, []string{key}, engine.LaunchReady(items, values), "missing %s", key)
	}

	// Optional items never block.
	values := map[string]bool{}
	for _, key := range required {
		values[key] = true
	}
	assert.Empty(t, engine.LaunchReady(items, values))
	assert.Len(t, engine.LaunchReady(items, nil), 5)
}

func TestCompletionReadyThreshold(t *testing.T) {
	cfg := config.Default()
	items := cfg.Gates.Completion.Checklist
	minChecked := cfg.Gates.Completion.MinChecked
	require.Equal(t, 4, minChecked)
	require.Len(t, items, 6)

	for n := 0; n <= len(items); n++ {
		values := map[string]bool{}
		for _, item := range items[:n] {
			values[item.Key] = true
		}
		checked, ok := engine.CompletionReady(items, values, minChecked)
		assert.Equal(t, n, checked)
		assert.Equal(t, n >= 4, ok, "with %d checked", n)
	}

	// Unknown keys do not count.
	_, ok := engine.CompletionReady(items, map[string]bool{"a": true, "b": true, "c": true, "d": true}, minChecked)
	assert.False(t, ok)
}

func TestScreeningStatus(t *testing.T) {
	cases := []struct {
		selected       bool
		recommendation string
		want           domain.ApplicationStatus
	}{
		{true, "reject", domain.AppAccepted},
		{true, "accept", domain.AppAccepted},
		{false, "reject", domain.AppRejected},
		{false, " Reject ", domain.AppRejected},
		{false, "accept", domain.AppUnderReview},
		{false, "review", domain.AppUnderReview},
		{false, "", domain.AppUnderReview},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, engine.ScreeningStatus(tc.selected, tc.recommendation), "%v/%q", tc.selected, tc.recommendation)
	}
}

func TestSelectionSetNeverIntersects(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	ids := []string{"a", "b", "c", "d", "e"}
	var s engine.SelectionSet
	for i := 0; i < 2000; i++ {
		id := ids[rng.IntN(len(ids))]
		switch rng.IntN(3) {
		case 0:
			s.Accept(id)
			assert.True(t, s.IsSelected(id))
		case 1:
			s.Reject(id)
			assert.True(t, s.IsRejected(id))
		case 2:
			s.Clear(id)
			assert.False(t, s.IsSelected(id) || s.IsRejected(id))
		}
		for _, sel := range s.Selected() {
			require.False(t, s.IsRejected(sel), "step %d: %s in both sets", i, sel)
		}
	}
}

func TestSelectionSetSortedViews(t *testing.T) {
	s := engine.NewSelectionSet()
	s.Accept("c")
	s.Accept("a")
	s.Reject("b")
	s.Accept("b")
	assert.Equal(t, []string{"a", "b", "c"}, s.Selected())
	assert.Empty(t, s.Rejected())
}

func TestAcceptanceRate(t *testing.T) {
	assert.Nil(t, engine.AcceptanceRate(map[string]int{"submitted": 4}))
	rate := engine.AcceptanceRate(map[string]int{"accepted": 2, "rejected": 6, "submitted": 10})
	require.NotNil(t, rate)
	assert.InDelta(t, 0.25, *rate, 1e-9)
}
