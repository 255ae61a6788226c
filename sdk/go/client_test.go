package programlinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaunchProgramSendsChecklist(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v0/programs/prg-1/launch", r.URL.Path)
		assert.Equal(t, "k-123", r.Header.Get("X-Api-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"prg-1","status":"applications_open","version":2,"launch_missing":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.APIKey = "k-123"
	p, err := c.LaunchProgram(context.Background(), "prg-1", map[string]bool{"budget_approved": true}, "Apply now", 1)
	require.NoError(t, err)
	assert.Equal(t, "applications_open", p.Status)
	assert.Equal(t, int64(2), p.Version)
	assert.Equal(t, map[string]any{"budget_approved": true}, got["checklist"])
	assert.Equal(t, "Apply now", got["announcement_text"])
	assert.EqualValues(t, 1, got["expected_version"])
}

func TestGateErrorDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"code":"gate_not_ready","message":"launch gate not ready","details":{"gate":"launch","missing":["budget_approved","venue_booked"]}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.LaunchProgram(context.Background(), "prg-1", map[string]bool{}, "", 0)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "gate_not_ready", apiErr.Code)
	assert.Equal(t, []string{"budget_approved", "venue_booked"}, apiErr.Missing())
	assert.Contains(t, apiErr.Error(), "gate_not_ready")
}

func TestListQueriesAndBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v0/programs/prg-1/applications":
			assert.Equal(t, "accepted,waitlisted", r.URL.Query().Get("status"))
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(`{"items":[{"id":"app-1","program_id":"prg-1","applicant_name":"Lina","status":"accepted"}],"next_cursor":"c1"}`))
		case "/v0/events":
			assert.Equal(t, "prg-1", r.URL.Query().Get("program_id"))
			assert.Equal(t, "c1", r.URL.Query().Get("cursor"))
			_, _ = w.Write([]byte(`{"items":[{"id":7,"type":"program.launched","program_id":"prg-1","entity_kind":"program","actor_id":"a"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "ignored"
	c.BearerToken = "tok"
	ctx := context.Background()

	apps, err := c.ListApplications(ctx, "prg-1", []string{"accepted", "waitlisted"}, 5, "")
	require.NoError(t, err)
	require.Len(t, apps.Items, 1)
	assert.Equal(t, "Lina", apps.Items[0].ApplicantName)
	assert.Equal(t, "c1", apps.NextCursor)

	events, err := c.EventsPage(ctx, "prg-1", 0, "c1")
	require.NoError(t, err)
	require.Len(t, events.Items, 1)
	assert.Equal(t, int64(7), events.Items[0].ID)
	assert.Empty(t, events.NextCursor)
}

func TestNonEnvelopeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).GetProgram(context.Background(), "prg-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Empty(t, apiErr.Code)
	assert.Contains(t, apiErr.Error(), "upstream down")
}
