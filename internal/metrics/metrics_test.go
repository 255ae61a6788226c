package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":             "/",
		"/":            "/",
		"/v0/programs": "/v0/programs",
		"/v0/programs/6f1c2e9a-1b2c/gates/launch": "/v0/programs/:id/gates/launch",
		"/v0/programs/p1/sessions/s2":             "/v0/programs/:id/sessions/:id",
	}
	for in, want := range cases {
		assert.Equal(t, want, CanonicalPath(in), in)
	}
}

func TestRecordGate(t *testing.T) {
	before := testutil.ToFloat64(gateRuns.WithLabelValues("launch", "error"))
	RecordGate("launch", errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(gateRuns.WithLabelValues("launch", "error")))
}

func TestInstrumentHandlerRecordsStatus(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/v0/programs/:id", "418"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v0/programs/p1", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/v0/programs/:id", "418")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	RecordEmailAttempt("program.launched", "sent")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "programline_outbox_email_attempts_total"))
}
