package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"programline/internal/app"
	"programline/internal/config"
	"programline/internal/db"
	"programline/internal/domain"
	"programline/internal/engine"
	"programline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default()
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC) }
	require.NoError(t, app.Bootstrap(context.Background(), e.Repo, cfg, "tester"))

	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true},
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func checkAll(items []config.ChecklistItem) map[string]bool {
	out := map[string]bool{}
	for _, item := range items {
		out[item.Key] = true
	}
	return out
}

func createProgram(t *testing.T, srv *testServer) ProgramResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/programs", map[string]any{
		"name_en":       "Health Innovation Accelerator",
		"program_type":  "accelerator",
		"contact_email": "programs@example.org",
		"mentors":       []map[string]any{{"name": "Dr. Noor", "expertise": "digital health"}},
	}, as("tester"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var p ProgramResponse
	require.NoError(t, json.Unmarshal(data, &p))
	return p
}

func TestLaunchGateOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	p := createProgram(t, srv)
	assert.Equal(t, domain.ProgramPlanning, p.Status)
	assert.Contains(t, p.LaunchMissing, "budget_approved")

	values := checkAll(srv.Engine.Config.Gates.Launch.Checklist)
	values["budget_approved"] = false
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/programs/"+p.ID+"/launch", map[string]any{
		"checklist": values,
	}, as("tester"))
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	assert.Equal(t, "gate_not_ready", gjson.GetBytes(data, "error.code").String())
	assert.Equal(t, "launch", gjson.GetBytes(data, "error.details.gate").String())
	assert.Equal(t, "budget_approved", gjson.GetBytes(data, "error.details.missing.0").String())

	values["budget_approved"] = true
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/programs/"+p.ID+"/launch", map[string]any{
		"checklist":         values,
		"announcement_text": "Applications are open",
	}, as("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, string(domain.ProgramApplicationsOpen), gjson.GetBytes(data, "status").String())
	assert.Equal(t, "2024-01-01", gjson.GetBytes(data, "launch_date").String())
	assert.Empty(t, gjson.GetBytes(data, "launch_missing").Array())

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/programs/"+p.ID+"/applications", map[string]any{
		"applicant_name":  "Amal",
		"applicant_email": "amal@example.org",
	}, as("tester"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	assert.Equal(t, "submitted", gjson.GetBytes(data, "status").String())

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/programs/"+p.ID+"/applications", nil, as("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Len(t, gjson.GetBytes(data, "items").Array(), 1)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?program_id="+p.ID+"&type=program.launched", nil, as("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Len(t, gjson.GetBytes(data, "items").Array(), 1)
}

func TestVersionConflict(t *testing.T) {
	srv := newTestServer(t)
	p := createProgram(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/programs/"+p.ID, map[string]any{
		"expected_version": p.Version + 5,
		"name_ar":          "مسرعة",
	}, as("tester"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "version_conflict", gjson.GetBytes(data, "error.code").String())

	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/programs/"+p.ID, map[string]any{
		"expected_version": p.Version,
		"name_ar":          "مسرعة",
	}, as("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, p.Version+1, gjson.GetBytes(data, "version").Int())
}

func TestInvalidTransition(t *testing.T) {
	srv := newTestServer(t)
	p := createProgram(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/programs/"+p.ID+"/start", nil, as("tester"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "invalid_transition", gjson.GetBytes(data, "error.code").String())
}

func TestPermissions(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	orgID := srv.Engine.Config.Workspace.OrgID
	require.NoError(t, srv.Engine.GrantRole(ctx, orgID, "tester", "val", "viewer"))
	p := createProgram(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/programs/"+p.ID, nil, as("val"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/programs/"+p.ID+"/cancel", nil, as("val"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	assert.Equal(t, "program.update", gjson.GetBytes(data, "error.details.permission").String())

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/programs", nil, as("stranger"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/programs", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
	assert.Equal(t, "unauthorized", gjson.GetBytes(data, "error.code").String())

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/rbac/permissions", nil, as("val"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "viewer", gjson.GetBytes(data, "roles.0").String())
}

func TestDevLoginToken(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id":    "robot",
		"permissions": []string{"program.read"},
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	token := gjson.GetBytes(data, "token").String()
	require.NotEmpty(t, token)

	bearer := map[string]string{"Authorization": "Bearer " + token}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/programs", nil, bearer)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, bearer)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "robot", gjson.GetBytes(data, "actor_id").String())

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/programs", map[string]any{
		"name_en":      "Blocked",
		"program_type": "accelerator",
	}, bearer)
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/programs", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/me/api-keys", map[string]any{"name": "ci"}, as("tester"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	key := gjson.GetBytes(data, "key").String()
	keyID := gjson.GetBytes(data, "id").String()
	require.NotEmpty(t, key)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/programs", nil, map[string]string{"X-Api-Key": key})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me/api-keys", nil, as("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	keys := gjson.ParseBytes(data).Array()
	require.Len(t, keys, 1)
	assert.Empty(t, keys[0].Get("key").String())

	res, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/me/api-keys/"+keyID, nil, as("tester"))
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/programs", nil, map[string]string{"X-Api-Key": key})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestSessionsOrder(t *testing.T) {
	srv := newTestServer(t)
	p := createProgram(t, srv)
	for _, topic := range []string{"Kickoff", "Customer discovery", "Demo day"} {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/programs/"+p.ID+"/sessions", map[string]any{
			"topic": topic,
		}, as("tester"))
		require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	}
	res, data := doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/programs/"+p.ID+"/sessions/at/1", nil, as("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	topics := gjson.GetBytes(data, "sessions.#.topic").Array()
	require.Len(t, topics, 2)
	assert.Equal(t, "Kickoff", topics[0].String())
	assert.Equal(t, "Demo day", topics[1].String())

	res, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/programs/"+p.ID+"/sessions/at/7", nil, as("tester"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestRequestErrors(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/programs", nil, as("tester"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "bad_request", gjson.GetBytes(data, "error.code").String())

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/programs/missing", nil, as("tester"))
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	assert.Equal(t, "not_found", gjson.GetBytes(data, "error.code").String())

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/programs?cursor=broken", nil, as("tester"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestOpenEndpoints(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok", gjson.GetBytes(data, "status").String())

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, gjson.GetBytes(data, "paths./v0/programs/{program_id}/launch").Exists())
	assert.True(t, gjson.GetBytes(data, "components.securitySchemes.apiKeyAuth").Exists())

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "programline_http_requests_total")
}

func TestCrossOrgAccessIsForbidden(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	p := createProgram(t, srv)

	other := *srv.Engine.Config
	other.Workspace.OrgID = "org-b"
	other.Workspace.OrgName = "Other Org"
	require.NoError(t, app.Bootstrap(ctx, srv.Engine.Repo, &other, "mallory"))
	token, err := SignDevToken(testSecret, "mallory", "org-b", nil, []string{"program.read", "program.launch"})
	require.NoError(t, err)
	bearer := map[string]string{"Authorization": "Bearer " + token}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/programs/"+p.ID+"/launch", map[string]any{
		"checklist": checkAll(srv.Engine.Config.Gates.Launch.Checklist),
	}, bearer)
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	assert.Equal(t, "program.launch", gjson.GetBytes(data, "error.details.permission").String())

	for _, target := range []struct{ method, path string }{
		{http.MethodGet, "/v0/programs/" + p.ID},
		{http.MethodPost, "/v0/programs/" + p.ID + "/cancel"},
		{http.MethodGet, "/v0/programs/" + p.ID + "/applications"},
		{http.MethodGet, "/v0/programs/" + p.ID + "/reports/kpis"},
		{http.MethodGet, "/v0/events?program_id=" + p.ID},
	} {
		res, data = doJSON(t, srv.Client(), target.method, srv.URL+target.path, nil, bearer)
		assert.Equal(t, http.StatusForbidden, res.StatusCode, "%s %s: %s", target.method, target.path, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/programs", map[string]any{
		"org_id":       srv.Engine.Config.Workspace.OrgID,
		"name_en":      "Planted",
		"program_type": "accelerator",
	}, bearer)
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/programs", map[string]any{
		"name_en":      "Own Cohort",
		"program_type": "accelerator",
	}, bearer)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	assert.Equal(t, "org-b", gjson.GetBytes(data, "org_id").String())
	ownID := gjson.GetBytes(data, "id").String()

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/programs", nil, bearer)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	ids := gjson.GetBytes(data, "items.#.id").Array()
	require.Len(t, ids, 1)
	assert.Equal(t, ownID, ids[0].String())

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/programs", nil, as("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	ids = gjson.GetBytes(data, "items.#.id").Array()
	require.Len(t, ids, 1)
	assert.Equal(t, p.ID, ids[0].String())

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events", nil, bearer)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	for _, id := range gjson.GetBytes(data, "items.#.program_id").Array() {
		assert.Equal(t, ownID, id.String())
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/programs/missing", nil, bearer)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
}

func TestDuplicateIDConflict(t *testing.T) {
	srv := newTestServer(t)
	body := map[string]any{
		"id":            "p-1",
		"name_en":       "Cohort",
		"program_type":  "accelerator",
		"contact_email": "programs@example.org",
		"mentors":       []map[string]any{{"name": "Dr. Noor"}},
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/programs", body, as("tester"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/programs", body, as("tester"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "conflict", gjson.GetBytes(data, "error.code").String())
	assert.NotContains(t, string(data), "UNIQUE constraint")

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/programs/p-1/launch", map[string]any{
		"checklist": checkAll(srv.Engine.Config.Gates.Launch.Checklist),
	}, as("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	apply := map[string]any{"id": "a-1", "applicant_name": "Amal", "applicant_email": "amal@example.org"}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/programs/p-1/applications", apply, as("tester"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/programs/p-1/applications", apply, as("tester"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "conflict", gjson.GetBytes(data, "error.code").String())
}

func TestProgramResponseSchemaLink(t *testing.T) {
	srv := newTestServer(t)
	p := createProgram(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/programs/"+p.ID, nil, as("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Contains(t, res.Header.Get("Link"), "ProgramResponse.json")
	assert.Equal(t, p.ID, gjson.GetBytes(data, "id").String())
	assert.NotEmpty(t, gjson.GetBytes(data, "launch_missing").Array())
}

func TestProgramCursorPaging(t *testing.T) {
	srv := newTestServer(t)
	first := createProgram(t, srv)
	second := createProgram(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/programs?limit=1", nil, as("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.Len(t, gjson.GetBytes(data, "items").Array(), 1)
	seen := gjson.GetBytes(data, "items.0.id").String()
	cursor := gjson.GetBytes(data, "next_cursor").String()
	require.NotEmpty(t, cursor)
	assert.NotContains(t, cursor, "|")
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T09:30:00Z|"+seen, string(raw))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/programs?limit=1&cursor="+cursor, nil, as("tester"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	rest := gjson.GetBytes(data, "items.0.id").String()
	assert.NotEqual(t, seen, rest)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, []string{seen, rest})
	assert.Empty(t, gjson.GetBytes(data, "next_cursor").String())
}
