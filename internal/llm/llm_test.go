package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"programline/internal/config"
)

type scored struct {
	ApplicationID string  `json:"application_id"`
	TotalScore    float64 `json:"total_score"`
}

func TestExtractShapes(t *testing.T) {
	cases := map[string]string{
		"object":        `{"scored_applications":[{"application_id":"a1","total_score":80}]}`,
		"json string":   `"{\"scored_applications\":[{\"application_id\":\"a1\",\"total_score\":80}]}"`,
		"fenced string": `"` + "```json\\n{\\\"scored_applications\\\":[{\\\"application_id\\\":\\\"a1\\\",\\\"total_score\\\":80}]}\\n```" + `"`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var out []scored
			require.NoError(t, Extract(json.RawMessage(raw), "scored_applications", &out))
			require.Len(t, out, 1)
			assert.Equal(t, "a1", out[0].ApplicationID)
			assert.Equal(t, 80.0, out[0].TotalScore)
		})
	}
}

func TestExtractErrors(t *testing.T) {
	var out []scored
	assert.Error(t, Extract(nil, "x", &out))
	assert.Error(t, Extract(json.RawMessage(`{"other":1}`), "scored_applications", &out))
	assert.Error(t, Extract(json.RawMessage(`"not json at all"`), "x", &out))
}

func TestHTTPInvokerPostsRequest(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"summary":"ok"}}`))
	}))
	defer srv.Close()

	inv := &HTTPInvoker{Endpoint: srv.URL, APIKey: "secret"}
	var out string
	err := Call(context.Background(), inv, zap.NewNop(), Request{
		Prompt:             "summarize",
		SystemPrompt:       "be brief",
		ResponseJSONSchema: map[string]any{"type": "object"},
		Purpose:            "test",
	}, "summary", &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "summarize", got.Prompt)
	assert.Equal(t, "be brief", got.SystemPrompt)
	assert.Equal(t, "object", got.ResponseJSONSchema["type"])
}

func TestHTTPInvokerFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()

	var out map[string]any
	err := Call(context.Background(), &HTTPInvoker{Endpoint: srv.URL + "/down"}, nil, Request{Prompt: "x"}, "", &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvocationFailed))

	err = Call(context.Background(), &HTTPInvoker{Endpoint: srv.URL}, nil, Request{Prompt: "x"}, "", &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvocationFailed))
}

func TestDisabledAndNew(t *testing.T) {
	var out any
	err := Call(context.Background(), Disabled{}, nil, Request{}, "", &out)
	assert.True(t, errors.Is(err, ErrDisabled))

	inv, err := New(context.Background(), config.LLMConfig{Provider: "none"}, func(string) string { return "" })
	require.NoError(t, err)
	assert.IsType(t, Disabled{}, inv)

	_, err = New(context.Background(), config.LLMConfig{Provider: "genai", APIKeyEnv: "GEMINI_API_KEY"}, func(string) string { return "" })
	assert.Error(t, err)

	inv, err = New(context.Background(), config.LLMConfig{Provider: "http", Endpoint: "http://llm.local"}, func(string) string { return "" })
	require.NoError(t, err)
	assert.IsType(t, &HTTPInvoker{}, inv)
}

func TestUnfence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, unfence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, unfence("```{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, unfence(`{"a":1}`))
}
