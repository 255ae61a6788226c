package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultHTTPTimeout = 60 * time.Second

// HTTPInvoker posts the request object to an integration endpoint that
// answers with {success, data}.
type HTTPInvoker struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	Client   *http.Client
}

func (h *HTTPInvoker) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}

func (h *HTTPInvoker) Invoke(ctx context.Context, req Request) (Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(data))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(h.APIKey) != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.APIKey)
	}
	res, err := h.client().Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrInvocationFailed, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return Response{}, fmt.Errorf("%w: read body: %v", ErrInvocationFailed, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return Response{}, fmt.Errorf("%w: status %d: %s", ErrInvocationFailed, res.StatusCode, strings.TrimSpace(snippet))
	}
	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return Response{}, fmt.Errorf("%w: decode response: %v", ErrInvocationFailed, err)
	}
	return out, nil
}
