// Package llm talks to the structured-output language model behind the
// screening, mentor matching and lesson summary gates.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"programline/internal/config"
	"programline/internal/metrics"
)

var (
	// ErrInvocationFailed wraps every transport or model failure.
	ErrInvocationFailed = errors.New("llm invocation failed")
	// ErrDisabled is returned when no provider is configured.
	ErrDisabled = errors.New("llm provider disabled")
)

// Request is one structured prompt. ResponseJSONSchema constrains the reply.
type Request struct {
	Prompt             string         `json:"prompt"`
	SystemPrompt       string         `json:"system_prompt,omitempty"`
	ResponseJSONSchema map[string]any `json:"response_json_schema,omitempty"`
	// Purpose labels the call in logs and metrics.
	Purpose string `json:"-"`
}

type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type Invoker interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// Disabled rejects every call.
type Disabled struct{}

func (Disabled) Invoke(context.Context, Request) (Response, error) {
	return Response{}, ErrDisabled
}

// Call invokes inv and decodes the payload at path into out. It records the
// call duration and turns an unsuccessful response into ErrInvocationFailed.
func Call(ctx context.Context, inv Invoker, logger *zap.Logger, req Request, path string, out any) error {
	if inv == nil {
		return ErrDisabled
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()
	resp, err := inv.Invoke(ctx, req)
	outcome := "ok"
	defer func() {
		metrics.ObserveLLM(req.Purpose, outcome, time.Since(start))
	}()
	if err != nil {
		outcome = "error"
		logger.Warn("llm call failed", zap.String("purpose", req.Purpose), zap.Error(err))
		if errors.Is(err, ErrDisabled) || errors.Is(err, ErrInvocationFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInvocationFailed, err)
	}
	if !resp.Success {
		outcome = "unsuccessful"
		return fmt.Errorf("%w: provider reported failure", ErrInvocationFailed)
	}
	if err := Extract(resp.Data, path, out); err != nil {
		outcome = "bad_payload"
		return fmt.Errorf("%w: %v", ErrInvocationFailed, err)
	}
	logger.Debug("llm call", zap.String("purpose", req.Purpose), zap.Duration("took", time.Since(start)))
	return nil
}

// New builds the invoker named by cfg.Provider. lookupEnv resolves the api key.
func New(ctx context.Context, cfg config.LLMConfig, lookupEnv func(string) string) (Invoker, error) {
	switch cfg.Provider {
	case "", "none":
		return Disabled{}, nil
	case "http":
		return &HTTPInvoker{Endpoint: cfg.Endpoint, APIKey: lookupEnv(cfg.APIKeyEnv), Timeout: cfg.Timeout()}, nil
	case "genai":
		key := lookupEnv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("llm: %s is not set", cfg.APIKeyEnv)
		}
		return NewGenAIInvoker(ctx, key, cfg.Model, cfg.Timeout())
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
