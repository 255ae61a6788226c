// Package notify delivers queued email jobs to the email trigger hub.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"programline/internal/domain"
)

const defaultHubTimeout = 10 * time.Second

type Sender interface {
	Send(ctx context.Context, job domain.EmailJob) error
}

// HubSender posts one trigger per job to the email trigger hub.
type HubSender struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Client  *http.Client
}

type hubTrigger struct {
	Trigger        string         `json:"trigger"`
	RecipientEmail string         `json:"recipient_email"`
	EntityType     string         `json:"entity_type"`
	EntityID       string         `json:"entity_id"`
	Variables      map[string]any `json:"variables"`
}

func (h *HubSender) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = defaultHubTimeout
	}
	return &http.Client{Timeout: timeout}
}

func (h *HubSender) Send(ctx context.Context, job domain.EmailJob) error {
	vars := job.Variables
	if vars == nil {
		vars = map[string]any{}
	}
	data, err := json.Marshal(hubTrigger{
		Trigger:        job.Trigger,
		RecipientEmail: job.RecipientEmail,
		EntityType:     job.EntityType,
		EntityID:       job.EntityID,
		Variables:      vars,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Programline-Trigger", job.Trigger)
	req.Header.Set("X-Programline-Delivery", job.ID)
	if strings.TrimSpace(h.Secret) != "" {
		req.Header.Set("X-Programline-Secret", h.Secret)
	}
	res, err := h.client().Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// LogSender records jobs instead of sending them. Used when no hub is set.
type LogSender struct {
	Logger *zap.Logger
}

func (l LogSender) Send(_ context.Context, job domain.EmailJob) error {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("email job (no hub configured)",
		zap.String("job_id", job.ID),
		zap.String("trigger", job.Trigger),
		zap.String("recipient", job.RecipientEmail),
		zap.String("entity_id", job.EntityID),
	)
	return nil
}
