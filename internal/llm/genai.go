package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GenAIInvoker calls Gemini with a JSON response schema.
type GenAIInvoker struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

func NewGenAIInvoker(ctx context.Context, apiKey, model string, timeout time.Duration) (*GenAIInvoker, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIInvoker{client: client, model: model, timeout: timeout}, nil
}

func (g *GenAIInvoker) Invoke(ctx context.Context, req Request) (Response, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.ResponseJSONSchema != nil {
		cfg.ResponseJsonSchema = req.ResponseJSONSchema
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return Response{}, fmt.Errorf("%w: genai: %v", ErrInvocationFailed, err)
	}
	text := responseText(resp)
	if text == "" {
		return Response{Success: false}, nil
	}
	// The text is handed on as a JSON string; Extract unwraps it.
	data, err := json.Marshal(text)
	if err != nil {
		return Response{}, err
	}
	return Response{Success: true, Data: data}, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String())
}
