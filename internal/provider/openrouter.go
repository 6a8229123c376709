// Package provider adapts the OpenRouter chat completions API to the
// pipeline's generation port.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kviflow/kviflow/internal/config"
	"github.com/kviflow/kviflow/internal/core"
	"github.com/kviflow/kviflow/internal/logging"
)

// OpenRouter implements core.GenerationAgent against the OpenAI-compatible
// chat completions endpoint OpenRouter exposes.
type OpenRouter struct {
	client *openai.Client
	logger *logging.Logger
}

// NewOpenRouter creates a provider from configuration.
func NewOpenRouter(cfg config.ProviderConfig, logger *logging.Logger) (*OpenRouter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider api_key is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenRouter{
		client: openai.NewClientWithConfig(clientCfg),
		logger: logger,
	}, nil
}

// Generate runs one completion call. Structured stages request a JSON
// response; whatever comes back that is not valid JSON is handed to the
// caller as plain text so the schema check can reject it.
func (p *OpenRouter) Generate(ctx context.Context, req core.GenerateRequest) (*core.GenerateResult, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
	}

	if req.Schema != core.SchemaNone {
		return p.generateStructured(ctx, req, messages)
	}
	if req.OnDelta != nil {
		return p.generateStream(ctx, req, messages)
	}
	return p.generateText(ctx, req, messages)
}

func (p *OpenRouter) generateText(ctx context.Context, req core.GenerateRequest, messages []openai.ChatCompletionMessage) (*core.GenerateResult, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	return &core.GenerateResult{Text: resp.Choices[0].Message.Content}, nil
}

func (p *OpenRouter) generateStream(ctx context.Context, req core.GenerateRequest, messages []openai.ChatCompletionMessage) (*core.GenerateResult, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("starting completion stream: %w", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading completion stream: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		req.OnDelta(delta)
	}
	return &core.GenerateResult{Text: full.String()}, nil
}

func (p *OpenRouter) generateStructured(ctx context.Context, req core.GenerateRequest, messages []openai.ChatCompletionMessage) (*core.GenerateResult, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	content := resp.Choices[0].Message.Content
	if payload, ok := extractJSON(content); ok {
		return &core.GenerateResult{Structured: payload}, nil
	}
	p.logger.WithStage(req.Stage.String()).Warn("structured call returned non-JSON content",
		"content_len", len(content))
	return &core.GenerateResult{Text: content}, nil
}

// extractJSON pulls a JSON object or array out of a completion, stripping
// a markdown code fence when the model wrapped its payload in one.
func extractJSON(content string) (json.RawMessage, bool) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		return nil, false
	}
	if !json.Valid([]byte(s)) {
		return nil, false
	}
	return json.RawMessage(s), true
}

var _ core.GenerationAgent = (*OpenRouter)(nil)
