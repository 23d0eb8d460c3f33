package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	openai "github.com/meguminnnnnnnnn/go-openai"

	apperrors "github.com/bbrew/core/internal/errors"
)

// GeminiBaseURL is Google's OpenAI-compatible chat endpoint.
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

// ChatProvider serves any OpenAI-compatible chat endpoint: OpenAI itself,
// Gemini's compatibility surface, and a local Ollama daemon.
type ChatProvider struct {
	name      string
	client    *openai.Client
	model     string
	apiKey    string
	healthURL string
}

// NewOpenAI creates a provider against api.openai.com.
func NewOpenAI(apiKey, model string) *ChatProvider {
	return &ChatProvider{
		name:   "openai",
		client: openai.NewClient(apiKey),
		model:  model,
		apiKey: apiKey,
	}
}

// NewGemini creates a provider against Gemini's OpenAI-compatible endpoint.
func NewGemini(apiKey, model string) *ChatProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = GeminiBaseURL
	return &ChatProvider{
		name:   "gemini",
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		apiKey: apiKey,
	}
}

// NewOllama creates a provider against a local Ollama daemon.
func NewOllama(addr, model string) *ChatProvider {
	cfg := openai.DefaultConfig("ollama")
	cfg.BaseURL = strings.TrimRight(addr, "/") + "/v1"
	return &ChatProvider{
		name:      "ollama",
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		apiKey:    "ollama",
		healthURL: strings.TrimRight(addr, "/") + "/api/tags",
	}
}

func (p *ChatProvider) Name() string { return p.name }

// Available checks credentials for hosted providers and pings the daemon
// for local ones.
func (p *ChatProvider) Available(ctx context.Context) error {
	if p.apiKey == "" {
		return apperrors.Newf(apperrors.CodeCredentialMissing, "no API key for %s", p.name)
	}
	if p.healthURL == "" {
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CodeProviderUnreachable, "%s health probe", p.name)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CodeProviderUnreachable, "%s daemon not responding", p.name)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperrors.Newf(apperrors.CodeProviderUnreachable,
			"%s health status %d", p.name, resp.StatusCode)
	}
	return nil
}

// Generate runs one chat completion.
func (p *ChatProvider) Generate(ctx context.Context, req Request) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	prompt := req.Prompt
	if req.WantJSON {
		prompt += "\n\nRespond with a single JSON object and nothing else."
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: msgs,
	})
	if err != nil {
		return "", classify(p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.Newf(apperrors.CodeMalformedResponse, "empty response from %s", p.name)
	}
	return resp.Choices[0].Message.Content, nil
}

// classify maps transport-level and auth failures onto typed codes so
// callers can tell a fatal misconfiguration from a transient blip.
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return apperrors.Wrapf(err, apperrors.CodeCredentialMissing, "%s rejected credentials", provider)
	case strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset"):
		return apperrors.Wrapf(err, apperrors.CodeProviderUnreachable, "%s unreachable", provider)
	case strings.Contains(msg, "context deadline exceeded"):
		return context.DeadlineExceeded
	default:
		return apperrors.Wrapf(err, apperrors.CodeProviderUnreachable, "%s call failed", provider)
	}
}
