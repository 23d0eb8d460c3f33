package llm

import (
	"context"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	apperrors "github.com/bbrew/core/internal/errors"
)

// AnthropicProvider serves the Anthropic Messages API.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
	apiKey string
}

// NewAnthropic creates a provider for the given model.
func NewAnthropic(apiKey, model string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(apiKey),
		model:  model,
		apiKey: apiKey,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Available only checks for credentials; there is no cheap health probe.
func (p *AnthropicProvider) Available(ctx context.Context) error {
	if p.apiKey == "" {
		return apperrors.New(apperrors.CodeCredentialMissing, "no API key for anthropic")
	}
	return nil
}

// Generate runs one messages call.
func (p *AnthropicProvider) Generate(ctx context.Context, req Request) (string, error) {
	prompt := req.Prompt
	if req.WantJSON {
		prompt += "\n\nRespond with a single JSON object and nothing else."
	}

	mreq := anthropic.MessagesRequest{
		Model: anthropic.Model(p.model),
		Messages: []anthropic.Message{{
			Role:    anthropic.RoleUser,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(prompt)},
		}},
		MaxTokens: 4096,
	}
	if req.System != "" {
		mreq.MultiSystem = []anthropic.MessageSystemPart{{Type: "text", Text: req.System}}
	}

	resp, err := p.client.CreateMessages(ctx, mreq)
	if err != nil {
		return "", classify("anthropic", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			text += *block.Text
		}
	}
	if text == "" {
		return "", apperrors.New(apperrors.CodeMalformedResponse, "empty response from anthropic")
	}
	return text, nil
}
