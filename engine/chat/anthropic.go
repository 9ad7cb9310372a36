package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/WessleyAI/reddit-search/engine/domain"
)

// DefaultAnthropicModel is used when AnthropicConfig.Model is empty.
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicConfig configures the hosted chat model.
type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	// HTTPClient overrides the SDK's transport (tests, proxies).
	HTTPClient *http.Client
}

// AnthropicProvider sends conversations to the Anthropic Messages API.
type AnthropicProvider struct {
	cfg AnthropicConfig
}

// NewAnthropicProvider creates a provider. A missing API key is not an error
// here; it surfaces as a ConfigurationError on the first call.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	if cfg.Model == "" {
		cfg.Model = DefaultAnthropicModel
	}
	return &AnthropicProvider{cfg: cfg}
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) client() (anthropic.Client, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return anthropic.Client{}, &domain.ConfigurationError{Setting: "ANTHROPIC_API_KEY", Reason: "not set"}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(p.cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if p.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(p.cfg.BaseURL))
	}
	if p.cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(p.cfg.HTTPClient))
	}
	return anthropic.NewClient(opts...), nil
}

// Complete implements Provider.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (string, error) {
	client, err := p.client()
	if err != nil {
		return "", err
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(block))
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.cfg.Model),
		Messages:    messages,
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: req.System,
			},
		}
	}

	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		return "", mapAnthropicError(err)
	}

	var sb strings.Builder
	for _, content := range msg.Content {
		if content.Type == "text" {
			sb.WriteString(content.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("anthropic: empty response (stop reason %q)", msg.StopReason)
	}
	return sb.String(), nil
}

// mapAnthropicError translates SDK errors into the domain taxonomy.
func mapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("anthropic: %w", err)
	}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("anthropic: %w", &domain.ConfigurationError{
			Setting: "ANTHROPIC_API_KEY",
			Reason:  fmt.Sprintf("rejected by upstream (%d)", apiErr.StatusCode),
		})
	case http.StatusTooManyRequests:
		return fmt.Errorf("anthropic: %w", &domain.RateLimitedError{Attempts: 1})
	}
	return fmt.Errorf("anthropic: %w", &domain.RemoteAPIError{
		StatusCode: apiErr.StatusCode,
		Status:     http.StatusText(apiErr.StatusCode),
	})
}
