package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/WessleyAI/reddit-search/engine/domain"
	"github.com/WessleyAI/reddit-search/pkg/ollama"
)

// OllamaProvider sends conversations to a local Ollama server. It needs no
// credential.
type OllamaProvider struct {
	client *ollama.ChatClient
}

// NewOllamaProvider wraps an Ollama chat client.
func NewOllamaProvider(c *ollama.ChatClient) *OllamaProvider {
	return &OllamaProvider{client: c}
}

// Name returns the provider name.
func (p *OllamaProvider) Name() string { return "ollama" }

// Complete implements Provider.
func (p *OllamaProvider) Complete(ctx context.Context, req Request) (string, error) {
	msgs := make([]ollama.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, ollama.Message{Role: string(RoleSystem), Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, ollama.Message{Role: string(m.Role), Content: m.Content})
	}

	reply, err := p.client.Chat(ctx, msgs, &ollama.Options{
		Temperature: req.Temperature,
		NumPredict:  req.MaxTokens,
	})
	if err == nil {
		return reply, nil
	}

	var se *ollama.StatusError
	if errors.As(err, &se) {
		if se.StatusCode == http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: %w", &domain.RateLimitedError{Attempts: 1}, err)
		}
		return "", fmt.Errorf("%w: %s", &domain.RemoteAPIError{StatusCode: se.StatusCode, Status: http.StatusText(se.StatusCode)}, se.Message)
	}
	return "", err
}
