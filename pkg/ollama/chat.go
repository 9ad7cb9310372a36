// Package ollama is a small client for a local Ollama server's chat API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Message is one turn in an Ollama conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are the sampling options Ollama accepts per request.
type Options struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// StatusError is a non-200 response from Ollama.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ollama: status %d", e.StatusCode)
	}
	return fmt.Sprintf("ollama: status %d: %s", e.StatusCode, e.Message)
}

// ChatClient calls POST /api/chat without streaming.
type ChatClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewChatClient creates an Ollama chat client. A nil client uses
// http.DefaultClient.
func NewChatClient(baseURL, model string, client *http.Client) *ChatClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &ChatClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  client,
	}
}

// Model returns the model name sent with every request.
func (c *ChatClient) Model() string { return c.model }

type chatReq struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  *Options  `json:"options,omitempty"`
}

type chatResp struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error"`
}

// Chat sends the conversation and returns the assistant's reply.
func (c *ChatClient) Chat(ctx context.Context, msgs []Message, opts *Options) (string, error) {
	body, err := json.Marshal(chatReq{Model: c.model, Messages: msgs, Stream: false, Options: opts})
	if err != nil {
		return "", fmt.Errorf("ollama chat: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e chatResp
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return "", &StatusError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	var result chatResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("ollama chat decode: %w", err)
	}
	if result.Error != "" {
		return "", &StatusError{StatusCode: resp.StatusCode, Message: result.Error}
	}
	return result.Message.Content, nil
}
