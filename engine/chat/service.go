// Package chat answers questions about a Reddit search. It synthesizes the
// system instruction from the search context, keeps only user and assistant
// turns from the client, and dispatches the conversation to a chat model
// behind a circuit breaker.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/reddit-search/engine/domain"
	"github.com/WessleyAI/reddit-search/engine/prompt"
	"github.com/WessleyAI/reddit-search/pkg/fn"
	"github.com/WessleyAI/reddit-search/pkg/metrics"
	"github.com/WessleyAI/reddit-search/pkg/resilience"
)

// Role tags a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is what a Provider receives: the synthesized system instruction
// and the filtered conversation.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Provider sends a conversation to a chat model and returns its reply.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Options configures the chat service.
type Options struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Limits      prompt.Limits
	Breaker     resilience.BreakerOpts
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxTokens:   2048,
		Temperature: 0.7,
		Timeout:     60 * time.Second,
		Limits:      prompt.DefaultLimits(),
		Breaker:     resilience.DefaultBreakerOpts,
	}
}

// Service is the chat orchestration service.
type Service struct {
	provider Provider
	builder  *prompt.Builder
	breaker  *resilience.Breaker
	opts     Options
	logger   *slog.Logger

	latency *metrics.Histogram
}

// New creates a chat Service. Zero options fall back to DefaultOptions.
func New(p Provider, opts Options, logger *slog.Logger, reg *metrics.Registry) *Service {
	d := DefaultOptions()
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = d.MaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = d.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	state := reg.Gauge(metrics.WithLabels("chat_breaker_state", "provider", p.Name()),
		"Chat breaker state (0 closed, 1 open, 2 half-open)")
	bo := opts.Breaker
	bo.Counts = countsAgainstUpstream
	bo.OnStateChange = func(from, to resilience.State) {
		state.Set(int64(to))
		logger.Warn("chat breaker state changed", "provider", p.Name(), "from", from.String(), "to", to.String())
	}

	return &Service{
		provider: p,
		builder:  prompt.NewBuilder(opts.Limits),
		breaker:  resilience.NewBreaker(bo),
		opts:     opts,
		logger:   logger,
		latency:  reg.Histogram(metrics.WithLabels("chat_request_duration_seconds", "provider", p.Name()), "Chat model latency", nil),
	}
}

// Breaker exposes the service's circuit breaker state.
func (s *Service) Breaker() *resilience.Breaker { return s.breaker }

// Reply answers the conversation. System turns from the caller are dropped;
// the system instruction is always built from pc, which may be nil.
func (s *Service) Reply(ctx context.Context, msgs []Message, pc *prompt.Context) (string, error) {
	if len(msgs) == 0 {
		return "", domain.NewValidationError("messages", "", domain.ErrNoMessages)
	}
	conv := Filter(msgs)
	if len(conv) == 0 {
		return "", domain.NewValidationError("messages", "", domain.ErrNoMessages)
	}

	req := Request{
		System:      s.builder.System(pc),
		Messages:    conv,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	start := time.Now()
	var reply string
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		reply, err = s.provider.Complete(ctx, req)
		return err
	})
	s.latency.Since(start)

	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		s.logger.Warn("chat rejected, breaker open", "provider", s.provider.Name())
		return "", fmt.Errorf("chat: %w: %w", domain.ErrUnavailable, err)
	case err != nil:
		s.logger.Error("chat failed", "provider", s.provider.Name(), "err", err)
		return "", fmt.Errorf("chat: %s: %w", s.provider.Name(), err)
	}

	s.logger.Info("chat reply", "provider", s.provider.Name(), "turns", len(conv),
		"system_chars", len(req.System), "reply_chars", len(reply), "duration", time.Since(start))
	return reply, nil
}

// Filter keeps user and assistant turns in order.
func Filter(msgs []Message) []Message {
	return fn.Filter(msgs, func(m Message) bool {
		return m.Role == RoleUser || m.Role == RoleAssistant
	})
}

// countsAgainstUpstream keeps caller and credential errors from tripping the
// breaker.
func countsAgainstUpstream(err error) bool {
	var (
		ve *domain.ValidationError
		ce *domain.ConfigurationError
	)
	return !errors.As(err, &ve) && !errors.As(err, &ce) && !errors.Is(err, context.Canceled)
}
