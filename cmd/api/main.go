// Package main implements the Reddit search and chat API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/reddit-search/engine/chat"
	"github.com/WessleyAI/reddit-search/engine/reddit"
	"github.com/WessleyAI/reddit-search/pkg/config"
	"github.com/WessleyAI/reddit-search/pkg/metrics"
	"github.com/WessleyAI/reddit-search/pkg/mid"
	"github.com/WessleyAI/reddit-search/pkg/ollama"
	"github.com/WessleyAI/reddit-search/pkg/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     a.handler(cfg),
		ReadTimeout: 15 * time.Second,
		// A cold search may wait out the Reddit gate several times.
		WriteTimeout: cfg.Reddit.SearchTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "chat_provider", cfg.Chat.Provider)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// app holds the services behind the HTTP routes.
type app struct {
	search  searcher
	chat    replier
	metrics *metrics.Registry
	log     *slog.Logger
}

// newApp wires the Reddit client, the search orchestrator and the chat
// service from cfg.
func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	reg := metrics.New()

	gateWaits := reg.Counter("reddit_gate_waits_total", "Reddit requests delayed by the rate gate")
	gate := resilience.NewGate(resilience.GateOpts{
		MaxRequests: cfg.Reddit.MaxRequests,
		Window:      cfg.Reddit.Window,
		Margin:      cfg.Reddit.Margin,
		OnWait: func(wait time.Duration, inWindow int) {
			gateWaits.Inc()
			logger.Info("reddit gate full, waiting", "wait", wait, "in_window", inWindow)
		},
	})

	client := reddit.NewClient(reddit.ClientConfig{
		BaseURL:     cfg.Reddit.BaseURL,
		UserAgent:   cfg.Reddit.UserAgent,
		MaxAttempts: cfg.Reddit.MaxAttempts,
		Gate:        gate,
		Logger:      logger,
		Metrics:     reg,
	})

	searcher, err := reddit.NewSearcher(client, reddit.SearchConfig{
		MaxCommentDepth: cfg.Reddit.MaxCommentDepth,
		CommentWorkers:  cfg.Reddit.CommentWorkers,
		SearchTimeout:   cfg.Reddit.SearchTimeout,
		CacheTTL:        cfg.Reddit.CacheTTL,
		CacheSize:       cfg.Reddit.CacheSize,
		Logger:          logger,
		Metrics:         reg,
	})
	if err != nil {
		return nil, fmt.Errorf("reddit searcher: %w", err)
	}

	opts := chat.DefaultOptions()
	opts.MaxTokens = cfg.Chat.MaxTokens
	opts.Temperature = cfg.Chat.Temperature
	opts.Timeout = cfg.Chat.Timeout

	return &app{
		search:  searcher,
		chat:    chat.New(newProvider(cfg.Chat), opts, logger, reg),
		metrics: reg,
		log:     logger,
	}, nil
}

func newProvider(cfg config.Chat) chat.Provider {
	if cfg.Provider == "ollama" {
		return chat.NewOllamaProvider(ollama.NewChatClient(cfg.OllamaURL, cfg.OllamaModel, nil))
	}
	return chat.NewAnthropicProvider(chat.AnthropicConfig{
		APIKey:  cfg.AnthropicAPIKey,
		Model:   cfg.AnthropicModel,
		BaseURL: cfg.AnthropicBaseURL,
	})
}

// handler returns the routed, middleware-wrapped API.
func (a *app) handler(cfg config.Config) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/search", handleSearch(a.search, a.log))
	mux.HandleFunc("POST /api/chat", handleChat(a.chat, a.log))
	mux.Handle("GET /metrics", a.metrics.Handler())

	return mid.Chain(mux,
		mid.Recover(a.log),
		mid.OTel("reddit-search-api"),
		mid.RequestID(),
		mid.Logger(a.log),
		mid.Metrics(a.metrics),
		mid.CORS(cfg.CORSOrigins...),
		mid.RateLimit(mid.RateLimitOpts{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst}),
	)
}
