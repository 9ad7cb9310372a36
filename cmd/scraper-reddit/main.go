// Command scraper-reddit searches Reddit for a keyword, following the result
// cursor, and writes each post with its comment tree as JSON to stdout or
// publishes it to NATS.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/reddit-search/engine/domain"
	"github.com/WessleyAI/reddit-search/engine/reddit"
	"github.com/WessleyAI/reddit-search/pkg/config"
	"github.com/WessleyAI/reddit-search/pkg/natsutil"
	"github.com/WessleyAI/reddit-search/pkg/resilience"
)

type pageSearcher interface {
	Search(ctx context.Context, q domain.SearchQuery) (*reddit.SearchResult, error)
}

// errUsage reports a flag combination the command cannot run with.
var errUsage = errors.New("usage")

type options struct {
	keyword  string
	limit    int
	pages    int
	sort     string
	window   string
	interval time.Duration
	natsURL  string
	subject  string
	tail     bool
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var o options
	flag.StringVar(&o.keyword, "keyword", "", "search keyword (required unless -tail)")
	flag.IntVar(&o.limit, "limit", domain.MaxLimit, "posts per page")
	flag.IntVar(&o.pages, "pages", 1, "maximum pages to follow per run")
	flag.StringVar(&o.sort, "sort", string(domain.SortRelevance), "relevance, hot, top, new or comments")
	flag.StringVar(&o.window, "time", string(domain.TimeAll), "hour, day, week, month, year or all")
	flag.DurationVar(&o.interval, "interval", 0, "polling interval (0 = one-shot)")
	flag.StringVar(&o.natsURL, "nats", cfg.NATS.URL, "NATS URL (if empty, output JSON to stdout)")
	flag.StringVar(&o.subject, "subject", cfg.NATS.Subject, "NATS subject to publish to")
	flag.BoolVar(&o.tail, "tail", false, "print posts published on -subject instead of scraping")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, o, os.Stdout, logger)
	stop()
	switch {
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	case err != nil:
		logger.Error("scraper exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, o options, out io.Writer, logger *slog.Logger) error {
	if !o.tail && o.keyword == "" {
		return fmt.Errorf("%w: -keyword is required", errUsage)
	}
	if o.tail && o.natsURL == "" {
		return fmt.Errorf("%w: -tail needs -nats", errUsage)
	}

	var nc *nats.Conn
	if o.natsURL != "" {
		var err error
		nc, err = nats.Connect(o.natsURL)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
	}

	if o.tail {
		return tailPosts(ctx, nc, o.subject, out, logger)
	}

	searcher, err := newSearcher(cfg, logger)
	if err != nil {
		return err
	}

	emit := stdoutEmitter(out)
	if nc != nil {
		logger.Info("publishing to NATS", "subject", o.subject)
		emit = natsEmitter(nc, o.subject)
	}

	q := domain.SearchQuery{
		Keyword: o.keyword,
		Limit:   o.limit,
		Sort:    domain.Sort(o.sort),
		Time:    domain.TimeRange(o.window),
	}
	once := func() error {
		n, err := scrape(ctx, searcher, q, o.pages, emit)
		logger.Info("scrape finished", "keyword", q.Keyword, "posts", n)
		return err
	}

	// First run
	if err := once(); err != nil {
		return err
	}
	if o.interval <= 0 {
		return nil
	}

	// Poll loop
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			if err := once(); err != nil {
				logger.Error("scrape", "err", err)
			}
		}
	}
}

func newSearcher(cfg config.Config, logger *slog.Logger) (*reddit.Searcher, error) {
	client := reddit.NewClient(reddit.ClientConfig{
		BaseURL:     cfg.Reddit.BaseURL,
		UserAgent:   cfg.Reddit.UserAgent,
		MaxAttempts: cfg.Reddit.MaxAttempts,
		Gate: resilience.NewGate(resilience.GateOpts{
			MaxRequests: cfg.Reddit.MaxRequests,
			Window:      cfg.Reddit.Window,
			Margin:      cfg.Reddit.Margin,
			OnWait: func(wait time.Duration, _ int) {
				logger.Info("reddit gate full, waiting", "wait", wait)
			},
		}),
		Logger: logger,
	})
	s, err := reddit.NewSearcher(client, reddit.SearchConfig{
		MaxCommentDepth: cfg.Reddit.MaxCommentDepth,
		CommentWorkers:  cfg.Reddit.CommentWorkers,
		SearchTimeout:   cfg.Reddit.SearchTimeout,
		// Polling runs must see fresh results.
		CacheTTL: 0,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("reddit searcher: %w", err)
	}
	return s, nil
}

// emitFunc delivers one scraped post.
type emitFunc func(ctx context.Context, p reddit.Post) error

func stdoutEmitter(w io.Writer) emitFunc {
	enc := json.NewEncoder(w)
	return func(_ context.Context, p reddit.Post) error {
		return enc.Encode(p)
	}
}

// natsEmitter publishes posts keyed by post ID so a server with duplicate
// detection drops posts seen on an earlier poll.
func natsEmitter(nc *nats.Conn, subject string) emitFunc {
	return func(ctx context.Context, p reddit.Post) error {
		return natsutil.Publish(ctx, nc, subject, p, natsutil.WithMsgID(p.ID))
	}
}

// scrape runs q and follows the after cursor for at most pages pages,
// emitting every post. It returns the number of posts emitted.
func scrape(ctx context.Context, s pageSearcher, q domain.SearchQuery, pages int, emit emitFunc) (int, error) {
	if pages <= 0 {
		pages = 1
	}
	var n int
	for page := 0; page < pages; page++ {
		res, err := s.Search(ctx, q)
		if err != nil {
			return n, fmt.Errorf("page %d: %w", page+1, err)
		}
		for _, p := range res.Posts {
			if err := emit(ctx, p); err != nil {
				return n, fmt.Errorf("emit %s: %w", p.ID, err)
			}
			n++
		}
		if !res.HasMore || res.After == nil {
			break
		}
		q.After = *res.After
	}
	return n, nil
}

// tailPosts prints posts arriving on subject until ctx is cancelled.
func tailPosts(ctx context.Context, nc *nats.Conn, subject string, w io.Writer, logger *slog.Logger) error {
	enc := json.NewEncoder(w)
	sub, err := natsutil.Subscribe(nc, subject, logger, func(_ context.Context, p reddit.Post) {
		if err := enc.Encode(p); err != nil {
			logger.Warn("write post", "post_id", p.ID, "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}
