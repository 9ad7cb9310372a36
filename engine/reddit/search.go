package reddit

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/WessleyAI/reddit-search/engine/domain"
	"github.com/WessleyAI/reddit-search/pkg/fn"
	"github.com/WessleyAI/reddit-search/pkg/metrics"
)

const (
	DefaultSearchTimeout = 3 * time.Minute
	permalinkBase        = "https://reddit.com"

	// Query parameters for the per-post comments request.
	commentsLimit = 100
	commentsDepth = 5
	commentsSort  = "top"
)

var tracer = otel.Tracer("engine/reddit")

// Fetcher is the HTTP side of the searcher. *Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, path string, out any) error
}

// SearchConfig controls the orchestrator.
type SearchConfig struct {
	// MaxCommentDepth is the fetch-time ceiling passed to ParseComments.
	MaxCommentDepth int
	// CommentWorkers > 1 fetches comment trees concurrently. Every fetch
	// still passes the client's gate.
	CommentWorkers int
	SearchTimeout  time.Duration

	// CacheTTL > 0 enables the result cache.
	CacheTTL  time.Duration
	CacheSize int

	Logger  *slog.Logger
	Metrics *metrics.Registry
}

// Searcher runs a keyword search and attaches each post's comment tree.
type Searcher struct {
	fetch Fetcher
	cfg   SearchConfig
	cache *resultCache
	log   *slog.Logger

	commentFailures *metrics.Counter
	searchLatency   *metrics.Histogram
	cacheHits       *metrics.Counter
}

// NewSearcher creates a Searcher over f.
func NewSearcher(f Fetcher, cfg SearchConfig) (*Searcher, error) {
	if cfg.MaxCommentDepth <= 0 {
		cfg.MaxCommentDepth = DefaultMaxDepth
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = DefaultSearchTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}

	s := &Searcher{
		fetch:           f,
		cfg:             cfg,
		log:             cfg.Logger,
		commentFailures: cfg.Metrics.Counter("reddit_comment_failures_total", "Comment trees that failed to load"),
		searchLatency:   cfg.Metrics.Histogram("reddit_search_duration_seconds", "End-to-end search latency", nil),
		cacheHits:       cfg.Metrics.Counter("reddit_search_cache_hits_total", "Searches served from cache"),
	}
	if cfg.CacheTTL > 0 {
		c, err := newResultCache(cfg.CacheSize, cfg.CacheTTL)
		if err != nil {
			return nil, err
		}
		s.cache = c
	}
	return s, nil
}

// Search validates q, fetches matching posts and their comment trees. A
// failed comment fetch degrades that post to no comments; any failure of the
// search request itself fails the whole call, as does ctx ending before the
// comment trees are in. Degraded results are never cached.
func (s *Searcher) Search(ctx context.Context, q domain.SearchQuery) (*SearchResult, error) {
	q, err := domain.ValidateSearchQuery(q)
	if err != nil {
		return nil, err
	}

	key := cacheKey(q)
	if s.cache != nil {
		if r, ok := s.cache.get(key); ok {
			s.cacheHits.Inc()
			return r, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SearchTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "reddit.search")
	defer span.End()
	span.SetAttributes(
		attribute.String("reddit.keyword", q.Keyword),
		attribute.Int("reddit.limit", q.Limit),
		attribute.String("reddit.sort", string(q.Sort)),
	)
	defer s.searchLatency.Since(time.Now())

	var listing Listing
	if err := s.fetch.Fetch(ctx, SearchPath(q), &listing); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("reddit: search: %w", err)
	}

	posts := make([]Post, 0, len(listing.Data.Children))
	for _, th := range listing.Data.Children {
		if th.Err != nil {
			s.log.Warn("skipping malformed search result", "kind", th.Kind, "error", th.Err)
			continue
		}
		if th.Kind != KindLink || th.Link == nil {
			continue
		}
		posts = append(posts, newPost(th.Link))
	}

	degraded := s.attachComments(ctx, posts)
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("reddit: search: %w", err)
	}

	total := listing.Data.Dist
	if total == 0 {
		total = len(posts)
	}
	res := &SearchResult{
		Posts:        posts,
		After:        listing.Data.After,
		Before:       listing.Data.Before,
		TotalResults: total,
		HasMore:      listing.Data.After != nil,
	}
	span.SetAttributes(attribute.Int("reddit.posts", len(posts)), attribute.Int("reddit.degraded", degraded))

	if s.cache != nil && degraded == 0 {
		s.cache.set(key, res)
	}
	var comments int
	for _, p := range posts {
		comments += CountComments(p.Comments)
	}
	s.log.Info("reddit search", "keyword", q.Keyword, "posts", len(posts), "comments", comments,
		"degraded", degraded, "has_more", res.HasMore)
	return res, nil
}

// attachComments fills in every post's tree and returns how many posts
// degraded to no comments.
func (s *Searcher) attachComments(ctx context.Context, posts []Post) int {
	trees := fn.ParMap(posts, s.cfg.CommentWorkers, func(_ int, p Post) fn.Result[[]Comment] {
		return fn.FromPair[[]Comment](s.comments(ctx, p))
	})
	var degraded int
	for i, r := range trees {
		c, err := r.Unwrap()
		if err != nil {
			degraded++
			c = []Comment{}
		}
		posts[i].Comments = c
	}
	return degraded
}

// comments fetches and parses one post's tree. The caller degrades the post
// on error.
func (s *Searcher) comments(ctx context.Context, p Post) ([]Comment, error) {
	ctx, span := tracer.Start(ctx, "reddit.comments")
	defer span.End()
	span.SetAttributes(attribute.String("reddit.post_id", p.ID))

	var listings []Listing
	if err := s.fetch.Fetch(ctx, CommentsPath(p.Subreddit, p.ID), &listings); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.commentFailures.Inc()
		s.log.Warn("comment fetch failed", "post_id", p.ID, "subreddit", p.Subreddit, "error", err)
		return nil, err
	}
	if len(listings) < 2 {
		return []Comment{}, nil
	}
	children := listings[1].Data.Children
	for _, th := range children {
		if th.Err != nil {
			s.log.Warn("skipping malformed comment", "post_id", p.ID, "kind", th.Kind, "error", th.Err)
		}
	}
	return ParseComments(children, 0, s.cfg.MaxCommentDepth), nil
}

func newPost(d *LinkData) Post {
	return Post{
		ID:          d.ID,
		Title:       d.Title,
		Body:        d.SelfText,
		Author:      orDeleted(d.Author),
		CreatedUTC:  d.CreatedUTC,
		Subreddit:   d.Subreddit,
		Score:       d.Score,
		NumComments: d.NumComments,
		Permalink:   permalinkBase + d.Permalink,
		URL:         d.URL,
		Comments:    []Comment{},
	}
}

// SearchPath builds the site-wide search request for q.
func SearchPath(q domain.SearchQuery) string {
	v := url.Values{}
	v.Set("q", q.Keyword)
	v.Set("limit", strconv.Itoa(q.Limit))
	v.Set("sort", string(q.Sort))
	v.Set("t", string(q.Time))
	v.Set("type", "link")
	v.Set("restrict_sr", "false")
	if q.After != "" {
		v.Set("after", q.After)
	}
	return "/search?" + v.Encode()
}

// CommentsPath builds the comment-tree request for one post.
func CommentsPath(subreddit, postID string) string {
	v := url.Values{}
	v.Set("limit", strconv.Itoa(commentsLimit))
	v.Set("depth", strconv.Itoa(commentsDepth))
	v.Set("sort", commentsSort)
	return "/r/" + url.PathEscape(subreddit) + "/comments/" + url.PathEscape(postID) + "?" + v.Encode()
}
