package reddit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WessleyAI/reddit-search/engine/domain"
	"github.com/WessleyAI/reddit-search/pkg/metrics"
	"github.com/WessleyAI/reddit-search/pkg/resilience"
)

const rustSearch = `{"kind":"Listing","data":{"after":"t3_p2","before":null,"dist":2,"children":[
	{"kind":"t3","data":{"id":"p1","title":"Why Rust?","selftext":"ownership","author":"ferris","created_utc":1700000000,
		"subreddit":"rust","score":120,"num_comments":3,"permalink":"/r/rust/comments/p1/why_rust/","url":"https://reddit.com/r/rust/comments/p1/"}},
	{"kind":"t5","data":{"display_name":"rust"}},
	{"kind":"t3","data":{"id":"p2","title":"Rust vs Go","selftext":"","author":"","created_utc":1700000100,
		"subreddit":"programming","score":45,"num_comments":0,"permalink":"/r/programming/comments/p2/rust_vs_go/","url":"https://example.com"}}
]}}`

const p1Comments = `[
	{"kind":"Listing","data":{"children":[{"kind":"t3","data":{"id":"p1"}}]}},
	{"kind":"Listing","data":{"children":[
		{"kind":"t1","data":{"id":"c1","body":"borrow checker","author":"a","score":10,"replies":{"kind":"Listing","data":{"children":[
			{"kind":"t1","data":{"id":"c2","body":"lifetimes","author":"b","score":5,"replies":{"kind":"Listing","data":{"children":[
				{"kind":"t1","data":{"id":"c3","body":"yes","author":"c","score":1,"replies":""}}
			]}}}},
			{"kind":"more","data":{"count":7,"children":["c9"]}}
		]}}}}
	]}}
]`

const emptyComments = `[
	{"kind":"Listing","data":{"children":[]}},
	{"kind":"Listing","data":{"children":[]}}
]`

type stubReddit struct {
	srv      *httptest.Server
	requests atomic.Int32
	queries  chan string
}

func newStubReddit(t *testing.T, routes map[string]func(http.ResponseWriter)) *stubReddit {
	t.Helper()
	s := &stubReddit{queries: make(chan string, 64)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		if r.URL.Path == "/search.json" {
			select {
			case s.queries <- r.URL.RawQuery:
			default:
			}
		}
		h, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h(w)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func body(s string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) { w.Write([]byte(s)) }
}

func status(code int) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) { w.WriteHeader(code) }
}

func newTestSearcher(t *testing.T, stub *stubReddit, cfg SearchConfig) *Searcher {
	t.Helper()
	c := NewClient(ClientConfig{
		BaseURL:    stub.srv.URL,
		HTTPClient: stub.srv.Client(),
		Gate:       resilience.NewGate(resilience.GateOpts{MaxRequests: 1000, Window: time.Minute}),
		Logger:     cfg.Logger,
	})
	s, err := NewSearcher(c, cfg)
	if err != nil {
		t.Fatalf("new searcher: %v", err)
	}
	return s
}

func rustRoutes() map[string]func(http.ResponseWriter) {
	return map[string]func(http.ResponseWriter){
		"/search.json":                    body(rustSearch),
		"/r/rust/comments/p1.json":        body(p1Comments),
		"/r/programming/comments/p2.json": body(emptyComments),
	}
}

func TestSearchEndToEnd(t *testing.T) {
	stub := newStubReddit(t, rustRoutes())
	s := newTestSearcher(t, stub, SearchConfig{})

	res, err := s.Search(context.Background(), domain.SearchQuery{Keyword: "rust", Limit: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	q := <-stub.queries
	for _, want := range []string{"q=rust", "limit=5", "sort=relevance", "t=all", "type=link", "restrict_sr=false"} {
		if !strings.Contains(q, want) {
			t.Errorf("search query %q missing %q", q, want)
		}
	}

	if len(res.Posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(res.Posts))
	}
	if res.TotalResults != 2 || !res.HasMore || res.After == nil || *res.After != "t3_p2" || res.Before != nil {
		t.Errorf("unexpected paging: total=%d has_more=%v after=%v before=%v", res.TotalResults, res.HasMore, res.After, res.Before)
	}

	p1, p2 := res.Posts[0], res.Posts[1]
	if p1.Permalink != "https://reddit.com/r/rust/comments/p1/why_rust/" {
		t.Errorf("unexpected permalink %q", p1.Permalink)
	}
	if p1.Body != "ownership" || p1.Score != 120 || p1.Subreddit != "rust" {
		t.Errorf("unexpected post %+v", p1)
	}
	if p2.Author != DeletedPlaceholder || p2.Body != "" {
		t.Errorf("expected defaulted author and empty body, got %q %q", p2.Author, p2.Body)
	}
	if p2.Comments == nil || len(p2.Comments) != 0 {
		t.Errorf("expected empty comments for p2, got %#v", p2.Comments)
	}

	if len(p1.Comments) != 1 {
		t.Fatalf("expected 1 top-level comment, got %d", len(p1.Comments))
	}
	c1 := p1.Comments[0]
	if c1.ID != "c1" || c1.Depth != 0 || len(c1.Replies) != 1 {
		t.Fatalf("unexpected c1 %+v", c1)
	}
	c2 := c1.Replies[0]
	if c2.ID != "c2" || c2.Depth != 1 || len(c2.Replies) != 1 {
		t.Fatalf("unexpected c2 %+v", c2)
	}
	if c3 := c2.Replies[0]; c3.ID != "c3" || c3.Depth != 2 {
		t.Fatalf("unexpected c3 %+v", c3)
	}
}

func TestSearchIdempotent(t *testing.T) {
	stub := newStubReddit(t, rustRoutes())
	s := newTestSearcher(t, stub, SearchConfig{})
	q := domain.SearchQuery{Keyword: "rust", Limit: 5}

	first, err := s.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("first search: %v", err)
	}
	second, err := s.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("second search: %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if !bytes.Equal(a, b) {
		t.Fatalf("results differ:\n%s\n%s", a, b)
	}
	if stub.requests.Load() != 6 {
		t.Fatalf("expected 6 upstream requests without cache, got %d", stub.requests.Load())
	}
}

func TestSearchCache(t *testing.T) {
	stub := newStubReddit(t, rustRoutes())
	reg := metrics.New()
	s := newTestSearcher(t, stub, SearchConfig{CacheTTL: time.Minute, Metrics: reg})
	now := time.Unix(1700000000, 0)
	s.cache.now = func() time.Time { return now }

	q := domain.SearchQuery{Keyword: "rust", Limit: 5}
	first, err := s.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("first search: %v", err)
	}
	second, err := s.Search(context.Background(), domain.SearchQuery{Keyword: "  rust ", Limit: 5})
	if err != nil {
		t.Fatalf("cached search: %v", err)
	}
	if first != second {
		t.Fatal("expected the cached result")
	}
	if stub.requests.Load() != 3 {
		t.Fatalf("expected 3 upstream requests, got %d", stub.requests.Load())
	}
	if v := reg.Counter("reddit_search_cache_hits_total", "").Value(); v != 1 {
		t.Fatalf("expected 1 cache hit, got %d", v)
	}

	now = now.Add(61 * time.Second)
	if _, err := s.Search(context.Background(), q); err != nil {
		t.Fatalf("expired search: %v", err)
	}
	if stub.requests.Load() != 6 {
		t.Fatalf("expected a refetch after expiry, got %d requests", stub.requests.Load())
	}
}

func TestSearchCommentFailureDegrades(t *testing.T) {
	routes := rustRoutes()
	routes["/r/rust/comments/p1.json"] = status(http.StatusInternalServerError)
	stub := newStubReddit(t, routes)

	var logs bytes.Buffer
	reg := metrics.New()
	s := newTestSearcher(t, stub, SearchConfig{
		Logger:  slog.New(slog.NewTextHandler(&logs, nil)),
		Metrics: reg,
	})

	res, err := s.Search(context.Background(), domain.SearchQuery{Keyword: "rust"})
	if err != nil {
		t.Fatalf("search should survive comment failures, got %v", err)
	}
	if len(res.Posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(res.Posts))
	}
	if c := res.Posts[0].Comments; c == nil || len(c) != 0 {
		t.Fatalf("expected empty comments for failed post, got %#v", c)
	}
	if !strings.Contains(logs.String(), "comment fetch failed") || !strings.Contains(logs.String(), "post_id=p1") {
		t.Fatalf("expected a diagnostic for p1, got:\n%s", logs.String())
	}
	if v := reg.Counter("reddit_comment_failures_total", "").Value(); v != 1 {
		t.Fatalf("expected 1 counted failure, got %d", v)
	}
}

func TestSearchDoesNotCacheDegradedResult(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	routes := rustRoutes()
	routes["/r/rust/comments/p1.json"] = func(w http.ResponseWriter) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(p1Comments))
	}
	stub := newStubReddit(t, routes)
	reg := metrics.New()
	s := newTestSearcher(t, stub, SearchConfig{CacheTTL: time.Minute, Metrics: reg})
	q := domain.SearchQuery{Keyword: "rust", Limit: 5}

	first, err := s.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("first search: %v", err)
	}
	if len(first.Posts[0].Comments) != 0 {
		t.Fatalf("expected p1 degraded, got %d comments", len(first.Posts[0].Comments))
	}

	failing.Store(false)
	second, err := s.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if len(second.Posts[0].Comments) != 1 {
		t.Fatalf("expected p1 comments after recovery, got %d", len(second.Posts[0].Comments))
	}
	if stub.requests.Load() != 6 {
		t.Fatalf("expected a full refetch, got %d upstream requests", stub.requests.Load())
	}
	if v := reg.Counter("reddit_search_cache_hits_total", "").Value(); v != 0 {
		t.Fatalf("expected no cache hits, got %d", v)
	}

	if _, err := s.Search(context.Background(), q); err != nil {
		t.Fatalf("third search: %v", err)
	}
	if stub.requests.Load() != 6 {
		t.Fatalf("expected the complete result to be cached, got %d upstream requests", stub.requests.Load())
	}
}

func TestSearchCancelledDuringComments(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var cancelOnce atomic.Bool
	cancelOnce.Store(true)
	routes := rustRoutes()
	routes["/r/rust/comments/p1.json"] = func(w http.ResponseWriter) {
		if cancelOnce.Swap(false) {
			cancel()
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(p1Comments))
	}
	stub := newStubReddit(t, routes)
	s := newTestSearcher(t, stub, SearchConfig{CacheTTL: time.Minute})
	q := domain.SearchQuery{Keyword: "rust", Limit: 5}

	res, err := s.Search(ctx, q)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got res=%v err=%v", res, err)
	}
	if res != nil {
		t.Fatalf("expected no result, got %+v", res)
	}

	stub.requests.Store(0)
	fresh, err := s.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("fresh search: %v", err)
	}
	if len(fresh.Posts[0].Comments) != 1 {
		t.Fatalf("expected p1 comments, got %d", len(fresh.Posts[0].Comments))
	}
	if stub.requests.Load() != 3 {
		t.Fatalf("expected a fresh fetch, got %d upstream requests", stub.requests.Load())
	}
}

func TestSearchSkipsMalformedPost(t *testing.T) {
	routes := rustRoutes()
	routes["/search.json"] = body(`{"kind":"Listing","data":{"after":null,"children":[
		{"kind":"t3","data":{"id":"bad","title":["x"]}},
		{"kind":"t3","data":{"id":"p2","title":"Rust vs Go","subreddit":"programming","permalink":"/r/programming/comments/p2/x/"}}
	]}}`)
	stub := newStubReddit(t, routes)
	var logs bytes.Buffer
	s := newTestSearcher(t, stub, SearchConfig{Logger: slog.New(slog.NewTextHandler(&logs, nil))})

	res, err := s.Search(context.Background(), domain.SearchQuery{Keyword: "rust"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Posts) != 1 || res.Posts[0].ID != "p2" {
		t.Fatalf("expected only p2, got %+v", res.Posts)
	}
	if !strings.Contains(logs.String(), "skipping malformed search result") {
		t.Fatalf("expected a diagnostic, got:\n%s", logs.String())
	}
}

func TestSearchFailurePropagates(t *testing.T) {
	stub := newStubReddit(t, map[string]func(http.ResponseWriter){
		"/search.json": status(http.StatusServiceUnavailable),
	})
	s := newTestSearcher(t, stub, SearchConfig{})

	_, err := s.Search(context.Background(), domain.SearchQuery{Keyword: "rust"})
	var rae *domain.RemoteAPIError
	if !errors.As(err, &rae) || rae.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected RemoteAPIError 503, got %v", err)
	}
	if domain.HTTPStatus(err) != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 mapping, got %d", domain.HTTPStatus(err))
	}
}

func TestSearchValidation(t *testing.T) {
	stub := newStubReddit(t, rustRoutes())
	s := newTestSearcher(t, stub, SearchConfig{})

	_, err := s.Search(context.Background(), domain.SearchQuery{Keyword: "   "})
	if !errors.Is(err, domain.ErrMissingKeyword) {
		t.Fatalf("expected missing keyword, got %v", err)
	}
	if stub.requests.Load() != 0 {
		t.Fatalf("expected no upstream traffic, got %d requests", stub.requests.Load())
	}
}

func TestSearchConcurrentComments(t *testing.T) {
	stub := newStubReddit(t, rustRoutes())
	seq := newTestSearcher(t, stub, SearchConfig{})
	par := newTestSearcher(t, stub, SearchConfig{CommentWorkers: 4})
	q := domain.SearchQuery{Keyword: "rust", Limit: 5}

	a, err := seq.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("sequential: %v", err)
	}
	b, err := par.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("parallel: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatal("parallel comment fetch changed the result")
	}
}

func TestSearchPaths(t *testing.T) {
	q := domain.SearchQuery{Keyword: "go lang", Limit: 7, After: "t3_x", Sort: domain.SortTop, Time: domain.TimeWeek}
	want := "/search?after=t3_x&limit=7&q=go+lang&restrict_sr=false&sort=top&t=week&type=link"
	if got := SearchPath(q); got != want {
		t.Errorf("SearchPath = %q, want %q", got, want)
	}
	if got := CommentsPath("golang", "abc"); got != "/r/golang/comments/abc?depth=5&limit=100&sort=top" {
		t.Errorf("unexpected comments path %q", got)
	}
}
