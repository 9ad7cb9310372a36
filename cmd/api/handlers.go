package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/WessleyAI/reddit-search/engine/chat"
	"github.com/WessleyAI/reddit-search/engine/domain"
	"github.com/WessleyAI/reddit-search/engine/prompt"
	"github.com/WessleyAI/reddit-search/engine/reddit"
	"github.com/WessleyAI/reddit-search/pkg/mid"
)

const maxChatBody = 1 << 20

type searcher interface {
	Search(ctx context.Context, q domain.SearchQuery) (*reddit.SearchResult, error)
}

type replier interface {
	Reply(ctx context.Context, msgs []chat.Message, pc *prompt.Context) (string, error)
}

// ErrorResponse is the JSON error envelope for GET /api/search.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// ChatRequest is the JSON body for POST /api/chat.
type ChatRequest struct {
	Messages []chat.Message  `json:"messages"`
	Context  *prompt.Context `json:"context,omitempty"`
}

// ChatResponse is the JSON response for POST /api/chat.
type ChatResponse struct {
	Message string    `json:"message"`
	Role    chat.Role `json:"role"`
}

// ChatError is the JSON error body for POST /api/chat.
type ChatError struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleSearch(s searcher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, maxDepth, err := parseSearchQuery(r.URL.Query())
		if err != nil {
			writeSearchError(w, err)
			return
		}

		res, err := s.Search(r.Context(), q)
		if err != nil {
			logger.Error("search failed",
				"keyword", q.Keyword,
				"err", err,
				"request_id", mid.GetRequestID(r.Context()),
			)
			writeSearchError(w, err)
			return
		}
		if maxDepth >= 0 {
			res = capResult(res, maxDepth)
		}

		w.Header().Set("Cache-Control", "public, max-age=60")
		writeJSON(w, http.StatusOK, res)
	}
}

// parseSearchQuery reads the search parameters. A missing or non-numeric
// limit means the default; max_depth is -1 when absent.
func parseSearchQuery(v url.Values) (domain.SearchQuery, int, error) {
	q := domain.SearchQuery{
		Keyword: v.Get("keyword"),
		After:   v.Get("after"),
		Sort:    domain.Sort(v.Get("sort")),
		Time:    domain.TimeRange(v.Get("time")),
	}
	if n, err := strconv.Atoi(v.Get("limit")); err == nil && n != 0 {
		q.Limit = domain.ClampLimit(n)
	}

	maxDepth := -1
	if raw := v.Get("max_depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, 0, domain.NewValidationError("max_depth", raw, domain.ErrInvalidInput)
		}
		maxDepth = n
	}
	return q, maxDepth, nil
}

// capResult copies res with every comment tree capped at maxDepth. The
// searcher's cached result is left untouched.
func capResult(res *reddit.SearchResult, maxDepth int) *reddit.SearchResult {
	out := *res
	out.Posts = make([]reddit.Post, len(res.Posts))
	for i, p := range res.Posts {
		p.Comments = reddit.CapDepth(p.Comments, maxDepth)
		out.Posts[i] = p
	}
	return &out
}

func writeSearchError(w http.ResponseWriter, err error) {
	status := domain.HTTPStatus(err)
	writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: errorMessage(err),
		Status:  status,
	})
}

func handleChat(svc replier, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, ChatError{Error: "invalid request body", Status: http.StatusBadRequest})
			return
		}
		if req.Messages == nil {
			writeJSON(w, http.StatusBadRequest, ChatError{
				Error:  "invalid request: messages array is required",
				Status: http.StatusBadRequest,
			})
			return
		}

		reply, err := svc.Reply(r.Context(), req.Messages, req.Context)
		if err != nil {
			// The chat service has already logged upstream failures.
			logger.Debug("chat request rejected", "err", err, "request_id", mid.GetRequestID(r.Context()))
			status := chatStatus(err)
			writeJSON(w, status, ChatError{Error: errorMessage(err), Status: status})
			return
		}

		writeJSON(w, http.StatusOK, ChatResponse{Message: reply, Role: chat.RoleAssistant})
	}
}

// chatStatus maps a chat failure to 400, 401, 429 or 500. An upstream model
// error is a 500 whatever its status; only the open breaker reports 503.
func chatStatus(err error) int {
	status := domain.HTTPStatus(err)
	var rae *domain.RemoteAPIError
	if status == http.StatusServiceUnavailable && errors.As(err, &rae) {
		return http.StatusInternalServerError
	}
	return status
}

// errorMessage is the client-facing text for err. Validation failures show
// only the rule that was broken.
func errorMessage(err error) string {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return "invalid request: " + ve.Wrapped.Error()
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
