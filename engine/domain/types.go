// Package domain defines the search query model, its validation and the
// error taxonomy shared by the ingestion client, the chat service and the
// HTTP boundary.
package domain

import "strings"

// Sort orders Reddit search results.
type Sort string

const (
	SortRelevance Sort = "relevance"
	SortHot       Sort = "hot"
	SortTop       Sort = "top"
	SortNew       Sort = "new"
	SortComments  Sort = "comments"
)

// TimeRange restricts results to a posting window.
type TimeRange string

const (
	TimeHour  TimeRange = "hour"
	TimeDay   TimeRange = "day"
	TimeWeek  TimeRange = "week"
	TimeMonth TimeRange = "month"
	TimeYear  TimeRange = "year"
	TimeAll   TimeRange = "all"
)

// Search limits. Results are capped at 25 because every post costs one more
// upstream request for its comments.
const (
	DefaultLimit = 10
	MinLimit     = 1
	MaxLimit     = 25
)

// SearchQuery is a keyword search across all subreddits.
type SearchQuery struct {
	Keyword string    `json:"keyword"`
	Limit   int       `json:"limit"`
	After   string    `json:"after,omitempty"` // opaque cursor from a previous page
	Sort    Sort      `json:"sort"`
	Time    TimeRange `json:"time"`
}

// ClampLimit forces n into [MinLimit, MaxLimit].
func ClampLimit(n int) int {
	return min(max(n, MinLimit), MaxLimit)
}

// Normalized returns a copy with the keyword trimmed, the limit clamped and
// empty enums defaulted. A zero limit means DefaultLimit.
func (q SearchQuery) Normalized() SearchQuery {
	q.Keyword = strings.TrimSpace(q.Keyword)
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	q.Limit = ClampLimit(q.Limit)
	if q.Sort == "" {
		q.Sort = SortRelevance
	}
	if q.Time == "" {
		q.Time = TimeAll
	}
	return q
}
