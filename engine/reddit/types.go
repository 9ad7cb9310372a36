// Package reddit is a client for Reddit's unauthenticated JSON API: a rate
// gated fetcher, the listing decoder, the comment-tree parser and the search
// orchestrator that assembles posts with their comments.
package reddit

// DeletedPlaceholder stands in for absent authors and comment bodies.
const DeletedPlaceholder = "[deleted]"

// Post is a search hit with its comment tree.
type Post struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Author      string    `json:"author"`
	CreatedUTC  float64   `json:"created_utc"`
	Subreddit   string    `json:"subreddit"`
	Score       int       `json:"score"`
	NumComments int       `json:"num_comments"`
	Permalink   string    `json:"permalink"`
	URL         string    `json:"url"`
	Comments    []Comment `json:"comments"`
}

// Comment is a normalized comment. Depth 0 is a direct reply to the post and
// every reply sits exactly one level below its parent.
type Comment struct {
	ID         string    `json:"id"`
	Body       string    `json:"body"`
	Author     string    `json:"author"`
	CreatedUTC float64   `json:"created_utc"`
	Score      int       `json:"score"`
	Depth      int       `json:"depth"`
	Replies    []Comment `json:"replies"`
}

// SearchResult is one page of search hits.
type SearchResult struct {
	Posts        []Post  `json:"posts"`
	After        *string `json:"after"`
	Before       *string `json:"before"`
	TotalResults int     `json:"total_results"`
	HasMore      bool    `json:"has_more"`
}
