// Package prompt turns search results into the bounded system instruction
// sent to the chat model.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/WessleyAI/reddit-search/engine/reddit"
	"github.com/WessleyAI/reddit-search/pkg/fn"
)

// Ellipsis marks truncated text. It counts against the budget.
const Ellipsis = "..."

// Default character budgets. Lengths are counted in runes.
const (
	DefaultMaxPosts           = 5
	DefaultMaxCommentsPerPost = 3
	DefaultMaxBodyChars       = 800
	DefaultMaxCommentChars    = 240
	DefaultMaxTotalChars      = 12000
)

// Preamble opens every system instruction.
const Preamble = `You are a helpful AI assistant integrated with a Reddit Search application.

Your capabilities:
- You provide clear, accurate, and helpful responses
- You can analyze and discuss Reddit posts and comments
- You use markdown formatting when appropriate
- You're honest about limitations`

// Limits bounds what a prompt may contain.
type Limits struct {
	MaxPosts           int
	MaxCommentsPerPost int
	MaxBodyChars       int
	MaxCommentChars    int
	MaxTotalChars      int
}

// DefaultLimits returns the standard budgets.
func DefaultLimits() Limits {
	return Limits{
		MaxPosts:           DefaultMaxPosts,
		MaxCommentsPerPost: DefaultMaxCommentsPerPost,
		MaxBodyChars:       DefaultMaxBodyChars,
		MaxCommentChars:    DefaultMaxCommentChars,
		MaxTotalChars:      DefaultMaxTotalChars,
	}
}

// Comment is a comment excerpt as supplied by the client.
type Comment struct {
	Body   string `json:"body"`
	Author string `json:"author"`
	Score  int    `json:"score"`
}

// Post is a post as supplied by the client.
type Post struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Subreddit string    `json:"subreddit"`
	Author    string    `json:"author"`
	Score     int       `json:"score"`
	Comments  []Comment `json:"comments"`
}

// Context is the search the user is chatting about.
type Context struct {
	Keyword string `json:"keyword"`
	Posts   []Post `json:"posts"`
}

// Builder composes system instructions within its Limits.
type Builder struct {
	limits Limits
}

// NewBuilder creates a Builder. Non-positive limits use the defaults.
func NewBuilder(l Limits) *Builder {
	d := DefaultLimits()
	if l.MaxPosts <= 0 {
		l.MaxPosts = d.MaxPosts
	}
	if l.MaxCommentsPerPost <= 0 {
		l.MaxCommentsPerPost = d.MaxCommentsPerPost
	}
	if l.MaxBodyChars <= 0 {
		l.MaxBodyChars = d.MaxBodyChars
	}
	if l.MaxCommentChars <= 0 {
		l.MaxCommentChars = d.MaxCommentChars
	}
	if l.MaxTotalChars <= 0 {
		l.MaxTotalChars = d.MaxTotalChars
	}
	return &Builder{limits: l}
}

// Limits returns the builder's budgets.
func (b *Builder) Limits() Limits { return b.limits }

// Build returns the system instruction for a conversation about posts found
// for keyword. The first MaxPosts posts are used in the given order.
func (b *Builder) Build(posts []Post, keyword string) string {
	var sb strings.Builder
	sb.WriteString(Preamble)

	if len(posts) > 0 {
		shown := fn.Take(posts, b.limits.MaxPosts)

		sb.WriteString("\n\n--- REDDIT SEARCH CONTEXT ---\n")
		fmt.Fprintf(&sb, "The user searched for: \"%s\"\n", keyword)
		fmt.Fprintf(&sb, "Found %d posts. Showing the top %d:\n\n", len(posts), len(shown))

		for i, p := range shown {
			fmt.Fprintf(&sb, "Post %d: \"%s\" in r/%s (score: %d)\n", i+1, p.Title, p.Subreddit, p.Score)
			if p.Body != "" {
				fmt.Fprintf(&sb, "Content: %s\n", Truncate(p.Body, b.limits.MaxBodyChars))
			}
			fmt.Fprintf(&sb, "Top comments: %s\n\n", b.comments(p.Comments))
		}
		fmt.Fprintf(&sb, "\nYou have context from %d posts. Reference them by number when answering.", len(shown))
	}

	return Truncate(sb.String(), b.limits.MaxTotalChars)
}

// System returns the instruction for an optional context.
func (b *Builder) System(c *Context) string {
	if c == nil {
		return b.Build(nil, "")
	}
	return b.Build(c.Posts, c.Keyword)
}

func (b *Builder) comments(cs []Comment) string {
	if len(cs) == 0 {
		return "None"
	}
	parts := fn.Map(fn.Take(cs, b.limits.MaxCommentsPerPost), func(c Comment) string {
		return fmt.Sprintf("[%s]: %s", c.Author, Truncate(c.Body, b.limits.MaxCommentChars))
	})
	return strings.Join(parts, " | ")
}

// Truncate shortens s to at most limit runes, ending in Ellipsis when cut.
// With no room for the marker it cuts hard.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	keep := limit - len(Ellipsis)
	if keep < 0 {
		return prefix(s, limit)
	}
	return prefix(s, keep) + Ellipsis
}

// prefix returns the first n runes of s.
func prefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// FromPosts converts search results into prompt posts. Only top-level
// comments are kept; the builder never looks deeper.
func FromPosts(posts []reddit.Post) []Post {
	return fn.Map(posts, func(p reddit.Post) Post {
		return Post{
			Title:     p.Title,
			Body:      p.Body,
			Subreddit: p.Subreddit,
			Author:    p.Author,
			Score:     p.Score,
			Comments: fn.Map(p.Comments, func(c reddit.Comment) Comment {
				return Comment{Body: c.Body, Author: c.Author, Score: c.Score}
			}),
		}
	})
}

// FromResult builds a chat context from a search result.
func FromResult(keyword string, r *reddit.SearchResult) *Context {
	if r == nil {
		return &Context{Keyword: keyword}
	}
	return &Context{Keyword: keyword, Posts: FromPosts(r.Posts)}
}
