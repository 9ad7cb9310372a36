package reddit

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind is the type tag Reddit puts on every "thing".
type Kind string

const (
	KindComment   Kind = "t1"
	KindAccount   Kind = "t2"
	KindLink      Kind = "t3"
	KindMessage   Kind = "t4"
	KindSubreddit Kind = "t5"
	KindMore      Kind = "more" // "load more comments" sentinel
	KindListing   Kind = "Listing"
)

// Listing is Reddit's paginated collection envelope.
type Listing struct {
	Kind Kind        `json:"kind"`
	Data ListingData `json:"data"`
}

// ListingData holds the cursors and the tagged children of a listing.
type ListingData struct {
	After    *string `json:"after"`
	Before   *string `json:"before"`
	Dist     int     `json:"dist"`
	Children []Thing `json:"children"`
}

// Thing is one tagged child of a listing, decoded by its kind. Exactly one of
// Comment and Link is set for t1 and t3; every other kind (including the
// "more" sentinel) keeps only its tag. A t1 or t3 whose payload does not
// decode keeps its tag and the decode error in Err, so one bad child does not
// fail the listing around it.
type Thing struct {
	Kind    Kind
	Comment *CommentData
	Link    *LinkData
	Err     error
}

// LinkData is the payload of a t3 (post).
type LinkData struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Title       string  `json:"title"`
	SelfText    string  `json:"selftext"`
	Author      string  `json:"author"`
	CreatedUTC  float64 `json:"created_utc"`
	Subreddit   string  `json:"subreddit"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	Permalink   string  `json:"permalink"`
	URL         string  `json:"url"`
	IsSelf      bool    `json:"is_self"`
}

// CommentData is the payload of a t1 (comment). Replies is left raw: it is
// either a nested Listing or "" when there are none, and is decoded one
// level at a time by ParseComments.
type CommentData struct {
	ID         string          `json:"id"`
	Body       string          `json:"body"`
	Author     string          `json:"author"`
	CreatedUTC float64         `json:"created_utc"`
	Score      int             `json:"score"`
	ParentID   string          `json:"parent_id"`
	Replies    json.RawMessage `json:"replies"`
}

// UnmarshalJSON decodes the kind tag, then the payload for known kinds. Only
// a broken envelope is an error; payload failures are recorded in Err.
func (t *Thing) UnmarshalJSON(b []byte) error {
	var env struct {
		Kind Kind            `json:"kind"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	*t = Thing{Kind: env.Kind}

	switch env.Kind {
	case KindComment:
		c := new(CommentData)
		if t.Err = decodePayload(env.Data, c); t.Err == nil {
			t.Comment = c
		}
	case KindLink:
		l := new(LinkData)
		if t.Err = decodePayload(env.Data, l); t.Err == nil {
			t.Link = l
		}
	}
	return nil
}

func decodePayload(raw json.RawMessage, v any) error {
	if isEmptyJSON(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode thing data: %w", err)
	}
	return nil
}

// decodeReplies decodes a comment's replies field. Reddit encodes "no
// replies" as an empty string; null, absent and non-object values are
// treated the same way.
func decodeReplies(raw json.RawMessage) ([]Thing, error) {
	raw = bytes.TrimSpace(raw)
	if isEmptyJSON(raw) || raw[0] != '{' {
		return nil, nil
	}
	var l Listing
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("decode replies: %w", err)
	}
	return l.Data.Children, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null" || string(raw) == `""`
}
