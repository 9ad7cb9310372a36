package reddit

// DefaultMaxDepth is the fetch-time depth ceiling for comment trees.
const DefaultMaxDepth = 10

type frame struct {
	children []Thing
	depth    int
	out      *[]Comment
}

// ParseComments converts listing children into a comment tree. Things other
// than t1 (including "more" sentinels) are skipped, API order is preserved at
// every level, and subtrees whose depth exceeds maxDepth are dropped. Nested
// replies are decoded level by level off an explicit stack, so input depth
// never grows the call stack.
func ParseComments(children []Thing, depth, maxDepth int) []Comment {
	root := []Comment{}
	stack := []frame{{children: children, depth: depth, out: &root}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.depth > maxDepth {
			continue
		}

		// Fill this level completely before taking addresses into it.
		pending := make([]CommentData, 0, len(f.children))
		for _, th := range f.children {
			if th.Kind != KindComment || th.Comment == nil {
				continue
			}
			*f.out = append(*f.out, newComment(th.Comment, f.depth))
			pending = append(pending, *th.Comment)
		}

		for i := range pending {
			replies, err := decodeReplies(pending[i].Replies)
			if err != nil || len(replies) == 0 {
				continue
			}
			stack = append(stack, frame{
				children: replies,
				depth:    f.depth + 1,
				out:      &(*f.out)[i].Replies,
			})
		}
	}
	return root
}

func newComment(d *CommentData, depth int) Comment {
	return Comment{
		ID:         d.ID,
		Body:       orDeleted(d.Body),
		Author:     orDeleted(d.Author),
		CreatedUTC: d.CreatedUTC,
		Score:      d.Score,
		Depth:      depth,
		Replies:    []Comment{},
	}
}

func orDeleted(s string) string {
	if s == "" {
		return DeletedPlaceholder
	}
	return s
}

// CapDepth returns a copy of comments with every reply list below maxDepth
// emptied. It is the render-time ceiling and is independent of the depth the
// tree was fetched with. A negative maxDepth returns comments unchanged.
func CapDepth(comments []Comment, maxDepth int) []Comment {
	if maxDepth < 0 {
		return comments
	}
	out := make([]Comment, len(comments))
	copy(out, comments)

	type job struct{ list []Comment }
	stack := []job{{out}}
	for len(stack) > 0 {
		j := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for i := range j.list {
			c := &j.list[i]
			if c.Depth >= maxDepth || len(c.Replies) == 0 {
				c.Replies = []Comment{}
				continue
			}
			replies := make([]Comment, len(c.Replies))
			copy(replies, c.Replies)
			c.Replies = replies
			stack = append(stack, job{replies})
		}
	}
	return out
}

// CountComments returns the number of comments in the tree.
func CountComments(comments []Comment) int {
	n := 0
	stack := [][]Comment{comments}
	for len(stack) > 0 {
		list := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n += len(list)
		for _, c := range list {
			if len(c.Replies) > 0 {
				stack = append(stack, c.Replies)
			}
		}
	}
	return n
}
