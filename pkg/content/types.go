package content

import (
	"errors"
	"time"
)

var (
	// ErrItemNotFound is returned when an item ID does not exist.
	ErrItemNotFound = errors.New("item not found")
)

// Item is a node in the content tree. The content tree is independent
// of the group tree; the two meet only through read-group edges and
// edit-group metadata.
type Item struct {
	ID       int64  `json:"id"`
	ParentID int64  `json:"parent_id"`
	Type     string `json:"type"`
	Title    string `json:"title"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ItemFilter selects items for listing queries. Zero values are
// ignored.
type ItemFilter struct {
	// Types restricts results to these item types.
	Types []string

	// IncludeIDs restricts results to these IDs when non-empty.
	IncludeIDs []int64

	// ExcludeIDs removes these IDs from results.
	ExcludeIDs []int64

	// RawPredicate is an extra SQL condition ANDed into the WHERE
	// clause. It is composed internally by filtering strategies, never
	// from request input.
	RawPredicate string

	// Offset and Limit page the result. A zero Limit means no limit.
	Offset int
	Limit  int
}

// itemIDs extracts the item IDs in order.
func itemIDs(list []Item) []int64 {
	ids := make([]int64, len(list))
	for i, item := range list {
		ids[i] = item.ID
	}
	return ids
}
