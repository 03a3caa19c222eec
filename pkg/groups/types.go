package groups

import (
	"errors"
	"strconv"
	"time"
)

var (
	// ErrGroupNotFound is returned when a group ID does not exist.
	ErrGroupNotFound = errors.New("group not found")

	// ErrUnknownParameter is returned for metadata keys outside the
	// registered parameter set.
	ErrUnknownParameter = errors.New("unknown group parameter")

	// ErrDepthExceeded is returned when a hierarchy walk crosses the
	// configured depth bound, which indicates a cycle or a
	// misconfigured tree. Callers fail closed on it.
	ErrDepthExceeded = errors.New("group hierarchy depth exceeded")
)

// Group is an access group. Groups form a tree through ParentID; the
// zero ParentID marks a root group. The tree is independent of the
// content tree.
type Group struct {
	ID       int64 `json:"id"`
	Name     string `json:"name"`
	ParentID int64 `json:"parent_id"`

	// Users holds the direct member user IDs. Membership does not
	// cascade automatically; resolution walks ancestors explicitly.
	Users []int64 `json:"users"`

	// IsEdit marks the group as usable for edit gating.
	IsEdit bool `json:"is_edit"`

	// Invisible hides the group from default listings.
	Invisible bool `json:"invisible"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasUser reports direct membership.
func (g *Group) HasUser(userID int64) bool {
	for _, id := range g.Users {
		if id == userID {
			return true
		}
	}
	return false
}

// Filter selects groups by membership and metadata. Predicates combine
// with AND; zero values are ignored.
type Filter struct {
	// UserID keeps only groups that contain this user.
	UserID int64

	// NotUserID keeps only groups that do not contain this user.
	NotUserID int64

	// IsEdit filters on the edit flag when non-nil.
	IsEdit *bool

	// Invisible filters on visibility when non-nil. Listings that
	// leave it nil see every group.
	Invisible *bool
}

// Match reports whether the group passes the filter.
func (f *Filter) Match(g *Group) bool {
	if f.UserID != 0 && !g.HasUser(f.UserID) {
		return false
	}
	if f.NotUserID != 0 && g.HasUser(f.NotUserID) {
		return false
	}
	if f.IsEdit != nil && g.IsEdit != *f.IsEdit {
		return false
	}
	if f.Invisible != nil && g.Invisible != *f.Invisible {
		return false
	}
	return true
}

// IDs extracts the group IDs in order.
func IDs(list []Group) []int64 {
	ids := make([]int64, len(list))
	for i, g := range list {
		ids[i] = g.ID
	}
	return ids
}

// IDParentMap maps each group ID to its parent ID.
func IDParentMap(list []Group) map[int64]int64 {
	m := make(map[int64]int64, len(list))
	for _, g := range list {
		m[g.ID] = g.ParentID
	}
	return m
}

// Names maps each group ID to its name.
func Names(list []Group) map[int64]string {
	m := make(map[int64]string, len(list))
	for _, g := range list {
		m[g.ID] = g.Name
	}
	return m
}

// IDSet builds a membership set from the IDs.
func IDSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// ParseIDs converts string values to IDs, dropping entries that are not
// numeric. Bulk update inputs tolerate malformed entries rather than
// failing the whole request.
func ParseIDs(values []string) []int64 {
	ids := make([]int64, 0, len(values))
	for _, v := range values {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}
