package access

import (
	"github.com/groupgate/groupgate/pkg/config"
)

// Capabilities answers per-user privilege questions that sit outside
// the group model itself.
type Capabilities interface {
	// IgnoreGroups reports whether the user bypasses all group checks.
	IgnoreGroups(userID int64) bool

	// ManageGroups reports whether the user may administer groups and
	// item links.
	ManageGroups(userID int64) bool

	// ViewMarkings reports whether restricted titles are marked for the
	// user.
	ViewMarkings(userID int64) bool
}

// StaticCapabilities derives capabilities from the configured user ID
// lists. Superusers implicitly hold every capability.
type StaticCapabilities struct {
	settings *config.Settings
}

// NewStaticCapabilities creates capabilities backed by live settings.
func NewStaticCapabilities(settings *config.Settings) *StaticCapabilities {
	return &StaticCapabilities{settings: settings}
}

func (c *StaticCapabilities) IgnoreGroups(userID int64) bool {
	return userID != 0 && contains(c.settings.SuperUserIDs(), userID)
}

func (c *StaticCapabilities) ManageGroups(userID int64) bool {
	if c.IgnoreGroups(userID) {
		return true
	}
	return userID != 0 && contains(c.settings.ManagerUserIDs(), userID)
}

func (c *StaticCapabilities) ViewMarkings(userID int64) bool {
	if c.IgnoreGroups(userID) {
		return true
	}
	return userID != 0 && contains(c.settings.MarkerUserIDs(), userID)
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
