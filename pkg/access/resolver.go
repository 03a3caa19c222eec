package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/groupgate/groupgate/pkg/config"
	"github.com/groupgate/groupgate/pkg/content"
	"github.com/groupgate/groupgate/pkg/groups"
	"github.com/groupgate/groupgate/pkg/observability"
)

// Resolver answers read and edit questions for single items.
//
// Read access walks the content tree according to the configured parent
// check mode; edit access never walks. A user satisfies a group when
// they are a direct member or a member of any group below it, which is
// the same as the user's effective set (direct groups plus ancestors)
// containing the group.
type Resolver struct {
	items    *content.Store
	linker   *content.Linker
	members  *groups.Resolver
	cache    *HierarchyCache
	settings *config.Settings
	caps     Capabilities
	logger   *observability.Logger
	metrics  *observability.Metrics
	policies []Policy
}

// NewResolver creates an access resolver.
func NewResolver(
	items *content.Store,
	linker *content.Linker,
	members *groups.Resolver,
	cache *HierarchyCache,
	settings *config.Settings,
	caps Capabilities,
	logger *observability.Logger,
	metrics *observability.Metrics,
) *Resolver {
	return &Resolver{
		items:    items,
		linker:   linker,
		members:  members,
		cache:    cache,
		settings: settings,
		caps:     caps,
		logger:   logger,
		metrics:  metrics,
	}
}

// CanRead reports whether the user may read the item. Errors deny.
func (r *Resolver) CanRead(ctx context.Context, userID, itemID int64) (bool, error) {
	start := time.Now()
	allowed, reason, err := r.canRead(ctx, userID, itemID)
	if allowed && err == nil && !r.applyPolicies(ctx, Decision{UserID: userID, ItemID: itemID, Operation: "read"}) {
		allowed, reason = false, "policy"
	}
	r.observe("read", start, allowed, reason, err)
	return allowed, err
}

func (r *Resolver) canRead(ctx context.Context, userID, itemID int64) (bool, string, error) {
	if r.caps.IgnoreGroups(userID) {
		return true, "", nil
	}

	mode := r.settings.ParentCheckMode()
	maxDepth := r.settings.MaxDepth()

	var effective map[int64]struct{}
	current := itemID

	for depth := 0; ; depth++ {
		if depth >= maxDepth {
			return false, "depth_exceeded", fmt.Errorf("%w: item %d", groups.ErrDepthExceeded, itemID)
		}

		item, err := r.items.GetItem(ctx, current)
		if err != nil {
			if current != itemID && errors.Is(err, content.ErrItemNotFound) {
				// A dangling parent pointer ends the walk as if the
				// chain topped out.
				return true, "", nil
			}
			return false, "error", err
		}

		readGroups, err := r.linker.ItemReadGroups(ctx, current)
		if err != nil {
			return false, "error", err
		}

		var local bool
		switch {
		case len(readGroups) == 0:
			local = true
		case userID == 0:
			return false, "anonymous", nil
		default:
			if effective == nil {
				effective, err = r.EffectiveGroups(ctx, userID)
				if err != nil {
					return false, "error", err
				}
			}
			local = intersects(effective, readGroups)
		}

		switch mode {
		case config.ParentCheckInheritOnly:
			// Own groups decide outright; only groupless items defer to
			// their parent.
			if len(readGroups) > 0 {
				if !local {
					return false, "not_member", nil
				}
				return true, "", nil
			}
		default:
			// A local denial is final, and a local grant still needs
			// every ancestor to agree.
			if !local {
				return false, "not_member", nil
			}
		}

		if item.ParentID == 0 {
			return true, "", nil
		}
		current = item.ParentID
	}
}

// CanEdit reports whether the user may edit the item. Edit access never
// consults the content hierarchy; an item without edit groups is
// editable by superusers only.
func (r *Resolver) CanEdit(ctx context.Context, userID, itemID int64) (bool, error) {
	start := time.Now()
	allowed, reason, err := r.canEdit(ctx, userID, itemID)
	if allowed && err == nil && !r.applyPolicies(ctx, Decision{UserID: userID, ItemID: itemID, Operation: "edit"}) {
		allowed, reason = false, "policy"
	}
	r.observe("edit", start, allowed, reason, err)
	return allowed, err
}

func (r *Resolver) canEdit(ctx context.Context, userID, itemID int64) (bool, string, error) {
	if r.caps.IgnoreGroups(userID) {
		return true, "", nil
	}

	if _, err := r.items.GetItem(ctx, itemID); err != nil {
		return false, "error", err
	}

	editGroups, err := r.linker.ItemEditGroups(ctx, itemID)
	if err != nil {
		return false, "error", err
	}
	if len(editGroups) == 0 {
		return false, "no_edit_groups", nil
	}
	if userID == 0 {
		return false, "anonymous", nil
	}

	effective, err := r.EffectiveGroups(ctx, userID)
	if err != nil {
		return false, "error", err
	}
	if !intersects(effective, editGroups) {
		return false, "not_member", nil
	}
	return true, "", nil
}

// IsRestricted reports whether an item carries read groups of its own
// or inherits any from an ancestor.
func (r *Resolver) IsRestricted(ctx context.Context, itemID int64) (bool, error) {
	readGroups, err := r.linker.ItemReadGroups(ctx, itemID)
	if err != nil {
		return false, err
	}
	if len(readGroups) > 0 {
		return true, nil
	}

	ancestors, err := r.items.GetAncestorIDs(ctx, itemID, r.settings.MaxDepth())
	if err != nil {
		return false, err
	}
	if len(ancestors) == 0 {
		return false, nil
	}

	inherited, err := r.linker.BulkReadGroups(ctx, ancestors)
	if err != nil {
		return false, err
	}
	return len(inherited) > 0, nil
}

// EffectiveGroups returns the set of groups that satisfy checks for the
// user: direct memberships plus each group's ancestor chain.
func (r *Resolver) EffectiveGroups(ctx context.Context, userID int64) (map[int64]struct{}, error) {
	if userID == 0 {
		return map[int64]struct{}{}, nil
	}

	direct, err := r.members.UserGroups(ctx, userID, false)
	if err != nil {
		return nil, err
	}

	maxDepth := r.settings.MaxDepth()
	effective := make(map[int64]struct{}, len(direct)*2)
	for _, groupID := range direct {
		effective[groupID] = struct{}{}
		chain, err := r.cache.AncestorIDs(ctx, groupID, maxDepth)
		if err != nil {
			return nil, err
		}
		for _, id := range chain {
			effective[id] = struct{}{}
		}
	}
	return effective, nil
}

func (r *Resolver) observe(operation string, start time.Time, allowed bool, reason string, err error) {
	if r.metrics == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	r.metrics.AccessChecksTotal.WithLabelValues(operation, result).Inc()
	r.metrics.AccessCheckDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if !allowed && reason != "" && err == nil {
		r.metrics.AccessDeniedTotal.WithLabelValues(operation, reason).Inc()
	}
}

func intersects(set map[int64]struct{}, ids []int64) bool {
	for _, id := range ids {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
