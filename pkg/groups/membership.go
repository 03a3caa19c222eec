package groups

import (
	"context"
	"fmt"
)

// Resolver answers membership questions over the group tree. Belonging
// to a group implies belonging to every ancestor of that group, so a
// user's effective set is their direct groups plus each group's
// ancestor chain.
type Resolver struct {
	store    *Store
	maxDepth int
}

// NewResolver creates a membership resolver. maxDepth bounds hierarchy
// walks.
func NewResolver(store *Store, maxDepth int) *Resolver {
	return &Resolver{store: store, maxDepth: maxDepth}
}

// UserGroups returns the IDs of the groups a user belongs to. With
// includeAncestors each direct group is preceded by its ancestor chain
// nearest-first, the member group closing its own chain; a group
// reachable through several chains appears once per chain. Callers
// that need a set use UserGroupIDSet. The zero user ID (anonymous)
// belongs to no groups.
func (r *Resolver) UserGroups(ctx context.Context, userID int64, includeAncestors bool) ([]int64, error) {
	if userID == 0 {
		return nil, nil
	}

	direct, err := r.store.GetGroups(ctx, Filter{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user groups: %w", err)
	}

	var ids []int64
	for _, g := range direct {
		if includeAncestors {
			ancestors, err := r.store.GetAncestorIDs(ctx, g.ID, r.maxDepth)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve user groups: %w", err)
			}
			ids = append(ids, ancestors...)
		}
		ids = append(ids, g.ID)
	}

	return ids, nil
}

// UserGroupIDSet returns the user's effective groups as a set.
func (r *Resolver) UserGroupIDSet(ctx context.Context, userID int64, includeAncestors bool) (map[int64]struct{}, error) {
	ids, err := r.UserGroups(ctx, userID, includeAncestors)
	if err != nil {
		return nil, err
	}
	return IDSet(ids), nil
}

// NotUserGroups returns the groups the user is not a direct member of.
// Ancestry is ignored here; the result answers "which groups could this
// user still be added to".
func (r *Resolver) NotUserGroups(ctx context.Context, userID int64) ([]Group, error) {
	return r.store.GetGroups(ctx, Filter{NotUserID: userID})
}

// UserInGroup reports whether a user belongs to a group. With hier,
// membership in any group below it in the tree also counts; without,
// only direct membership does.
func (r *Resolver) UserInGroup(ctx context.Context, userID, groupID int64, hier bool) (bool, error) {
	if userID == 0 {
		return false, nil
	}

	group, err := r.store.GetGroup(ctx, groupID)
	if err != nil {
		return false, err
	}
	if group.HasUser(userID) {
		return true, nil
	}
	if !hier {
		return false, nil
	}

	descendants, err := r.store.GetDescendantIDs(ctx, groupID, r.maxDepth)
	if err != nil {
		return false, err
	}
	if len(descendants) == 0 {
		return false, nil
	}

	memberOf, err := r.UserGroupIDSet(ctx, userID, false)
	if err != nil {
		return false, err
	}
	for _, id := range descendants {
		if _, ok := memberOf[id]; ok {
			return true, nil
		}
	}

	return false, nil
}
