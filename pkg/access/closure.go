package access

import (
	"context"
	"fmt"

	"github.com/groupgate/groupgate/pkg/config"
	"github.com/groupgate/groupgate/pkg/groups"
)

// snapshot is an in-memory view of the content tree and its read
// groups, loaded once per set computation so inheritance walks stay off
// the database.
type snapshot struct {
	parents    map[int64]int64
	readGroups map[int64][]int64
}

func (r *Resolver) loadSnapshot(ctx context.Context, types []string) (*snapshot, error) {
	parents, err := r.items.ItemParentMap(ctx, types)
	if err != nil {
		return nil, err
	}
	readGroups, err := r.linker.AllReadGroups(ctx)
	if err != nil {
		return nil, err
	}
	return &snapshot{parents: parents, readGroups: readGroups}, nil
}

// ReadableItemIDs computes the IDs of every item of the given types the
// user can read, by walking inheritance over an in-memory snapshot.
func (r *Resolver) ReadableItemIDs(ctx context.Context, userID int64, types []string) ([]int64, error) {
	readable, all, err := r.readableSet(ctx, userID, types)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(readable))
	for _, id := range all {
		if readable[id] {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// UnreadableItemIDs computes the complement of ReadableItemIDs.
func (r *Resolver) UnreadableItemIDs(ctx context.Context, userID int64, types []string) ([]int64, error) {
	readable, all, err := r.readableSet(ctx, userID, types)
	if err != nil {
		return nil, err
	}

	var ids []int64
	for _, id := range all {
		if !readable[id] {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *Resolver) readableSet(ctx context.Context, userID int64, types []string) (map[int64]bool, []int64, error) {
	snap, err := r.loadSnapshot(ctx, types)
	if err != nil {
		return nil, nil, err
	}

	all := make([]int64, 0, len(snap.parents))
	for id := range snap.parents {
		all = append(all, id)
	}

	if r.caps.IgnoreGroups(userID) {
		readable := make(map[int64]bool, len(all))
		for _, id := range all {
			readable[id] = true
		}
		return readable, all, nil
	}

	effective, err := r.EffectiveGroups(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	mode := r.settings.ParentCheckMode()
	maxDepth := r.settings.MaxDepth()
	memo := make(map[int64]bool, len(all))

	var eval func(id int64, depth int) (bool, error)
	eval = func(id int64, depth int) (bool, error) {
		if decided, ok := memo[id]; ok {
			return decided, nil
		}
		if depth >= maxDepth {
			return false, fmt.Errorf("%w: item %d", groups.ErrDepthExceeded, id)
		}

		readGroups := snap.readGroups[id]
		local := len(readGroups) == 0 || intersects(effective, readGroups)

		parent := snap.parents[id]
		_, parentKnown := snap.parents[parent]

		var result bool
		var err error
		switch mode {
		case config.ParentCheckInheritOnly:
			switch {
			case len(readGroups) > 0:
				result = local
			case parent == 0 || !parentKnown:
				result = true
			default:
				result, err = eval(parent, depth+1)
			}
		default:
			switch {
			case !local:
				result = false
			case parent == 0 || !parentKnown:
				result = true
			default:
				result, err = eval(parent, depth+1)
			}
		}
		if err != nil {
			return false, err
		}

		memo[id] = result
		return result, nil
	}

	for _, id := range all {
		if _, err := eval(id, 0); err != nil {
			return nil, nil, err
		}
	}

	return memo, all, nil
}
