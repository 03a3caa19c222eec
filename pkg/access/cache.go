package access

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/groupgate/groupgate/pkg/events"
	"github.com/groupgate/groupgate/pkg/groups"
	"github.com/groupgate/groupgate/pkg/observability"
)

// HierarchyCache memoizes group ancestor chains. Access checks resolve
// the same chains on every request; group structure changes rarely, so
// entries live until a group event or the TTL evicts them.
type HierarchyCache struct {
	store     *groups.Store
	ancestors *lru.LRU[int64, []int64]
	metrics   *observability.Metrics
}

// NewHierarchyCache creates a cache over the group store.
func NewHierarchyCache(store *groups.Store, maxEntries int, ttl time.Duration, metrics *observability.Metrics) *HierarchyCache {
	return &HierarchyCache{
		store:     store,
		ancestors: lru.NewLRU[int64, []int64](maxEntries, nil, ttl),
		metrics:   metrics,
	}
}

// AncestorIDs returns the ancestor chain of a group nearest-first.
func (c *HierarchyCache) AncestorIDs(ctx context.Context, groupID int64, maxDepth int) ([]int64, error) {
	if cached, ok := c.ancestors.Get(groupID); ok {
		if c.metrics != nil {
			c.metrics.CacheHitsTotal.WithLabelValues("group_ancestors").Inc()
		}
		return cached, nil
	}
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues("group_ancestors").Inc()
	}

	chain, err := c.store.GetAncestorIDs(ctx, groupID, maxDepth)
	if err != nil {
		return nil, err
	}
	c.ancestors.Add(groupID, chain)
	return chain, nil
}

// HandleAccessChange drops all memoized chains when the group tree
// changes. Invalidation is coarse; any structural change can move whole
// subtrees.
func (c *HierarchyCache) HandleAccessChange(ctx context.Context, event *events.Event) error {
	switch event.Type {
	case events.TypeGroupCreated, events.TypeGroupUpdated, events.TypeGroupDeleted:
		c.ancestors.Purge()
	}
	return nil
}
