package access

import (
	"context"
	"fmt"

	"github.com/groupgate/groupgate/pkg/config"
	"github.com/groupgate/groupgate/pkg/content"
	"github.com/groupgate/groupgate/pkg/events"
	"github.com/groupgate/groupgate/pkg/groups"
	"github.com/groupgate/groupgate/pkg/observability"
)

// Propagator mirrors read group changes down the content tree. Grants
// cascade so descendants stay reachable by the same audiences; removals
// cascade unconditionally, even onto descendants that were granted the
// group on their own.
//
// The cascade is best-effort: a failing subtree is logged and skipped
// while the rest of the walk continues.
type Propagator struct {
	items    *content.Store
	linker   *content.Linker
	settings *config.Settings
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewPropagator creates a propagation engine.
func NewPropagator(
	items *content.Store,
	linker *content.Linker,
	settings *config.Settings,
	logger *observability.Logger,
	metrics *observability.Metrics,
) *Propagator {
	return &Propagator{
		items:    items,
		linker:   linker,
		settings: settings,
		logger:   logger,
		metrics:  metrics,
	}
}

// HandleAccessChange cascades read group changes to descendants. Events
// written by the cascade itself carry the suppress flag and are
// skipped, which is what keeps the recursion finite.
func (p *Propagator) HandleAccessChange(ctx context.Context, event *events.Event) error {
	if event.SuppressCascade {
		return nil
	}
	if !p.settings.PropagateEnabled() {
		return nil
	}

	switch event.Type {
	case events.TypeItemReadGroupsAdded:
		return p.cascade(ctx, event.ItemID, event.GroupIDs, false)
	case events.TypeItemReadGroupsRemoved:
		return p.cascade(ctx, event.ItemID, event.GroupIDs, true)
	default:
		return nil
	}
}

func (p *Propagator) cascade(ctx context.Context, rootID int64, groupIDs []int64, remove bool) error {
	direction := "add"
	if remove {
		direction = "remove"
	}
	if p.metrics != nil {
		p.metrics.PropagationWalksTotal.WithLabelValues(direction).Inc()
	}

	descendants, err := p.items.GetDescendantIDs(ctx, rootID, p.settings.MaxDepth())
	if err != nil {
		return err
	}

	// A failed descendant does not stop the walk; the rest of the
	// subtree may still accept the change.
	failures := 0
	for _, itemID := range descendants {
		if remove {
			err = p.linker.RemoveReadGroups(ctx, itemID, groupIDs, true)
		} else {
			err = p.linker.AddReadGroups(ctx, itemID, groupIDs, true)
		}
		if err != nil {
			failures++
			p.warn(err, itemID, direction)
		} else if p.metrics != nil {
			p.metrics.PropagationItemsTotal.WithLabelValues(direction).Inc()
		}
	}

	if failures > 0 {
		if p.metrics != nil {
			p.metrics.PropagationErrorsTotal.Add(float64(failures))
		}
		return fmt.Errorf("propagation from item %d completed with %d failures", rootID, failures)
	}
	return nil
}

func (p *Propagator) warn(err error, itemID int64, direction string) {
	if p.logger == nil {
		return
	}
	p.logger.WithError(err).WithFields(map[string]interface{}{
		"item_id":   itemID,
		"direction": direction,
	}).Warn("Propagation step failed, continuing")
}

// Reconcile walks the whole content tree and restores the mirroring
// invariant: every item carries at least its parent's read groups. It
// returns the number of items repaired. Run periodically to catch up
// after partial cascade failures.
func (p *Propagator) Reconcile(ctx context.Context) (int, error) {
	maxDepth := p.settings.MaxDepth()
	repaired := 0

	roots, err := p.items.GetChildren(ctx, 0)
	if err != nil {
		return 0, err
	}

	type node struct {
		item   content.Item
		groups []int64
	}

	frontier := make([]node, 0, len(roots))
	for _, item := range roots {
		itemGroups, err := p.linker.ItemReadGroups(ctx, item.ID)
		if err != nil {
			return repaired, err
		}
		frontier = append(frontier, node{item: item, groups: itemGroups})
	}

	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= maxDepth {
			return repaired, fmt.Errorf("%w: content tree", groups.ErrDepthExceeded)
		}

		var next []node
		for _, parent := range frontier {
			children, err := p.items.GetChildren(ctx, parent.item.ID)
			if err != nil {
				return repaired, err
			}
			for _, child := range children {
				childGroups, err := p.linker.ItemReadGroups(ctx, child.ID)
				if err != nil {
					return repaired, err
				}

				have := make(map[int64]struct{}, len(childGroups))
				for _, id := range childGroups {
					have[id] = struct{}{}
				}
				var missing []int64
				for _, id := range parent.groups {
					if _, ok := have[id]; !ok {
						missing = append(missing, id)
					}
				}

				if len(missing) > 0 {
					if err := p.linker.AddReadGroups(ctx, child.ID, missing, true); err != nil {
						return repaired, err
					}
					repaired++
					childGroups = append(childGroups, missing...)
				}

				next = append(next, node{item: child, groups: childGroups})
			}
		}
		frontier = next
	}

	return repaired, nil
}
