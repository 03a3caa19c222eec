package access

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/groupgate/groupgate/pkg/config"
	"github.com/groupgate/groupgate/pkg/content"
	"github.com/groupgate/groupgate/pkg/observability"
)

var (
	// ErrUnknownStrategy is returned for strategy names outside the
	// configured set. Listing fails closed on it.
	ErrUnknownStrategy = errors.New("unknown filtering strategy")

	// ErrPropagationDisabled is returned when the propagate strategy is
	// selected without write-time propagation. The mirrored edges it
	// relies on would not exist.
	ErrPropagationDisabled = errors.New("propagate strategy requires propagation to be enabled")
)

// refillBatchSize is the database page size for post-filter listing.
const refillBatchSize = 50

// Strategy is one way of applying read access to bulk listings. SQL
// strategies narrow the query through ApplyToFilter; post-filter
// strategies drop rows through FilterItems after the fetch.
type Strategy interface {
	// Name returns the configuration name of the strategy.
	Name() string

	// PostFilter reports whether results must run through FilterItems.
	PostFilter() bool

	// ApplyToFilter narrows the query for the user.
	ApplyToFilter(ctx context.Context, userID int64, filter *content.ItemFilter) error

	// FilterItems drops rows the user cannot read.
	FilterItems(ctx context.Context, userID int64, items []content.Item) ([]content.Item, error)
}

// Engine runs bulk listings through the configured strategy.
type Engine struct {
	resolver *Resolver
	items    *content.Store
	settings *config.Settings
	caps     Capabilities
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewEngine creates a filtering engine.
func NewEngine(
	resolver *Resolver,
	items *content.Store,
	settings *config.Settings,
	caps Capabilities,
	logger *observability.Logger,
	metrics *observability.Metrics,
) *Engine {
	return &Engine{
		resolver: resolver,
		items:    items,
		settings: settings,
		caps:     caps,
		logger:   logger,
		metrics:  metrics,
	}
}

// Strategy resolves a strategy by name.
func (e *Engine) Strategy(name string) (Strategy, error) {
	switch name {
	case config.StrategyFilter:
		return &filterStrategy{resolver: e.resolver}, nil
	case config.StrategyExclude:
		return &excludeStrategy{resolver: e.resolver}, nil
	case config.StrategyInclude:
		return &includeStrategy{resolver: e.resolver}, nil
	case config.StrategyPropagate:
		return &propagateStrategy{resolver: e.resolver, settings: e.settings}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// ListItems lists the items the user may read, through the active
// strategy. An unknown strategy denies everything rather than leaking.
func (e *Engine) ListItems(ctx context.Context, userID int64, filter content.ItemFilter) ([]content.Item, error) {
	if len(filter.Types) == 0 {
		filter.Types = e.settings.ReadItemTypes()
	}

	if e.caps.IgnoreGroups(userID) {
		return e.items.QueryItems(ctx, filter)
	}

	name := e.settings.Strategy()
	strategy, err := e.Strategy(name)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.FilterRequestsTotal.WithLabelValues(name).Inc()
	}

	if err := strategy.ApplyToFilter(ctx, userID, &filter); err != nil {
		return nil, err
	}

	if !strategy.PostFilter() {
		return e.items.QueryItems(ctx, filter)
	}
	return e.listPostFiltered(ctx, userID, strategy, filter)
}

// listPostFiltered pages through the raw query, drops unreadable rows
// and refills until the requested window is full. Offset and limit
// address the filtered sequence, not the raw one.
func (e *Engine) listPostFiltered(ctx context.Context, userID int64, strategy Strategy, filter content.ItemFilter) ([]content.Item, error) {
	offset := filter.Offset
	limit := filter.Limit

	if limit <= 0 {
		filter.Offset = 0
		rows, err := e.items.QueryItems(ctx, filter)
		if err != nil {
			return nil, err
		}
		kept, err := strategy.FilterItems(ctx, userID, rows)
		if err != nil {
			return nil, err
		}
		if offset >= len(kept) {
			return nil, nil
		}
		return kept[offset:], nil
	}

	var out []content.Item
	dbOffset := 0
	skipped := 0

	for {
		batch := filter
		batch.Offset = dbOffset
		batch.Limit = refillBatchSize

		rows, err := e.items.QueryItems(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return out, nil
		}

		kept, err := strategy.FilterItems(ctx, userID, rows)
		if err != nil {
			return nil, err
		}
		for _, item := range kept {
			if skipped < offset {
				skipped++
				continue
			}
			out = append(out, item)
			if len(out) == limit {
				return out, nil
			}
		}

		dbOffset += len(rows)
		if e.metrics != nil {
			e.metrics.FilterRefillsTotal.Inc()
		}
	}
}

// CountItems counts the items the user may read under the active
// strategy.
func (e *Engine) CountItems(ctx context.Context, userID int64, filter content.ItemFilter) (int, error) {
	filter.Offset = 0
	filter.Limit = 0
	items, err := e.ListItems(ctx, userID, filter)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// filterStrategy re-checks every row after the fetch. Slowest and
// always correct; the reference the other strategies are measured
// against.
type filterStrategy struct {
	resolver *Resolver
}

func (s *filterStrategy) Name() string     { return config.StrategyFilter }
func (s *filterStrategy) PostFilter() bool { return true }

func (s *filterStrategy) ApplyToFilter(ctx context.Context, userID int64, filter *content.ItemFilter) error {
	return nil
}

func (s *filterStrategy) FilterItems(ctx context.Context, userID int64, items []content.Item) ([]content.Item, error) {
	kept := make([]content.Item, 0, len(items))
	for _, item := range items {
		allowed, err := s.resolver.CanRead(ctx, userID, item.ID)
		if err != nil {
			return nil, err
		}
		if allowed {
			kept = append(kept, item)
		}
	}
	return kept, nil
}

// excludeStrategy precomputes the unreadable ID set and pushes it into
// the query as a NOT IN clause.
type excludeStrategy struct {
	resolver *Resolver
}

func (s *excludeStrategy) Name() string     { return config.StrategyExclude }
func (s *excludeStrategy) PostFilter() bool { return false }

func (s *excludeStrategy) ApplyToFilter(ctx context.Context, userID int64, filter *content.ItemFilter) error {
	excluded, err := s.resolver.UnreadableItemIDs(ctx, userID, filter.Types)
	if err != nil {
		return err
	}
	filter.ExcludeIDs = append(filter.ExcludeIDs, excluded...)
	return nil
}

func (s *excludeStrategy) FilterItems(ctx context.Context, userID int64, items []content.Item) ([]content.Item, error) {
	return items, nil
}

// includeStrategy precomputes the readable ID set and pushes it into
// the query as an IN clause.
type includeStrategy struct {
	resolver *Resolver
}

func (s *includeStrategy) Name() string     { return config.StrategyInclude }
func (s *includeStrategy) PostFilter() bool { return false }

func (s *includeStrategy) ApplyToFilter(ctx context.Context, userID int64, filter *content.ItemFilter) error {
	included, err := s.resolver.ReadableItemIDs(ctx, userID, filter.Types)
	if err != nil {
		return err
	}
	if len(included) == 0 {
		// No item carries ID zero, so this clause matches nothing.
		filter.IncludeIDs = []int64{0}
		return nil
	}
	filter.IncludeIDs = append(filter.IncludeIDs, included...)
	return nil
}

func (s *includeStrategy) FilterItems(ctx context.Context, userID int64, items []content.Item) ([]content.Item, error) {
	return items, nil
}

// propagateStrategy relies on write-time mirroring: every restricted
// descendant carries its ancestors' groups as its own edges, so a flat
// predicate over item_groups is enough.
type propagateStrategy struct {
	resolver *Resolver
	settings *config.Settings
}

func (s *propagateStrategy) Name() string     { return config.StrategyPropagate }
func (s *propagateStrategy) PostFilter() bool { return false }

func (s *propagateStrategy) ApplyToFilter(ctx context.Context, userID int64, filter *content.ItemFilter) error {
	if !s.settings.PropagateEnabled() {
		return ErrPropagationDisabled
	}

	effective, err := s.resolver.EffectiveGroups(ctx, userID)
	if err != nil {
		return err
	}

	predicate := "NOT EXISTS (SELECT 1 FROM item_groups ig WHERE ig.item_id = items.id)"
	if len(effective) > 0 {
		ids := make([]string, 0, len(effective))
		for id := range effective {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		predicate += fmt.Sprintf(
			" OR EXISTS (SELECT 1 FROM item_groups ig WHERE ig.item_id = items.id AND ig.group_id IN (%s))",
			strings.Join(ids, ", "),
		)
	}
	filter.RawPredicate = predicate
	return nil
}

func (s *propagateStrategy) FilterItems(ctx context.Context, userID int64, items []content.Item) ([]content.Item, error) {
	return items, nil
}
