package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/groupgate/groupgate/pkg/groups"
)

// Store handles item persistence. Read-group edges and edit-group
// metadata are managed by the Linker; the store covers the items
// themselves.
type Store struct {
	db *sql.DB
}

// NewStore creates a new content store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateItem creates an item under the given parent (zero for a root
// item).
func (s *Store) CreateItem(ctx context.Context, itemType, title string, parentID int64) (*Item, error) {
	if itemType == "" {
		return nil, fmt.Errorf("item type must not be empty")
	}
	if parentID != 0 {
		if _, err := s.GetItem(ctx, parentID); err != nil {
			return nil, fmt.Errorf("invalid parent: %w", err)
		}
	}

	query := `
		INSERT INTO items (parent_id, type, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	now := time.Now()
	item := &Item{
		ParentID:  parentID,
		Type:      itemType,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.QueryRowContext(ctx, query, parentID, itemType, title, now, now).Scan(&item.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	return item, nil
}

// GetItem retrieves an item by ID.
func (s *Store) GetItem(ctx context.Context, itemID int64) (*Item, error) {
	query := `
		SELECT id, parent_id, type, title, created_at, updated_at
		FROM items
		WHERE id = $1
	`

	var item Item
	err := s.db.QueryRowContext(ctx, query, itemID).Scan(
		&item.ID,
		&item.ParentID,
		&item.Type,
		&item.Title,
		&item.CreatedAt,
		&item.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrItemNotFound, itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	return &item, nil
}

// UpdateItem updates an item's title and parent.
func (s *Store) UpdateItem(ctx context.Context, item *Item) error {
	query := `
		UPDATE items
		SET parent_id = $1, title = $2, updated_at = $3
		WHERE id = $4
	`

	item.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx, query, item.ParentID, item.Title, item.UpdatedAt, item.ID)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: %d", ErrItemNotFound, item.ID)
	}

	return nil
}

// DeleteItem deletes an item along with its group edges and metadata.
func (s *Store) DeleteItem(ctx context.Context, itemID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM item_groups WHERE item_id = $1`, itemID); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete item group edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM item_meta WHERE item_id = $1`, itemID); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete item metadata: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, itemID)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		tx.Rollback()
		return fmt.Errorf("%w: %d", ErrItemNotFound, itemID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit item deletion: %w", err)
	}

	return nil
}

// GetChildren lists the direct children of an item. The zero parent
// lists root items.
func (s *Store) GetChildren(ctx context.Context, parentID int64) ([]Item, error) {
	query := `
		SELECT id, parent_id, type, title, created_at, updated_at
		FROM items
		WHERE parent_id = $1
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get children: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// GetAncestorIDs returns the IDs of an item's ancestors, nearest
// first. An item at the root returns an empty slice. A dangling parent
// pointer terminates the walk.
func (s *Store) GetAncestorIDs(ctx context.Context, itemID int64, maxDepth int) ([]int64, error) {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	var ancestors []int64
	current := item.ParentID
	for depth := 0; current != 0; depth++ {
		if depth >= maxDepth {
			return nil, fmt.Errorf("%w: item %d", groups.ErrDepthExceeded, itemID)
		}

		parent, err := s.GetItem(ctx, current)
		if err != nil {
			if errors.Is(err, ErrItemNotFound) {
				return ancestors, nil
			}
			return nil, err
		}
		ancestors = append(ancestors, parent.ID)
		current = parent.ParentID
	}
	return ancestors, nil
}

// GetDescendantIDs returns the IDs of every item below the given one,
// breadth first.
func (s *Store) GetDescendantIDs(ctx context.Context, itemID int64, maxDepth int) ([]int64, error) {
	var descendants []int64
	seen := map[int64]struct{}{itemID: {}}
	frontier := []int64{itemID}

	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= maxDepth {
			return nil, fmt.Errorf("%w: item %d", groups.ErrDepthExceeded, itemID)
		}

		var next []int64
		for _, id := range frontier {
			children, err := s.GetChildren(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				if _, ok := seen[child.ID]; ok {
					continue
				}
				seen[child.ID] = struct{}{}
				descendants = append(descendants, child.ID)
				next = append(next, child.ID)
			}
		}
		frontier = next
	}
	return descendants, nil
}

// ItemParentMap returns every item ID mapped to its parent ID. Set
// strategies walk inheritance over this map instead of issuing a query
// per item.
func (s *Store) ItemParentMap(ctx context.Context, types []string) (map[int64]int64, error) {
	query := "SELECT id, parent_id FROM items"
	var args []interface{}
	if len(types) > 0 {
		query += fmt.Sprintf(" WHERE type IN (%s)", placeholders(1, len(types)))
		for _, t := range types {
			args = append(args, t)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load item parents: %w", err)
	}
	defer rows.Close()

	parents := make(map[int64]int64)
	for rows.Next() {
		var id, parentID int64
		if err := rows.Scan(&id, &parentID); err != nil {
			return nil, fmt.Errorf("failed to scan item parent: %w", err)
		}
		parents[id] = parentID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load item parents: %w", err)
	}
	return parents, nil
}

// QueryItems lists items matching the filter in ID order.
func (s *Store) QueryItems(ctx context.Context, filter ItemFilter) ([]Item, error) {
	query, args := buildItemQuery(filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// CountItems counts items matching the filter, ignoring pagination.
func (s *Store) CountItems(ctx context.Context, filter ItemFilter) (int, error) {
	filter.Offset = 0
	filter.Limit = 0
	query, args := buildItemQuery(filter)
	query = strings.Replace(query,
		"SELECT id, parent_id, type, title, created_at, updated_at",
		"SELECT COUNT(*)", 1)
	query = strings.TrimSuffix(query, " ORDER BY id ASC")

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}

func buildItemQuery(filter ItemFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	next := 1

	if len(filter.Types) > 0 {
		conditions = append(conditions,
			fmt.Sprintf("type IN (%s)", placeholders(next, len(filter.Types))))
		for _, t := range filter.Types {
			args = append(args, t)
		}
		next += len(filter.Types)
	}
	if len(filter.IncludeIDs) > 0 {
		conditions = append(conditions,
			fmt.Sprintf("id IN (%s)", placeholders(next, len(filter.IncludeIDs))))
		for _, id := range filter.IncludeIDs {
			args = append(args, id)
		}
		next += len(filter.IncludeIDs)
	}
	if len(filter.ExcludeIDs) > 0 {
		conditions = append(conditions,
			fmt.Sprintf("id NOT IN (%s)", placeholders(next, len(filter.ExcludeIDs))))
		for _, id := range filter.ExcludeIDs {
			args = append(args, id)
		}
		next += len(filter.ExcludeIDs)
	}
	if filter.RawPredicate != "" {
		conditions = append(conditions, "("+filter.RawPredicate+")")
	}

	query := "SELECT id, parent_id, type, title, created_at, updated_at FROM items"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id ASC"
	switch {
	case filter.Limit > 0:
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	case filter.Offset > 0:
		// OFFSET without LIMIT is not accepted by every engine; an
		// explicit unbounded limit keeps the clause portable.
		query += fmt.Sprintf(" LIMIT %d", math.MaxInt64)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	return query, args
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	var list []Item
	for rows.Next() {
		var item Item
		err := rows.Scan(
			&item.ID,
			&item.ParentID,
			&item.Type,
			&item.Title,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		list = append(list, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read items: %w", err)
	}
	return list, nil
}

// placeholders renders "$start, $start+1, ..." for IN clauses.
func placeholders(start, count int) string {
	parts := make([]string, count)
	for i := 0; i < count; i++ {
		parts[i] = "$" + strconv.Itoa(start+i)
	}
	return strings.Join(parts, ", ")
}
