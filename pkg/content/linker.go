package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/groupgate/groupgate/pkg/events"
	"github.com/groupgate/groupgate/pkg/observability"
)

// MetaEditGroups is the item metadata key holding the serialized edit
// group list.
const MetaEditGroups = "edit_groups"

// Linker manages the association between items and groups. Read groups
// are edge rows in item_groups; edit groups are a serialized ID list in
// item_meta, mirroring how the two associations age differently (read
// groups gate every fetch, edit groups only gate writes).
type Linker struct {
	db         *sql.DB
	dispatcher *events.Dispatcher
}

// NewLinker creates a new linker. A nil dispatcher disables change
// events.
func NewLinker(db *sql.DB, dispatcher *events.Dispatcher) *Linker {
	return &Linker{db: db, dispatcher: dispatcher}
}

func (l *Linker) emit(ctx context.Context, event *events.Event) {
	if l.dispatcher == nil {
		return
	}
	event.ActorID = observability.GetActorID(ctx)
	_ = l.dispatcher.Dispatch(ctx, event)
}

// ItemReadGroups returns the read group IDs linked to an item. An empty
// result means the item is unrestricted.
func (l *Linker) ItemReadGroups(ctx context.Context, itemID int64) ([]int64, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT group_id FROM item_groups WHERE item_id = $1 ORDER BY group_id ASC`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get item read groups: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan read group: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get item read groups: %w", err)
	}
	return ids, nil
}

// BulkReadGroups returns the read groups of many items in one query.
// Items without groups are absent from the map.
func (l *Linker) BulkReadGroups(ctx context.Context, itemIDs []int64) (map[int64][]int64, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(
		`SELECT item_id, group_id FROM item_groups WHERE item_id IN (%s) ORDER BY item_id, group_id`,
		placeholders(1, len(itemIDs)),
	)
	args := make([]interface{}, len(itemIDs))
	for i, id := range itemIDs {
		args[i] = id
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load read groups: %w", err)
	}
	defer rows.Close()

	result := make(map[int64][]int64)
	for rows.Next() {
		var itemID, groupID int64
		if err := rows.Scan(&itemID, &groupID); err != nil {
			return nil, fmt.Errorf("failed to scan read group edge: %w", err)
		}
		result[itemID] = append(result[itemID], groupID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load read groups: %w", err)
	}
	return result, nil
}

// AllReadGroups returns every read group edge, keyed by item ID.
func (l *Linker) AllReadGroups(ctx context.Context) (map[int64][]int64, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT item_id, group_id FROM item_groups ORDER BY item_id, group_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load read group edges: %w", err)
	}
	defer rows.Close()

	result := make(map[int64][]int64)
	for rows.Next() {
		var itemID, groupID int64
		if err := rows.Scan(&itemID, &groupID); err != nil {
			return nil, fmt.Errorf("failed to scan read group edge: %w", err)
		}
		result[itemID] = append(result[itemID], groupID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load read group edges: %w", err)
	}
	return result, nil
}

// SetReadGroups replaces an item's read group links. Added and removed
// groups are reported as separate change events; suppress marks them so
// cascade listeners skip them.
func (l *Linker) SetReadGroups(ctx context.Context, itemID int64, groupIDs []int64, suppress bool) error {
	current, err := l.ItemReadGroups(ctx, itemID)
	if err != nil {
		return err
	}

	groupIDs = dedupeIDs(groupIDs)
	oldSet := idSet(current)
	newSet := idSet(groupIDs)

	var added, removed []int64
	for _, id := range groupIDs {
		if _, ok := oldSet[id]; !ok {
			added = append(added, id)
		}
	}
	for _, id := range current {
		if _, ok := newSet[id]; !ok {
			removed = append(removed, id)
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	for _, id := range removed {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM item_groups WHERE item_id = $1 AND group_id = $2`,
			itemID, id,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to unlink read group: %w", err)
		}
	}
	for _, id := range added {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO item_groups (item_id, group_id) VALUES ($1, $2)`,
			itemID, id,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to link read group: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit read group change: %w", err)
	}

	if len(added) > 0 {
		event := events.New(events.TypeItemReadGroupsAdded)
		event.ItemID = itemID
		event.GroupIDs = added
		event.SuppressCascade = suppress
		l.emit(ctx, event)
	}
	if len(removed) > 0 {
		event := events.New(events.TypeItemReadGroupsRemoved)
		event.ItemID = itemID
		event.GroupIDs = removed
		event.SuppressCascade = suppress
		l.emit(ctx, event)
	}

	return nil
}

// AddReadGroups links groups to an item, keeping existing links.
func (l *Linker) AddReadGroups(ctx context.Context, itemID int64, groupIDs []int64, suppress bool) error {
	current, err := l.ItemReadGroups(ctx, itemID)
	if err != nil {
		return err
	}
	return l.SetReadGroups(ctx, itemID, append(current, groupIDs...), suppress)
}

// RemoveReadGroups unlinks groups from an item.
func (l *Linker) RemoveReadGroups(ctx context.Context, itemID int64, groupIDs []int64, suppress bool) error {
	current, err := l.ItemReadGroups(ctx, itemID)
	if err != nil {
		return err
	}

	drop := idSet(groupIDs)
	kept := make([]int64, 0, len(current))
	for _, id := range current {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}
	return l.SetReadGroups(ctx, itemID, kept, suppress)
}

// ItemEditGroups returns the edit group IDs of an item. An empty result
// means only superusers may edit.
func (l *Linker) ItemEditGroups(ctx context.Context, itemID int64) ([]int64, error) {
	var raw string
	err := l.db.QueryRowContext(ctx,
		`SELECT meta_value FROM item_meta WHERE item_id = $1 AND meta_key = $2`,
		itemID, MetaEditGroups,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item edit groups: %w", err)
	}
	return decodeIDList(raw)
}

// BulkEditGroups returns the edit groups of many items in one query.
// Items without edit groups are absent from the map.
func (l *Linker) BulkEditGroups(ctx context.Context, itemIDs []int64) (map[int64][]int64, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(
		`SELECT item_id, meta_value FROM item_meta WHERE meta_key = $1 AND item_id IN (%s)`,
		placeholders(2, len(itemIDs)),
	)
	args := make([]interface{}, 0, len(itemIDs)+1)
	args = append(args, MetaEditGroups)
	for _, id := range itemIDs {
		args = append(args, id)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load edit groups: %w", err)
	}
	defer rows.Close()

	result := make(map[int64][]int64)
	for rows.Next() {
		var itemID int64
		var raw string
		if err := rows.Scan(&itemID, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan edit groups: %w", err)
		}
		ids, err := decodeIDList(raw)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", itemID, err)
		}
		if len(ids) > 0 {
			result[itemID] = ids
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load edit groups: %w", err)
	}
	return result, nil
}

// SetEditGroups replaces an item's edit group list. Unlike read group
// changes, each added or removed group is reported as its own event.
func (l *Linker) SetEditGroups(ctx context.Context, itemID int64, groupIDs []int64, suppress bool) error {
	current, err := l.ItemEditGroups(ctx, itemID)
	if err != nil {
		return err
	}

	groupIDs = dedupeIDs(groupIDs)
	oldSet := idSet(current)
	newSet := idSet(groupIDs)

	var added, removed []int64
	for _, id := range groupIDs {
		if _, ok := oldSet[id]; !ok {
			added = append(added, id)
		}
	}
	for _, id := range current {
		if _, ok := newSet[id]; !ok {
			removed = append(removed, id)
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}

	if err := l.writeEditGroups(ctx, itemID, groupIDs); err != nil {
		return err
	}

	for _, id := range added {
		event := events.New(events.TypeItemEditGroupsAdded)
		event.ItemID = itemID
		event.GroupID = id
		event.SuppressCascade = suppress
		l.emit(ctx, event)
	}
	for _, id := range removed {
		event := events.New(events.TypeItemEditGroupsRemoved)
		event.ItemID = itemID
		event.GroupID = id
		event.SuppressCascade = suppress
		l.emit(ctx, event)
	}

	return nil
}

// RemoveEditGroups deletes an item's edit group list outright, leaving
// the item editable by superusers only. The clear is reported as a
// single event carrying the previous list, not as per-group removals.
func (l *Linker) RemoveEditGroups(ctx context.Context, itemID int64) error {
	current, err := l.ItemEditGroups(ctx, itemID)
	if err != nil {
		return err
	}
	if err := l.writeEditGroups(ctx, itemID, nil); err != nil {
		return err
	}
	if len(current) == 0 {
		return nil
	}

	event := events.New(events.TypeItemEditGroupsCleared)
	event.ItemID = itemID
	event.GroupIDs = current
	l.emit(ctx, event)
	return nil
}

// FindItemsByEditGroup returns the IDs of items whose edit group list
// contains the group. Lists are decoded row by row; substring matching
// over the serialized form would misreport IDs that share digits.
func (l *Linker) FindItemsByEditGroup(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT item_id, meta_value FROM item_meta WHERE meta_key = $1 ORDER BY item_id ASC`,
		MetaEditGroups,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan edit group lists: %w", err)
	}
	defer rows.Close()

	var items []int64
	for rows.Next() {
		var itemID int64
		var raw string
		if err := rows.Scan(&itemID, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan edit groups: %w", err)
		}
		ids, err := decodeIDList(raw)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", itemID, err)
		}
		for _, id := range ids {
			if id == groupID {
				items = append(items, itemID)
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan edit group lists: %w", err)
	}
	return items, nil
}

// RemoveGroupEverywhere removes a group from all read edges and edit
// group lists. Used when the group itself is deleted.
func (l *Linker) RemoveGroupEverywhere(ctx context.Context, groupID int64) error {
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM item_groups WHERE group_id = $1`, groupID,
	); err != nil {
		return fmt.Errorf("failed to remove group read edges: %w", err)
	}

	affected, err := l.FindItemsByEditGroup(ctx, groupID)
	if err != nil {
		return err
	}
	for _, itemID := range affected {
		current, err := l.ItemEditGroups(ctx, itemID)
		if err != nil {
			return err
		}
		kept := make([]int64, 0, len(current))
		for _, id := range current {
			if id != groupID {
				kept = append(kept, id)
			}
		}
		if err := l.writeEditGroups(ctx, itemID, kept); err != nil {
			return err
		}
	}

	return nil
}

// HandleAccessChange reacts to group deletions by scrubbing the deleted
// group out of every item association.
func (l *Linker) HandleAccessChange(ctx context.Context, event *events.Event) error {
	if event.Type != events.TypeGroupDeleted {
		return nil
	}
	return l.RemoveGroupEverywhere(ctx, event.GroupID)
}

func (l *Linker) writeEditGroups(ctx context.Context, itemID int64, groupIDs []int64) error {
	if len(groupIDs) == 0 {
		if _, err := l.db.ExecContext(ctx,
			`DELETE FROM item_meta WHERE item_id = $1 AND meta_key = $2`,
			itemID, MetaEditGroups,
		); err != nil {
			return fmt.Errorf("failed to clear edit groups: %w", err)
		}
		return nil
	}

	raw, err := encodeIDList(groupIDs)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO item_meta (item_id, meta_key, meta_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (item_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value
	`
	if _, err := l.db.ExecContext(ctx, query, itemID, MetaEditGroups, raw); err != nil {
		return fmt.Errorf("failed to set edit groups: %w", err)
	}
	return nil
}

func encodeIDList(ids []int64) (string, error) {
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ID list: %w", err)
	}
	return string(data), nil
}

func decodeIDList(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ID list: %w", err)
	}
	return ids, nil
}

func idSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
