package groups

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/groupgate/groupgate/pkg/events"
	"github.com/groupgate/groupgate/pkg/observability"
)

// Store handles group persistence. Group rows hold the tree (name and
// parent pointer); everything else lives in group_meta under the keys
// the parameter registry allows.
type Store struct {
	db         *sql.DB
	registry   *Registry
	dispatcher *events.Dispatcher
}

// NewStore creates a new group store. A nil registry gets the built-in
// parameters; a nil dispatcher disables change events.
func NewStore(db *sql.DB, registry *Registry, dispatcher *events.Dispatcher) *Store {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Store{db: db, registry: registry, dispatcher: dispatcher}
}

// Registry returns the parameter registry backing this store.
func (s *Store) Registry() *Registry {
	return s.registry
}

func (s *Store) emit(ctx context.Context, event *events.Event) {
	if s.dispatcher == nil {
		return
	}
	event.ActorID = observability.GetActorID(ctx)
	// Listener failures are best-effort; the write has committed.
	_ = s.dispatcher.Dispatch(ctx, event)
}

// CreateGroup creates a new group under the given parent (zero for a
// root group).
func (s *Store) CreateGroup(ctx context.Context, name string, parentID int64) (*Group, error) {
	if name == "" {
		return nil, fmt.Errorf("group name must not be empty")
	}
	if parentID != 0 {
		if _, err := s.GetGroup(ctx, parentID); err != nil {
			return nil, fmt.Errorf("invalid parent: %w", err)
		}
	}

	query := `
		INSERT INTO groups (name, parent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	now := time.Now()
	group := &Group{
		Name:      name,
		ParentID:  parentID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.QueryRowContext(ctx, query, name, parentID, now, now).Scan(&group.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	event := events.New(events.TypeGroupCreated)
	event.GroupID = group.ID
	s.emit(ctx, event)

	return group, nil
}

// GetGroup retrieves a group by ID, including its metadata.
func (s *Store) GetGroup(ctx context.Context, groupID int64) (*Group, error) {
	query := `
		SELECT id, name, parent_id, created_at, updated_at
		FROM groups
		WHERE id = $1
	`

	var group Group
	err := s.db.QueryRowContext(ctx, query, groupID).Scan(
		&group.ID,
		&group.Name,
		&group.ParentID,
		&group.CreatedAt,
		&group.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrGroupNotFound, groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	meta, err := s.loadMeta(ctx, []int64{groupID})
	if err != nil {
		return nil, err
	}
	if err := applyMeta(&group, meta[groupID]); err != nil {
		return nil, err
	}

	return &group, nil
}

// GetGroups lists groups passing the filter. Metadata predicates apply
// in-process after the fetch because membership and flags live outside
// the tree table.
func (s *Store) GetGroups(ctx context.Context, filter Filter) ([]Group, error) {
	query := `
		SELECT id, name, parent_id, created_at, updated_at
		FROM groups
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var list []Group
	for rows.Next() {
		var group Group
		err := rows.Scan(
			&group.ID,
			&group.Name,
			&group.ParentID,
			&group.CreatedAt,
			&group.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		list = append(list, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	if len(list) == 0 {
		return nil, nil
	}

	meta, err := s.loadMeta(ctx, IDs(list))
	if err != nil {
		return nil, err
	}

	filtered := make([]Group, 0, len(list))
	for i := range list {
		if err := applyMeta(&list[i], meta[list[i].ID]); err != nil {
			return nil, err
		}
		if filter.Match(&list[i]) {
			filtered = append(filtered, list[i])
		}
	}

	return filtered, nil
}

// CountGroups counts groups passing the filter.
func (s *Store) CountGroups(ctx context.Context, filter Filter) (int, error) {
	list, err := s.GetGroups(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// UpdateGroup updates a group's name and parent.
func (s *Store) UpdateGroup(ctx context.Context, group *Group) error {
	if group.ParentID == group.ID && group.ID != 0 {
		return fmt.Errorf("group cannot be its own parent")
	}
	if group.ParentID != 0 {
		if _, err := s.GetGroup(ctx, group.ParentID); err != nil {
			return fmt.Errorf("invalid parent: %w", err)
		}
	}

	query := `
		UPDATE groups
		SET name = $1, parent_id = $2, updated_at = $3
		WHERE id = $4
	`

	group.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx, query,
		group.Name,
		group.ParentID,
		group.UpdatedAt,
		group.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: %d", ErrGroupNotFound, group.ID)
	}

	event := events.New(events.TypeGroupUpdated)
	event.GroupID = group.ID
	s.emit(ctx, event)

	return nil
}

// DeleteGroup deletes a group and its metadata. Children are reparented
// to the deleted group's parent so the tree stays connected. Listeners
// (content linker, audit) handle the removal of the group from item
// relationships.
func (s *Store) DeleteGroup(ctx context.Context, groupID int64) error {
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE groups SET parent_id = $1 WHERE parent_id = $2`,
		group.ParentID, groupID,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to reparent children: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM group_meta WHERE group_id = $1`, groupID,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete group metadata: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM groups WHERE id = $1`, groupID,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete group: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit group deletion: %w", err)
	}

	event := events.New(events.TypeGroupDeleted)
	event.GroupID = groupID
	s.emit(ctx, event)

	return nil
}

// GetChildren lists the direct children of a group.
func (s *Store) GetChildren(ctx context.Context, groupID int64) ([]Group, error) {
	query := `
		SELECT id, name, parent_id, created_at, updated_at
		FROM groups
		WHERE parent_id = $1
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get children: %w", err)
	}
	defer rows.Close()

	var list []Group
	for rows.Next() {
		var group Group
		err := rows.Scan(
			&group.ID,
			&group.Name,
			&group.ParentID,
			&group.CreatedAt,
			&group.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		list = append(list, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get children: %w", err)
	}

	if len(list) > 0 {
		meta, err := s.loadMeta(ctx, IDs(list))
		if err != nil {
			return nil, err
		}
		for i := range list {
			if err := applyMeta(&list[i], meta[list[i].ID]); err != nil {
				return nil, err
			}
		}
	}

	return list, nil
}

// GetAncestorIDs walks the parent chain nearest-first until a root
// group. maxDepth bounds the walk against cycles.
func (s *Store) GetAncestorIDs(ctx context.Context, groupID int64, maxDepth int) ([]int64, error) {
	var ancestors []int64
	current := groupID

	for depth := 0; ; depth++ {
		if depth >= maxDepth {
			return nil, fmt.Errorf("%w: group %d", ErrDepthExceeded, groupID)
		}

		var parentID int64
		err := s.db.QueryRowContext(ctx,
			`SELECT parent_id FROM groups WHERE id = $1`, current,
		).Scan(&parentID)
		if err == sql.ErrNoRows {
			if current == groupID {
				return nil, fmt.Errorf("%w: %d", ErrGroupNotFound, groupID)
			}
			// Dangling parent pointer terminates the walk.
			return ancestors, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to walk ancestors: %w", err)
		}

		if parentID == 0 {
			return ancestors, nil
		}
		ancestors = append(ancestors, parentID)
		current = parentID
	}
}

// GetDescendantIDs walks the subtree below a group breadth-first.
// maxDepth bounds the walk against cycles.
func (s *Store) GetDescendantIDs(ctx context.Context, groupID int64, maxDepth int) ([]int64, error) {
	var descendants []int64
	seen := map[int64]struct{}{groupID: {}}
	frontier := []int64{groupID}

	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= maxDepth {
			return nil, fmt.Errorf("%w: group %d", ErrDepthExceeded, groupID)
		}

		next := make([]int64, 0)
		for _, id := range frontier {
			rows, err := s.db.QueryContext(ctx,
				`SELECT id FROM groups WHERE parent_id = $1`, id,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to walk descendants: %w", err)
			}
			for rows.Next() {
				var childID int64
				if err := rows.Scan(&childID); err != nil {
					rows.Close()
					return nil, fmt.Errorf("failed to scan descendant: %w", err)
				}
				if _, ok := seen[childID]; ok {
					continue
				}
				seen[childID] = struct{}{}
				descendants = append(descendants, childID)
				next = append(next, childID)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return nil, fmt.Errorf("failed to walk descendants: %w", err)
			}
		}
		frontier = next
	}

	return descendants, nil
}

// SetUsers replaces the member list of a group. Added and removed users
// are reported as separate change events.
func (s *Store) SetUsers(ctx context.Context, groupID int64, users []int64) error {
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}

	users = dedupeIDs(users)
	oldSet := IDSet(group.Users)
	newSet := IDSet(users)

	var added, removed []int64
	for _, id := range users {
		if _, ok := oldSet[id]; !ok {
			added = append(added, id)
		}
	}
	for _, id := range group.Users {
		if _, ok := newSet[id]; !ok {
			removed = append(removed, id)
		}
	}

	encoded, err := encodeUsers(users)
	if err != nil {
		return err
	}
	if err := s.setMeta(ctx, groupID, ParamUsers, encoded); err != nil {
		return err
	}

	if len(added) > 0 {
		event := events.New(events.TypeGroupUsersAdded)
		event.GroupID = groupID
		event.UserIDs = added
		s.emit(ctx, event)
	}
	if len(removed) > 0 {
		event := events.New(events.TypeGroupUsersRemoved)
		event.GroupID = groupID
		event.UserIDs = removed
		s.emit(ctx, event)
	}

	return nil
}

// AddUsers adds users to a group, preserving existing members.
func (s *Store) AddUsers(ctx context.Context, groupID int64, users []int64) error {
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	return s.SetUsers(ctx, groupID, append(group.Users, users...))
}

// RemoveUsers removes users from a group.
func (s *Store) RemoveUsers(ctx context.Context, groupID int64, users []int64) error {
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}

	drop := IDSet(users)
	kept := make([]int64, 0, len(group.Users))
	for _, id := range group.Users {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}
	return s.SetUsers(ctx, groupID, kept)
}

// SetEditFlag marks or unmarks a group as an edit group.
func (s *Store) SetEditFlag(ctx context.Context, groupID int64, isEdit bool) error {
	if _, err := s.GetGroup(ctx, groupID); err != nil {
		return err
	}
	if err := s.setMeta(ctx, groupID, ParamIsEdit, strconv.FormatBool(isEdit)); err != nil {
		return err
	}

	event := events.New(events.TypeGroupUpdated)
	event.GroupID = groupID
	s.emit(ctx, event)
	return nil
}

// SetInvisible hides or unhides a group in default listings.
func (s *Store) SetInvisible(ctx context.Context, groupID int64, invisible bool) error {
	if _, err := s.GetGroup(ctx, groupID); err != nil {
		return err
	}
	if err := s.setMeta(ctx, groupID, ParamInvisible, strconv.FormatBool(invisible)); err != nil {
		return err
	}

	event := events.New(events.TypeGroupUpdated)
	event.GroupID = groupID
	s.emit(ctx, event)
	return nil
}

// SetParam writes a registered metadata value.
func (s *Store) SetParam(ctx context.Context, groupID int64, key, value string) error {
	if err := s.registry.ValidateValue(key, value); err != nil {
		return err
	}
	if _, err := s.GetGroup(ctx, groupID); err != nil {
		return err
	}
	return s.setMeta(ctx, groupID, key, value)
}

// GetParam reads a metadata value. The empty string means unset.
func (s *Store) GetParam(ctx context.Context, groupID int64, key string) (string, error) {
	if _, ok := s.registry.Lookup(key); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownParameter, key)
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT meta_value FROM group_meta WHERE group_id = $1 AND meta_key = $2`,
		groupID, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get group parameter: %w", err)
	}
	return value, nil
}

func (s *Store) setMeta(ctx context.Context, groupID int64, key, value string) error {
	query := `
		INSERT INTO group_meta (group_id, meta_key, meta_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value
	`
	if _, err := s.db.ExecContext(ctx, query, groupID, key, value); err != nil {
		return fmt.Errorf("failed to set group metadata: %w", err)
	}
	return nil
}

// loadMeta fetches metadata for a set of groups in one query.
func (s *Store) loadMeta(ctx context.Context, groupIDs []int64) (map[int64]map[string]string, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(
		`SELECT group_id, meta_key, meta_value FROM group_meta WHERE group_id IN (%s)`,
		placeholders(1, len(groupIDs)),
	)

	args := make([]interface{}, len(groupIDs))
	for i, id := range groupIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load group metadata: %w", err)
	}
	defer rows.Close()

	meta := make(map[int64]map[string]string, len(groupIDs))
	for rows.Next() {
		var groupID int64
		var key, value string
		if err := rows.Scan(&groupID, &key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan group metadata: %w", err)
		}
		if meta[groupID] == nil {
			meta[groupID] = make(map[string]string)
		}
		meta[groupID][key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load group metadata: %w", err)
	}

	return meta, nil
}

// applyMeta decodes stored metadata onto the typed group fields.
func applyMeta(group *Group, meta map[string]string) error {
	group.Users = nil
	group.IsEdit = false
	group.Invisible = false

	if meta == nil {
		return nil
	}

	if raw, ok := meta[ParamUsers]; ok {
		users, err := decodeUsers(raw)
		if err != nil {
			return fmt.Errorf("group %d: %w", group.ID, err)
		}
		group.Users = users
	}
	if raw, ok := meta[ParamIsEdit]; ok {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("group %d: invalid is_edit value: %w", group.ID, err)
		}
		group.IsEdit = v
	}
	if raw, ok := meta[ParamInvisible]; ok {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("group %d: invalid invisible value: %w", group.ID, err)
		}
		group.Invisible = v
	}

	return nil
}

// placeholders renders "$start, $start+1, ..." for IN clauses.
func placeholders(start, count int) string {
	parts := make([]string, count)
	for i := 0; i < count; i++ {
		parts[i] = "$" + strconv.Itoa(start+i)
	}
	return strings.Join(parts, ", ")
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
