package groups

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/groupgate/groupgate/pkg/events"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	// Create minimal tables for testing
	_, err = db.Exec(`
		CREATE TABLE groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			parent_id INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE group_meta (
			group_id INTEGER NOT NULL,
			meta_key TEXT NOT NULL,
			meta_value TEXT NOT NULL,
			PRIMARY KEY (group_id, meta_key)
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}

	return db
}

func TestStore_GroupCRUD(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewStore(db, nil, nil)

	// Create
	group, err := store.CreateGroup(ctx, "engineering", 0)
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if group.ID == 0 {
		t.Error("Expected group ID to be set after creation")
	}

	// Read
	retrieved, err := store.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if retrieved.Name != "engineering" {
		t.Errorf("Expected name engineering, got %s", retrieved.Name)
	}
	if retrieved.ParentID != 0 {
		t.Errorf("Expected root group, got parent %d", retrieved.ParentID)
	}

	// Update
	retrieved.Name = "platform"
	if err := store.UpdateGroup(ctx, retrieved); err != nil {
		t.Fatalf("UpdateGroup failed: %v", err)
	}

	updated, err := store.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup after update failed: %v", err)
	}
	if updated.Name != "platform" {
		t.Errorf("Expected name to be updated, got %s", updated.Name)
	}

	// Delete
	if err := store.DeleteGroup(ctx, group.ID); err != nil {
		t.Fatalf("DeleteGroup failed: %v", err)
	}

	_, err = store.GetGroup(ctx, group.ID)
	if !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("Expected ErrGroupNotFound after delete, got %v", err)
	}
}

func TestStore_CreateGroup_InvalidParent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db, nil, nil)
	if _, err := store.CreateGroup(context.Background(), "orphan", 999); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("Expected ErrGroupNotFound for missing parent, got %v", err)
	}
}

func TestStore_DeleteGroup_ReparentsChildren(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewStore(db, nil, nil)

	root, _ := store.CreateGroup(ctx, "root", 0)
	middle, _ := store.CreateGroup(ctx, "middle", root.ID)
	leaf, _ := store.CreateGroup(ctx, "leaf", middle.ID)

	if err := store.DeleteGroup(ctx, middle.ID); err != nil {
		t.Fatalf("DeleteGroup failed: %v", err)
	}

	moved, err := store.GetGroup(ctx, leaf.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if moved.ParentID != root.ID {
		t.Errorf("Expected leaf reparented to %d, got %d", root.ID, moved.ParentID)
	}
}

func TestStore_SetUsers_DiffEvents(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	dispatcher := events.NewDispatcher(nil)

	var received []*events.Event
	dispatcher.Register(events.ListenerFunc(func(ctx context.Context, event *events.Event) error {
		received = append(received, event)
		return nil
	}))

	store := NewStore(db, nil, dispatcher)
	group, _ := store.CreateGroup(ctx, "sales", 0)
	received = nil

	if err := store.SetUsers(ctx, group.ID, []int64{1, 2, 3}); err != nil {
		t.Fatalf("SetUsers failed: %v", err)
	}
	if len(received) != 1 || received[0].Type != events.TypeGroupUsersAdded {
		t.Fatalf("Expected one users-added event, got %+v", received)
	}
	if len(received[0].UserIDs) != 3 {
		t.Errorf("Expected 3 added users, got %v", received[0].UserIDs)
	}

	// Replace: 1 stays, 2 and 3 leave, 4 joins
	received = nil
	if err := store.SetUsers(ctx, group.ID, []int64{1, 4}); err != nil {
		t.Fatalf("SetUsers failed: %v", err)
	}

	var added, removed []int64
	for _, event := range received {
		switch event.Type {
		case events.TypeGroupUsersAdded:
			added = event.UserIDs
		case events.TypeGroupUsersRemoved:
			removed = event.UserIDs
		}
	}
	if len(added) != 1 || added[0] != 4 {
		t.Errorf("Expected user 4 added, got %v", added)
	}
	if len(removed) != 2 {
		t.Errorf("Expected users 2 and 3 removed, got %v", removed)
	}

	group, err := store.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if !group.HasUser(1) || !group.HasUser(4) || group.HasUser(2) {
		t.Errorf("Unexpected member list: %v", group.Users)
	}
}

func TestStore_AddRemoveUsers(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewStore(db, nil, nil)
	group, _ := store.CreateGroup(ctx, "qa", 0)

	if err := store.AddUsers(ctx, group.ID, []int64{10, 11}); err != nil {
		t.Fatalf("AddUsers failed: %v", err)
	}
	if err := store.AddUsers(ctx, group.ID, []int64{11, 12}); err != nil {
		t.Fatalf("AddUsers failed: %v", err)
	}

	group, _ = store.GetGroup(ctx, group.ID)
	if len(group.Users) != 3 {
		t.Errorf("Expected 3 distinct members, got %v", group.Users)
	}

	if err := store.RemoveUsers(ctx, group.ID, []int64{10, 99}); err != nil {
		t.Fatalf("RemoveUsers failed: %v", err)
	}
	group, _ = store.GetGroup(ctx, group.ID)
	if len(group.Users) != 2 || group.HasUser(10) {
		t.Errorf("Expected user 10 removed, got %v", group.Users)
	}
}

func TestStore_GetGroups_Filters(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewStore(db, nil, nil)

	readers, _ := store.CreateGroup(ctx, "readers", 0)
	editors, _ := store.CreateGroup(ctx, "editors", 0)
	hidden, _ := store.CreateGroup(ctx, "hidden", 0)

	store.SetUsers(ctx, readers.ID, []int64{1, 2})
	store.SetUsers(ctx, editors.ID, []int64{2})
	store.SetEditFlag(ctx, editors.ID, true)
	store.SetInvisible(ctx, hidden.ID, true)

	all, err := store.GetGroups(ctx, Filter{})
	if err != nil {
		t.Fatalf("GetGroups failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 groups, got %d", len(all))
	}

	edit := true
	editOnly, err := store.GetGroups(ctx, Filter{IsEdit: &edit})
	if err != nil {
		t.Fatalf("GetGroups failed: %v", err)
	}
	if len(editOnly) != 1 || editOnly[0].ID != editors.ID {
		t.Errorf("Expected only the edit group, got %v", IDs(editOnly))
	}

	visible := false
	visibleOnly, err := store.GetGroups(ctx, Filter{Invisible: &visible})
	if err != nil {
		t.Fatalf("GetGroups failed: %v", err)
	}
	if len(visibleOnly) != 2 {
		t.Errorf("Expected 2 visible groups, got %v", IDs(visibleOnly))
	}

	forUser, err := store.GetGroups(ctx, Filter{UserID: 1})
	if err != nil {
		t.Fatalf("GetGroups failed: %v", err)
	}
	if len(forUser) != 1 || forUser[0].ID != readers.ID {
		t.Errorf("Expected only readers for user 1, got %v", IDs(forUser))
	}

	notUser, err := store.GetGroups(ctx, Filter{NotUserID: 2})
	if err != nil {
		t.Fatalf("GetGroups failed: %v", err)
	}
	if len(notUser) != 1 || notUser[0].ID != hidden.ID {
		t.Errorf("Expected only hidden for not-user 2, got %v", IDs(notUser))
	}
}

func TestStore_AncestorsAndDescendants(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewStore(db, nil, nil)

	root, _ := store.CreateGroup(ctx, "root", 0)
	child, _ := store.CreateGroup(ctx, "child", root.ID)
	grandchild, _ := store.CreateGroup(ctx, "grandchild", child.ID)
	sibling, _ := store.CreateGroup(ctx, "sibling", root.ID)

	ancestors, err := store.GetAncestorIDs(ctx, grandchild.ID, 64)
	if err != nil {
		t.Fatalf("GetAncestorIDs failed: %v", err)
	}
	if len(ancestors) != 2 || ancestors[0] != child.ID || ancestors[1] != root.ID {
		t.Errorf("Expected nearest-first ancestors [%d %d], got %v", child.ID, root.ID, ancestors)
	}

	descendants, err := store.GetDescendantIDs(ctx, root.ID, 64)
	if err != nil {
		t.Fatalf("GetDescendantIDs failed: %v", err)
	}
	want := IDSet([]int64{child.ID, grandchild.ID, sibling.ID})
	if len(descendants) != 3 {
		t.Fatalf("Expected 3 descendants, got %v", descendants)
	}
	for _, id := range descendants {
		if _, ok := want[id]; !ok {
			t.Errorf("Unexpected descendant %d", id)
		}
	}

	children, err := store.GetChildren(ctx, root.ID)
	if err != nil {
		t.Fatalf("GetChildren failed: %v", err)
	}
	if len(children) != 2 {
		t.Errorf("Expected 2 children, got %v", IDs(children))
	}
}

func TestStore_DepthBound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewStore(db, nil, nil)

	a, _ := store.CreateGroup(ctx, "a", 0)
	b, _ := store.CreateGroup(ctx, "b", a.ID)

	// Force a cycle directly; UpdateGroup guards the obvious self-parent
	// case but not mutual cycles.
	if _, err := db.Exec(`UPDATE groups SET parent_id = $1 WHERE id = $2`, b.ID, a.ID); err != nil {
		t.Fatalf("Failed to force cycle: %v", err)
	}

	if _, err := store.GetAncestorIDs(ctx, a.ID, 10); !errors.Is(err, ErrDepthExceeded) {
		t.Errorf("Expected ErrDepthExceeded on ancestor cycle, got %v", err)
	}

	// Descendant walk tolerates the cycle through the seen set until the
	// depth bound, but a too-small bound still fails closed.
	if _, err := store.GetDescendantIDs(ctx, a.ID, 1); !errors.Is(err, ErrDepthExceeded) {
		t.Errorf("Expected ErrDepthExceeded on tight descendant bound, got %v", err)
	}
}

func TestStore_Params(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	store := NewStore(db, nil, nil)
	group, _ := store.CreateGroup(ctx, "ops", 0)

	if err := store.SetParam(ctx, group.ID, ParamIsEdit, "true"); err != nil {
		t.Fatalf("SetParam failed: %v", err)
	}
	value, err := store.GetParam(ctx, group.ID, ParamIsEdit)
	if err != nil {
		t.Fatalf("GetParam failed: %v", err)
	}
	if value != "true" {
		t.Errorf("Expected true, got %q", value)
	}

	if err := store.SetParam(ctx, group.ID, "color", "blue"); !errors.Is(err, ErrUnknownParameter) {
		t.Errorf("Expected ErrUnknownParameter for unregistered key, got %v", err)
	}
	if err := store.SetParam(ctx, group.ID, ParamIsEdit, "sometimes"); err == nil {
		t.Error("Expected validation error for non-boolean value")
	}

	missing, err := store.GetParam(ctx, group.ID, ParamInvisible)
	if err != nil {
		t.Fatalf("GetParam failed: %v", err)
	}
	if missing != "" {
		t.Errorf("Expected empty value for unset key, got %q", missing)
	}
}
