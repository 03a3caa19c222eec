package access

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/groupgate/groupgate/pkg/config"
	"github.com/groupgate/groupgate/pkg/content"
	"github.com/groupgate/groupgate/pkg/events"
	"github.com/groupgate/groupgate/pkg/groups"
)

type fixture struct {
	db         *sql.DB
	dispatcher *events.Dispatcher
	groups     *groups.Store
	members    *groups.Resolver
	items      *content.Store
	linker     *content.Linker
	settings   *config.Settings
	caps       Capabilities
	resolver   *Resolver
	engine     *Engine
}

func newFixture(t *testing.T, access config.AccessConfig) *fixture {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

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

		CREATE TABLE items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			parent_id INTEGER NOT NULL DEFAULT 0,
			type TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE item_groups (
			item_id INTEGER NOT NULL,
			group_id INTEGER NOT NULL,
			PRIMARY KEY (item_id, group_id)
		);

		CREATE TABLE item_meta (
			item_id INTEGER NOT NULL,
			meta_key TEXT NOT NULL,
			meta_value TEXT NOT NULL,
			PRIMARY KEY (item_id, meta_key)
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}

	settings := config.NewSettings(access)
	dispatcher := events.NewDispatcher(nil)

	groupStore := groups.NewStore(db, nil, dispatcher)
	members := groups.NewResolver(groupStore, access.MaxDepth)
	itemStore := content.NewStore(db)
	linker := content.NewLinker(db, dispatcher)

	cache := NewHierarchyCache(groupStore, 128, time.Minute, nil)
	dispatcher.Register(cache)

	caps := NewStaticCapabilities(settings)
	resolver := NewResolver(itemStore, linker, members, cache, settings, caps, nil, nil)
	engine := NewEngine(resolver, itemStore, settings, caps, nil, nil)

	return &fixture{
		db:         db,
		dispatcher: dispatcher,
		groups:     groupStore,
		members:    members,
		items:      itemStore,
		linker:     linker,
		settings:   settings,
		caps:       caps,
		resolver:   resolver,
		engine:     engine,
	}
}

func testAccessConfig() config.AccessConfig {
	access := config.DefaultAccessConfig()
	access.SuperUserIDs = []int64{100}
	return access
}

func (f *fixture) group(t *testing.T, name string, parentID int64, users ...int64) *groups.Group {
	t.Helper()
	g, err := f.groups.CreateGroup(context.Background(), name, parentID)
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if len(users) > 0 {
		if err := f.groups.SetUsers(context.Background(), g.ID, users); err != nil {
			t.Fatalf("SetUsers failed: %v", err)
		}
	}
	return g
}

func (f *fixture) item(t *testing.T, title string, parentID int64, readGroups ...int64) *content.Item {
	t.Helper()
	item, err := f.items.CreateItem(context.Background(), "post", title, parentID)
	if err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}
	if len(readGroups) > 0 {
		if err := f.linker.SetReadGroups(context.Background(), item.ID, readGroups, true); err != nil {
			t.Fatalf("SetReadGroups failed: %v", err)
		}
	}
	return item
}

func (f *fixture) assertCanRead(t *testing.T, userID, itemID int64, want bool) {
	t.Helper()
	got, err := f.resolver.CanRead(context.Background(), userID, itemID)
	if err != nil {
		t.Fatalf("CanRead(%d, %d) failed: %v", userID, itemID, err)
	}
	if got != want {
		t.Errorf("CanRead(%d, %d) = %v, want %v", userID, itemID, got, want)
	}
}

func TestResolver_CanRead_Unrestricted(t *testing.T) {
	f := newFixture(t, testAccessConfig())
	item := f.item(t, "public", 0)

	f.assertCanRead(t, 1, item.ID, true)
	f.assertCanRead(t, 0, item.ID, true)
}

func TestResolver_CanRead_RestrictedMembership(t *testing.T) {
	f := newFixture(t, testAccessConfig())
	g := f.group(t, "staff", 0, 1)
	item := f.item(t, "internal", 0, g.ID)

	f.assertCanRead(t, 1, item.ID, true)
	f.assertCanRead(t, 2, item.ID, false)
	f.assertCanRead(t, 0, item.ID, false)
}

func TestResolver_CanRead_SuperuserBypass(t *testing.T) {
	f := newFixture(t, testAccessConfig())
	g := f.group(t, "staff", 0, 1)
	item := f.item(t, "internal", 0, g.ID)

	f.assertCanRead(t, 100, item.ID, true)
}

func TestResolver_CanRead_DescendantGroupSatisfies(t *testing.T) {
	f := newFixture(t, testAccessConfig())
	parent := f.group(t, "company", 0)
	child := f.group(t, "team", parent.ID, 5)
	item := f.item(t, "company-wide", 0, parent.ID)

	// Membership in a subgroup satisfies the parent group's gate.
	f.assertCanRead(t, 5, item.ID, true)

	// The reverse does not hold: parent members do not satisfy a child
	// group's gate.
	teamItem := f.item(t, "team-only", 0, child.ID)
	f.groups.SetUsers(context.Background(), parent.ID, []int64{6})
	f.assertCanRead(t, 6, teamItem.ID, false)
}

func TestResolver_CanRead_ParentConjunctive(t *testing.T) {
	f := newFixture(t, testAccessConfig())
	gParent := f.group(t, "restricted", 0, 1)
	gChild := f.group(t, "open-team", 0, 2)

	root := f.item(t, "root", 0, gParent.ID)
	child := f.item(t, "child", root.ID, gChild.ID)
	grandchild := f.item(t, "grandchild", child.ID)

	// User 2 passes the child's own gate but fails the root's.
	f.assertCanRead(t, 2, child.ID, false)

	// User 1 passes the root but fails the child's own gate.
	f.assertCanRead(t, 1, child.ID, false)

	// A member of both chains reads everything.
	f.groups.SetUsers(context.Background(), gParent.ID, []int64{1, 3})
	f.groups.SetUsers(context.Background(), gChild.ID, []int64{2, 3})
	f.assertCanRead(t, 3, child.ID, true)

	// Groupless items inherit the whole chain above them.
	f.assertCanRead(t, 3, grandchild.ID, true)
	f.assertCanRead(t, 2, grandchild.ID, false)
}

func TestResolver_CanRead_InheritOnlyMode(t *testing.T) {
	access := testAccessConfig()
	access.ParentCheckMode = config.ParentCheckInheritOnly
	f := newFixture(t, access)

	gParent := f.group(t, "restricted", 0, 1)
	gChild := f.group(t, "open-team", 0, 2)

	root := f.item(t, "root", 0, gParent.ID)
	child := f.item(t, "child", root.ID, gChild.ID)
	grandchild := f.item(t, "grandchild", child.ID)

	// Own groups decide outright; the restricted root is not consulted.
	f.assertCanRead(t, 2, child.ID, true)
	f.assertCanRead(t, 1, child.ID, false)

	// Groupless items still inherit from the nearest gated ancestor.
	f.assertCanRead(t, 2, grandchild.ID, true)
	f.assertCanRead(t, 1, grandchild.ID, false)
	f.assertCanRead(t, 1, root.ID, true)
}

func TestResolver_CanRead_DepthBound(t *testing.T) {
	f := newFixture(t, testAccessConfig())
	a := f.item(t, "a", 0)
	b := f.item(t, "b", a.ID)

	// Force a parent cycle directly.
	if _, err := f.db.Exec(`UPDATE items SET parent_id = $1 WHERE id = $2`, b.ID, a.ID); err != nil {
		t.Fatalf("Failed to force cycle: %v", err)
	}

	allowed, err := f.resolver.CanRead(context.Background(), 1, a.ID)
	if !errors.Is(err, groups.ErrDepthExceeded) {
		t.Errorf("Expected ErrDepthExceeded, got %v", err)
	}
	if allowed {
		t.Error("Cycle detection must fail closed")
	}
}

func TestResolver_CanRead_MissingItem(t *testing.T) {
	f := newFixture(t, testAccessConfig())

	_, err := f.resolver.CanRead(context.Background(), 1, 404)
	if !errors.Is(err, content.ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}
}

func TestResolver_CanEdit(t *testing.T) {
	f := newFixture(t, testAccessConfig())
	ctx := context.Background()

	editors := f.group(t, "editors", 0, 1)
	item := f.item(t, "draft", 0)

	// No edit groups: only superusers may edit.
	allowed, err := f.resolver.CanEdit(ctx, 1, item.ID)
	if err != nil {
		t.Fatalf("CanEdit failed: %v", err)
	}
	if allowed {
		t.Error("Expected deny without edit groups")
	}
	if allowed, _ := f.resolver.CanEdit(ctx, 100, item.ID); !allowed {
		t.Error("Expected superuser to edit anything")
	}

	if err := f.linker.SetEditGroups(ctx, item.ID, []int64{editors.ID}, true); err != nil {
		t.Fatalf("SetEditGroups failed: %v", err)
	}

	if allowed, _ := f.resolver.CanEdit(ctx, 1, item.ID); !allowed {
		t.Error("Expected edit group member to edit")
	}
	if allowed, _ := f.resolver.CanEdit(ctx, 2, item.ID); allowed {
		t.Error("Expected non-member denied")
	}
	if allowed, _ := f.resolver.CanEdit(ctx, 0, item.ID); allowed {
		t.Error("Expected anonymous denied")
	}
}

func TestResolver_CanEdit_NoHierarchyWalk(t *testing.T) {
	f := newFixture(t, testAccessConfig())
	ctx := context.Background()

	editors := f.group(t, "editors", 0, 1)
	parent := f.item(t, "parent", 0)
	child := f.item(t, "child", parent.ID)

	if err := f.linker.SetEditGroups(ctx, parent.ID, []int64{editors.ID}, true); err != nil {
		t.Fatalf("SetEditGroups failed: %v", err)
	}

	// Edit rights never flow down the content tree.
	if allowed, _ := f.resolver.CanEdit(ctx, 1, child.ID); allowed {
		t.Error("Expected child to stay uneditable")
	}
}

func TestResolver_CanEdit_DescendantGroupSatisfies(t *testing.T) {
	f := newFixture(t, testAccessConfig())
	ctx := context.Background()

	parent := f.group(t, "editors", 0)
	f.group(t, "junior-editors", parent.ID, 7)
	item := f.item(t, "doc", 0)
	if err := f.linker.SetEditGroups(ctx, item.ID, []int64{parent.ID}, true); err != nil {
		t.Fatalf("SetEditGroups failed: %v", err)
	}

	if allowed, _ := f.resolver.CanEdit(ctx, 7, item.ID); !allowed {
		t.Error("Expected subgroup member to satisfy the edit group")
	}
}

func TestResolver_IsRestricted(t *testing.T) {
	f := newFixture(t, testAccessConfig())
	ctx := context.Background()

	g := f.group(t, "staff", 0, 1)
	root := f.item(t, "root", 0, g.ID)
	child := f.item(t, "child", root.ID)
	open := f.item(t, "open", 0)

	if restricted, _ := f.resolver.IsRestricted(ctx, root.ID); !restricted {
		t.Error("Expected gated item to be restricted")
	}
	if restricted, _ := f.resolver.IsRestricted(ctx, child.ID); !restricted {
		t.Error("Expected inherited restriction")
	}
	if restricted, _ := f.resolver.IsRestricted(ctx, open.ID); restricted {
		t.Error("Expected ungated item to be unrestricted")
	}
}

func TestResolver_EffectiveGroups(t *testing.T) {
	f := newFixture(t, testAccessConfig())
	ctx := context.Background()

	root := f.group(t, "root", 0)
	mid := f.group(t, "mid", root.ID)
	leaf := f.group(t, "leaf", mid.ID, 9)

	effective, err := f.resolver.EffectiveGroups(ctx, 9)
	if err != nil {
		t.Fatalf("EffectiveGroups failed: %v", err)
	}
	for _, id := range []int64{root.ID, mid.ID, leaf.ID} {
		if _, ok := effective[id]; !ok {
			t.Errorf("Expected group %d in effective set %v", id, effective)
		}
	}

	anon, err := f.resolver.EffectiveGroups(ctx, 0)
	if err != nil {
		t.Fatalf("EffectiveGroups failed: %v", err)
	}
	if len(anon) != 0 {
		t.Errorf("Expected empty set for anonymous, got %v", anon)
	}
}

func TestResolver_Policies(t *testing.T) {
	f := newFixture(t, testAccessConfig())
	open := f.item(t, "open", 0)

	staff := f.group(t, "staff", 0, 5)
	restricted := f.item(t, "restricted", 0, staff.ID)

	f.assertCanRead(t, 1, open.ID, true)

	// A policy can veto a grant.
	f.resolver.RegisterPolicy(func(ctx context.Context, d Decision) bool {
		return d.UserID != 1
	})
	f.assertCanRead(t, 1, open.ID, false)
	f.assertCanRead(t, 2, open.ID, true)

	// A policy cannot turn a denial into a grant.
	f.resolver.RegisterPolicy(func(ctx context.Context, d Decision) bool {
		return true
	})
	f.assertCanRead(t, 2, restricted.ID, false)
	f.assertCanRead(t, 5, restricted.ID, true)
}

func TestResolver_PolicyAppliesToEdit(t *testing.T) {
	f := newFixture(t, testAccessConfig())
	editors := f.group(t, "editors", 0, 5)
	item := f.item(t, "doc", 0)
	if err := f.linker.SetEditGroups(context.Background(), item.ID, []int64{editors.ID}, true); err != nil {
		t.Fatalf("SetEditGroups failed: %v", err)
	}

	f.resolver.RegisterPolicy(func(ctx context.Context, d Decision) bool {
		return d.Operation != "edit"
	})

	allowed, err := f.resolver.CanEdit(context.Background(), 5, item.ID)
	if err != nil {
		t.Fatalf("CanEdit failed: %v", err)
	}
	if allowed {
		t.Error("Expected the edit policy to deny")
	}
	f.assertCanRead(t, 5, item.ID, true)
}
