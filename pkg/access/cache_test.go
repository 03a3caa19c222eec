package access

import (
	"context"
	"testing"
	"time"

	"github.com/groupgate/groupgate/pkg/events"
)

func TestHierarchyCache_CachesAncestors(t *testing.T) {
	f := newFixture(t, testAccessConfig())
	ctx := context.Background()

	root := f.group(t, "root", 0)
	leaf := f.group(t, "leaf", root.ID)

	cache := NewHierarchyCache(f.groups, 16, time.Minute, nil)

	first, err := cache.AncestorIDs(ctx, leaf.ID, 64)
	if err != nil {
		t.Fatalf("AncestorIDs failed: %v", err)
	}
	if len(first) != 1 || first[0] != root.ID {
		t.Fatalf("Expected [%d], got %v", root.ID, first)
	}

	// Move the leaf directly; the cached chain stays until invalidated.
	if _, err := f.db.Exec(`UPDATE groups SET parent_id = 0 WHERE id = $1`, leaf.ID); err != nil {
		t.Fatalf("Failed to reparent: %v", err)
	}
	stale, _ := cache.AncestorIDs(ctx, leaf.ID, 64)
	if len(stale) != 1 {
		t.Errorf("Expected stale cached chain, got %v", stale)
	}

	event := events.New(events.TypeGroupUpdated)
	event.GroupID = leaf.ID
	if err := cache.HandleAccessChange(ctx, event); err != nil {
		t.Fatalf("HandleAccessChange failed: %v", err)
	}

	fresh, err := cache.AncestorIDs(ctx, leaf.ID, 64)
	if err != nil {
		t.Fatalf("AncestorIDs failed: %v", err)
	}
	if len(fresh) != 0 {
		t.Errorf("Expected empty chain after purge, got %v", fresh)
	}
}

func TestHierarchyCache_IgnoresMembershipEvents(t *testing.T) {
	f := newFixture(t, testAccessConfig())
	ctx := context.Background()

	root := f.group(t, "root", 0)
	leaf := f.group(t, "leaf", root.ID)

	cache := NewHierarchyCache(f.groups, 16, time.Minute, nil)
	if _, err := cache.AncestorIDs(ctx, leaf.ID, 64); err != nil {
		t.Fatalf("AncestorIDs failed: %v", err)
	}

	if _, err := f.db.Exec(`UPDATE groups SET parent_id = 0 WHERE id = $1`, leaf.ID); err != nil {
		t.Fatalf("Failed to reparent: %v", err)
	}

	event := events.New(events.TypeGroupUsersAdded)
	event.GroupID = leaf.ID
	cache.HandleAccessChange(ctx, event)

	chain, _ := cache.AncestorIDs(ctx, leaf.ID, 64)
	if len(chain) != 1 {
		t.Errorf("Membership events must not purge structure cache, got %v", chain)
	}
}
