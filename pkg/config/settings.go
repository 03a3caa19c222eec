package config

import (
	"sync"
)

// Settings is the live view of the access configuration. The server
// reads from it on every request; the file watcher may replace the
// snapshot at any time.
type Settings struct {
	mu     sync.RWMutex
	access AccessConfig
}

// NewSettings creates a settings holder seeded with the given access
// configuration.
func NewSettings(access AccessConfig) *Settings {
	return &Settings{access: access}
}

// Access returns a copy of the current access configuration.
func (s *Settings) Access() AccessConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

// Update replaces the access configuration. Invalid settings are
// rejected and the previous snapshot stays in effect.
func (s *Settings) Update(access AccessConfig) error {
	if err := access.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.access = access
	s.mu.Unlock()
	return nil
}

// Strategy returns the active bulk filtering strategy name.
func (s *Settings) Strategy() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access.Strategy
}

// PropagateEnabled reports whether write-time propagation is on.
func (s *Settings) PropagateEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access.PropagateEnabled
}

// ParentCheckMode returns the hierarchical read check mode.
func (s *Settings) ParentCheckMode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access.ParentCheckMode
}

// MaxDepth returns the hierarchy walk bound.
func (s *Settings) MaxDepth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access.MaxDepth
}

// MarkingSymbol returns the restricted title marker.
func (s *Settings) MarkingSymbol() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access.MarkingSymbol
}

// ReadItemTypes returns the item types subject to read filtering.
func (s *Settings) ReadItemTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.access.ReadItemTypes...)
}

// EditItemTypes returns the item types subject to edit gating.
func (s *Settings) EditItemTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.access.EditItemTypes...)
}

// SuperUserIDs returns the users exempt from group checks.
func (s *Settings) SuperUserIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int64(nil), s.access.SuperUserIDs...)
}

// ManagerUserIDs returns the users allowed to manage groups.
func (s *Settings) ManagerUserIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int64(nil), s.access.ManagerUserIDs...)
}

// MarkerUserIDs returns the users shown restricted title markings.
func (s *Settings) MarkerUserIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int64(nil), s.access.MarkerUserIDs...)
}
