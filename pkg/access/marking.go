package access

import (
	"context"

	"github.com/groupgate/groupgate/pkg/config"
)

// Marker appends the configured symbol to the titles of restricted
// items, for users allowed to see the marking.
type Marker struct {
	resolver *Resolver
	settings *config.Settings
	caps     Capabilities
}

// NewMarker creates a title marker.
func NewMarker(resolver *Resolver, settings *config.Settings, caps Capabilities) *Marker {
	return &Marker{resolver: resolver, settings: settings, caps: caps}
}

// MarkTitle returns the item title, suffixed with the marking symbol
// when the item is restricted and the viewer may see markings. An empty
// symbol disables marking entirely.
func (m *Marker) MarkTitle(ctx context.Context, userID, itemID int64, title string) (string, error) {
	symbol := m.settings.MarkingSymbol()
	if symbol == "" || !m.caps.ViewMarkings(userID) {
		return title, nil
	}

	restricted, err := m.resolver.IsRestricted(ctx, itemID)
	if err != nil {
		return title, err
	}
	if !restricted {
		return title, nil
	}
	return title + symbol, nil
}
