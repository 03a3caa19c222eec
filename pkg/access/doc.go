// Package access decides who may read and edit content items.
//
// The Resolver answers single-item questions. The Engine answers bulk
// listing questions through one of four interchangeable strategies:
// post-filtering rows, excluding unreadable IDs, including readable
// IDs, or querying over write-time propagated group edges. The
// Propagator maintains the mirrored edges the last strategy depends on.
package access
