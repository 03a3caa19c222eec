// Package audit records who changed group membership and item access,
// and which access checks were denied.
//
// The Recorder listens on the event dispatcher, so the trail is built
// from the same change events the cascade and cache layers consume.
// Storage is a SQL table; Search supports the admin API's trail
// queries.
package audit
