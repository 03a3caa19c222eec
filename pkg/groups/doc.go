// Package groups stores the access group tree and resolves membership.
//
// Groups form a tree that is independent of the content tree. Each
// group carries a direct member list plus flags in a key-value metadata
// table gated by a parameter registry. Membership cascades upward:
// belonging to a group implies belonging to its ancestors, which the
// Resolver makes explicit.
package groups
