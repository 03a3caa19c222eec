// Package content stores the item tree and its links to access groups.
//
// Items form a tree of their own, separate from the group tree. Read
// access links live as item_groups edge rows; edit access lives as a
// serialized group ID list in item metadata. The Linker owns both
// associations and reports every change through the event dispatcher.
package content
