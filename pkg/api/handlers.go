package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/groupgate/groupgate/pkg/access"
	"github.com/groupgate/groupgate/pkg/audit"
	"github.com/groupgate/groupgate/pkg/config"
	"github.com/groupgate/groupgate/pkg/content"
	"github.com/groupgate/groupgate/pkg/groups"
	"github.com/groupgate/groupgate/pkg/observability"
)

// AuditSearcher exposes audit trail queries to the API.
type AuditSearcher interface {
	Search(ctx context.Context, filter audit.Filter) ([]audit.Event, error)
	Stats(ctx context.Context, since time.Time) (map[audit.EventType]int, error)
}

// Handlers provides HTTP handlers for group and access operations
type Handlers struct {
	groups   *groups.Store
	members  *groups.Resolver
	items    *content.Store
	linker   *content.Linker
	resolver *access.Resolver
	engine   *access.Engine
	marker   *access.Marker
	settings *config.Settings
	caps     access.Capabilities
	recorder *audit.Recorder
	trail    AuditSearcher
}

// NewHandlers creates the API handlers. recorder and trail may be nil
// when auditing is disabled.
func NewHandlers(
	groupStore *groups.Store,
	members *groups.Resolver,
	items *content.Store,
	linker *content.Linker,
	resolver *access.Resolver,
	engine *access.Engine,
	marker *access.Marker,
	settings *config.Settings,
	caps access.Capabilities,
	recorder *audit.Recorder,
	trail AuditSearcher,
) *Handlers {
	return &Handlers{
		groups:   groupStore,
		members:  members,
		items:    items,
		linker:   linker,
		resolver: resolver,
		engine:   engine,
		marker:   marker,
		settings: settings,
		caps:     caps,
		recorder: recorder,
		trail:    trail,
	}
}

// RegisterRoutes registers all API routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	manage := RequireManage(h.caps)

	// Group management
	router.Handle("/groups", manage(http.HandlerFunc(h.CreateGroup))).Methods("POST")
	router.HandleFunc("/groups", h.ListGroups).Methods("GET")
	router.HandleFunc("/groups/{id}", h.GetGroup).Methods("GET")
	router.Handle("/groups/{id}", manage(http.HandlerFunc(h.UpdateGroup))).Methods("PUT")
	router.Handle("/groups/{id}", manage(http.HandlerFunc(h.DeleteGroup))).Methods("DELETE")

	// Group membership
	router.HandleFunc("/groups/{id}/members", h.GetGroupMembers).Methods("GET")
	router.Handle("/groups/{id}/members", manage(http.HandlerFunc(h.SetGroupMembers))).Methods("PUT")
	router.Handle("/groups/{id}/members", manage(http.HandlerFunc(h.AddGroupMembers))).Methods("POST")
	router.Handle("/groups/{id}/members", manage(http.HandlerFunc(h.RemoveGroupMembers))).Methods("DELETE")

	// User membership
	router.HandleFunc("/users/{id}/groups", h.GetUserGroups).Methods("GET")

	// Item listing and links. Link reads are gated on the item being
	// readable by the actor; link writes are management operations.
	readable := RequireReadable(h.resolver)
	router.HandleFunc("/items", h.ListItems).Methods("GET")
	router.Handle("/items/{id}/read-groups", readable(http.HandlerFunc(h.GetItemReadGroups))).Methods("GET")
	router.Handle("/items/{id}/read-groups", manage(http.HandlerFunc(h.SetItemReadGroups))).Methods("PUT")
	router.Handle("/items/{id}/edit-groups", readable(http.HandlerFunc(h.GetItemEditGroups))).Methods("GET")
	router.Handle("/items/{id}/edit-groups", manage(http.HandlerFunc(h.SetItemEditGroups))).Methods("PUT")
	router.Handle("/items/{id}/edit-groups", manage(http.HandlerFunc(h.RemoveItemEditGroups))).Methods("DELETE")

	// Access checks
	router.HandleFunc("/access/check", h.CheckAccess).Methods("GET")

	// Operational
	router.Handle("/audit", manage(http.HandlerFunc(h.SearchAudit))).Methods("GET")
	router.Handle("/audit/stats", manage(http.HandlerFunc(h.AuditStats))).Methods("GET")
	router.HandleFunc("/strategy", h.GetStrategy).Methods("GET")
}

// CreateGroup creates a new group
func (h *Handlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		ParentID int64  `json:"parent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "Name is required", http.StatusBadRequest)
		return
	}

	group, err := h.groups.CreateGroup(r.Context(), req.Name, req.ParentID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

// ListGroups lists groups, optionally filtered
func (h *Handlers) ListGroups(w http.ResponseWriter, r *http.Request) {
	var filter groups.Filter

	q := r.URL.Query()
	if v := q.Get("user"); v != "" {
		filter.UserID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("not_user"); v != "" {
		filter.NotUserID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("is_edit"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "Invalid is_edit value", http.StatusBadRequest)
			return
		}
		filter.IsEdit = &b
	}
	// Hidden groups stay out of listings unless asked for explicitly.
	if v := q.Get("include_hidden"); v == "" {
		visible := false
		filter.Invisible = &visible
	}

	list, err := h.groups.GetGroups(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []groups.Group{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetGroup returns a single group
func (h *Handlers) GetGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r)
	if !ok {
		return
	}

	group, err := h.groups.GetGroup(r.Context(), groupID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// UpdateGroup updates a group's name, parent and flags
func (h *Handlers) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Name      string `json:"name"`
		ParentID  *int64 `json:"parent_id,omitempty"`
		IsEdit    *bool  `json:"is_edit,omitempty"`
		Invisible *bool  `json:"invisible,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	group, err := h.groups.GetGroup(ctx, groupID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if req.Name != "" {
		group.Name = req.Name
	}
	if req.ParentID != nil {
		group.ParentID = *req.ParentID
	}
	if err := h.groups.UpdateGroup(ctx, group); err != nil {
		h.writeError(w, err)
		return
	}

	if req.IsEdit != nil {
		if err := h.groups.SetEditFlag(ctx, groupID, *req.IsEdit); err != nil {
			h.writeError(w, err)
			return
		}
		group.IsEdit = *req.IsEdit
	}
	if req.Invisible != nil {
		if err := h.groups.SetInvisible(ctx, groupID, *req.Invisible); err != nil {
			h.writeError(w, err)
			return
		}
		group.Invisible = *req.Invisible
	}

	writeJSON(w, http.StatusOK, group)
}

// DeleteGroup deletes a group; children are reparented and item links
// are scrubbed by the cascade listeners
func (h *Handlers) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.groups.DeleteGroup(r.Context(), groupID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetGroupMembers returns the direct member IDs of a group
func (h *Handlers) GetGroupMembers(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r)
	if !ok {
		return
	}

	group, err := h.groups.GetGroup(r.Context(), groupID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_ids": idsOrEmpty(group.Users)})
}

type memberRequest struct {
	// UserIDs arrive as strings from form-driven admin UIs; entries
	// that are not numeric are dropped rather than failing the request.
	UserIDs []string `json:"user_ids"`
}

// SetGroupMembers replaces the member list of a group
func (h *Handlers) SetGroupMembers(w http.ResponseWriter, r *http.Request) {
	h.changeMembers(w, r, h.groups.SetUsers)
}

// AddGroupMembers adds members to a group
func (h *Handlers) AddGroupMembers(w http.ResponseWriter, r *http.Request) {
	h.changeMembers(w, r, h.groups.AddUsers)
}

// RemoveGroupMembers removes members from a group
func (h *Handlers) RemoveGroupMembers(w http.ResponseWriter, r *http.Request) {
	h.changeMembers(w, r, h.groups.RemoveUsers)
}

func (h *Handlers) changeMembers(w http.ResponseWriter, r *http.Request, apply func(context.Context, int64, []int64) error) {
	groupID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := apply(r.Context(), groupID, groups.ParseIDs(req.UserIDs)); err != nil {
		h.writeError(w, err)
		return
	}

	group, err := h.groups.GetGroup(r.Context(), groupID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_ids": idsOrEmpty(group.Users)})
}

// GetUserGroups returns the groups a user belongs to. With
// ancestors=true each direct group is preceded by its ancestor chain;
// with dedupe=true the result is a set. not_member=true inverts the
// query to groups the user could still join.
func (h *Handlers) GetUserGroups(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()

	if q.Get("not_member") == "true" {
		list, err := h.members.NotUserGroups(r.Context(), userID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"group_ids": idsOrEmpty(groups.IDs(list))})
		return
	}

	includeAncestors := q.Get("ancestors") == "true"

	if q.Get("dedupe") == "true" {
		set, err := h.members.UserGroupIDSet(r.Context(), userID, includeAncestors)
		if err != nil {
			h.writeError(w, err)
			return
		}
		ids := make([]int64, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"group_ids": ids})
		return
	}

	ids, err := h.members.UserGroups(r.Context(), userID, includeAncestors)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"group_ids": idsOrEmpty(ids)})
}

type itemResponse struct {
	ID       int64  `json:"id"`
	ParentID int64  `json:"parent_id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
}

// ListItems lists the items the acting user may read, through the
// active filtering strategy. Titles carry the restriction marking for
// users allowed to see it.
func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actorID := observability.GetActorID(ctx)

	var filter content.ItemFilter
	q := r.URL.Query()
	if types, ok := q["type"]; ok {
		filter.Types = types
	}
	if v := q.Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}

	items, err := h.engine.ListItems(ctx, actorID, filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	result := make([]itemResponse, 0, len(items))
	for _, item := range items {
		title, err := h.marker.MarkTitle(ctx, actorID, item.ID, item.Title)
		if err != nil {
			h.writeError(w, err)
			return
		}
		result = append(result, itemResponse{
			ID:       item.ID,
			ParentID: item.ParentID,
			Type:     item.Type,
			Title:    title,
		})
	}
	writeJSON(w, http.StatusOK, result)
}

// GetItemReadGroups returns an item's read groups
func (h *Handlers) GetItemReadGroups(w http.ResponseWriter, r *http.Request) {
	h.getItemGroups(w, r, h.linker.ItemReadGroups)
}

// GetItemEditGroups returns an item's edit groups
func (h *Handlers) GetItemEditGroups(w http.ResponseWriter, r *http.Request) {
	h.getItemGroups(w, r, h.linker.ItemEditGroups)
}

func (h *Handlers) getItemGroups(w http.ResponseWriter, r *http.Request, fetch func(context.Context, int64) ([]int64, error)) {
	itemID, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.items.GetItem(r.Context(), itemID); err != nil {
		h.writeError(w, err)
		return
	}

	ids, err := fetch(r.Context(), itemID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"group_ids": idsOrEmpty(ids)})
}

type linkRequest struct {
	GroupIDs []string `json:"group_ids"`

	// SuppressCascade skips downstream propagation for this write.
	SuppressCascade bool `json:"suppress_cascade"`
}

// SetItemReadGroups replaces an item's read groups
func (h *Handlers) SetItemReadGroups(w http.ResponseWriter, r *http.Request) {
	h.setItemGroups(w, r, h.linker.SetReadGroups, h.linker.ItemReadGroups)
}

// SetItemEditGroups replaces an item's edit groups
func (h *Handlers) SetItemEditGroups(w http.ResponseWriter, r *http.Request) {
	h.setItemGroups(w, r, h.linker.SetEditGroups, h.linker.ItemEditGroups)
}

// RemoveItemEditGroups clears an item's edit groups, leaving it
// editable by superusers only
func (h *Handlers) RemoveItemEditGroups(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.items.GetItem(r.Context(), itemID); err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.linker.RemoveEditGroups(r.Context(), itemID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) setItemGroups(
	w http.ResponseWriter,
	r *http.Request,
	apply func(context.Context, int64, []int64, bool) error,
	fetch func(context.Context, int64) ([]int64, error),
) {
	itemID, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.items.GetItem(r.Context(), itemID); err != nil {
		h.writeError(w, err)
		return
	}

	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := apply(r.Context(), itemID, groups.ParseIDs(req.GroupIDs), req.SuppressCascade); err != nil {
		h.writeError(w, err)
		return
	}

	ids, err := fetch(r.Context(), itemID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"group_ids": idsOrEmpty(ids)})
}

// CheckAccess answers a single read or edit question
func (h *Handlers) CheckAccess(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	userID, err := strconv.ParseInt(q.Get("user"), 10, 64)
	if err != nil || userID < 0 {
		// The zero user is valid and means anonymous.
		if q.Get("user") != "0" {
			http.Error(w, "Invalid user parameter", http.StatusBadRequest)
			return
		}
		userID = 0
	}
	itemID, err := strconv.ParseInt(q.Get("item"), 10, 64)
	if err != nil || itemID <= 0 {
		http.Error(w, "Invalid item parameter", http.StatusBadRequest)
		return
	}

	operation := q.Get("op")
	if operation == "" {
		operation = "read"
	}

	ctx := r.Context()
	var allowed bool
	switch operation {
	case "read":
		allowed, err = h.resolver.CanRead(ctx, userID, itemID)
	case "edit":
		allowed, err = h.resolver.CanEdit(ctx, userID, itemID)
	default:
		http.Error(w, "Invalid op parameter", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	if !allowed && h.recorder != nil {
		if err := h.recorder.RecordDenial(ctx, userID, itemID, operation); err != nil {
			observability.FromContext(ctx).WithError(err).Warn("Failed to record denial")
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"item_id": itemID,
		"op":      operation,
		"allowed": allowed,
	})
}

// SearchAudit queries the audit trail
func (h *Handlers) SearchAudit(w http.ResponseWriter, r *http.Request) {
	if h.trail == nil {
		http.Error(w, "Audit trail is disabled", http.StatusNotImplemented)
		return
	}

	var filter audit.Filter
	q := r.URL.Query()
	if v := q.Get("type"); v != "" {
		filter.EventTypes = []audit.EventType{audit.EventType(v)}
	}
	if v := q.Get("actor"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.ActorID = &id
		}
	}
	if v := q.Get("group"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.GroupID = &id
		}
	}
	if v := q.Get("item"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.ItemID = &id
		}
	}
	filter.Limit = 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			filter.Limit = n
		}
	}

	result, err := h.trail.Search(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if result == nil {
		result = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, result)
}

// AuditStats reports event counts by type
func (h *Handlers) AuditStats(w http.ResponseWriter, r *http.Request) {
	if h.trail == nil {
		http.Error(w, "Audit trail is disabled", http.StatusNotImplemented)
		return
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "Invalid since parameter", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	stats, err := h.trail.Stats(r.Context(), since)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetStrategy reports the live access configuration
func (h *Handlers) GetStrategy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategy":          h.settings.Strategy(),
		"propagate_enabled": h.settings.PropagateEnabled(),
		"parent_check_mode": h.settings.ParentCheckMode(),
		"max_depth":         h.settings.MaxDepth(),
		"read_item_types":   h.settings.ReadItemTypes(),
		"marking_symbol":    h.settings.MarkingSymbol(),
	})
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, groups.ErrGroupNotFound), errors.Is(err, content.ErrItemNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, groups.ErrUnknownParameter):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, access.ErrUnknownStrategy), errors.Is(err, access.ErrPropagationDisabled):
		// Misconfiguration fails closed rather than leaking items.
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func idsOrEmpty(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
