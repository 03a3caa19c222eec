package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/groupgate/groupgate/pkg/access"
	"github.com/groupgate/groupgate/pkg/content"
	"github.com/groupgate/groupgate/pkg/observability"
)

// ActorHeader carries the acting user's ID. The gateway in front of
// this service authenticates the user and sets the header; a missing or
// malformed header means anonymous.
const ActorHeader = "X-Groupgate-User"

// RequestIDMiddleware tags every request with an ID for log and audit
// correlation. An inbound X-Request-ID is kept.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := observability.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorMiddleware resolves the acting user from the actor header into
// the request context.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var actorID int64
		if raw := r.Header.Get(ActorHeader); raw != "" {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
				actorID = id
			}
		}

		ctx := observability.WithActorID(r.Context(), actorID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireManage rejects requests from users without the manage
// capability.
func RequireManage(caps access.Capabilities) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID := observability.GetActorID(r.Context())
			if actorID == 0 {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}
			if !caps.ManageGroups(actorID) {
				http.Error(w, "Insufficient permissions", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireReadable rejects requests for items the acting user may not
// read. Routes using it must carry the item ID in the {id} path
// variable.
func RequireReadable(resolver *access.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			itemID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
			if err != nil || itemID <= 0 {
				http.Error(w, "Invalid ID", http.StatusBadRequest)
				return
			}

			allowed, err := resolver.CanRead(r.Context(), observability.GetActorID(r.Context()), itemID)
			if err != nil {
				if errors.Is(err, content.ErrItemNotFound) {
					http.Error(w, err.Error(), http.StatusNotFound)
					return
				}
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if !allowed {
				http.Error(w, "Item is not readable", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoggingMiddleware logs each request with its actor and request ID.
func LoggingMiddleware(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := observability.WithLogger(r.Context(), logger)
			observability.FromContext(ctx).WithFields(map[string]interface{}{
				"method": r.Method,
				"path":   r.URL.Path,
			}).Debug("Handling request")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
