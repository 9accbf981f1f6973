package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/zonestack/server/internal/auth"
)

// SetupAdminRoutes registers admin maintenance routes. Every route requires
// an access token with the admin role.
func SetupAdminRoutes(mux *http.ServeMux, service *StackService, authHandlers *auth.AuthHandlers) {
	handlers := NewAdminHandlers(service)

	requireAdmin := authHandlers.RequireRole(auth.RoleAdmin)
	userRateLimit := UserRateLimitMiddleware(10, 1*time.Minute) // Lower rate limit for admin operations

	adminHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/admin")
		parts := strings.Split(strings.Trim(path, "/"), "/")

		switch {
		case r.Method == http.MethodGet && path == "/stacks/live":
			handlers.GetLiveStacks(w, r)
		case r.Method == http.MethodPost && path == "/stacks/purge":
			handlers.PurgeStacks(w, r)
		case r.Method == http.MethodPost && len(parts) == 3 && parts[0] == "stacks" && parts[2] == "evict":
			handlers.EvictStack(w, r, parts[1])
		default:
			http.NotFound(w, r)
		}
	})

	protected := authHandlers.AuthMiddleware(requireAdmin(adminHandler))
	rateLimited := userRateLimit(protected)

	mux.Handle("/api/admin/", rateLimited)
	mux.Handle("/api/admin", rateLimited)
}
