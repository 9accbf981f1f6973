package api

import (
	"net/http"
	"time"
)

// SetupStackRoutes registers the stack editing routes behind authentication
// and per-editor rate limiting.
func SetupStackRoutes(mux *http.ServeMux, service *StackService, authMiddleware func(http.Handler) http.Handler) {
	handlers := NewStackHandlers(service)
	editorRateLimit := UserRateLimitMiddleware(300, 1*time.Minute)

	stackHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := splitStackPath(r.URL.Path)

		switch {
		case r.Method == http.MethodPost && len(parts) == 0:
			handlers.CreateStack(w, r)
		case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "owner" && parts[1] == "me":
			handlers.ListOwnStacks(w, r)
		case r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "near":
			handlers.ListNearbyStacks(w, r)
		case r.Method == http.MethodPost && len(parts) == 2 && parts[0] == "import":
			handlers.ImportStack(w, r, parts[1])
		case r.Method == http.MethodGet && len(parts) == 1:
			handlers.GetStack(w, r, parts[0])
		case r.Method == http.MethodDelete && len(parts) == 1:
			handlers.DeleteStack(w, r, parts[0])
		case r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "render":
			handlers.RenderStack(w, r, parts[0])
		case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "zones":
			handlers.InsertZone(w, r, parts[0])
		case r.Method == http.MethodPatch && len(parts) == 3 && parts[1] == "zones":
			handlers.UpdateZone(w, r, parts[0], parts[2])
		case r.Method == http.MethodDelete && len(parts) == 3 && parts[1] == "zones":
			handlers.RemoveZone(w, r, parts[0], parts[2])
		case r.Method == http.MethodPost && len(parts) == 4 && parts[1] == "zones" && parts[3] == "resize":
			handlers.ResizeZone(w, r, parts[0], parts[2])
		default:
			http.NotFound(w, r)
		}
	})

	authenticated := authMiddleware(stackHandler)
	rateLimited := editorRateLimit(authenticated)

	mux.Handle("/api/stacks/", rateLimited)
	mux.Handle("/api/stacks", rateLimited)
}
