package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/zonestack/server/internal/auth"
	"github.com/zonestack/server/internal/config"
)

// NewAuthHandlers builds the auth handlers over the editors table. A nil
// denylist keeps revoked tokens in process memory.
func NewAuthHandlers(db *sql.DB, cfg *config.Config, denylist auth.Denylist) *auth.AuthHandlers {
	return auth.NewAuthHandlers(
		auth.NewSQLEditorStore(db),
		denylist,
		auth.NewJWTService(cfg),
		auth.NewPasswordService(cfg),
	)
}

// SetupAuthRoutes sets up authentication routes with rate limiting
func SetupAuthRoutes(mux *http.ServeMux, authHandlers *auth.AuthHandlers) {
	// 5 requests per minute per IP for authentication endpoints
	authRateLimit := RateLimitMiddleware(5, 1*time.Minute)

	mux.Handle("/api/auth/register", authRateLimit(http.HandlerFunc(authHandlers.Register)))
	mux.Handle("/api/auth/login", authRateLimit(http.HandlerFunc(authHandlers.Login)))
	mux.Handle("/api/auth/refresh", authRateLimit(http.HandlerFunc(authHandlers.Refresh)))
	mux.Handle("/api/auth/logout", authRateLimit(http.HandlerFunc(authHandlers.Logout)))
}

// SecurityHeadersMiddleware wraps auth.SecurityHeadersMiddleware for use in main
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return auth.SecurityHeadersMiddleware(next)
}
