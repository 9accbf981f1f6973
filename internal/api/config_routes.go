package api

import (
	"net/http"

	"github.com/zonestack/server/internal/config"
)

// SetupConfigRoutes registers configuration routes (no auth required for public config)
func SetupConfigRoutes(mux *http.ServeMux, cfg config.EditorConfig) {
	handlers := NewConfigHandlers(cfg)

	mux.HandleFunc("/api/config/editor", handlers.GetEditorSettings)
}
