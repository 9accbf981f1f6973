package api

import (
	"net/http"

	"github.com/zonestack/server/internal/config"
	"github.com/zonestack/server/internal/zones"
)

// EditorSettings are the parameters a map client needs to drive resizes the
// same way the server validates them.
type EditorSettings struct {
	Protocol          string  `json:"protocol"`
	BasePercent       float64 `json:"base_percent"`
	ResizeStepPercent float64 `json:"resize_step_percent"`
	PixelsPerStep     float64 `json:"pixels_per_step"`
	CircleSides       int     `json:"circle_sides"`
	DefaultColor      string  `json:"default_color"`
	DefaultOpacity    float64 `json:"default_opacity"`
	OverlapNotice     string  `json:"overlap_notice"`
}

// ConfigHandlers handles configuration-related HTTP requests
type ConfigHandlers struct {
	settings EditorSettings
}

// NewConfigHandlers creates a new instance of ConfigHandlers
func NewConfigHandlers(cfg config.EditorConfig) *ConfigHandlers {
	return &ConfigHandlers{settings: EditorSettings{
		Protocol:          ProtocolVersion1,
		BasePercent:       cfg.BasePercent,
		ResizeStepPercent: cfg.ResizeStepPercent,
		PixelsPerStep:     cfg.PixelsPerStep,
		CircleSides:       cfg.CircleSides,
		DefaultColor:      zones.DefaultColor,
		DefaultOpacity:    zones.DefaultOpacity,
		OverlapNotice:     zones.OverlapNotice,
	}}
}

// GetEditorSettings handles GET /api/config/editor
func (h *ConfigHandlers) GetEditorSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, h.settings)
}
