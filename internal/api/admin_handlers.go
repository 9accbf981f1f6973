package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/zonestack/server/internal/zones"
)

// AdminHandlers handles stack maintenance for administrators
type AdminHandlers struct {
	service   *StackService
	validator *validator.Validate
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(service *StackService) *AdminHandlers {
	return &AdminHandlers{service: service, validator: validator.New()}
}

type purgeStacksRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=500,dive,required,max=64"`
}

// GetLiveStacks handles GET /api/admin/stacks/live
func (h *AdminHandlers) GetLiveStacks(w http.ResponseWriter, r *http.Request) {
	ids := h.service.LiveStackIDs()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"stacks":  ids,
		"count":   len(ids),
	})
}

// PurgeStacks handles POST /api/admin/stacks/purge. Stacks that are being
// resized are left alone and reported as skipped.
func (h *AdminHandlers) PurgeStacks(w http.ResponseWriter, r *http.Request) {
	var req purgeStacksRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}

	log.Printf("[Admin] Purging %d stack(s)", len(req.IDs))
	deleted, skipped, err := h.service.Purge(r.Context(), req.IDs)
	if err != nil {
		log.Printf("[Admin] Purge failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to purge stacks")
		return
	}
	if skipped == nil {
		skipped = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"deleted_count": deleted,
		"skipped":       skipped,
	})
}

// EvictStack handles POST /api/admin/stacks/{id}/evict
func (h *AdminHandlers) EvictStack(w http.ResponseWriter, r *http.Request, id string) {
	err := h.service.Evict(id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, zones.ErrStackNotFound):
		respondWithError(w, http.StatusNotFound, "Stack is not loaded")
	case errors.Is(err, ErrStackBusy):
		respondWithError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("[Admin] Evict %s failed: %v", id, err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}
