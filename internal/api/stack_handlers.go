package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"

	"github.com/zonestack/server/internal/auth"
	"github.com/zonestack/server/internal/compression"
	"github.com/zonestack/server/internal/database"
	"github.com/zonestack/server/internal/templates"
	"github.com/zonestack/server/internal/zones"
)

const (
	defaultNearRadiusMeters = 5000
	maxNearRadiusMeters     = 200000
)

// StackHandlers serves the stack editing HTTP API.
type StackHandlers struct {
	service   *StackService
	validator *validator.Validate
}

func NewStackHandlers(service *StackService) *StackHandlers {
	return &StackHandlers{service: service, validator: validator.New()}
}

type createStackRequest struct {
	ID     string               `json:"id" validate:"omitempty,max=64"`
	Name   string               `json:"name" validate:"required,max=255"`
	Anchor orb.Point            `json:"anchor"`
	Zones  []zones.ZoneDocument `json:"zones"`
}

type insertZoneRequest struct {
	AfterIndex  *int       `json:"after_index,omitempty" validate:"omitempty,gte=-1"`
	ID          string     `json:"id,omitempty" validate:"omitempty,max=64"`
	Name        string     `json:"name" validate:"max=255"`
	BasePercent float64    `json:"base_percent,omitempty" validate:"omitempty,gt=0,lte=1000"`
	Color       string     `json:"color,omitempty" validate:"omitempty,hexcolor"`
	Opacity     float64    `json:"opacity,omitempty" validate:"omitempty,gt=0,lte=1"`
	Locked      bool       `json:"locked,omitempty"`
	Ring        orb.Ring   `json:"ring,omitempty"`
	Center      *orb.Point `json:"center,omitempty"`
	Radius      float64    `json:"radius,omitempty" validate:"omitempty,gt=0"`
}

type resizeZoneRequest struct {
	DeltaPercent float64 `json:"delta_percent" validate:"required,gt=-100,lte=1000"`
}

type updateZoneRequest struct {
	Name     *string    `json:"name,omitempty" validate:"omitempty,max=255"`
	Color    *string    `json:"color,omitempty" validate:"omitempty,hexcolor"`
	Opacity  *float64   `json:"opacity,omitempty" validate:"omitempty,gt=0,lte=1"`
	Editable *bool      `json:"editable,omitempty"`
	Center   *orb.Point `json:"center,omitempty"`
	Radius   *float64   `json:"radius,omitempty" validate:"omitempty,gt=0"`
}

type importStackRequest struct {
	ID   string `json:"id,omitempty" validate:"omitempty,max=64"`
	Name string `json:"name,omitempty" validate:"max=255"`
}

type zoneMutationResponse struct {
	Zone  zones.ZoneDocument `json:"zone"`
	Stack zones.Document     `json:"stack"`
}

type removeZoneResponse struct {
	StackEmpty bool           `json:"stack_empty"`
	Stack      zones.Document `json:"stack"`
}

// CreateStack handles POST /api/stacks
func (h *StackHandlers) CreateStack(w http.ResponseWriter, r *http.Request) {
	editor, ok := EditorFromRequestContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req createStackRequest
	if !h.decode(w, r, &req) {
		return
	}

	doc, err := h.service.Create(r.Context(), editor, zones.Document{
		ID:     req.ID,
		Name:   req.Name,
		Anchor: req.Anchor,
		Zones:  req.Zones,
	})
	if err != nil {
		writeStackError(w, "CreateStack", err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// GetStack handles GET /api/stacks/{id}
func (h *StackHandlers) GetStack(w http.ResponseWriter, r *http.Request, id string) {
	view, err := h.service.View(r.Context(), id)
	if err != nil {
		writeStackError(w, "GetStack", err)
		return
	}
	writeJSON(w, http.StatusOK, view.Document)
}

// DeleteStack handles DELETE /api/stacks/{id}
func (h *StackHandlers) DeleteStack(w http.ResponseWriter, r *http.Request, id string) {
	editor, ok := EditorFromRequestContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if err := h.service.Delete(r.Context(), id, editor); err != nil {
		writeStackError(w, "DeleteStack", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenderStack handles GET /api/stacks/{id}/render. With ?compressed=true the
// renders are returned in the binary_gzip envelope.
func (h *StackHandlers) RenderStack(w http.ResponseWriter, r *http.Request, id string) {
	view, err := h.service.View(r.Context(), id)
	if err != nil {
		writeStackError(w, "RenderStack", err)
		return
	}

	if compressed, _ := strconv.ParseBool(r.URL.Query().Get("compressed")); compressed {
		payload, err := compression.CompressAndFormat(view.Document.Anchor, view.Renders)
		if err != nil {
			log.Printf("[StackAPI] RenderStack compression failed for %s: %v", id, err)
			respondWithError(w, http.StatusInternalServerError, "Failed to compress renders")
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}
	writeJSON(w, http.StatusOK, zones.FeatureCollection(view.Renders))
}

// InsertZone handles POST /api/stacks/{id}/zones
func (h *StackHandlers) InsertZone(w http.ResponseWriter, r *http.Request, id string) {
	editor, ok := EditorFromRequestContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req insertZoneRequest
	if !h.decode(w, r, &req) {
		return
	}

	zone, doc, err := h.service.InsertZone(r.Context(), id, editor, req.AfterIndex, zones.ZoneSpec{
		ID:          req.ID,
		Name:        req.Name,
		Color:       req.Color,
		Opacity:     req.Opacity,
		Locked:      req.Locked,
		BasePercent: req.BasePercent,
		Ring:        req.Ring,
		Center:      req.Center,
		Radius:      req.Radius,
	})
	if err != nil {
		writeStackError(w, "InsertZone", err)
		return
	}
	writeJSON(w, http.StatusCreated, zoneMutationResponse{Zone: zone, Stack: doc})
}

// RemoveZone handles DELETE /api/stacks/{id}/zones/{zone_id}
func (h *StackHandlers) RemoveZone(w http.ResponseWriter, r *http.Request, id, zoneID string) {
	editor, ok := EditorFromRequestContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	empty, doc, err := h.service.RemoveZone(r.Context(), id, editor, zoneID)
	if err != nil {
		writeStackError(w, "RemoveZone", err)
		return
	}
	writeJSON(w, http.StatusOK, removeZoneResponse{StackEmpty: empty, Stack: doc})
}

// ResizeZone handles POST /api/stacks/{id}/zones/{zone_id}/resize
func (h *StackHandlers) ResizeZone(w http.ResponseWriter, r *http.Request, id, zoneID string) {
	editor, ok := EditorFromRequestContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req resizeZoneRequest
	if !h.decode(w, r, &req) {
		return
	}

	zone, doc, err := h.service.ResizeZone(r.Context(), id, editor, zoneID, req.DeltaPercent)
	if err != nil {
		writeStackError(w, "ResizeZone", err)
		return
	}
	writeJSON(w, http.StatusOK, zoneMutationResponse{Zone: zone, Stack: doc})
}

// UpdateZone handles PATCH /api/stacks/{id}/zones/{zone_id}
func (h *StackHandlers) UpdateZone(w http.ResponseWriter, r *http.Request, id, zoneID string) {
	editor, ok := EditorFromRequestContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req updateZoneRequest
	if !h.decode(w, r, &req) {
		return
	}

	zone, doc, err := h.service.UpdateZone(r.Context(), id, editor, zoneID, ZoneUpdate{
		Name:     req.Name,
		Color:    req.Color,
		Opacity:  req.Opacity,
		Editable: req.Editable,
		Center:   req.Center,
		Radius:   req.Radius,
	})
	if err != nil {
		writeStackError(w, "UpdateZone", err)
		return
	}
	writeJSON(w, http.StatusOK, zoneMutationResponse{Zone: zone, Stack: doc})
}

// ImportStack handles POST /api/stacks/import/{template_id}
func (h *StackHandlers) ImportStack(w http.ResponseWriter, r *http.Request, templateID string) {
	editor, ok := EditorFromRequestContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req importStackRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	doc, err := h.service.Import(r.Context(), editor, templateID, req.ID, req.Name)
	if err != nil {
		writeStackError(w, "ImportStack", err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// ListOwnStacks handles GET /api/stacks/owner/me
func (h *StackHandlers) ListOwnStacks(w http.ResponseWriter, r *http.Request) {
	editorID, ok := auth.GetEditorID(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	stacks, err := h.service.ListByOwner(r.Context(), editorID)
	if err != nil {
		writeStackError(w, "ListOwnStacks", err)
		return
	}
	writeJSON(w, http.StatusOK, summariesResponse(stacks))
}

// ListNearbyStacks handles GET /api/stacks/near?lon=&lat=&radius=
func (h *StackHandlers) ListNearbyStacks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	lon, err := parseFloatParam(query.Get("lon"))
	if err != nil || lon < -180 || lon > 180 {
		respondWithError(w, http.StatusBadRequest, "Invalid lon parameter")
		return
	}
	lat, err := parseFloatParam(query.Get("lat"))
	if err != nil || lat < -90 || lat > 90 {
		respondWithError(w, http.StatusBadRequest, "Invalid lat parameter")
		return
	}
	radius := float64(defaultNearRadiusMeters)
	if raw := query.Get("radius"); raw != "" {
		radius, err = parseFloatParam(raw)
		if err != nil || radius <= 0 || radius > maxNearRadiusMeters {
			respondWithError(w, http.StatusBadRequest, "Invalid radius parameter")
			return
		}
	}

	stacks, err := h.service.ListNear(r.Context(), orb.Point{lon, lat}, radius)
	if err != nil {
		writeStackError(w, "ListNearbyStacks", err)
		return
	}
	writeJSON(w, http.StatusOK, summariesResponse(stacks))
}

func (h *StackHandlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	return decodeAndValidate(w, r, h.validator, dst)
}

// decodeAndValidate reads a JSON body into dst and runs the struct
// validations, writing a 400 response on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := v.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "ValidationError",
			"message": auth.ValidationMessage(err),
		})
		return false
	}
	return true
}

func summariesResponse(stacks []database.StackSummary) map[string]interface{} {
	if stacks == nil {
		stacks = []database.StackSummary{}
	}
	return map[string]interface{}{
		"stacks": stacks,
		"count":  len(stacks),
	}
}

// writeStackError maps service errors onto HTTP statuses. Fit failures carry
// the reason and the names of the neighbouring zones.
func writeStackError(w http.ResponseWriter, op string, err error) {
	var (
		fitErr         *zones.FitError
		containmentErr *zones.ContainmentError
	)
	switch {
	case errors.As(err, &fitErr):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":   "zones_overlap",
			"message": fitErr.Error(),
			"reason":  fitErr.Reason,
			"inner":   fitErr.Inner,
			"outer":   fitErr.Outer,
		})
	case errors.As(err, &containmentErr):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":   "containment_violation",
			"message": containmentErr.Error(),
			"inner":   containmentErr.Inner,
			"outer":   containmentErr.Outer,
		})
	case errors.Is(err, zones.ErrStackNotFound), errors.Is(err, zones.ErrZoneNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, templates.ErrTemplateNotFound):
		respondWithError(w, http.StatusNotFound, "Template not found")
	case errors.Is(err, ErrForbidden), errors.Is(err, zones.ErrZoneLocked):
		respondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrStackBusy), errors.Is(err, database.ErrStackExists), errors.Is(err, zones.ErrDuplicateZone):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidRequest):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrTemplatesUnavailable):
		respondWithError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrTemplateFetch):
		log.Printf("[StackAPI] %s: %v", op, err)
		respondWithError(w, http.StatusBadGateway, "Template service unavailable")
	default:
		log.Printf("[StackAPI] %s error: %v", op, err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// splitStackPath splits the path below /api/stacks into its segments.
func splitStackPath(path string) []string {
	path = strings.Trim(strings.TrimPrefix(path, "/api/stacks"), "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func parseFloatParam(value string) (float64, error) {
	if value == "" {
		return 0, errors.New("missing value")
	}
	return strconv.ParseFloat(value, 64)
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
