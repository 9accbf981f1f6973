package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// AuthHandlers handles authentication HTTP endpoints
type AuthHandlers struct {
	store           EditorStore
	denylist        Denylist
	jwtService      *JWTService
	passwordService *PasswordService
	validator       *validator.Validate
}

// NewAuthHandlers creates a new auth handlers instance. A nil denylist falls
// back to an in-memory one.
func NewAuthHandlers(store EditorStore, denylist Denylist, jwtService *JWTService, passwordService *PasswordService) *AuthHandlers {
	if denylist == nil {
		denylist = NewMemoryDenylist()
	}
	return &AuthHandlers{
		store:           store,
		denylist:        denylist,
		jwtService:      jwtService,
		passwordService: passwordService,
		validator:       validator.New(),
	}
}

// Register handles editor registration
// POST /api/auth/register
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "InvalidRequest", "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.sendValidationError(w, err)
		return
	}

	if err := h.passwordService.ValidatePasswordStrength(req.Password); err != nil {
		h.sendError(w, http.StatusBadRequest, "InvalidPassword", err.Error())
		return
	}

	passwordHash, err := h.passwordService.HashPassword(req.Password)
	if err != nil {
		log.Printf("[Auth] Error hashing password: %v", err)
		h.sendError(w, http.StatusInternalServerError, "InternalError", "Failed to process password")
		return
	}

	editor, err := h.store.CreateEditor(r.Context(), req.Username, req.Email, passwordHash, RoleEditor)
	switch {
	case errors.Is(err, ErrUsernameExists):
		h.sendError(w, http.StatusConflict, "UsernameExists", "Username already exists")
		return
	case errors.Is(err, ErrEmailExists):
		h.sendError(w, http.StatusConflict, "EmailExists", "Email already exists")
		return
	case err != nil:
		log.Printf("[Auth] Error creating editor: %v", err)
		h.sendError(w, http.StatusInternalServerError, "InternalError", "Failed to create editor")
		return
	}

	h.issueTokens(w, http.StatusCreated, editor)
}

// Login handles editor login
// POST /api/auth/login
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "InvalidRequest", "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.sendValidationError(w, err)
		return
	}

	editor, err := h.store.EditorByUsername(r.Context(), req.Username)
	if errors.Is(err, ErrEditorNotFound) {
		h.sendError(w, http.StatusUnauthorized, "InvalidCredentials", "Invalid username or password")
		return
	} else if err != nil {
		log.Printf("[Auth] Error querying editor: %v", err)
		h.sendError(w, http.StatusInternalServerError, "InternalError", "Failed to authenticate")
		return
	}

	if !h.passwordService.VerifyPassword(req.Password, editor.PasswordHash) {
		h.sendError(w, http.StatusUnauthorized, "InvalidCredentials", "Invalid username or password")
		return
	}

	if err := h.store.TouchLogin(r.Context(), editor.ID, time.Now()); err != nil {
		log.Printf("[Auth] Error recording login for editor %d: %v", editor.ID, err)
	}

	h.issueTokens(w, http.StatusOK, editor)
}

// Refresh rotates a refresh token
// POST /api/auth/refresh
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := h.refreshTokenFrom(r)
	if refreshToken == "" {
		h.sendError(w, http.StatusBadRequest, "InvalidRequest", "Refresh token required")
		return
	}

	claims, ok := h.validRefreshClaims(w, r, refreshToken)
	if !ok {
		return
	}

	editor, err := h.store.EditorByID(r.Context(), claims.EditorID)
	if errors.Is(err, ErrEditorNotFound) {
		h.sendError(w, http.StatusUnauthorized, "EditorNotFound", "Editor no longer exists")
		return
	} else if err != nil {
		log.Printf("[Auth] Error querying editor: %v", err)
		h.sendError(w, http.StatusInternalServerError, "InternalError", "Failed to refresh token")
		return
	}

	// The presented token is single use once rotated.
	if err := h.denylist.Revoke(r.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
		log.Printf("[Auth] Error revoking rotated token: %v", err)
		h.sendError(w, http.StatusInternalServerError, "InternalError", "Failed to refresh token")
		return
	}

	h.issueTokens(w, http.StatusOK, editor)
}

// Logout revokes the presented refresh token
// POST /api/auth/logout
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if refreshToken := h.refreshTokenFrom(r); refreshToken != "" {
		claims, err := h.jwtService.ValidateRefreshToken(refreshToken)
		if err == nil {
			if err := h.denylist.Revoke(r.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
				log.Printf("[Auth] Error revoking token on logout: %v", err)
				h.sendError(w, http.StatusInternalServerError, "InternalError", "Failed to log out")
				return
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Logged out successfully",
	})
}

func (h *AuthHandlers) validRefreshClaims(w http.ResponseWriter, r *http.Request, token string) (*Claims, bool) {
	claims, err := h.jwtService.ValidateRefreshToken(token)
	if err != nil {
		h.sendError(w, http.StatusUnauthorized, "InvalidToken", "Invalid or expired refresh token")
		return nil, false
	}
	revoked, err := h.denylist.IsRevoked(r.Context(), claims.ID)
	if err != nil {
		log.Printf("[Auth] Error checking token denylist: %v", err)
		h.sendError(w, http.StatusInternalServerError, "InternalError", "Failed to refresh token")
		return nil, false
	}
	if revoked {
		h.sendError(w, http.StatusUnauthorized, "InvalidToken", "Refresh token has been revoked")
		return nil, false
	}
	return claims, true
}

// refreshTokenFrom reads the token from the Authorization header, then the body.
func (h *AuthHandlers) refreshTokenFrom(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		return req.RefreshToken
	}
	return ""
}

func (h *AuthHandlers) issueTokens(w http.ResponseWriter, status int, editor *Editor) {
	accessToken, err := h.jwtService.GenerateAccessToken(editor.ID, editor.Username, editor.Role)
	if err != nil {
		log.Printf("[Auth] Error generating access token: %v", err)
		h.sendError(w, http.StatusInternalServerError, "InternalError", "Failed to generate token")
		return
	}

	refreshToken, err := h.jwtService.GenerateRefreshToken(editor.ID)
	if err != nil {
		log.Printf("[Auth] Error generating refresh token: %v", err)
		h.sendError(w, http.StatusInternalServerError, "InternalError", "Failed to generate refresh token")
		return
	}

	h.sendTokenResponse(w, status, TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(h.jwtService.GetTokenExpiration()),
		EditorID:     editor.ID,
		Username:     editor.Username,
		Role:         editor.Role,
	})
}

// Helper methods

func (h *AuthHandlers) sendTokenResponse(w http.ResponseWriter, status int, response TokenResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

func (h *AuthHandlers) sendError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   code,
		Message: message,
		Code:    code,
	})
}

func (h *AuthHandlers) sendValidationError(w http.ResponseWriter, err error) {
	h.sendError(w, http.StatusBadRequest, "ValidationError", ValidationMessage(err))
}

// ValidationMessage flattens validator errors into "Field: message; ..." form.
func ValidationMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	messages := make([]string, 0, len(ve))
	for _, fe := range ve {
		messages = append(messages, fmt.Sprintf("%s: %s", fe.Field(), getValidationMessage(fe)))
	}
	return strings.Join(messages, "; ")
}

func getValidationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "hexcolor":
		return "must be a hex color"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
