package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type memoryEditorStore struct {
	mu      sync.Mutex
	nextID  int64
	editors map[int64]*Editor
}

func newMemoryEditorStore() *memoryEditorStore {
	return &memoryEditorStore{editors: make(map[int64]*Editor)}
}

func (s *memoryEditorStore) CreateEditor(_ context.Context, username, email, passwordHash, role string) (*Editor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.editors {
		if e.Username == username {
			return nil, ErrUsernameExists
		}
		if e.Email == email {
			return nil, ErrEmailExists
		}
	}
	s.nextID++
	e := &Editor{ID: s.nextID, Username: username, Email: email, PasswordHash: passwordHash, Role: role, CreatedAt: time.Now()}
	s.editors[e.ID] = e
	return e, nil
}

func (s *memoryEditorStore) EditorByUsername(_ context.Context, username string) (*Editor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.editors {
		if e.Username == username {
			return e, nil
		}
	}
	return nil, ErrEditorNotFound
}

func (s *memoryEditorStore) EditorByID(_ context.Context, id int64) (*Editor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.editors[id]; ok {
		return e, nil
	}
	return nil, ErrEditorNotFound
}

func (s *memoryEditorStore) TouchLogin(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.editors[id]; ok {
		e.LastLogin = &at
	}
	return nil
}

func newTestHandlers(t *testing.T) (*AuthHandlers, *memoryEditorStore) {
	t.Helper()
	cfg := testJWTConfig()
	cfg.Auth.BCryptCost = 4
	store := newMemoryEditorStore()
	return NewAuthHandlers(store, nil, NewJWTService(cfg), NewPasswordService(cfg)), store
}

func postJSON(t *testing.T, handler http.HandlerFunc, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func decodeTokens(t *testing.T, rr *httptest.ResponseRecorder) TokenResponse {
	t.Helper()
	var resp TokenResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	return resp
}

func TestRegisterAndLogin(t *testing.T) {
	h, store := newTestHandlers(t)

	rr := postJSON(t, h.Register, RegisterRequest{Username: "mapper", Email: "mapper@example.com", Password: "Testpassword123!"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	registered := decodeTokens(t, rr)
	if registered.EditorID == 0 || registered.Role != RoleEditor || registered.AccessToken == "" {
		t.Fatalf("unexpected register response: %+v", registered)
	}

	rr = postJSON(t, h.Login, LoginRequest{Username: "mapper", Password: "Testpassword123!"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if resp := decodeTokens(t, rr); resp.EditorID != registered.EditorID {
		t.Errorf("login editor %d, registered %d", resp.EditorID, registered.EditorID)
	}
	if e, _ := store.EditorByID(context.Background(), registered.EditorID); e.LastLogin == nil {
		t.Error("expected last login to be recorded")
	}
}

func TestRegisterValidation(t *testing.T) {
	h, _ := newTestHandlers(t)

	tests := []struct {
		name   string
		req    RegisterRequest
		status int
		code   string
	}{
		{"missing email", RegisterRequest{Username: "mapper", Password: "Testpassword123!"}, http.StatusBadRequest, "ValidationError"},
		{"short username", RegisterRequest{Username: "ab", Email: "a@example.com", Password: "Testpassword123!"}, http.StatusBadRequest, "ValidationError"},
		{"weak password", RegisterRequest{Username: "mapper", Email: "a@example.com", Password: "password"}, http.StatusBadRequest, "InvalidPassword"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postJSON(t, h.Register, tt.req)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rr.Code)
			}
			var resp ErrorResponse
			json.NewDecoder(rr.Body).Decode(&resp)
			if resp.Code != tt.code {
				t.Errorf("expected code %s, got %s (%s)", tt.code, resp.Code, resp.Message)
			}
		})
	}
}

func TestRegisterConflict(t *testing.T) {
	h, _ := newTestHandlers(t)
	req := RegisterRequest{Username: "mapper", Email: "mapper@example.com", Password: "Testpassword123!"}
	if rr := postJSON(t, h.Register, req); rr.Code != http.StatusCreated {
		t.Fatalf("first register: %d", rr.Code)
	}
	if rr := postJSON(t, h.Register, req); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	h, _ := newTestHandlers(t)
	postJSON(t, h.Register, RegisterRequest{Username: "mapper", Email: "mapper@example.com", Password: "Testpassword123!"})

	if rr := postJSON(t, h.Login, LoginRequest{Username: "mapper", Password: "Wrongpassword1!"}); rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: expected 401, got %d", rr.Code)
	}
	if rr := postJSON(t, h.Login, LoginRequest{Username: "nobody", Password: "Testpassword123!"}); rr.Code != http.StatusUnauthorized {
		t.Errorf("unknown editor: expected 401, got %d", rr.Code)
	}
}

func TestRefreshRotatesAndRevokes(t *testing.T) {
	h, _ := newTestHandlers(t)
	first := decodeTokens(t, postJSON(t, h.Register, RegisterRequest{Username: "mapper", Email: "mapper@example.com", Password: "Testpassword123!"}))

	rr := postJSON(t, h.Refresh, RefreshRequest{RefreshToken: first.RefreshToken})
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	second := decodeTokens(t, rr)
	if second.RefreshToken == first.RefreshToken {
		t.Error("expected a rotated refresh token")
	}

	if rr := postJSON(t, h.Refresh, RefreshRequest{RefreshToken: first.RefreshToken}); rr.Code != http.StatusUnauthorized {
		t.Errorf("reused refresh token: expected 401, got %d", rr.Code)
	}

	if rr := postJSON(t, h.Logout, RefreshRequest{RefreshToken: second.RefreshToken}); rr.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rr.Code)
	}
	if rr := postJSON(t, h.Refresh, RefreshRequest{RefreshToken: second.RefreshToken}); rr.Code != http.StatusUnauthorized {
		t.Errorf("refresh after logout: expected 401, got %d", rr.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	h, _ := newTestHandlers(t)
	tokens := decodeTokens(t, postJSON(t, h.Register, RegisterRequest{Username: "mapper", Email: "mapper@example.com", Password: "Testpassword123!"}))

	var gotID int64
	protected := h.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = GetEditorID(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "Token abc", http.StatusUnauthorized},
		{"refresh token", "Bearer " + tokens.RefreshToken, http.StatusUnauthorized},
		{"valid", "Bearer " + tokens.AccessToken, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/stacks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			protected.ServeHTTP(rr, req)
			if rr.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rr.Code)
			}
		})
	}
	if gotID != tokens.EditorID {
		t.Errorf("expected editor %d in context, got %d", tokens.EditorID, gotID)
	}
}

func TestRequireRole(t *testing.T) {
	h, _ := newTestHandlers(t)
	handler := h.RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithClaims(req.Context(), &Claims{EditorID: 1, Role: RoleEditor}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	handler := SecurityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/stacks/s1", nil))
	if rr.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("expected X-Frame-Options DENY")
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Error("expected no-store on API responses")
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Header().Get("Cache-Control") != "" {
		t.Error("expected no Cache-Control outside the API")
	}
}

func TestMemoryDenylist(t *testing.T) {
	d := NewMemoryDenylist()
	ctx := context.Background()

	d.Revoke(ctx, "live", time.Now().Add(time.Hour))
	d.Revoke(ctx, "stale", time.Now().Add(-time.Hour))

	if revoked, _ := d.IsRevoked(ctx, "live"); !revoked {
		t.Error("expected live token revoked")
	}
	if revoked, _ := d.IsRevoked(ctx, "stale"); revoked {
		t.Error("expired entries should not count as revoked")
	}
	if revoked, _ := d.IsRevoked(ctx, "other"); revoked {
		t.Error("unknown token should not be revoked")
	}
}

