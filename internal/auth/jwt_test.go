package auth

import (
	"testing"
	"time"

	"github.com/zonestack/server/internal/config"
)

func testJWTConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:         "test_jwt_secret_key_32_bytes_long!!",
			RefreshSecret:     "test_refresh_secret_key_32_bytes_long!!",
			JWTExpiration:     15 * time.Minute,
			RefreshExpiration: 7 * 24 * time.Hour,
		},
	}
}

func TestJWTService_GenerateAccessToken(t *testing.T) {
	service := NewJWTService(testJWTConfig())

	token, err := service.GenerateAccessToken(123, "mapper", RoleEditor)
	if err != nil {
		t.Fatalf("GenerateAccessToken() failed: %v", err)
	}
	if token == "" {
		t.Error("GenerateAccessToken() returned empty token")
	}

	claims, err := service.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken() failed: %v", err)
	}
	if claims.EditorID != 123 {
		t.Errorf("Expected EditorID 123, got %d", claims.EditorID)
	}
	if claims.Username != "mapper" {
		t.Errorf("Expected Username 'mapper', got %s", claims.Username)
	}
	if claims.Role != RoleEditor {
		t.Errorf("Expected Role %q, got %s", RoleEditor, claims.Role)
	}
	if claims.Issuer != "zonestack-server" {
		t.Errorf("Expected Issuer 'zonestack-server', got %s", claims.Issuer)
	}
	if claims.ID == "" {
		t.Error("Expected a token ID")
	}
}

func TestJWTService_GenerateRefreshToken(t *testing.T) {
	service := NewJWTService(testJWTConfig())

	token, err := service.GenerateRefreshToken(123)
	if err != nil {
		t.Fatalf("GenerateRefreshToken() failed: %v", err)
	}

	claims, err := service.ValidateRefreshToken(token)
	if err != nil {
		t.Fatalf("ValidateRefreshToken() failed: %v", err)
	}
	if claims.EditorID != 123 {
		t.Errorf("Expected EditorID 123, got %d", claims.EditorID)
	}
}

func TestJWTService_SecretsAreSeparate(t *testing.T) {
	service := NewJWTService(testJWTConfig())

	refresh, err := service.GenerateRefreshToken(7)
	if err != nil {
		t.Fatalf("GenerateRefreshToken() failed: %v", err)
	}
	if _, err := service.ValidateAccessToken(refresh); err == nil {
		t.Error("refresh token must not validate as an access token")
	}

	access, err := service.GenerateAccessToken(7, "a", RoleEditor)
	if err != nil {
		t.Fatalf("GenerateAccessToken() failed: %v", err)
	}
	if _, err := service.ValidateRefreshToken(access); err == nil {
		t.Error("access token must not validate as a refresh token")
	}
}

func TestJWTService_ValidateAccessToken_InvalidToken(t *testing.T) {
	service := NewJWTService(testJWTConfig())

	if _, err := service.ValidateAccessToken("invalid.token.here"); err == nil {
		t.Error("ValidateAccessToken() should fail for invalid token")
	}
}

func TestJWTService_ExpiredToken(t *testing.T) {
	cfg := testJWTConfig()
	cfg.Auth.JWTExpiration = -time.Minute
	service := NewJWTService(cfg)

	token, err := service.GenerateAccessToken(1, "a", RoleEditor)
	if err != nil {
		t.Fatalf("GenerateAccessToken() failed: %v", err)
	}
	if _, err := service.ValidateAccessToken(token); err == nil {
		t.Error("expired token should not validate")
	}
}

func TestJWTService_TokenExpiration(t *testing.T) {
	service := NewJWTService(testJWTConfig())

	if expiry := service.GetTokenExpiration(); expiry != 15*time.Minute {
		t.Errorf("Expected expiration 15m, got %v", expiry)
	}
}
