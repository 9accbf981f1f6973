package templates

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/zonestack/server/internal/config"
	"github.com/zonestack/server/internal/zones"
)

func testConfig(baseURL string, retries int) *config.Config {
	return &config.Config{
		Templates: config.TemplatesConfig{
			BaseURL:    baseURL,
			Timeout:    5 * time.Second,
			RetryCount: retries,
		},
	}
}

func sampleDocument() *zones.Document {
	return &zones.Document{
		ID:     "ignored",
		Name:   "Warehouse",
		Anchor: orb.Point{0, 0},
		Zones: []zones.ZoneDocument{{
			ID:   "inner",
			Ring: orb.Ring{{-0.001, -0.001}, {0.001, -0.001}, {0.001, 0.001}, {-0.001, 0.001}, {-0.001, -0.001}},
		}},
	}
}

func TestNewClient(t *testing.T) {
	client := NewClient(testConfig("http://localhost:8081", 3))
	if client == nil {
		t.Fatal("NewClient returned nil")
	}
	if client.baseURL != "http://localhost:8081" {
		t.Errorf("Expected baseURL http://localhost:8081, got %s", client.baseURL)
	}
	if client.timeout != 5*time.Second {
		t.Errorf("Expected timeout 5s, got %v", client.timeout)
	}
	if client.retryCount != 3 {
		t.Errorf("Expected retryCount 3, got %d", client.retryCount)
	}
}

func TestClient_HealthCheck(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		code    int
		wantErr bool
	}{
		{"healthy", "ok", http.StatusOK, false},
		{"unhealthy", "error", http.StatusOK, true},
		{"server error", "ok", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					t.Errorf("Expected path /health, got %s", r.URL.Path)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.code)
				json.NewEncoder(w).Encode(HealthResponse{Status: tt.status, Service: "alert-templates", Version: "1.0.0"})
			}))
			defer server.Close()

			err := NewClient(testConfig(server.URL, 0)).HealthCheck(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("HealthCheck error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClient_FetchTemplate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/alert-templates/warehouse" {
			t.Errorf("Expected template path, got %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("Expected method GET, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TemplateResponse{
			Success:  true,
			Template: &Template{ID: "warehouse", Name: "Warehouse", Document: sampleDocument()},
		})
	}))
	defer server.Close()

	tmpl, err := NewClient(testConfig(server.URL, 0)).FetchTemplate(context.Background(), "warehouse")
	if err != nil {
		t.Fatalf("FetchTemplate failed: %v", err)
	}
	if tmpl.ID != "warehouse" || tmpl.Document == nil {
		t.Fatalf("Unexpected template: %+v", tmpl)
	}

	doc, err := tmpl.ToDocument("stack-1")
	if err != nil {
		t.Fatalf("ToDocument failed: %v", err)
	}
	if doc.ID != "stack-1" || doc.Name != "Warehouse" || len(doc.Zones) != 1 {
		t.Errorf("Unexpected document: %+v", doc)
	}
	if _, err := zones.StackFromDocument(doc); err != nil {
		t.Errorf("Template document should build a stack: %v", err)
	}
}

func TestClient_FetchTemplate_Retry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TemplateResponse{
			Success:  true,
			Template: &Template{ID: "t1", Document: sampleDocument()},
		})
	}))
	defer server.Close()

	if _, err := NewClient(testConfig(server.URL, 3)).FetchTemplate(context.Background(), "t1"); err != nil {
		t.Fatalf("FetchTemplate failed after retries: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestClient_FetchTemplate_NotFound(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := NewClient(testConfig(server.URL, 3)).FetchTemplate(context.Background(), "missing")
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("Expected ErrTemplateNotFound, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected a 404 not to be retried, got %d attempts", attempts)
	}
}

func TestClient_FetchTemplate_Exhausted(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Content-Type", "application/json")
		msg := "template disabled"
		json.NewEncoder(w).Encode(TemplateResponse{Success: false, Message: &msg})
	}))
	defer server.Close()

	if _, err := NewClient(testConfig(server.URL, 1)).FetchTemplate(context.Background(), "t1"); err == nil {
		t.Fatal("Expected error when the service reports failure")
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestTemplate_ToDocumentFromFeatures(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	anchor := geojson.NewFeature(orb.Point{0, 0})
	anchor.Properties["role"] = "anchor"
	fc.Append(anchor)
	zone := geojson.NewFeature(orb.Polygon{sampleDocument().Zones[0].Ring})
	zone.Properties["id"] = "inner"
	fc.Append(zone)

	tmpl := &Template{ID: "geo", Name: "From GeoJSON", Features: fc}
	doc, err := tmpl.ToDocument("stack-2")
	if err != nil {
		t.Fatalf("ToDocument failed: %v", err)
	}
	if doc.ID != "stack-2" || doc.Name != "From GeoJSON" || len(doc.Zones) != 1 {
		t.Errorf("Unexpected document: %+v", doc)
	}

	if _, err := (&Template{ID: "empty"}).ToDocument("x"); err == nil {
		t.Error("Expected error for template without zones")
	}
}
