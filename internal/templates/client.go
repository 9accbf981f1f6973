package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/zonestack/server/internal/config"
	"github.com/zonestack/server/internal/zones"
)

// ErrTemplateNotFound is returned when the service has no template with the requested ID.
var ErrTemplateNotFound = errors.New("template not found")

// Client fetches alert templates from the remote template service
type Client struct {
	baseURL    string
	timeout    time.Duration
	retryCount int
	client     *http.Client
}

// NewClient creates a new template service client
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:    cfg.Templates.BaseURL,
		timeout:    cfg.Templates.Timeout,
		retryCount: cfg.Templates.RetryCount,
		client: &http.Client{
			Timeout: cfg.Templates.Timeout,
		},
	}
}

// Template is an alert template. It carries its zones either as a stack
// document or as a GeoJSON feature collection.
type Template struct {
	ID          string                     `json:"id"`
	Name        string                     `json:"name"`
	Description string                     `json:"description,omitempty"`
	Document    *zones.Document            `json:"document,omitempty"`
	Features    *geojson.FeatureCollection `json:"features,omitempty"`
}

// TemplateResponse is the envelope returned by the template service
type TemplateResponse struct {
	Success  bool      `json:"success"`
	Template *Template `json:"template,omitempty"`
	Message  *string   `json:"message,omitempty"`
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// ToDocument converts the template into a stack document with the given ID.
func (t *Template) ToDocument(stackID string) (zones.Document, error) {
	switch {
	case t.Document != nil:
		doc := *t.Document
		doc.ID = stackID
		if doc.Name == "" {
			doc.Name = t.Name
		}
		return doc, nil
	case t.Features != nil:
		doc, err := zones.DocumentFromFeatureCollection(stackID, t.Features)
		if err != nil {
			return zones.Document{}, fmt.Errorf("template %s: %w", t.ID, err)
		}
		if doc.Name == "" {
			doc.Name = t.Name
		}
		return doc, nil
	default:
		return zones.Document{}, fmt.Errorf("template %s has no zones", t.ID)
	}
}

// HealthCheck checks if the template service is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Printf("Warning: failed to close template health response body: %v", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}
	if health.Status != "ok" {
		return fmt.Errorf("service reported unhealthy status: %s", health.Status)
	}
	return nil
}

// FetchTemplate retrieves a template, retrying transient failures with
// exponential backoff. A 404 is not retried.
func (c *Client) FetchTemplate(ctx context.Context, id string) (*Template, error) {
	endpoint := fmt.Sprintf("%s/api/v1/alert-templates/%s", c.baseURL, url.PathEscape(id))

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 100ms, 200ms, 400ms
			backoff := time.Duration(100*(1<<uint(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Printf("Warning: failed to close template response body: %v", closeErr)
		}
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("fetch failed with status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var response TemplateResponse
		if err := json.Unmarshal(respBody, &response); err != nil {
			lastErr = fmt.Errorf("failed to decode response: %w", err)
			continue
		}
		if !response.Success || response.Template == nil {
			msg := "no template in response"
			if response.Message != nil {
				msg = *response.Message
			}
			lastErr = fmt.Errorf("fetch failed: %s", msg)
			continue
		}

		return response.Template, nil
	}

	return nil, fmt.Errorf("fetch failed after %d attempts: %w", c.retryCount+1, lastErr)
}
