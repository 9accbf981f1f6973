package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/zonestack/server/internal/auth"
	"github.com/zonestack/server/internal/config"
	"github.com/zonestack/server/internal/database"
	"github.com/zonestack/server/internal/templates"
	"github.com/zonestack/server/internal/testutil"
	"github.com/zonestack/server/internal/zones"
)

// memoryStackStore is an in-memory StackStore.
type memoryStackStore struct {
	mu      sync.Mutex
	records map[string]database.StackRecord
	saves   int
	failing bool
}

func newMemoryStackStore() *memoryStackStore {
	return &memoryStackStore{records: make(map[string]database.StackRecord)}
}

func (s *memoryStackStore) CreateStack(ctx context.Context, ownerID *int64, doc zones.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[doc.ID]; ok {
		return fmt.Errorf("stack %s: %w", doc.ID, database.ErrStackExists)
	}
	s.records[doc.ID] = database.StackRecord{Document: doc, OwnerID: ownerID}
	return nil
}

func (s *memoryStackStore) SaveStack(ctx context.Context, ownerID *int64, doc zones.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return fmt.Errorf("database unavailable")
	}
	rec := s.records[doc.ID]
	rec.Document = doc
	if ownerID != nil {
		rec.OwnerID = ownerID
	}
	s.records[doc.ID] = rec
	s.saves++
	return nil
}

func (s *memoryStackStore) LoadStack(ctx context.Context, id string) (*database.StackRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("stack %s: %w", id, database.ErrStackNotFound)
	}
	return &rec, nil
}

func (s *memoryStackStore) DeleteStack(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("stack %s: %w", id, database.ErrStackNotFound)
	}
	delete(s.records, id)
	return nil
}

func (s *memoryStackStore) DeleteStacks(ctx context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *memoryStackStore) ListStacksByOwner(ctx context.Context, ownerID int64) ([]database.StackSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.StackSummary
	for _, rec := range s.records {
		if rec.OwnerID != nil && *rec.OwnerID == ownerID {
			out = append(out, summaryOf(rec, 0))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStackStore) ListStacksNear(ctx context.Context, point orb.Point, meters float64) ([]database.StackSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.StackSummary
	for _, rec := range s.records {
		if d := geo.Distance(point, rec.Document.Anchor); d <= meters {
			out = append(out, summaryOf(rec, d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceMeters < out[j].DistanceMeters })
	return out, nil
}

func (s *memoryStackStore) record(id string) (database.StackRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

func (s *memoryStackStore) setFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

func summaryOf(rec database.StackRecord, distance float64) database.StackSummary {
	return database.StackSummary{
		ID:             rec.Document.ID,
		Name:           rec.Document.Name,
		Anchor:         rec.Document.Anchor,
		OwnerID:        rec.OwnerID,
		ZoneCount:      len(rec.Document.Zones),
		DistanceMeters: distance,
	}
}

// fakeTemplates serves templates from a map.
type fakeTemplates struct {
	templates map[string]*templates.Template
	err       error
}

func (f *fakeTemplates) FetchTemplate(ctx context.Context, id string) (*templates.Template, error) {
	if f.err != nil {
		return nil, f.err
	}
	tmpl, ok := f.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, templates.ErrTemplateNotFound)
	}
	return tmpl, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:         "test-secret-key-for-testing-only",
			JWTExpiration:     15 * time.Minute,
			RefreshSecret:     "test-refresh-secret-key-for-testing-only",
			RefreshExpiration: 7 * 24 * time.Hour,
			BCryptCost:        4,
		},
		Editor: config.EditorConfig{
			BasePercent:           50,
			ResizeStepPercent:     2,
			PixelsPerStep:         1,
			CircleSides:           50,
			FallbackMarginPercent: 1,
		},
	}
}

func newTestService(t *testing.T, store *memoryStackStore, source TemplateSource) *StackService {
	t.Helper()
	return NewStackService(store, nil, source, testConfig(), nil)
}

// seedStack stores a circle stack owned by owner (nil for ownerless).
func seedStack(t *testing.T, store *memoryStackStore, id string, owner *int64, radii ...float64) zones.Document {
	t.Helper()
	doc := testutil.CircleDocument(t, id, radii...)
	if err := store.CreateStack(context.Background(), owner, doc); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	return doc
}

func ownerID(id int64) *int64 {
	return &id
}

// asEditor authenticates every request as the given editor.
func asEditor(id int64, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := &auth.Claims{EditorID: id, Username: fmt.Sprintf("editor%d", id), Role: role}
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}

func stackRouter(service *StackService, editorID int64, role string) http.Handler {
	mux := http.NewServeMux()
	SetupStackRoutes(mux, service, asEditor(editorID, role))
	return mux
}
