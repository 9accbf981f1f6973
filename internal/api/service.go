package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/zonestack/server/internal/auth"
	"github.com/zonestack/server/internal/cache"
	"github.com/zonestack/server/internal/config"
	"github.com/zonestack/server/internal/database"
	"github.com/zonestack/server/internal/metrics"
	"github.com/zonestack/server/internal/templates"
	"github.com/zonestack/server/internal/zones"
)

var (
	ErrForbidden            = errors.New("stack belongs to another editor")
	ErrStackBusy            = errors.New("stack has a resize in progress")
	ErrTemplatesUnavailable = errors.New("template service not configured")
	ErrTemplateFetch        = errors.New("template service request failed")
	ErrInvalidRequest       = errors.New("invalid stack request")
)

// StackStore persists stack documents.
type StackStore interface {
	CreateStack(ctx context.Context, ownerID *int64, doc zones.Document) error
	SaveStack(ctx context.Context, ownerID *int64, doc zones.Document) error
	LoadStack(ctx context.Context, id string) (*database.StackRecord, error)
	DeleteStack(ctx context.Context, id string) error
	DeleteStacks(ctx context.Context, ids []string) (int64, error)
	ListStacksByOwner(ctx context.Context, ownerID int64) ([]database.StackSummary, error)
	ListStacksNear(ctx context.Context, point orb.Point, meters float64) ([]database.StackSummary, error)
}

// TemplateSource fetches alert templates.
type TemplateSource interface {
	FetchTemplate(ctx context.Context, id string) (*templates.Template, error)
}

// StackEvents is told about committed changes so live editors stay in sync.
type StackEvents interface {
	StackChanged(stackID string, view StackView)
	StackDeleted(stackID string)
	ResizeInProgress(stackID string) bool
}

// Editor identifies the caller of a mutating operation.
type Editor struct {
	ID   int64
	Role string
}

// EditorFromRequestContext reads the authenticated editor placed by the auth middleware.
func EditorFromRequestContext(ctx context.Context) (Editor, bool) {
	id, ok := ctx.Value(auth.EditorIDKey).(int64)
	if !ok {
		return Editor{}, false
	}
	role, _ := ctx.Value(auth.RoleKey).(string)
	return Editor{ID: id, Role: role}, true
}

// StackView is a read-only snapshot of a stack.
type StackView struct {
	Document zones.Document
	Renders  []zones.Renderable
}

// StackService owns the live stacks. Reads go registry, then cache, then
// database; every committed change is written to the database and the cache.
type StackService struct {
	registry  *zones.Registry
	store     StackStore
	cache     *cache.StackCache
	templates TemplateSource
	fitter    *zones.Fitter
	editor    config.EditorConfig

	mu     sync.RWMutex
	owners map[string]*int64
	events StackEvents
}

// NewStackService wires the stack service. cache, templates and collector may be nil.
func NewStackService(store StackStore, stackCache *cache.StackCache, source TemplateSource, cfg *config.Config, collector *metrics.Collector) *StackService {
	fitter := &zones.Fitter{
		BasePercent:   cfg.Editor.BasePercent,
		MarginPercent: cfg.Editor.FallbackMarginPercent,
		Sides:         cfg.Editor.CircleSides,
	}
	if collector != nil {
		fitter.Observer = collector
	}
	return &StackService{
		registry:  zones.NewRegistry(),
		store:     store,
		cache:     stackCache,
		templates: source,
		fitter:    fitter,
		editor:    cfg.Editor,
		owners:    make(map[string]*int64),
	}
}

// SetEvents registers the listener for committed changes.
func (s *StackService) SetEvents(events StackEvents) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = events
}

func (s *StackService) Registry() *zones.Registry {
	return s.registry
}

// NewSession creates a resize session configured from the editor settings.
func (s *StackService) NewSession(stack *zones.Stack) *zones.ResizeSession {
	session := zones.NewResizeSession(stack, s.fitter)
	session.StepPercent = s.editor.ResizeStepPercent
	session.PixelsPerStep = s.editor.PixelsPerStep
	return session
}

// View returns the current document and renders of a stack.
func (s *StackService) View(ctx context.Context, id string) (*StackView, error) {
	var view StackView
	err := s.registry.With(id, func(stack *zones.Stack) error {
		view = StackView{Document: stack.Document(), Renders: stack.Render()}
		return nil
	})
	if err == nil {
		return &view, nil
	}
	if !errors.Is(err, zones.ErrStackNotFound) {
		return nil, err
	}

	doc, found, err := s.cache.Get(ctx, id)
	if err != nil {
		log.Printf("[StackAPI] Cache read for %s failed: %v", id, err)
	}
	if found {
		stack, err := zones.StackFromDocument(*doc)
		if err == nil {
			return &StackView{Document: *doc, Renders: stack.Render()}, nil
		}
		log.Printf("[StackAPI] Cached stack %s is invalid, reloading: %v", id, err)
	}

	if err := s.live(ctx, id); err != nil {
		return nil, err
	}
	err = s.registry.With(id, func(stack *zones.Stack) error {
		view = StackView{Document: stack.Document(), Renders: stack.Render()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// Create validates and stores a new stack owned by editor.
func (s *StackService) Create(ctx context.Context, editor Editor, doc zones.Document) (zones.Document, error) {
	if doc.ID == "" {
		doc.ID = newStackID()
	}
	stack, err := zones.StackFromDocument(doc)
	if err != nil {
		return zones.Document{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	doc = stack.Document()

	owner := editor.ID
	if err := s.store.CreateStack(ctx, &owner, doc); err != nil {
		return zones.Document{}, err
	}

	s.registry.Put(stack)
	s.setOwner(doc.ID, &owner)
	s.cachePut(ctx, doc)
	log.Printf("[StackAPI] Stack %s created by editor %d with %d zone(s)", doc.ID, editor.ID, len(doc.Zones))
	return doc, nil
}

// Import creates a stack from an alert template.
func (s *StackService) Import(ctx context.Context, editor Editor, templateID, stackID, name string) (zones.Document, error) {
	if s.templates == nil {
		return zones.Document{}, ErrTemplatesUnavailable
	}
	tmpl, err := s.templates.FetchTemplate(ctx, templateID)
	if errors.Is(err, templates.ErrTemplateNotFound) {
		return zones.Document{}, err
	}
	if err != nil {
		return zones.Document{}, fmt.Errorf("%w: %w", ErrTemplateFetch, err)
	}
	if stackID == "" {
		stackID = newStackID()
	}
	doc, err := tmpl.ToDocument(stackID)
	if err != nil {
		return zones.Document{}, fmt.Errorf("%w: template %s: %w", ErrInvalidRequest, templateID, err)
	}
	if name != "" {
		doc.Name = name
	}
	return s.Create(ctx, editor, doc)
}

// Delete removes a stack everywhere.
func (s *StackService) Delete(ctx context.Context, id string, editor Editor) error {
	if err := s.Authorize(ctx, id, editor); err != nil {
		return err
	}
	if s.resizeInProgress(id) {
		return ErrStackBusy
	}
	if err := s.store.DeleteStack(ctx, id); err != nil {
		return err
	}

	s.registry.Remove(id)
	s.mu.Lock()
	delete(s.owners, id)
	events := s.events
	s.mu.Unlock()
	if err := s.cache.Invalidate(ctx, id); err != nil {
		log.Printf("[StackAPI] Failed to invalidate cached stack %s: %v", id, err)
	}
	if events != nil {
		events.StackDeleted(id)
	}
	log.Printf("[StackAPI] Stack %s deleted by editor %d", id, editor.ID)
	return nil
}

// InsertZone inserts a zone after afterIndex, or as the outermost zone when
// afterIndex is nil.
func (s *StackService) InsertZone(ctx context.Context, id string, editor Editor, afterIndex *int, spec zones.ZoneSpec) (zones.ZoneDocument, zones.Document, error) {
	var zoneID string
	doc, err := s.Mutate(ctx, id, editor, func(stack *zones.Stack) error {
		index := stack.ZoneIndex(stack.LargestZone())
		if afterIndex != nil {
			index = *afterIndex
		}
		shape, err := s.fitter.InsertZone(stack, index, spec)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		zoneID = shape.ID
		return nil
	})
	if err != nil {
		return zones.ZoneDocument{}, zones.Document{}, err
	}
	return zoneOf(doc, zoneID), doc, nil
}

// RemoveZone removes a zone and reports whether the stack is now empty.
func (s *StackService) RemoveZone(ctx context.Context, id string, editor Editor, zoneID string) (bool, zones.Document, error) {
	var empty bool
	doc, err := s.Mutate(ctx, id, editor, func(stack *zones.Stack) error {
		shape := stack.ZoneByID(zoneID)
		if shape == nil {
			return fmt.Errorf("zone %s: %w", zoneID, zones.ErrZoneNotFound)
		}
		var err error
		empty, err = stack.RemoveZone(shape)
		return err
	})
	return empty, doc, err
}

// ResizeZone applies a one-shot percentage resize through the fitter.
func (s *StackService) ResizeZone(ctx context.Context, id string, editor Editor, zoneID string, deltaPercent float64) (zones.ZoneDocument, zones.Document, error) {
	doc, err := s.Mutate(ctx, id, editor, func(stack *zones.Stack) error {
		shape := stack.ZoneByID(zoneID)
		if shape == nil {
			return fmt.Errorf("zone %s: %w", zoneID, zones.ErrZoneNotFound)
		}
		if !shape.Editable {
			return zones.ErrZoneLocked
		}
		inner, outer, err := stack.NeighborsOf(shape)
		if err != nil {
			return err
		}
		fit, err := s.fitter.FitResize(shape, deltaPercent, inner, outer)
		if err != nil {
			return err
		}
		shape.ApplyFit(fit)
		return nil
	})
	if err != nil {
		return zones.ZoneDocument{}, zones.Document{}, err
	}
	return zoneOf(doc, zoneID), doc, nil
}

// ZoneUpdate holds the attributes a PATCH may change. Nil fields are left as
// they are.
type ZoneUpdate struct {
	Name     *string
	Color    *string
	Opacity  *float64
	Editable *bool
	Center   *orb.Point
	Radius   *float64
}

func (u ZoneUpdate) geometric() bool {
	return u.Center != nil || u.Radius != nil
}

// UpdateZone changes display attributes of a zone, and moves or re-radiuses
// it. A geometry change that breaks containment with either neighbour is
// rolled back and reported as a *zones.ContainmentError.
func (s *StackService) UpdateZone(ctx context.Context, id string, editor Editor, zoneID string, update ZoneUpdate) (zones.ZoneDocument, zones.Document, error) {
	doc, err := s.Mutate(ctx, id, editor, func(stack *zones.Stack) error {
		shape := stack.ZoneByID(zoneID)
		if shape == nil {
			return fmt.Errorf("zone %s: %w", zoneID, zones.ErrZoneNotFound)
		}
		if update.geometric() && !shape.Editable && (update.Editable == nil || !*update.Editable) {
			return zones.ErrZoneLocked
		}

		snapshot := shape.Clone()
		if err := applyZoneUpdate(shape, update, s.editor.CircleSides); err != nil {
			*shape = *snapshot
			return err
		}
		if update.geometric() {
			if err := stack.Validate(); err != nil {
				*shape = *snapshot
				return err
			}
		}
		return nil
	})
	if err != nil {
		return zones.ZoneDocument{}, zones.Document{}, err
	}
	return zoneOf(doc, zoneID), doc, nil
}

func applyZoneUpdate(shape *zones.Shape, update ZoneUpdate, sides int) error {
	if update.Name != nil {
		shape.Name = *update.Name
	}
	if update.Color != nil || update.Opacity != nil {
		color, opacity := shape.Color, shape.Opacity
		if update.Color != nil {
			color = *update.Color
		}
		if update.Opacity != nil {
			opacity = *update.Opacity
		}
		shape.Recolor(color, opacity)
	}
	if update.Editable != nil {
		shape.SetEditable(*update.Editable)
	}
	if update.Radius != nil {
		if err := shape.SetRadius(*update.Radius, sides); err != nil {
			return fmt.Errorf("%w: zone %s: %w", ErrInvalidRequest, shape.ID, err)
		}
	}
	if update.Center != nil {
		if err := shape.MoveTo(*update.Center, sides); err != nil {
			return fmt.Errorf("%w: zone %s: %w", ErrInvalidRequest, shape.ID, err)
		}
	}
	return nil
}

// Mutate runs fn on the live stack and commits the result. A stack whose
// commit fails is dropped from the registry so the next access reloads it.
func (s *StackService) Mutate(ctx context.Context, id string, editor Editor, fn func(*zones.Stack) error) (zones.Document, error) {
	if err := s.Authorize(ctx, id, editor); err != nil {
		return zones.Document{}, err
	}
	if s.resizeInProgress(id) {
		return zones.Document{}, ErrStackBusy
	}

	var (
		view      StackView
		mutated   bool
		persisted bool
	)
	err := s.registry.With(id, func(stack *zones.Stack) error {
		if err := fn(stack); err != nil {
			return err
		}
		mutated = true
		view = StackView{Document: stack.Document(), Renders: stack.Render()}
		if err := s.persist(ctx, view.Document); err != nil {
			return err
		}
		persisted = true
		return nil
	})
	if mutated && !persisted {
		s.registry.Remove(id)
	}
	if err != nil {
		return zones.Document{}, err
	}
	s.notifyChanged(id, view)
	return view.Document, nil
}

// WithLive runs fn on the live stack without committing.
func (s *StackService) WithLive(ctx context.Context, id string, fn func(*zones.Stack) error) error {
	if err := s.live(ctx, id); err != nil {
		return err
	}
	return s.registry.With(id, fn)
}

// Commit persists the current state of a live stack and notifies listeners.
func (s *StackService) Commit(ctx context.Context, id string) (zones.Document, error) {
	var view StackView
	err := s.registry.With(id, func(stack *zones.Stack) error {
		view = StackView{Document: stack.Document(), Renders: stack.Render()}
		return s.persist(ctx, view.Document)
	})
	if err != nil {
		if !errors.Is(err, zones.ErrStackNotFound) {
			s.registry.Remove(id)
		}
		return zones.Document{}, err
	}
	s.notifyChanged(id, view)
	return view.Document, nil
}

// Authorize loads the stack and checks that editor may change it. Stacks
// without an owner are editable by everyone; admins may edit any stack.
func (s *StackService) Authorize(ctx context.Context, id string, editor Editor) error {
	if err := s.live(ctx, id); err != nil {
		return err
	}
	s.mu.RLock()
	owner := s.owners[id]
	s.mu.RUnlock()

	if owner == nil || *owner == editor.ID || editor.Role == auth.RoleAdmin {
		return nil
	}
	return ErrForbidden
}

// Purge deletes stacks regardless of owner. Stacks with a resize in
// progress are skipped and returned.
func (s *StackService) Purge(ctx context.Context, ids []string) (int64, []string, error) {
	var (
		doomed  []string
		skipped []string
	)
	for _, id := range ids {
		if s.resizeInProgress(id) {
			skipped = append(skipped, id)
			continue
		}
		doomed = append(doomed, id)
	}

	deleted, err := s.store.DeleteStacks(ctx, doomed)
	if err != nil {
		return 0, nil, err
	}

	s.mu.Lock()
	for _, id := range doomed {
		s.registry.Remove(id)
		delete(s.owners, id)
	}
	events := s.events
	s.mu.Unlock()
	if err := s.cache.Invalidate(ctx, doomed...); err != nil {
		log.Printf("[StackAPI] Failed to invalidate purged stacks: %v", err)
	}
	if events != nil {
		for _, id := range doomed {
			events.StackDeleted(id)
		}
	}
	log.Printf("[StackAPI] Purged %d stack(s), skipped %d busy", deleted, len(skipped))
	return deleted, skipped, nil
}

// Evict drops a live stack so the next access reloads it from the database.
func (s *StackService) Evict(id string) error {
	if s.resizeInProgress(id) {
		return ErrStackBusy
	}
	if !s.registry.Remove(id) {
		return fmt.Errorf("stack %s: %w", id, zones.ErrStackNotFound)
	}
	s.mu.Lock()
	delete(s.owners, id)
	s.mu.Unlock()
	return nil
}

// LiveStackIDs lists the stacks currently held in memory.
func (s *StackService) LiveStackIDs() []string {
	return s.registry.IDs()
}

func (s *StackService) ListByOwner(ctx context.Context, ownerID int64) ([]database.StackSummary, error) {
	return s.store.ListStacksByOwner(ctx, ownerID)
}

func (s *StackService) ListNear(ctx context.Context, point orb.Point, meters float64) ([]database.StackSummary, error) {
	return s.store.ListStacksNear(ctx, point, meters)
}

// live makes sure the stack is in the registry, loading it from the database.
func (s *StackService) live(ctx context.Context, id string) error {
	if s.registry.Has(id) {
		return nil
	}
	rec, err := s.store.LoadStack(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrStackNotFound) {
			return fmt.Errorf("stack %s: %w", id, zones.ErrStackNotFound)
		}
		return err
	}
	stack, err := zones.StackFromDocument(rec.Document)
	if err != nil {
		return fmt.Errorf("stored stack %s is invalid: %w", id, err)
	}
	if err := s.registry.Add(stack); err != nil && !errors.Is(err, zones.ErrStackRegistered) {
		return err
	}
	s.setOwner(id, rec.OwnerID)
	s.cachePut(ctx, rec.Document)
	return nil
}

func (s *StackService) persist(ctx context.Context, doc zones.Document) error {
	if err := s.store.SaveStack(ctx, nil, doc); err != nil {
		return fmt.Errorf("failed to save stack %s: %w", doc.ID, err)
	}
	s.cachePut(ctx, doc)
	return nil
}

func (s *StackService) cachePut(ctx context.Context, doc zones.Document) {
	if err := s.cache.Put(ctx, &doc); err != nil {
		log.Printf("[StackAPI] Failed to cache stack %s: %v", doc.ID, err)
	}
}

func (s *StackService) setOwner(id string, owner *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[id] = owner
}

func (s *StackService) resizeInProgress(id string) bool {
	s.mu.RLock()
	events := s.events
	s.mu.RUnlock()
	return events != nil && events.ResizeInProgress(id)
}

func (s *StackService) notifyChanged(id string, view StackView) {
	s.mu.RLock()
	events := s.events
	s.mu.RUnlock()
	if events != nil {
		events.StackChanged(id, view)
	}
}

func zoneOf(doc zones.Document, zoneID string) zones.ZoneDocument {
	for _, z := range doc.Zones {
		if z.ID == zoneID {
			return z
		}
	}
	return zones.ZoneDocument{}
}

func newStackID() string {
	return "stk_" + uuid.NewString()
}
