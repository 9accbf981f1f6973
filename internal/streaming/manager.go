package streaming

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrLeaseNotHeld         = errors.New("resize lease not held by this client")
)

// LeaseHeldError reports that another client is already resizing a zone of the stack.
type LeaseHeldError struct {
	StackID  string
	ZoneID   string
	EditorID int64
}

func (e *LeaseHeldError) Error() string {
	return fmt.Sprintf("stack %s: zone %s is being resized by editor %d", e.StackID, e.ZoneID, e.EditorID)
}

// Manager coordinates stack subscriptions and the resize lease of each stack.
type Manager struct {
	mu            sync.RWMutex
	seq           uint64
	subscriptions map[string]*Subscription
	byStack       map[string]map[string]struct{}
	leases        map[string]*Lease
}

// Subscription tracks one client's interest in a stack.
type Subscription struct {
	ID         string
	EditorID   int64
	ClientID   string
	StackID    string
	Compressed bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Lease grants one client the exclusive right to resize a zone in a stack.
type Lease struct {
	StackID    string
	ZoneID     string
	ClientID   string
	EditorID   int64
	AcquiredAt time.Time
	TouchedAt  time.Time
}

// SubscriptionRequest is sent by clients to receive updates for a stack.
type SubscriptionRequest struct {
	StackID    string `json:"stack_id"`
	Compressed bool   `json:"compressed"` // Request binary_gzip renders
}

// SubscriptionPlan captures the server response for a subscription.
type SubscriptionPlan struct {
	SubscriptionID string `json:"subscription_id"`
	StackID        string `json:"stack_id"`
}

// NewManager builds a streaming manager instance.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*Subscription),
		byStack:       make(map[string]map[string]struct{}),
		leases:        make(map[string]*Lease),
	}
}

// PlanSubscription validates the request and registers the subscription.
func (m *Manager) PlanSubscription(editorID int64, clientID string, req SubscriptionRequest) (*SubscriptionPlan, error) {
	if req.StackID == "" {
		return nil, fmt.Errorf("stack_id is required")
	}
	if clientID == "" {
		return nil, fmt.Errorf("client id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	now := time.Now()
	sub := &Subscription{
		ID:         fmt.Sprintf("sub_%s_%d", req.StackID, m.seq),
		EditorID:   editorID,
		ClientID:   clientID,
		StackID:    req.StackID,
		Compressed: req.Compressed,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.subscriptions[sub.ID] = sub
	if m.byStack[req.StackID] == nil {
		m.byStack[req.StackID] = make(map[string]struct{})
	}
	m.byStack[req.StackID][sub.ID] = struct{}{}

	return &SubscriptionPlan{SubscriptionID: sub.ID, StackID: req.StackID}, nil
}

// Unsubscribe removes a subscription owned by editorID.
func (m *Manager) Unsubscribe(editorID int64, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subscriptions[subscriptionID]
	if !ok {
		return fmt.Errorf("subscription %s: %w", subscriptionID, ErrSubscriptionNotFound)
	}
	if sub.EditorID != editorID {
		return fmt.Errorf("subscription %s does not belong to the current editor", subscriptionID)
	}
	m.removeLocked(sub)
	return nil
}

// GetSubscription retrieves a copy of a subscription by ID.
func (m *Manager) GetSubscription(subscriptionID string) (Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subscriptions[subscriptionID]
	if !ok {
		return Subscription{}, fmt.Errorf("subscription %s: %w", subscriptionID, ErrSubscriptionNotFound)
	}
	return *sub, nil
}

// SubscribersOf returns copies of the subscriptions to a stack, ordered by ID.
func (m *Manager) SubscribersOf(stackID string) []Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byStack[stackID]
	subs := make([]Subscription, 0, len(ids))
	for id := range ids {
		subs = append(subs, *m.subscriptions[id])
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs
}

// DropStack removes every subscription and the lease for a deleted stack.
func (m *Manager) DropStack(stackID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.byStack[stackID] {
		delete(m.subscriptions, id)
	}
	delete(m.byStack, stackID)
	delete(m.leases, stackID)
}

// RemoveClient drops every subscription and lease belonging to a disconnected
// client. It returns the IDs of stacks whose lease was released.
func (m *Manager) RemoveClient(clientID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subscriptions {
		if sub.ClientID == clientID {
			m.removeLocked(sub)
		}
	}

	var released []string
	for stackID, lease := range m.leases {
		if lease.ClientID == clientID {
			delete(m.leases, stackID)
			released = append(released, stackID)
		}
	}
	sort.Strings(released)
	return released
}

// AcquireLease grants clientID the resize lease on stackID. It fails with a
// *LeaseHeldError while any client, including clientID, holds it.
func (m *Manager) AcquireLease(stackID, zoneID, clientID string, editorID int64) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if held, ok := m.leases[stackID]; ok {
		return Lease{}, &LeaseHeldError{StackID: stackID, ZoneID: held.ZoneID, EditorID: held.EditorID}
	}

	now := time.Now()
	lease := &Lease{
		StackID:    stackID,
		ZoneID:     zoneID,
		ClientID:   clientID,
		EditorID:   editorID,
		AcquiredAt: now,
		TouchedAt:  now,
	}
	m.leases[stackID] = lease
	return *lease, nil
}

// TouchLease refreshes the idle timer of a lease held by clientID.
func (m *Manager) TouchLease(stackID, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lease, ok := m.leases[stackID]
	if !ok || lease.ClientID != clientID {
		return ErrLeaseNotHeld
	}
	lease.TouchedAt = time.Now()
	return nil
}

// ReleaseLease releases the lease if clientID holds it.
func (m *Manager) ReleaseLease(stackID, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lease, ok := m.leases[stackID]
	if !ok || lease.ClientID != clientID {
		return ErrLeaseNotHeld
	}
	delete(m.leases, stackID)
	return nil
}

// LeaseFor returns the current lease on a stack.
func (m *Manager) LeaseFor(stackID string) (Lease, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lease, ok := m.leases[stackID]
	if !ok {
		return Lease{}, false
	}
	return *lease, true
}

// ExpireLeases removes leases idle for longer than maxIdle and returns them.
func (m *Manager) ExpireLeases(now time.Time, maxIdle time.Duration) []Lease {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []Lease
	for stackID, lease := range m.leases {
		if now.Sub(lease.TouchedAt) > maxIdle {
			expired = append(expired, *lease)
			delete(m.leases, stackID)
		}
	}
	if len(expired) > 0 {
		log.Printf("[Stream] Expired %d idle resize lease(s)", len(expired))
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].StackID < expired[j].StackID })
	return expired
}

func (m *Manager) removeLocked(sub *Subscription) {
	delete(m.subscriptions, sub.ID)
	if ids, ok := m.byStack[sub.StackID]; ok {
		delete(ids, sub.ID)
		if len(ids) == 0 {
			delete(m.byStack, sub.StackID)
		}
	}
}
