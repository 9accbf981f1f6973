package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zonestack/server/internal/auth"
	"github.com/zonestack/server/internal/compression"
	"github.com/zonestack/server/internal/config"
	"github.com/zonestack/server/internal/metrics"
	"github.com/zonestack/server/internal/streaming"
	"github.com/zonestack/server/internal/zones"
)

const (
	// Supported WebSocket protocol versions
	ProtocolVersion1 = "zonestack-v1"

	defaultPingInterval = 30 * time.Second
	pongWait            = 60 * time.Second
	writeTimeout        = 10 * time.Second

	// A resize lease untouched for this long is reclaimed.
	leaseIdleTimeout   = 2 * time.Minute
	leaseSweepInterval = 15 * time.Second

	operationTimeout = 10 * time.Second
)

// WebSocketConnection represents an active editor connection
type WebSocketConnection struct {
	conn     *websocket.Conn
	clientID string
	editorID int64
	username string
	role     string
	version  string
	send     chan []byte
	hub      *WebSocketHub

	mu      sync.Mutex
	resizes map[string]*resizeState
}

// resizeState is one interactive resize owned by a connection.
type resizeState struct {
	session *zones.ResizeSession
	stack   *zones.Stack
	zoneID  string
}

// WebSocketHub tracks the active connections by client ID
type WebSocketHub struct {
	connections map[string]*WebSocketConnection
	register    chan *WebSocketConnection
	unregister  chan *WebSocketConnection
	done        chan struct{}
	mu          sync.RWMutex
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WebSocketError represents an error message sent over WebSocket
type WebSocketError struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type stackRequest struct {
	StackID string `json:"stack_id"`
}

type unsubscribeRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

type resizeBeginRequest struct {
	StackID string `json:"stack_id"`
	ZoneID  string `json:"zone_id"`
}

type resizeDeltaRequest struct {
	StackID string  `json:"stack_id"`
	DY      float64 `json:"dy"`
}

type stackSnapshot struct {
	SubscriptionID string         `json:"subscription_id,omitempty"`
	Stack          zones.Document `json:"stack"`
	Renders        interface{}    `json:"renders"`
}

type resizeStepPayload struct {
	StackID string      `json:"stack_id"`
	ZoneID  string      `json:"zone_id"`
	Percent float64     `json:"percent"`
	Renders interface{} `json:"renders"`
}

type zonesOverlapPayload struct {
	StackID string       `json:"stack_id"`
	ZoneID  string       `json:"zone_id"`
	Percent float64      `json:"percent"`
	Reason  zones.Reason `json:"reason"`
	Inner   string       `json:"inner,omitempty"`
	Outer   string       `json:"outer,omitempty"`
	Message string       `json:"message"`
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		connections: make(map[string]*WebSocketConnection),
		register:    make(chan *WebSocketConnection),
		unregister:  make(chan *WebSocketConnection),
		done:        make(chan struct{}),
	}
}

// Run processes registrations until ctx is done.
func (h *WebSocketHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.clientID] = conn
			h.mu.Unlock()
			log.Printf("[EditWS] Connection registered: client_id=%s, editor_id=%d, version=%s", conn.clientID, conn.editorID, conn.version)

		case conn := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.connections[conn.clientID]; ok && current == conn {
				delete(h.connections, conn.clientID)
				close(conn.send)
			}
			h.mu.Unlock()
			log.Printf("[EditWS] Connection unregistered: client_id=%s, editor_id=%d", conn.clientID, conn.editorID)

		case <-ctx.Done():
			h.mu.Lock()
			for id, conn := range h.connections {
				delete(h.connections, id)
				close(conn.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// SendTo queues message for one client. It reports false when the client is
// gone or its queue is full.
func (h *WebSocketHub) SendTo(clientID string, message []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conn, ok := h.connections[clientID]
	if !ok {
		return false
	}
	select {
	case conn.send <- message:
		return true
	default:
		log.Printf("[EditWS] Dropping message for client %s: channel full", clientID)
		return false
	}
}

func (h *WebSocketHub) connection(clientID string) *WebSocketConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connections[clientID]
}

// Len returns the number of registered connections.
func (h *WebSocketHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// WebSocketHandlers serves /ws/edit: stack subscriptions and interactive resizes.
type WebSocketHandlers struct {
	hub           *WebSocketHub
	service       *StackService
	jwtService    *auth.JWTService
	streamManager *streaming.Manager
	metrics       *metrics.Collector
	upgrader      websocket.Upgrader
}

// NewWebSocketHandlers creates the handlers and registers them for stack
// change events.
func NewWebSocketHandlers(service *StackService, cfg *config.Config, collector *metrics.Collector) *WebSocketHandlers {
	allowedOrigins := make(map[string]bool, len(cfg.Server.AllowedOrigins))
	for _, origin := range cfg.Server.AllowedOrigins {
		allowedOrigins[origin] = true
	}

	h := &WebSocketHandlers{
		hub:           NewWebSocketHub(),
		service:       service,
		jwtService:    auth.NewJWTService(cfg),
		streamManager: streaming.NewManager(),
		metrics:       collector,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigins[origin]
			},
		},
	}
	service.SetEvents(h)
	return h
}

// Run starts the hub and the lease janitor. It returns when ctx is done.
func (h *WebSocketHandlers) Run(ctx context.Context) {
	go h.hub.Run(ctx)

	ticker := time.NewTicker(leaseSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			h.expireLeases(now)
		case <-ctx.Done():
			return
		}
	}
}

func (h *WebSocketHandlers) GetHub() *WebSocketHub {
	return h.hub
}

// HandleWebSocket handles WebSocket connection upgrades
func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token, err := h.extractToken(r)
	if err != nil {
		log.Printf("[EditWS] Authentication failed: %v", err)
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	claims, err := h.jwtService.ValidateAccessToken(token)
	if err != nil {
		log.Printf("[EditWS] Token validation failed: %v", err)
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	requestedVersions := r.Header.Get("Sec-WebSocket-Protocol")
	selectedVersion := h.negotiateVersion(requestedVersions)
	if selectedVersion == "" {
		log.Printf("[EditWS] Version negotiation failed: requested=%s", requestedVersions)
		http.Error(w, "Unsupported protocol version", http.StatusBadRequest)
		return
	}

	responseHeaders := http.Header{}
	responseHeaders.Set("Sec-WebSocket-Protocol", selectedVersion)

	conn, err := h.upgrader.Upgrade(w, r, responseHeaders)
	if err != nil {
		log.Printf("[EditWS] Upgrade failed: %v", err)
		return
	}

	wsConn := &WebSocketConnection{
		conn:     conn,
		clientID: uuid.NewString(),
		editorID: claims.EditorID,
		username: claims.Username,
		role:     claims.Role,
		version:  selectedVersion,
		send:     make(chan []byte, 256),
		hub:      h.hub,
		resizes:  make(map[string]*resizeState),
	}

	select {
	case h.hub.register <- wsConn:
	case <-h.hub.done:
		_ = conn.Close()
		return
	}

	go wsConn.writePump()
	go wsConn.readPump(h)
}

// extractToken extracts the access token from the query string or the
// Authorization header
func (h *WebSocketHandlers) extractToken(r *http.Request) (string, error) {
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}

	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1], nil
	}

	return "", fmt.Errorf("missing authentication token")
}

// negotiateVersion selects the highest supported protocol version
func (h *WebSocketHandlers) negotiateVersion(requested string) string {
	if requested == "" {
		return ProtocolVersion1
	}

	supportedVersions := []string{ProtocolVersion1}
	for _, supported := range supportedVersions {
		for _, candidate := range strings.Split(requested, ",") {
			if strings.TrimSpace(candidate) == supported {
				return supported
			}
		}
	}
	return ""
}

// readPump handles incoming messages from the WebSocket connection
func (c *WebSocketConnection) readPump(handlers *WebSocketHandlers) {
	defer func() {
		handlers.disconnect(c)
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		if err := c.conn.Close(); err != nil {
			log.Printf("[EditWS] Failed to close connection: %v", err)
		}
	}()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("[EditWS] Failed to set read deadline: %v", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[EditWS] Read error: %v", err)
			}
			break
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			c.sendError("invalid_message", "Invalid message format", "InvalidMessageFormat")
			continue
		}

		handlers.handleMessage(c, &msg)
	}
}

// writePump handles outgoing messages to the WebSocket connection
func (c *WebSocketConnection) writePump() {
	ticker := time.NewTicker(defaultPingInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil {
			log.Printf("[EditWS] Failed to close connection: %v", err)
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if !ok {
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					log.Printf("[EditWS] Failed to write close message: %v", err)
				}
				return
			}
			// One JSON message per frame; clients parse frames independently.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendError sends an error message to the client
func (c *WebSocketConnection) sendError(id, errorMsg, code string) {
	messageBytes, err := json.Marshal(WebSocketError{
		Type:    "error",
		ID:      id,
		Error:   errorMsg,
		Message: errorMsg,
		Code:    code,
	})
	if err != nil {
		log.Printf("[EditWS] Failed to marshal error message: %v", err)
		return
	}
	c.hub.SendTo(c.clientID, messageBytes)
}

// sendMessage queues a typed message with a JSON payload
func (c *WebSocketConnection) sendMessage(messageType, id string, payload interface{}) {
	messageBytes, err := encodeMessage(messageType, id, payload)
	if err != nil {
		log.Printf("[EditWS] Failed to marshal %s: %v", messageType, err)
		c.sendError(id, "Failed to prepare response", "InternalError")
		return
	}
	c.hub.SendTo(c.clientID, messageBytes)
}

func (c *WebSocketConnection) editor() Editor {
	return Editor{ID: c.editorID, Role: c.role}
}

func (c *WebSocketConnection) resize(stackID string) *resizeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resizes[stackID]
}

func (c *WebSocketConnection) takeResize(stackID string) *resizeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.resizes[stackID]
	delete(c.resizes, stackID)
	return state
}

func (c *WebSocketConnection) takeAllResizes() map[string]*resizeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	all := c.resizes
	c.resizes = make(map[string]*resizeState)
	return all
}

func encodeMessage(messageType, id string, payload interface{}) ([]byte, error) {
	msg := WebSocketMessage{Type: messageType, ID: id}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Data = data
	}
	return json.Marshal(msg)
}

// handleMessage routes messages to appropriate handlers
func (h *WebSocketHandlers) handleMessage(conn *WebSocketConnection, msg *WebSocketMessage) {
	start := time.Now()
	defer func() {
		h.metrics.ObserveOperation(operationLabel(msg.Type), time.Since(start))
	}()

	switch msg.Type {
	case "ping":
		conn.sendMessage("pong", msg.ID, nil)
	case "stack_subscribe":
		h.handleStackSubscribe(conn, msg)
	case "stack_unsubscribe":
		h.handleStackUnsubscribe(conn, msg)
	case "resize_begin":
		h.handleResizeBegin(conn, msg)
	case "resize_delta":
		h.handleResizeDelta(conn, msg)
	case "resize_end":
		h.handleResizeFinish(conn, msg, false)
	case "resize_cancel":
		h.handleResizeFinish(conn, msg, true)
	default:
		conn.sendError(msg.ID, "Unknown message type", "UnknownMessageType")
	}
}

func (h *WebSocketHandlers) handleStackSubscribe(conn *WebSocketConnection, msg *WebSocketMessage) {
	var req streaming.SubscriptionRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		conn.sendError(msg.ID, "Invalid stack_subscribe payload", "InvalidMessageFormat")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	view, err := h.service.View(ctx, req.StackID)
	if err != nil {
		h.sendServiceError(conn, msg.ID, err)
		return
	}

	plan, err := h.streamManager.PlanSubscription(conn.editorID, conn.clientID, req)
	if err != nil {
		conn.sendError(msg.ID, err.Error(), "InvalidSubscriptionRequest")
		return
	}

	renders, err := renderPayload(view.Document, view.Renders, req.Compressed)
	if err != nil {
		log.Printf("[EditWS] Failed to encode renders for %s: %v", req.StackID, err)
		conn.sendError(msg.ID, "Failed to encode renders", "InternalError")
		return
	}
	conn.sendMessage("stack_snapshot", msg.ID, stackSnapshot{
		SubscriptionID: plan.SubscriptionID,
		Stack:          view.Document,
		Renders:        renders,
	})
}

func (h *WebSocketHandlers) handleStackUnsubscribe(conn *WebSocketConnection, msg *WebSocketMessage) {
	var req unsubscribeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.SubscriptionID == "" {
		conn.sendError(msg.ID, "Invalid stack_unsubscribe payload", "InvalidMessageFormat")
		return
	}
	if err := h.streamManager.Unsubscribe(conn.editorID, req.SubscriptionID); err != nil {
		conn.sendError(msg.ID, err.Error(), "InvalidSubscriptionRequest")
	}
}

func (h *WebSocketHandlers) handleResizeBegin(conn *WebSocketConnection, msg *WebSocketMessage) {
	var req resizeBeginRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.StackID == "" || req.ZoneID == "" {
		conn.sendError(msg.ID, "Invalid resize_begin payload", "InvalidMessageFormat")
		return
	}
	if conn.resize(req.StackID) != nil {
		conn.sendError(msg.ID, zones.ErrSessionActive.Error(), "ResizeActive")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := h.service.Authorize(ctx, req.StackID, conn.editor()); err != nil {
		h.sendServiceError(conn, msg.ID, err)
		return
	}
	if _, err := h.streamManager.AcquireLease(req.StackID, req.ZoneID, conn.clientID, conn.editorID); err != nil {
		h.sendServiceError(conn, msg.ID, err)
		return
	}

	state := &resizeState{zoneID: req.ZoneID}
	err := h.service.WithLive(ctx, req.StackID, func(stack *zones.Stack) error {
		shape := stack.ZoneByID(req.ZoneID)
		if shape == nil {
			return fmt.Errorf("zone %s: %w", req.ZoneID, zones.ErrZoneNotFound)
		}
		session := h.service.NewSession(stack)
		if err := session.Begin(shape); err != nil {
			return err
		}
		state.session = session
		state.stack = stack
		return nil
	})
	if err != nil {
		if releaseErr := h.streamManager.ReleaseLease(req.StackID, conn.clientID); releaseErr != nil {
			log.Printf("[EditWS] Failed to release lease on %s: %v", req.StackID, releaseErr)
		}
		h.sendServiceError(conn, msg.ID, err)
		return
	}

	conn.mu.Lock()
	conn.resizes[req.StackID] = state
	conn.mu.Unlock()
	h.metrics.SessionStarted()

	log.Printf("[ResizeWS] Editor %d began resizing zone %s of stack %s", conn.editorID, req.ZoneID, req.StackID)
	conn.sendMessage("resize_ack", msg.ID, resizeBeginRequest{StackID: req.StackID, ZoneID: req.ZoneID})
}

func (h *WebSocketHandlers) handleResizeDelta(conn *WebSocketConnection, msg *WebSocketMessage) {
	var req resizeDeltaRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.StackID == "" {
		conn.sendError(msg.ID, "Invalid resize_delta payload", "InvalidMessageFormat")
		return
	}
	state := conn.resize(req.StackID)
	if state == nil {
		conn.sendError(msg.ID, zones.ErrSessionIdle.Error(), "NoResizeSession")
		return
	}
	if err := h.streamManager.TouchLease(req.StackID, conn.clientID); err != nil {
		// The janitor reclaimed the lease; the session has been closed.
		conn.sendError(msg.ID, err.Error(), "LeaseExpired")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	var (
		step   *zones.Step
		anchor zones.Document
	)
	err := h.service.WithLive(ctx, req.StackID, func(stack *zones.Stack) error {
		if stack != state.stack {
			return errStaleSession
		}
		var err error
		step, err = state.session.PointerDelta(req.DY)
		anchor = zones.Document{ID: stack.ID, Anchor: stack.Anchor}
		return err
	})
	if err != nil {
		h.abortResize(conn, req.StackID)
		h.sendServiceError(conn, msg.ID, err)
		return
	}
	if step == nil {
		return
	}

	if step.Rejected != nil {
		h.metrics.ObserveStep(false)
		conn.sendMessage("zones_overlap", msg.ID, zonesOverlapPayload{
			StackID: req.StackID,
			ZoneID:  step.ZoneID,
			Percent: step.Percent,
			Reason:  step.Rejected.Reason,
			Inner:   step.Rejected.Inner,
			Outer:   step.Rejected.Outer,
			Message: step.Notice,
		})
		return
	}

	h.metrics.ObserveStep(true)
	renders, err := renderPayload(anchor, step.Renders, false)
	if err != nil {
		conn.sendError(msg.ID, "Failed to encode renders", "InternalError")
		return
	}
	payload := resizeStepPayload{
		StackID: req.StackID,
		ZoneID:  step.ZoneID,
		Percent: step.Percent,
		Renders: renders,
	}
	conn.sendMessage("resize_step", msg.ID, payload)

	// Watchers see the preview too; only the resizer gets the request ID.
	message, err := encodeMessage("resize_step", "", payload)
	if err != nil {
		return
	}
	sent := map[string]bool{conn.clientID: true}
	for _, sub := range h.streamManager.SubscribersOf(req.StackID) {
		if !sent[sub.ClientID] {
			sent[sub.ClientID] = true
			h.hub.SendTo(sub.ClientID, message)
		}
	}
}

func (h *WebSocketHandlers) handleResizeFinish(conn *WebSocketConnection, msg *WebSocketMessage, cancelled bool) {
	var req stackRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.StackID == "" {
		conn.sendError(msg.ID, "Invalid resize payload", "InvalidMessageFormat")
		return
	}
	state := conn.takeResize(req.StackID)
	if state == nil {
		conn.sendError(msg.ID, zones.ErrSessionIdle.Error(), "NoResizeSession")
		return
	}

	if err := h.finishResize(conn, req.StackID, state, cancelled); err != nil {
		h.sendServiceError(conn, msg.ID, err)
	}
}

// finishResize ends the session, releases the lease and commits the steps
// that were accepted. Subscribers receive stack_updated from the commit.
func (h *WebSocketHandlers) finishResize(conn *WebSocketConnection, stackID string, state *resizeState, cancelled bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	stale := false
	err := h.service.WithLive(ctx, stackID, func(stack *zones.Stack) error {
		if stack != state.stack {
			stale = true
			return nil
		}
		if cancelled {
			return state.session.Cancel()
		}
		return state.session.End()
	})
	h.releaseLease(stackID, conn.clientID)
	h.metrics.SessionEnded()
	if err != nil {
		return err
	}
	if stale {
		return errStaleSession
	}

	if _, err := h.service.Commit(ctx, stackID); err != nil {
		return err
	}
	log.Printf("[ResizeWS] Editor %d finished resizing zone %s of stack %s (cancelled=%v)", conn.editorID, state.zoneID, stackID, cancelled)
	return nil
}

// abortResize drops a session that can no longer continue. Steps it already
// applied are committed while the session's stack is still the live one.
func (h *WebSocketHandlers) abortResize(conn *WebSocketConnection, stackID string) {
	state := conn.takeResize(stackID)
	if state == nil {
		return
	}
	h.releaseLease(stackID, conn.clientID)
	h.metrics.SessionEnded()

	live := false
	_ = h.service.Registry().With(stackID, func(stack *zones.Stack) error {
		live = stack == state.stack
		return nil
	})
	if !live {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()
	if _, err := h.service.Commit(ctx, stackID); err != nil {
		log.Printf("[ResizeWS] Failed to commit aborted resize of %s: %v", stackID, err)
	}
}

func (h *WebSocketHandlers) releaseLease(stackID, clientID string) {
	if err := h.streamManager.ReleaseLease(stackID, clientID); err != nil && !errors.Is(err, streaming.ErrLeaseNotHeld) {
		log.Printf("[ResizeWS] Failed to release lease on %s: %v", stackID, err)
	}
}

// disconnect finishes the client's open resizes and drops its subscriptions.
func (h *WebSocketHandlers) disconnect(conn *WebSocketConnection) {
	for stackID, state := range conn.takeAllResizes() {
		if err := h.finishResize(conn, stackID, state, true); err != nil {
			log.Printf("[ResizeWS] Failed to finish resize of %s on disconnect: %v", stackID, err)
		}
	}
	h.streamManager.RemoveClient(conn.clientID)
}

// expireLeases closes sessions whose lease went idle.
func (h *WebSocketHandlers) expireLeases(now time.Time) {
	for _, lease := range h.streamManager.ExpireLeases(now, leaseIdleTimeout) {
		conn := h.hub.connection(lease.ClientID)
		if conn == nil {
			continue
		}
		state := conn.takeResize(lease.StackID)
		if state == nil {
			continue
		}
		if err := h.finishResize(conn, lease.StackID, state, true); err != nil {
			log.Printf("[ResizeWS] Failed to finish expired resize of %s: %v", lease.StackID, err)
		}
		conn.sendError("", fmt.Sprintf("resize of zone %s expired after %s idle", lease.ZoneID, leaseIdleTimeout), "LeaseExpired")
	}
}

// StackChanged sends stack_updated to every subscriber of the stack.
func (h *WebSocketHandlers) StackChanged(stackID string, view StackView) {
	subs := h.streamManager.SubscribersOf(stackID)
	if len(subs) == 0 {
		return
	}

	encoded := make(map[bool][]byte, 2)
	sent := make(map[string]bool, len(subs))
	for _, sub := range subs {
		if sent[sub.ClientID] {
			continue
		}
		sent[sub.ClientID] = true
		message, ok := encoded[sub.Compressed]
		if !ok {
			renders, err := renderPayload(view.Document, view.Renders, sub.Compressed)
			if err != nil {
				log.Printf("[EditWS] Failed to encode renders for %s: %v", stackID, err)
				return
			}
			message, err = encodeMessage("stack_updated", "", stackSnapshot{Stack: view.Document, Renders: renders})
			if err != nil {
				log.Printf("[EditWS] Failed to marshal stack_updated for %s: %v", stackID, err)
				return
			}
			encoded[sub.Compressed] = message
		}
		h.hub.SendTo(sub.ClientID, message)
	}
}

// StackDeleted notifies subscribers and drops the stack's subscriptions.
func (h *WebSocketHandlers) StackDeleted(stackID string) {
	message, err := encodeMessage("stack_deleted", "", stackRequest{StackID: stackID})
	if err == nil {
		for _, sub := range h.streamManager.SubscribersOf(stackID) {
			h.hub.SendTo(sub.ClientID, message)
		}
	}
	h.streamManager.DropStack(stackID)
}

// ResizeInProgress reports whether any client holds the stack's resize lease.
func (h *WebSocketHandlers) ResizeInProgress(stackID string) bool {
	_, held := h.streamManager.LeaseFor(stackID)
	return held
}

var errStaleSession = errors.New("stack was reloaded; restart the resize")

func (h *WebSocketHandlers) sendServiceError(conn *WebSocketConnection, id string, err error) {
	var (
		held   *streaming.LeaseHeldError
		fitErr *zones.FitError
	)
	code := "InternalError"
	message := err.Error()
	switch {
	case errors.As(err, &held):
		code = "ResizeInProgress"
	case errors.As(err, &fitErr):
		code = "ZonesOverlap"
	case errors.Is(err, zones.ErrStackNotFound):
		code = "StackNotFound"
	case errors.Is(err, zones.ErrZoneNotFound):
		code = "ZoneNotFound"
	case errors.Is(err, ErrForbidden):
		code = "Forbidden"
	case errors.Is(err, zones.ErrZoneLocked):
		code = "ZoneLocked"
	case errors.Is(err, zones.ErrSessionActive):
		code = "ResizeActive"
	case errors.Is(err, errStaleSession):
		code = "SessionStale"
	default:
		log.Printf("[EditWS] Operation for client %s failed: %v", conn.clientID, err)
		message = "Internal server error"
	}
	conn.sendError(id, message, code)
}

// operationLabel bounds the metric label set to the known message types.
func operationLabel(msgType string) string {
	switch msgType {
	case "ping", "stack_subscribe", "stack_unsubscribe", "resize_begin", "resize_delta", "resize_end", "resize_cancel":
		return msgType
	default:
		return "unknown"
	}
}

// renderPayload returns renders as a GeoJSON FeatureCollection, or in the
// binary_gzip envelope when compressed is set.
func renderPayload(doc zones.Document, renders []zones.Renderable, compressed bool) (interface{}, error) {
	if !compressed {
		return zones.FeatureCollection(renders), nil
	}
	return compression.CompressAndFormat(doc.Anchor, renders)
}
