package dormie

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the realtime connection manager.
type RealtimeConfig struct {
	BaseURL string
	Token   string

	// MaxReconnectAttempts caps automatic retries after an unexpected
	// disconnect. Once exhausted, one final delayed full reset is attempted.
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	// TransportFlipAfter is the error count past which the dial preference
	// switches to poll-first.
	TransportFlipAfter int

	HeartbeatInterval    time.Duration
	PingTimeout          time.Duration
	ResetCooldown        time.Duration
	ResetGap             time.Duration
	ManualReconnectDelay time.Duration

	HTTPClient *http.Client
	Logger     *log.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
	if c.TransportFlipAfter == 0 {
		c.TransportFlipAfter = 5
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = 10 * time.Second
	}
	if c.ResetCooldown == 0 {
		c.ResetCooldown = 5 * time.Second
	}
	if c.ResetGap == 0 {
		c.ResetGap = time.Second
	}
	if c.ManualReconnectDelay == 0 {
		c.ManualReconnectDelay = 500 * time.Millisecond
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// ConnState represents the connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrClientClosed = errors.New("realtime: client closed")
)

// ============================================================================
// Dispatcher
// ============================================================================

// Handlers run synchronously on the read loop so per-connection event order
// is preserved; panics are recovered at the dispatch boundary and logged,
// never allowed to break the subscription.
type dispatcher struct {
	mu  sync.RWMutex
	log *log.Logger

	onNewMessage           []func(NewMessagePayload)
	onMessageDelivered     []func(MessageDeliveredPayload)
	onMessageSeen          []func(MessageRefPayload)
	onConversationSeen     []func(ConversationSeenPayload)
	onTyping               []func(TypingPayload)
	onUserStatus           []func(UserStatusPayload)
	onNotification         []func(NotificationPayload)
	onConversationAssigned []func(ConversationAssignedPayload)
	onConnected            []func()
	onDisconnected         []func(reason string)
	onReconnecting         []func(attempt int, delay time.Duration)
}

func (d *dispatcher) safeCall(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Printf("realtime: %s handler panic: %v", event, r)
		}
	}()
	fn()
}

func (d *dispatcher) dispatch(event string, payload any) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch p := payload.(type) {
	case *NewMessagePayload:
		for _, h := range d.onNewMessage {
			h := h
			d.safeCall(event, func() { h(*p) })
		}
	case *MessageDeliveredPayload:
		for _, h := range d.onMessageDelivered {
			h := h
			d.safeCall(event, func() { h(*p) })
		}
	case *MessageRefPayload:
		for _, h := range d.onMessageSeen {
			h := h
			d.safeCall(event, func() { h(*p) })
		}
	case *ConversationSeenPayload:
		for _, h := range d.onConversationSeen {
			h := h
			d.safeCall(event, func() { h(*p) })
		}
	case *TypingPayload:
		for _, h := range d.onTyping {
			h := h
			d.safeCall(event, func() { h(*p) })
		}
	case *UserStatusPayload:
		for _, h := range d.onUserStatus {
			h := h
			d.safeCall(event, func() { h(*p) })
		}
	case *NotificationPayload:
		for _, h := range d.onNotification {
			h := h
			d.safeCall(event, func() { h(*p) })
		}
	case *ConversationAssignedPayload:
		for _, h := range d.onConversationAssigned {
			h := h
			d.safeCall(event, func() { h(*p) })
		}
	}
}

func (d *dispatcher) emitConnected() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h := h
		d.safeCall("connected", func() { h() })
	}
}

func (d *dispatcher) emitDisconnected(reason string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h := h
		d.safeCall("disconnected", func() { h(reason) })
	}
}

func (d *dispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h := h
		d.safeCall("reconnecting", func() { h(attempt, delay) })
	}
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient owns the single long-lived realtime connection for a
// session. Transport failures are never fatal: they degrade to
// Connected()==false and are retried per policy.
type RealtimeClient struct {
	config     *RealtimeConfig
	log        *log.Logger
	dispatcher *dispatcher

	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	mu                sync.Mutex
	state             ConnState
	socketID          string
	reconnectAttempts int
	pollFirst         bool
	intentionalClose  bool
	torn              bool
	tr                transport
	connCancel        context.CancelFunc

	heartbeatOnce sync.Once
	closeOnce     sync.Once

	pendingMu    sync.Mutex
	pendingPings map[string]chan PongPayload
}

// NewRealtimeClient creates a connection manager. Call Connect to establish
// the transport and Close exactly once when the session ends.
func NewRealtimeClient(config *RealtimeConfig) *RealtimeClient {
	cfg := *config
	cfg.defaults()
	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger()
	}
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	return &RealtimeClient{
		config:       &cfg,
		log:          logger,
		dispatcher:   &dispatcher{log: logger},
		lifeCtx:      lifeCtx,
		lifeCancel:   lifeCancel,
		state:        StateDisconnected,
		pendingPings: make(map[string]chan PongPayload),
	}
}

// ── Handler registration ─────────────────────────────────────────────────

func (rt *RealtimeClient) OnNewMessage(h func(NewMessagePayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onNewMessage = append(rt.dispatcher.onNewMessage, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnMessageDelivered(h func(MessageDeliveredPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onMessageDelivered = append(rt.dispatcher.onMessageDelivered, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnMessageSeen(h func(MessageRefPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onMessageSeen = append(rt.dispatcher.onMessageSeen, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnConversationSeen(h func(ConversationSeenPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onConversationSeen = append(rt.dispatcher.onConversationSeen, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnTyping(h func(TypingPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onTyping = append(rt.dispatcher.onTyping, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnUserStatus(h func(UserStatusPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onUserStatus = append(rt.dispatcher.onUserStatus, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnNotification(h func(NotificationPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onNotification = append(rt.dispatcher.onNotification, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnConversationAssigned(h func(ConversationAssignedPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onConversationAssigned = append(rt.dispatcher.onConversationAssigned, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnConnected(h func()) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onConnected = append(rt.dispatcher.onConnected, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnDisconnected(h func(reason string)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onDisconnected = append(rt.dispatcher.onDisconnected, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onReconnecting = append(rt.dispatcher.onReconnecting, h)
	rt.dispatcher.mu.Unlock()
}

// ── State accessors ──────────────────────────────────────────────────────

func (rt *RealtimeClient) State() ConnState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

func (rt *RealtimeClient) Connected() bool {
	return rt.State() == StateConnected
}

// SocketID is the server-assigned connection id; empty unless connected.
func (rt *RealtimeClient) SocketID() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.socketID
}

func (rt *RealtimeClient) ReconnectAttempts() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.reconnectAttempts
}

// ── Lifecycle ────────────────────────────────────────────────────────────

// Connect dials the preferred transport and starts the read loop. The
// heartbeat probe is scheduled on first call and runs for the client's
// lifetime, a no-op unless connected.
func (rt *RealtimeClient) Connect(ctx context.Context) error {
	rt.mu.Lock()
	if rt.torn {
		rt.mu.Unlock()
		return ErrClientClosed
	}
	if rt.state == StateConnected || rt.state == StateConnecting {
		rt.mu.Unlock()
		return nil
	}
	rt.state = StateConnecting
	rt.intentionalClose = false
	pollFirst := rt.pollFirst
	rt.mu.Unlock()

	var tr transport
	if pollFirst {
		tr = newPollTransport(rt.config.BaseURL, rt.config.Token, rt.config.HTTPClient)
	} else {
		tr = newWSTransport(rt.config.BaseURL, rt.config.Token)
	}

	hello, err := tr.dial(ctx)
	if err != nil {
		rt.mu.Lock()
		rt.state = StateDisconnected
		rt.reconnectAttempts++
		if rt.reconnectAttempts > rt.config.TransportFlipAfter && !rt.pollFirst {
			rt.pollFirst = true
			rt.log.Printf("realtime: %d connect errors, switching to poll-first", rt.reconnectAttempts)
		}
		attempts := rt.reconnectAttempts
		rt.mu.Unlock()
		rt.log.Printf("realtime: %s connect failed (attempt %d): %v", tr.name(), attempts, err)
		return err
	}

	connCtx, cancel := context.WithCancel(rt.lifeCtx)
	rt.mu.Lock()
	rt.tr = tr
	rt.state = StateConnected
	rt.socketID = hello.SocketID
	rt.reconnectAttempts = 0
	rt.connCancel = cancel
	rt.mu.Unlock()

	rt.log.Printf("realtime: connected via %s, socket %s", tr.name(), hello.SocketID)
	rt.dispatcher.emitConnected()

	go rt.readLoop(connCtx, tr)
	rt.heartbeatOnce.Do(func() { go rt.heartbeatLoop() })
	return nil
}

// Reconnect forces a manual disconnect-wait-reconnect cycle, for
// user-triggered "click to reconnect" affordances.
func (rt *RealtimeClient) Reconnect(ctx context.Context) error {
	rt.closeTransport()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-rt.lifeCtx.Done():
		return ErrClientClosed
	case <-time.After(rt.config.ManualReconnectDelay):
	}
	return rt.Connect(ctx)
}

// Close tears the client down exactly once. No handler fires afterward.
func (rt *RealtimeClient) Close() {
	rt.closeOnce.Do(func() {
		rt.mu.Lock()
		rt.torn = true
		rt.intentionalClose = true
		tr := rt.tr
		rt.tr = nil
		rt.state = StateDisconnected
		rt.socketID = ""
		if rt.connCancel != nil {
			rt.connCancel()
			rt.connCancel = nil
		}
		rt.mu.Unlock()

		rt.lifeCancel()
		rt.clearPendingPings()
		if tr != nil {
			tr.close()
		}
		rt.log.Println("realtime: closed")
	})
}

// closeTransport drops the current transport without marking the client
// torn down, so the read loop exits quietly and a later Connect works.
func (rt *RealtimeClient) closeTransport() {
	rt.mu.Lock()
	rt.intentionalClose = true
	tr := rt.tr
	rt.tr = nil
	rt.state = StateDisconnected
	rt.socketID = ""
	if rt.connCancel != nil {
		rt.connCancel()
		rt.connCancel = nil
	}
	rt.mu.Unlock()

	rt.clearPendingPings()
	if tr != nil {
		tr.close()
	}
}

// ── Outbound ─────────────────────────────────────────────────────────────

// Emit sends one event on the realtime channel.
func (rt *RealtimeClient) Emit(event string, payload any) error {
	env, err := newEnvelope(event, payload)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	tr := rt.tr
	connected := rt.state == StateConnected
	rt.mu.Unlock()

	if !connected || tr == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(rt.lifeCtx, 5*time.Second)
	defer cancel()
	if err := tr.send(ctx, env); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// Ping sends a liveness probe and waits for the matching pong.
func (rt *RealtimeClient) Ping(ctx context.Context) error {
	requestID := uuid.NewString()

	ch := make(chan PongPayload, 1)
	rt.pendingMu.Lock()
	rt.pendingPings[requestID] = ch
	rt.pendingMu.Unlock()

	drop := func() {
		rt.pendingMu.Lock()
		delete(rt.pendingPings, requestID)
		rt.pendingMu.Unlock()
	}

	if err := rt.Emit(EventPing, PingPayload{RequestID: requestID}); err != nil {
		drop()
		return err
	}

	select {
	case _, ok := <-ch:
		if !ok {
			return ErrNotConnected
		}
		return nil
	case <-time.After(rt.config.PingTimeout):
		drop()
		return fmt.Errorf("ping timeout")
	case <-ctx.Done():
		drop()
		return ctx.Err()
	}
}

func (rt *RealtimeClient) clearPendingPings() {
	rt.pendingMu.Lock()
	for k, ch := range rt.pendingPings {
		close(ch)
		delete(rt.pendingPings, k)
	}
	rt.pendingMu.Unlock()
}

// ── Loops ────────────────────────────────────────────────────────────────

func (rt *RealtimeClient) readLoop(ctx context.Context, tr transport) {
	for {
		env, err := tr.read(ctx)
		if err != nil {
			rt.mu.Lock()
			intentional := rt.intentionalClose || rt.torn
			if !intentional {
				rt.state = StateDisconnected
				rt.socketID = ""
				rt.tr = nil
			}
			rt.mu.Unlock()
			if intentional {
				return
			}

			rt.log.Printf("realtime: transport lost: %v", err)
			rt.dispatcher.emitDisconnected(err.Error())

			if isServerClose(err) {
				// Remote forcibly closed the channel: retry at once.
				go rt.reconnectLoop(0)
			} else {
				go rt.reconnectLoop(rt.config.ReconnectDelay)
			}
			return
		}
		rt.handleEnvelope(env)
	}
}

func (rt *RealtimeClient) handleEnvelope(env Envelope) {
	payload, err := decodeEvent(env)
	if err != nil {
		rt.log.Printf("realtime: dropping event: %v", err)
		return
	}

	if pong, ok := payload.(*PongPayload); ok {
		rt.pendingMu.Lock()
		ch, found := rt.pendingPings[pong.RequestID]
		if found {
			delete(rt.pendingPings, pong.RequestID)
		}
		rt.pendingMu.Unlock()
		if found {
			ch <- *pong
		}
		return
	}

	rt.dispatcher.dispatch(env.Event, payload)
}

func (rt *RealtimeClient) heartbeatLoop() {
	ticker := time.NewTicker(rt.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rt.lifeCtx.Done():
			return
		case <-ticker.C:
			if !rt.Connected() {
				continue
			}
			if err := rt.Ping(rt.lifeCtx); err != nil {
				rt.log.Printf("realtime: heartbeat failed: %v", err)
				// Force the read loop onto the reconnect path.
				rt.mu.Lock()
				tr := rt.tr
				rt.mu.Unlock()
				if tr != nil {
					tr.close()
				}
			}
		}
	}
}

// reconnectLoop retries Connect up to the attempt cap, then performs one
// final delayed full reset before giving up.
func (rt *RealtimeClient) reconnectLoop(initialDelay time.Duration) {
	delay := initialDelay
	for attempt := 1; attempt <= rt.config.MaxReconnectAttempts; attempt++ {
		rt.mu.Lock()
		stop := rt.torn || rt.intentionalClose || rt.state == StateConnected
		if !stop {
			rt.state = StateReconnecting
		}
		rt.mu.Unlock()
		if stop {
			return
		}

		rt.dispatcher.emitReconnecting(attempt, delay)
		if delay > 0 {
			select {
			case <-rt.lifeCtx.Done():
				return
			case <-time.After(delay):
			}
		}

		rt.mu.Lock()
		rt.state = StateDisconnected
		rt.mu.Unlock()
		if err := rt.Connect(rt.lifeCtx); err == nil {
			return
		}
		delay = rt.config.ReconnectDelay
	}

	// Retries exhausted: cool down, drop everything, reconnect once.
	rt.log.Printf("realtime: retries exhausted, scheduling full reset")
	select {
	case <-rt.lifeCtx.Done():
		return
	case <-time.After(rt.config.ResetCooldown):
	}
	rt.closeTransport()
	select {
	case <-rt.lifeCtx.Done():
		return
	case <-time.After(rt.config.ResetGap):
	}
	if err := rt.Connect(rt.lifeCtx); err != nil {
		rt.log.Printf("realtime: full reset failed: %v", err)
	}
}
