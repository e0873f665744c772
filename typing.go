package dormie

import (
	"log"
	"strings"
	"sync"
	"time"
)

const (
	// typingIdleTimeout is how long after the last keystroke the local
	// typing=false edge fires.
	typingIdleTimeout = 2 * time.Second
	// remoteTypingTTL expires a remote indicator that was never explicitly
	// cleared, e.g. when the peer's typing=false edge was dropped.
	remoteTypingTTL = 6 * time.Second
)

// TypingCoordinator debounces local keystroke activity into discrete
// typing-start/typing-stop edge signals and renders remote signals with a
// liveness timeout. State is scoped to the currently open conversation and
// cleared on every switch.
type TypingCoordinator struct {
	rt  realtimeEmitter
	log *log.Logger

	idleTimeout time.Duration
	remoteTTL   time.Duration

	mu             sync.Mutex
	conversationID string
	typing         bool
	idle           *time.Timer
	remote         map[string]bool
	remoteTimers   map[string]*time.Timer
}

func NewTypingCoordinator(rt realtimeEmitter, logger *log.Logger) *TypingCoordinator {
	if logger == nil {
		logger = discardLogger()
	}
	return &TypingCoordinator{
		rt:           rt,
		log:          logger,
		idleTimeout:  typingIdleTimeout,
		remoteTTL:    remoteTypingTTL,
		remote:       make(map[string]bool),
		remoteTimers: make(map[string]*time.Timer),
	}
}

// SetConversation switches the coordinator to a new open conversation:
// the local indicator is stopped and all remote state for the previous
// conversation is dropped, never carried over.
func (tc *TypingCoordinator) SetConversation(conversationID string) {
	tc.mu.Lock()
	prev := tc.conversationID
	tc.conversationID = conversationID
	wasTyping := tc.typing
	tc.typing = false
	tc.stopIdleLocked()
	tc.clearRemoteLocked()
	tc.mu.Unlock()

	if wasTyping && prev != "" {
		tc.emit(prev, false)
	}
}

// Input reports the current content of the message input. Edges are
// emitted only on the boolean transition, never per keystroke; the idle
// timer is reset on every call with non-empty content.
func (tc *TypingCoordinator) Input(text string) {
	tc.mu.Lock()
	conversationID := tc.conversationID
	if conversationID == "" {
		tc.mu.Unlock()
		return
	}

	if strings.TrimSpace(text) == "" {
		wasTyping := tc.typing
		tc.typing = false
		tc.stopIdleLocked()
		tc.mu.Unlock()
		if wasTyping {
			tc.emit(conversationID, false)
		}
		return
	}

	startEdge := !tc.typing
	tc.typing = true
	tc.stopIdleLocked()
	tc.idle = time.AfterFunc(tc.idleTimeout, func() { tc.idleExpired(conversationID) })
	tc.mu.Unlock()

	if startEdge {
		tc.emit(conversationID, true)
	}
}

func (tc *TypingCoordinator) idleExpired(conversationID string) {
	tc.mu.Lock()
	stopEdge := tc.typing && tc.conversationID == conversationID
	if stopEdge {
		tc.typing = false
	}
	tc.mu.Unlock()

	if stopEdge {
		tc.emit(conversationID, false)
	}
}

// HandleRemoteTyping applies a peer's typing signal. Events for any
// conversation other than the open one are ignored; no cross-conversation
// indicator state is retained.
func (tc *TypingCoordinator) HandleRemoteTyping(p TypingPayload) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if p.ConversationID != tc.conversationID || p.UserID == "" {
		return
	}

	if t, ok := tc.remoteTimers[p.UserID]; ok {
		t.Stop()
		delete(tc.remoteTimers, p.UserID)
	}

	if !p.IsTyping {
		delete(tc.remote, p.UserID)
		return
	}

	tc.remote[p.UserID] = true
	userID := p.UserID
	conversationID := p.ConversationID
	tc.remoteTimers[userID] = time.AfterFunc(tc.remoteTTL, func() {
		tc.remoteExpired(conversationID, userID)
	})
}

func (tc *TypingCoordinator) remoteExpired(conversationID, userID string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.conversationID != conversationID {
		return
	}
	delete(tc.remote, userID)
	delete(tc.remoteTimers, userID)
}

// TypingUsers returns the ids of peers currently typing in the open
// conversation.
func (tc *TypingCoordinator) TypingUsers() []string {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	out := make([]string, 0, len(tc.remote))
	for id := range tc.remote {
		out = append(out, id)
	}
	return out
}

func (tc *TypingCoordinator) emit(conversationID string, isTyping bool) {
	if err := tc.rt.Emit(EventTyping, TypingPayload{
		ConversationID: conversationID,
		IsTyping:       isTyping,
	}); err != nil {
		tc.log.Printf("typing: emit failed: %v", err)
	}
}

func (tc *TypingCoordinator) stopIdleLocked() {
	if tc.idle != nil {
		tc.idle.Stop()
		tc.idle = nil
	}
}

func (tc *TypingCoordinator) clearRemoteLocked() {
	for id, t := range tc.remoteTimers {
		t.Stop()
		delete(tc.remoteTimers, id)
	}
	tc.remote = make(map[string]bool)
}
