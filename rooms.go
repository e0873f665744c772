package dormie

import (
	"context"
	"log"
	"sync"
)

// realtimeEmitter is the slice of the connection manager the trackers and
// the synchronizer depend on. *RealtimeClient satisfies it; tests use a
// recording fake.
type realtimeEmitter interface {
	Connected() bool
	Emit(event string, payload any) error
	Reconnect(ctx context.Context) error
}

// roomTracker declares and maintains the set of realtime channels this
// client receives events for: the identity channel, the role broadcast
// channel and at most one conversation room at a time.
type roomTracker struct {
	identity Identity
	rt       realtimeEmitter
	log      *log.Logger

	mu      sync.Mutex
	current string
}

func newRoomTracker(identity Identity, rt realtimeEmitter, logger *log.Logger) *roomTracker {
	return &roomTracker{identity: identity, rt: rt, log: logger}
}

// Announce subscribes to the identity and user-type channels. It must run
// after every successful connect: membership does not survive a transport
// replacement, the server forgets it.
func (t *roomTracker) Announce() {
	if err := t.rt.Emit(EventJoin, JoinPayload{UserID: t.identity.ID}); err != nil {
		t.log.Printf("rooms: join failed: %v", err)
	}
	if err := t.rt.Emit(EventJoinUserType, JoinUserTypePayload{Role: t.identity.Role}); err != nil {
		t.log.Printf("rooms: joinUserType failed: %v", err)
	}
}

// EnterConversation joins a conversation room and marks the client active
// in it so the peer's read receipts can be computed server-side. Any
// previously entered room is left first; at most one is held at a time.
func (t *roomTracker) EnterConversation(conversationID string) {
	t.mu.Lock()
	prev := t.current
	t.current = conversationID
	t.mu.Unlock()

	if prev != "" && prev != conversationID {
		t.emitLeave(prev)
	}

	ref := ConversationRefPayload{ConversationID: conversationID}
	if err := t.rt.Emit(EventJoinConversation, ref); err != nil {
		t.log.Printf("rooms: joinConversation %s failed: %v", conversationID, err)
	}
	if err := t.rt.Emit(EventActiveInConversation, ref); err != nil {
		t.log.Printf("rooms: activeInConversation %s failed: %v", conversationID, err)
	}
	// Defensive re-registration: refresh the delivery route for this socket.
	if err := t.rt.Emit(EventJoin, JoinPayload{UserID: t.identity.ID}); err != nil {
		t.log.Printf("rooms: delivery re-registration failed: %v", err)
	}
}

// LeaveConversation leaves a conversation room. No-op when the room is not
// the one currently held.
func (t *roomTracker) LeaveConversation(conversationID string) {
	t.mu.Lock()
	if t.current != conversationID {
		t.mu.Unlock()
		return
	}
	t.current = ""
	t.mu.Unlock()

	t.emitLeave(conversationID)
}

// Current returns the conversation room currently joined, or "".
func (t *roomTracker) Current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *roomTracker) emitLeave(conversationID string) {
	ref := ConversationRefPayload{ConversationID: conversationID}
	if err := t.rt.Emit(EventLeaveConversation, ref); err != nil {
		t.log.Printf("rooms: leaveConversation %s failed: %v", conversationID, err)
	}
	if err := t.rt.Emit(EventInactiveInConversation, ref); err != nil {
		t.log.Printf("rooms: inactiveInConversation %s failed: %v", conversationID, err)
	}
}
