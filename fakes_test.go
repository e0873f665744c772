package dormie

import (
	"context"
	"sync"
	"time"
)

// ============================================================================
// Test fakes and fixtures
// ============================================================================

type emittedEvent struct {
	event   string
	payload any
}

// fakeEmitter records every Emit call and can be wired to fail until a
// Reconnect succeeds.
type fakeEmitter struct {
	mu          sync.Mutex
	connected   bool
	emitErr     error
	reconnects  int
	onReconnect func(f *fakeEmitter)
	events      []emittedEvent
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{connected: true}
}

func (f *fakeEmitter) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeEmitter) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.events = append(f.events, emittedEvent{event: event, payload: payload})
	return nil
}

func (f *fakeEmitter) Reconnect(ctx context.Context) error {
	f.mu.Lock()
	f.reconnects++
	f.mu.Unlock()
	if f.onReconnect != nil {
		f.onReconnect(f)
	}
	return nil
}

func (f *fakeEmitter) setEmitErr(err error) {
	f.mu.Lock()
	f.emitErr = err
	f.mu.Unlock()
}

func (f *fakeEmitter) setConnected(connected bool) {
	f.mu.Lock()
	f.connected = connected
	f.mu.Unlock()
}

func (f *fakeEmitter) eventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.events))
	for _, e := range f.events {
		names = append(names, e.event)
	}
	return names
}

func (f *fakeEmitter) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func (f *fakeEmitter) payloadsOf(event string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, e := range f.events {
		if e.event == event {
			out = append(out, e.payload)
		}
	}
	return out
}

func (f *fakeEmitter) reset() {
	f.mu.Lock()
	f.events = nil
	f.mu.Unlock()
}

// fakeAPI implements ConversationAPI with overridable behavior per method.
type fakeAPI struct {
	conversationsFn func(ctx context.Context) ([]Conversation, error)
	startFn         func(ctx context.Context, participantID string) (*Conversation, error)
	messagesFn      func(ctx context.Context, conversationID string) ([]Message, error)
	sendFn          func(ctx context.Context, conversationID, content string) (*Message, error)
}

func (f *fakeAPI) Conversations(ctx context.Context) ([]Conversation, error) {
	if f.conversationsFn == nil {
		return nil, nil
	}
	return f.conversationsFn(ctx)
}

func (f *fakeAPI) StartConversation(ctx context.Context, participantID string) (*Conversation, error) {
	if f.startFn == nil {
		return &Conversation{}, nil
	}
	return f.startFn(ctx, participantID)
}

func (f *fakeAPI) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	if f.messagesFn == nil {
		return nil, nil
	}
	return f.messagesFn(ctx, conversationID)
}

func (f *fakeAPI) SendMessage(ctx context.Context, conversationID, content string) (*Message, error) {
	if f.sendFn == nil {
		return &Message{}, nil
	}
	return f.sendFn(ctx, conversationID, content)
}

// ── Fixtures ─────────────────────────────────────────────────────────────

var (
	testSelf = Identity{ID: "u-self", Name: "Avery", Role: RoleStudent}
	testPeer = Participant{ID: "u-peer", Name: "Morgan", Role: RoleStaff}
)

func testConversation(id string) Conversation {
	return Conversation{
		ID: id,
		Participants: []Participant{
			{ID: testSelf.ID, Name: testSelf.Name, Role: testSelf.Role},
			testPeer,
		},
	}
}

func testMessage(id, conversationID, senderID string, at time.Time) Message {
	sender := Participant{ID: testSelf.ID, Name: testSelf.Name, Role: testSelf.Role}
	recipient := testPeer
	if senderID != testSelf.ID {
		sender = testPeer
		recipient = Participant{ID: testSelf.ID, Name: testSelf.Name, Role: testSelf.Role}
	}
	return Message{
		ID:             id,
		ConversationID: conversationID,
		Sender:         sender,
		Recipient:      recipient,
		Content:        "msg " + id,
		CreatedAt:      at,
	}
}

// newTestSync builds a synchronizer wired to a fake emitter and fake API.
func newTestSync(api *fakeAPI) (*Synchronizer, *fakeEmitter) {
	rt := newFakeEmitter()
	rooms := newRoomTracker(testSelf, rt, discardLogger())
	typing := NewTypingCoordinator(rt, discardLogger())
	s := NewSynchronizer(testSelf, api, rt, rooms, typing, discardLogger())
	return s, rt
}
