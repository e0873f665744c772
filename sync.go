package dormie

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNoConversation = errors.New("sync: no conversation selected")
	ErrEmptyMessage   = errors.New("sync: message content is empty")
	ErrNoRecipient    = errors.New("sync: no recipient resolvable in conversation")
)

// ConversationAPI is the REST contract the synchronizer consumes. *Client
// implements it; tests substitute a fake.
type ConversationAPI interface {
	Conversations(ctx context.Context) ([]Conversation, error)
	StartConversation(ctx context.Context, participantID string) (*Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]Message, error)
	SendMessage(ctx context.Context, conversationID, content string) (*Message, error)
}

// Synchronizer is the single source of truth for the conversation list and
// the open conversation's message log. It reconciles REST snapshots with
// the realtime event stream: merges are idempotent and keyed by message id,
// and the log keeps first-arrival order, so the same logical message
// arriving over the REST response, its own realtime echo and a broadcast
// collapses to one entry.
type Synchronizer struct {
	self   Identity
	api    ConversationAPI
	rt     realtimeEmitter
	rooms  *roomTracker
	typing *TypingCoordinator
	log    *log.Logger

	mu            sync.Mutex
	conversations []*Conversation
	currentID     string
	messages      []*Message
	index         map[string]*Message
	generation    uint64
	draft         string
}

func NewSynchronizer(self Identity, api ConversationAPI, rt realtimeEmitter, rooms *roomTracker, typing *TypingCoordinator, logger *log.Logger) *Synchronizer {
	if logger == nil {
		logger = discardLogger()
	}
	return &Synchronizer{
		self:   self,
		api:    api,
		rt:     rt,
		rooms:  rooms,
		typing: typing,
		log:    logger,
		index:  make(map[string]*Message),
	}
}

// ── Loading ──────────────────────────────────────────────────────────────

// LoadConversations replaces the whole conversation list from the REST
// snapshot. The list is small and this is a refresh, not a stream, so a
// full replace is safe. Existing state is untouched on failure.
func (s *Synchronizer) LoadConversations(ctx context.Context) error {
	convs, err := s.api.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	s.mu.Lock()
	s.conversations = s.conversations[:0]
	for i := range convs {
		c := convs[i]
		s.conversations = append(s.conversations, &c)
	}
	s.sortLocked()
	s.mu.Unlock()
	return nil
}

// StartConversation begins (or resumes) a 1:1 conversation with the given
// user. The backend returns the existing conversation for the pair when one
// exists, and the local merge is keyed by id, so repeated calls never
// create a second local entry.
func (s *Synchronizer) StartConversation(ctx context.Context, participantID string) (Conversation, error) {
	conv, err := s.api.StartConversation(ctx, participantID)
	if err != nil {
		return Conversation{}, fmt.Errorf("start conversation: %w", err)
	}

	s.mu.Lock()
	if s.findLocked(conv.ID) == nil {
		c := *conv
		s.conversations = append(s.conversations, &c)
		s.sortLocked()
	}
	s.mu.Unlock()
	return *conv, nil
}

// ── Selection ────────────────────────────────────────────────────────────

// SelectConversation opens a conversation: leaves the previous room, clears
// typing state, joins the new room, optimistically zeroes the unread
// counter (emitting markConversationSeen) and fetches the message history.
// Each selection bumps a generation counter; a history response arriving
// after a later selection is discarded instead of overwriting the newer
// log.
func (s *Synchronizer) SelectConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	conv := s.findLocked(conversationID)
	if conv == nil {
		s.mu.Unlock()
		return fmt.Errorf("select %s: %w", conversationID, ErrNoConversation)
	}
	if s.currentID == conversationID {
		s.mu.Unlock()
		return nil
	}
	prev := s.currentID
	s.currentID = conversationID
	s.generation++
	gen := s.generation
	unread := conv.UnreadCount
	// Optimistic zero; not reconciled if the emit is lost. The counter
	// self-corrects on the next list refresh.
	conv.UnreadCount = 0
	s.mu.Unlock()

	if prev != "" {
		s.rooms.LeaveConversation(prev)
	}
	if s.typing != nil {
		s.typing.SetConversation(conversationID)
	}
	s.rooms.EnterConversation(conversationID)

	if unread > 0 {
		if err := s.rt.Emit(EventMarkConversationSeen, ConversationRefPayload{ConversationID: conversationID}); err != nil {
			s.log.Printf("sync: markConversationSeen %s failed: %v", conversationID, err)
		}
	}

	msgs, err := s.api.Messages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load messages for %s: %w", conversationID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen || s.currentID != conversationID {
		// A later selection superseded this fetch.
		s.log.Printf("sync: discarding stale history for %s", conversationID)
		return nil
	}
	s.messages = s.messages[:0]
	s.index = make(map[string]*Message, len(msgs))
	for i := range msgs {
		m := msgs[i]
		if _, dup := s.index[m.ID]; dup {
			continue
		}
		s.messages = append(s.messages, &m)
		s.index[m.ID] = &m
	}
	return nil
}

// ── Sending ──────────────────────────────────────────────────────────────

// SendMessage persists the text in the selected conversation, appends it
// locally and notifies the peer over the realtime channel. On REST failure
// the text is kept in Draft so the caller can restore the input. The local
// append happens only after the POST succeeds, so no rollback is needed.
func (s *Synchronizer) SendMessage(ctx context.Context, text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	conversationID := s.currentID
	if conversationID == "" {
		s.mu.Unlock()
		return Message{}, ErrNoConversation
	}
	conv := s.findLocked(conversationID)
	if conv == nil {
		s.mu.Unlock()
		return Message{}, fmt.Errorf("send in %s: %w", conversationID, ErrNoConversation)
	}
	peer, ok := conv.Peer(s.self.ID)
	s.mu.Unlock()
	if !ok {
		s.log.Printf("sync: conversation %s has no resolvable recipient", conversationID)
		return Message{}, ErrNoRecipient
	}

	msg, err := s.api.SendMessage(ctx, conversationID, text)
	if err != nil {
		s.mu.Lock()
		s.draft = text
		s.mu.Unlock()
		return Message{}, fmt.Errorf("send message: %w", err)
	}

	s.mu.Lock()
	if s.currentID == conversationID {
		if _, dup := s.index[msg.ID]; !dup {
			m := *msg
			s.messages = append(s.messages, &m)
			s.index[m.ID] = &m
		}
	}
	if conv := s.findLocked(conversationID); conv != nil {
		lm := *msg
		conv.LastMessage = &lm
	}
	s.sortLocked()
	s.draft = ""
	s.mu.Unlock()

	s.emitWithRetry(ctx, EventNewMessage, NewMessagePayload{
		Message:        *msg,
		ConversationID: conversationID,
		RecipientID:    peer.ID,
	})
	s.emitWithRetry(ctx, EventVerifyDelivery, MessageRefPayload{
		MessageID:      msg.ID,
		ConversationID: conversationID,
	})
	return *msg, nil
}

// Draft returns text preserved from a failed send, for restoring the input.
func (s *Synchronizer) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// emitWithRetry attempts one best-effort reconnect-then-retry when the
// transport is down, skipping the initial emit entirely when the connection
// is already known to be gone. There is no outbox: if the retry also fails
// the event is lost and only logged.
func (s *Synchronizer) emitWithRetry(ctx context.Context, event string, payload any) {
	err := ErrNotConnected
	if s.rt.Connected() {
		err = s.rt.Emit(event, payload)
	}
	if errors.Is(err, ErrNotConnected) {
		if rerr := s.rt.Reconnect(ctx); rerr == nil {
			err = s.rt.Emit(event, payload)
		} else {
			err = rerr
		}
	}
	if err != nil {
		s.log.Printf("sync: %s lost: %v", event, err)
	}
}

// ── Incoming events ──────────────────────────────────────────────────────

// HandleIncomingMessage merges one realtime message into local state. The
// merge is idempotent on message id; duplicates via REST echo, realtime
// echo or broadcast are absorbed silently. The unread counter only moves
// for conversations that are not currently open.
func (s *Synchronizer) HandleIncomingMessage(p NewMessagePayload) {
	msg := p.Message
	conversationID := p.ConversationID
	if conversationID == "" {
		conversationID = msg.ConversationID
	}
	if msg.ID == "" || conversationID == "" {
		s.log.Printf("sync: dropping malformed newMessage event")
		return
	}

	ackSeen := false

	s.mu.Lock()
	open := s.currentID == conversationID
	if open {
		if _, dup := s.index[msg.ID]; !dup {
			m := msg
			s.messages = append(s.messages, &m)
			s.index[m.ID] = &m
			if msg.Sender.ID != s.self.ID {
				ackSeen = true
			}
		}
	}

	conv := s.findLocked(conversationID)
	if conv == nil && p.Conversation != nil {
		c := *p.Conversation
		c.UnreadCount = 0
		conv = &c
		s.conversations = append(s.conversations, conv)
	}
	if conv != nil {
		// The open log dedups by id; for background conversations the
		// last-message id is the only replay signal available, so a repeated
		// delivery of the same message must not bump the counter twice.
		replay := conv.LastMessage != nil && conv.LastMessage.ID == msg.ID
		if !replay {
			lm := msg
			conv.LastMessage = &lm
		}
		if !open && !replay && msg.Sender.ID != s.self.ID {
			conv.UnreadCount++
		}
		s.sortLocked()
	}
	s.mu.Unlock()

	if ackSeen {
		if err := s.rt.Emit(EventMarkMessageSeen, MessageRefPayload{
			MessageID:      msg.ID,
			ConversationID: conversationID,
		}); err != nil {
			s.log.Printf("sync: markMessageSeen %s failed: %v", msg.ID, err)
		}
	}
}

// ── Accessors ────────────────────────────────────────────────────────────

// Conversations returns a snapshot of the conversation list, most recent
// activity first.
func (s *Synchronizer) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		cc := *c
		if c.LastMessage != nil {
			lm := *c.LastMessage
			cc.LastMessage = &lm
		}
		out = append(out, cc)
	}
	return out
}

// Messages returns a snapshot of the open conversation's log in
// first-arrival order.
func (s *Synchronizer) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, *m)
	}
	return out
}

// CurrentID returns the id of the open conversation, or "".
func (s *Synchronizer) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// ── Internal ─────────────────────────────────────────────────────────────

func (s *Synchronizer) findLocked(conversationID string) *Conversation {
	for _, c := range s.conversations {
		if c.ID == conversationID {
			return c
		}
	}
	return nil
}

// sortLocked orders the list by most-recent-message timestamp descending;
// conversations with no message sort oldest.
func (s *Synchronizer) sortLocked() {
	sort.SliceStable(s.conversations, func(i, j int) bool {
		a, b := s.conversations[i], s.conversations[j]
		if a.LastMessage == nil {
			return false
		}
		if b.LastMessage == nil {
			return true
		}
		return a.LastMessage.CreatedAt.After(b.LastMessage.CreatedAt)
	})
}
