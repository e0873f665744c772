package dormie

import (
	"context"
	"io"
	"log"
	"sync"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// Session is the explicitly constructed, explicitly owned object tying one
// authenticated user to one realtime connection and the synchronization
// state built on top of it. Create it at session start, pass it to whatever
// needs it, and Close it exactly once at session end; there are no ambient
// singletons.
type Session struct {
	Identity Identity
	API      *Client
	Realtime *RealtimeClient
	Sync     *Synchronizer
	Typing   *TypingCoordinator
	Presence *PresenceSet

	rooms     *roomTracker
	log       *log.Logger
	closeOnce sync.Once
}

// NewSession wires the synchronizer, trackers and presence set to the given
// clients and registers all realtime handlers. logger may be nil for a
// silent session.
func NewSession(identity Identity, api *Client, rt *RealtimeClient, logger *log.Logger) *Session {
	if logger == nil {
		logger = discardLogger()
	}

	rooms := newRoomTracker(identity, rt, logger)
	typing := NewTypingCoordinator(rt, logger)
	syn := NewSynchronizer(identity, api, rt, rooms, typing, logger)
	presence := NewPresenceSet()

	s := &Session{
		Identity: identity,
		API:      api,
		Realtime: rt,
		Sync:     syn,
		Typing:   typing,
		Presence: presence,
		rooms:    rooms,
		log:      logger,
	}

	// Membership does not survive a transport replacement: re-announce on
	// every connect, and drop stale presence knowledge.
	rt.OnConnected(func() {
		presence.Reset()
		rooms.Announce()
		if current := rooms.Current(); current != "" {
			rooms.EnterConversation(current)
		}
	})
	rt.OnNewMessage(syn.HandleIncomingMessage)
	rt.OnMessageDelivered(syn.HandleMessageDelivered)
	rt.OnMessageSeen(syn.HandleMessageSeen)
	rt.OnConversationSeen(syn.HandleConversationSeen)
	rt.OnTyping(typing.HandleRemoteTyping)
	rt.OnUserStatus(presence.HandleUserStatus)

	return s
}

// Start establishes the realtime connection. Failures degrade to a
// disconnected session that retries per the connection manager's policy
// when Connect is attempted again.
func (s *Session) Start(ctx context.Context) error {
	return s.Realtime.Connect(ctx)
}

// Close leaves any open conversation room and tears down the realtime
// client. Safe to call more than once; only the first call acts.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if current := s.rooms.Current(); current != "" {
			s.rooms.LeaveConversation(current)
		}
		s.Realtime.Close()
	})
}
