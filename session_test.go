package dormie

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) (*Session, *wsTestServer) {
	t.Helper()
	srv := newWSTestServer(t)
	api := NewClient(srv.srv.URL, "tok-123")
	rt := newTestRealtime(t, srv.srv.URL)
	sess := NewSession(testSelf, api, rt, nil)
	t.Cleanup(sess.Close)
	return sess, srv
}

func TestSessionAnnouncesRoomsOnConnect(t *testing.T) {
	sess, srv := newTestSession(t)
	require.NoError(t, sess.Start(context.Background()))

	waitFor(t, func() bool {
		names := srv.receivedEvents()
		var join, role bool
		for _, n := range names {
			if n == EventJoin {
				join = true
			}
			if n == EventJoinUserType {
				role = true
			}
		}
		return join && role
	})
}

func TestSessionReannouncesAfterReconnect(t *testing.T) {
	sess, srv := newTestSession(t)
	require.NoError(t, sess.Start(context.Background()))

	waitFor(t, func() bool { return countEvents(srv, EventJoin) >= 1 })
	before := countEvents(srv, EventJoin)

	require.NoError(t, sess.Realtime.Reconnect(context.Background()))

	// The server forgot all membership with the old socket; a fresh join
	// must arrive on the new one.
	waitFor(t, func() bool { return countEvents(srv, EventJoin) > before })
}

func TestSessionMergesPushedMessages(t *testing.T) {
	sess, srv := newTestSession(t)
	require.NoError(t, sess.Start(context.Background()))

	conv := testConversation("c1")
	raw, err := json.Marshal(NewMessagePayload{
		Message:        testMessage("m1", "c1", testPeer.ID, time.Now()),
		ConversationID: "c1",
		Conversation:   &conv,
	})
	require.NoError(t, err)
	srv.outbound <- Envelope{Event: EventNewMessage, Payload: raw}

	waitFor(t, func() bool { return len(sess.Sync.Conversations()) == 1 })
	convs := sess.Sync.Conversations()
	assert.Equal(t, "c1", convs[0].ID)
	assert.Equal(t, 1, convs[0].UnreadCount)
}

func TestSessionTracksPresence(t *testing.T) {
	sess, srv := newTestSession(t)
	require.NoError(t, sess.Start(context.Background()))

	raw, _ := json.Marshal(UserStatusPayload{UserID: testPeer.ID, Status: "online"})
	srv.outbound <- Envelope{Event: EventUserStatus, Payload: raw}

	waitFor(t, func() bool { return sess.Presence.IsOnline(testPeer.ID) })

	raw, _ = json.Marshal(UserStatusPayload{UserID: testPeer.ID, Status: "offline"})
	srv.outbound <- Envelope{Event: EventUserStatus, Payload: raw}

	waitFor(t, func() bool { return !sess.Presence.IsOnline(testPeer.ID) })
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	sess, _ := newTestSession(t)
	require.NoError(t, sess.Start(context.Background()))

	sess.Close()
	sess.Close()
	assert.False(t, sess.Realtime.Connected())
}

func countEvents(srv *wsTestServer, event string) int {
	n := 0
	for _, name := range srv.receivedEvents() {
		if name == event {
			n++
		}
	}
	return n
}
