package dormie

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnounceEmitsIdentityAndRole(t *testing.T) {
	rt := newFakeEmitter()
	tr := newRoomTracker(testSelf, rt, discardLogger())

	tr.Announce()

	joins := rt.payloadsOf(EventJoin)
	require.Len(t, joins, 1)
	assert.Equal(t, testSelf.ID, joins[0].(JoinPayload).UserID)

	roles := rt.payloadsOf(EventJoinUserType)
	require.Len(t, roles, 1)
	assert.Equal(t, RoleStudent, roles[0].(JoinUserTypePayload).Role)
}

func TestEnterConversationEmitsMembershipAndPresence(t *testing.T) {
	rt := newFakeEmitter()
	tr := newRoomTracker(testSelf, rt, discardLogger())

	tr.EnterConversation("c1")

	assert.Equal(t, "c1", tr.Current())
	assert.Equal(t, []string{
		EventJoinConversation,
		EventActiveInConversation,
		EventJoin,
	}, rt.eventNames())
}

func TestEnterConversationLeavesPreviousRoom(t *testing.T) {
	rt := newFakeEmitter()
	tr := newRoomTracker(testSelf, rt, discardLogger())

	tr.EnterConversation("c1")
	rt.reset()
	tr.EnterConversation("c2")

	assert.Equal(t, "c2", tr.Current())
	names := rt.eventNames()
	// The old room is left before the new one is joined; only one room is
	// ever held.
	assert.Equal(t, []string{
		EventLeaveConversation,
		EventInactiveInConversation,
		EventJoinConversation,
		EventActiveInConversation,
		EventJoin,
	}, names)

	leaves := rt.payloadsOf(EventLeaveConversation)
	assert.Equal(t, "c1", leaves[0].(ConversationRefPayload).ConversationID)
	joins := rt.payloadsOf(EventJoinConversation)
	assert.Equal(t, "c2", joins[0].(ConversationRefPayload).ConversationID)
}

func TestReenterSameConversationDoesNotLeave(t *testing.T) {
	rt := newFakeEmitter()
	tr := newRoomTracker(testSelf, rt, discardLogger())

	tr.EnterConversation("c1")
	rt.reset()
	// Re-entering after a reconnect re-announces without a spurious leave.
	tr.EnterConversation("c1")

	assert.Zero(t, rt.count(EventLeaveConversation))
	assert.Equal(t, 1, rt.count(EventJoinConversation))
}

func TestLeaveConversationClearsCurrent(t *testing.T) {
	rt := newFakeEmitter()
	tr := newRoomTracker(testSelf, rt, discardLogger())

	tr.EnterConversation("c1")
	rt.reset()
	tr.LeaveConversation("c1")

	assert.Empty(t, tr.Current())
	assert.Equal(t, []string{
		EventLeaveConversation,
		EventInactiveInConversation,
	}, rt.eventNames())
}

func TestLeaveOtherConversationIsNoop(t *testing.T) {
	rt := newFakeEmitter()
	tr := newRoomTracker(testSelf, rt, discardLogger())

	tr.EnterConversation("c1")
	rt.reset()
	tr.LeaveConversation("c2")

	assert.Equal(t, "c1", tr.Current())
	assert.Empty(t, rt.eventNames())
}
