package dormie

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/api/auth/login", r.URL.Path)

		var creds map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(t, "avery@dorm.edu", creds["email"])

		json.NewEncoder(w).Encode(LoginResult{
			Token: "tok-123",
			User:  Identity{ID: "u-self", Name: "Avery", Role: RoleStudent},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	res, err := c.Login(context.Background(), "avery@dorm.edu", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", res.Token)
	assert.Equal(t, RoleStudent, res.User.Role)
}

func TestConversationsSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]Conversation{testConversation("c1")})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-123")
	convs, err := c.Conversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "c1", convs[0].ID)
}

func TestBackendErrorDecodedAsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":"FORBIDDEN","message":"staff only"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-123")
	_, err := c.Conversations(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "FORBIDDEN", apiErr.Code)
	assert.Equal(t, "staff only", apiErr.Message)
}

func TestNonJSONErrorFallsBackToStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-123")
	_, err := c.Conversations(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "HTTP_502", apiErr.Code)
	assert.Equal(t, "upstream exploded", apiErr.Message)
}

func TestSendMessagePostsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/messages", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "c1", body["conversationId"])
		assert.Equal(t, "hello", body["content"])

		json.NewEncoder(w).Encode(Message{ID: "m1", ConversationID: "c1", Content: "hello"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-123")
	msg, err := c.SendMessage(context.Background(), "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
}

func TestStartConversationPostsParticipant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/conversations", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "u-peer", body["participantId"])

		json.NewEncoder(w).Encode(testConversation("c1"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-123")
	conv, err := c.StartConversation(context.Background(), "u-peer")
	require.NoError(t, err)
	assert.Equal(t, "c1", conv.ID)
}

func TestPeerResolution(t *testing.T) {
	conv := testConversation("c1")
	peer, ok := conv.Peer(testSelf.ID)
	require.True(t, ok)
	assert.Equal(t, testPeer.ID, peer.ID)

	group := Conversation{Participants: []Participant{
		{ID: testSelf.ID}, {ID: "a"}, {ID: "b"},
	}}
	_, ok = group.Peer(testSelf.ID)
	assert.False(t, ok)

	solo := Conversation{Participants: []Participant{{ID: testSelf.ID}}}
	_, ok = solo.Peer(testSelf.ID)
	assert.False(t, ok)
}
