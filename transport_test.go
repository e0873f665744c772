package dormie

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPollTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/realtime/handshake":
			json.NewEncoder(w).Encode(ConnectedPayload{SocketID: "sock-poll"})
		case "/realtime/poll":
			// Short poll timeout: an empty batch sends the reader around again.
			time.Sleep(5 * time.Millisecond)
			w.Write([]byte(`[]`))
		case "/realtime/emit":
			w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPollTransportCloseWhileReading(t *testing.T) {
	srv := newPollTestServer(t)
	tr := newPollTransport(srv.URL, "tok-123", srv.Client())

	hello, err := tr.dial(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sock-poll", hello.SocketID)

	// Reader loops over empty batches while close() lands from another
	// goroutine, the same shape as the manager tearing down a live transport.
	done := make(chan error, 1)
	go func() {
		for {
			if _, err := tr.read(context.Background()); err != nil {
				done <- err
				return
			}
		}
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, tr.close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errTransportClosed)
	case <-time.After(time.Second):
		t.Fatal("read loop did not observe close")
	}

	_, err = tr.read(context.Background())
	assert.ErrorIs(t, err, errTransportClosed)
	assert.ErrorIs(t, tr.send(context.Background(), Envelope{Event: EventPing}), errTransportClosed)
}

func TestPollTransportBuffersBatch(t *testing.T) {
	batch := []Envelope{
		{Event: EventUserStatus, Payload: json.RawMessage(`{"userId":"u1","status":"online"}`)},
		{Event: EventUserStatus, Payload: json.RawMessage(`{"userId":"u2","status":"online"}`)},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/realtime/handshake":
			json.NewEncoder(w).Encode(ConnectedPayload{SocketID: "sock-poll"})
		case "/realtime/poll":
			json.NewEncoder(w).Encode(batch)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tr := newPollTransport(srv.URL, "tok-123", srv.Client())
	_, err := tr.dial(context.Background())
	require.NoError(t, err)

	env1, err := tr.read(context.Background())
	require.NoError(t, err)
	env2, err := tr.read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EventUserStatus, env1.Event)
	assert.Equal(t, EventUserStatus, env2.Event)
}

func TestWSTransportCloseWhileReading(t *testing.T) {
	srv := newWSTestServer(t)
	tr := newWSTransport(srv.srv.URL, "tok-123")

	hello, err := tr.dial(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sock-1", hello.SocketID)

	done := make(chan error, 1)
	go func() {
		for {
			if _, err := tr.read(context.Background()); err != nil {
				done <- err
				return
			}
		}
	}()
	time.Sleep(20 * time.Millisecond)
	tr.close()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("read loop did not observe close")
	}

	// The nilled conn means later calls fail cleanly instead of panicking.
	_, err = tr.read(context.Background())
	assert.ErrorIs(t, err, errTransportClosed)
	assert.ErrorIs(t, tr.send(context.Background(), Envelope{Event: EventPing}), errTransportClosed)
	assert.NoError(t, tr.close())
}
