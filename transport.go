package dormie

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"nhooyr.io/websocket"
)

// ============================================================================
// Transport abstraction
// ============================================================================

// transport is one concrete way to move envelopes between client and
// server. The connection manager prefers the websocket transport and flips
// to poll-first after repeated websocket connect errors.
type transport interface {
	// dial establishes the transport and returns the server handshake.
	dial(ctx context.Context) (*ConnectedPayload, error)
	read(ctx context.Context) (Envelope, error)
	send(ctx context.Context, env Envelope) error
	close() error
	name() string
}

var errTransportClosed = errors.New("transport closed")

// isServerClose reports whether a read error indicates the remote side
// forcibly closed the channel, which warrants an immediate reconnect
// instead of waiting out the retry delay.
func isServerClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusGoingAway, websocket.StatusPolicyViolation, websocket.StatusInternalError:
		return true
	}
	return false
}

// ============================================================================
// WebSocket transport
// ============================================================================

type wsTransport struct {
	baseURL string
	token   string

	// close() runs on a different goroutine than the read loop; conn is
	// handed out under the lock and never used while it is held.
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSTransport(baseURL, token string) *wsTransport {
	return &wsTransport{baseURL: baseURL, token: token}
}

func (t *wsTransport) name() string { return "websocket" }

func (t *wsTransport) dial(ctx context.Context) (*ConnectedPayload, error) {
	wsURL := strings.Replace(t.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/realtime?token=" + url.QueryEscape(t.token)

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	// The server's first envelope is the handshake carrying the socket id.
	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, fmt.Errorf("read handshake: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event != EventConnected {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, fmt.Errorf("expected %q handshake, got %q", EventConnected, env.Event)
	}
	var hello ConnectedPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &hello); err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			return nil, fmt.Errorf("decode handshake: %w", err)
		}
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return &hello, nil
}

func (t *wsTransport) getConn() *websocket.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func (t *wsTransport) read(ctx context.Context) (Envelope, error) {
	conn := t.getConn()
	if conn == nil {
		return Envelope{}, errTransportClosed
	}
	// A concurrent close() makes this return an error; the library handles
	// Close racing Read.
	_, data, err := conn.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

func (t *wsTransport) send(ctx context.Context, env Envelope) error {
	conn := t.getConn()
	if conn == nil {
		return errTransportClosed
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

// ============================================================================
// Long-poll transport
// ============================================================================

// pollTransport routes around broken websocket paths (proxies, captive
// networks) with plain HTTP: a handshake, a long-poll read endpoint and a
// POST emit endpoint.
type pollTransport struct {
	baseURL    string
	token      string
	httpClient *http.Client
	socketID   string

	// Guards buffer and closed; close() is called from outside the read
	// loop's goroutine.
	mu     sync.Mutex
	buffer []Envelope
	closed bool
}

func newPollTransport(baseURL, token string, httpClient *http.Client) *pollTransport {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &pollTransport{baseURL: baseURL, token: token, httpClient: httpClient}
}

func (t *pollTransport) name() string { return "poll" }

func (t *pollTransport) dial(ctx context.Context) (*ConnectedPayload, error) {
	data, err := t.post(ctx, "/realtime/handshake", nil)
	if err != nil {
		return nil, fmt.Errorf("poll handshake: %w", err)
	}
	var hello ConnectedPayload
	if err := json.Unmarshal(data, &hello); err != nil {
		return nil, fmt.Errorf("decode handshake: %w", err)
	}
	t.socketID = hello.SocketID
	t.mu.Lock()
	t.closed = false
	t.buffer = nil
	t.mu.Unlock()
	return &hello, nil
}

func (t *pollTransport) read(ctx context.Context) (Envelope, error) {
	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return Envelope{}, errTransportClosed
		}
		if len(t.buffer) > 0 {
			env := t.buffer[0]
			t.buffer = t.buffer[1:]
			t.mu.Unlock()
			return env, nil
		}
		t.mu.Unlock()

		u := t.baseURL + "/realtime/poll?sid=" + url.QueryEscape(t.socketID) +
			"&token=" + url.QueryEscape(t.token)
		req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
		if err != nil {
			return Envelope{}, err
		}
		resp, err := t.httpClient.Do(req)
		if err != nil {
			return Envelope{}, err
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return Envelope{}, err
		}
		if resp.StatusCode >= 300 {
			return Envelope{}, fmt.Errorf("poll HTTP %d", resp.StatusCode)
		}

		var batch []Envelope
		if err := json.Unmarshal(data, &batch); err != nil {
			return Envelope{}, fmt.Errorf("decode poll batch: %w", err)
		}
		// An empty batch is a poll timeout; go around again.
		t.mu.Lock()
		t.buffer = batch
		t.mu.Unlock()
	}
}

func (t *pollTransport) send(ctx context.Context, env Envelope) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return errTransportClosed
	}
	_, err := t.post(ctx, "/realtime/emit?sid="+url.QueryEscape(t.socketID), env)
	return err
}

func (t *pollTransport) close() error {
	t.mu.Lock()
	t.closed = true
	t.buffer = nil
	t.mu.Unlock()
	return nil
}

func (t *pollTransport) post(ctx context.Context, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = strings.NewReader(string(b))
	}
	u := t.baseURL + path
	if !strings.Contains(path, "token=") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		u += sep + "token=" + url.QueryEscape(t.token)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", u, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return data, nil
}
