// Package dormie implements the client-side synchronization core of the
// Dormie dormitory portal: a REST client for the conversation API, a
// realtime connection manager, and a synchronizer that reconciles the two
// into a single consistent view of conversations, messages, receipts,
// typing and presence.
//
// Example:
//
//	api := dormie.NewClient("https://portal.example.edu", token)
//	rt := dormie.NewRealtimeClient(&dormie.RealtimeConfig{BaseURL: "https://portal.example.edu", Token: token})
//	sess := dormie.NewSession(identity, api, rt, nil)
//	if err := sess.Start(ctx); err != nil { ... }
//	defer sess.Close()
//
//	sess.Sync.LoadConversations(ctx)
//	sess.Sync.SelectConversation(ctx, convID)
//	sess.Sync.SendMessage(ctx, "hello")
package dormie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultTimeout = 30 * time.Second

// ============================================================================
// Client
// ============================================================================

// Client is the REST client for the portal backend. The backend is an
// external collaborator: this client only covers the contract the
// synchronization core needs.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// NewClient creates a portal API client. token may be empty until Login.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets or updates the auth token, e.g. after Login.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helper
// ============================================================================

type apiErrorBody struct {
	Error *APIError `json:"error"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var eb apiErrorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error != nil {
			return nil, eb.Error
		}
		return nil, &APIError{
			Code:    fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message: strings.TrimSpace(string(data)),
		}
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Auth
// ============================================================================

// Login exchanges credentials for a session token and identity. Validation
// is entirely backend-owned.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	data, err := c.doRequest(ctx, "POST", "/api/auth/login", map[string]string{
		"email": email, "password": password,
	}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[LoginResult](data)
}

// ============================================================================
// Conversations and messages
// ============================================================================

// Conversations fetches the authoritative conversation list.
func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	data, err := c.doRequest(ctx, "GET", "/api/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	convs, err := decodeJSON[[]Conversation](data)
	if err != nil {
		return nil, err
	}
	return *convs, nil
}

// StartConversation creates a 1:1 conversation with participantID. The
// backend returns the existing conversation if one already exists for the
// pair, so calling this repeatedly is safe.
func (c *Client) StartConversation(ctx context.Context, participantID string) (*Conversation, error) {
	data, err := c.doRequest(ctx, "POST", "/api/conversations", map[string]string{
		"participantId": participantID,
	}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation](data)
}

// Messages fetches the ordered message history for a conversation.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	data, err := c.doRequest(ctx, "GET", "/api/conversations/"+conversationID+"/messages", nil, nil)
	if err != nil {
		return nil, err
	}
	msgs, err := decodeJSON[[]Message](data)
	if err != nil {
		return nil, err
	}
	return *msgs, nil
}

// SendMessage persists a new message and returns the server-assigned record.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (*Message, error) {
	data, err := c.doRequest(ctx, "POST", "/api/messages", map[string]string{
		"conversationId": conversationID,
		"content":        content,
	}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}
