package dormie

import "time"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents a backend-reported error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Role identifies which portal a user belongs to.
type Role string

const (
	RoleStudent Role = "student"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
)

// Identity is the authenticated user for the session. Loaded once at login
// and immutable for the session lifetime.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Participant is one side of a conversation.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role Role   `json:"role"`
}

// MessageStatus is the derived lifecycle position of an outbound message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusSeen      MessageStatus = "seen"
)

// Message is a single chat message. Content is immutable once created; only
// the delivery/read fields mutate, and only from false to true.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Sender         Participant `json:"sender"`
	Recipient      Participant `json:"recipient"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"createdAt"`
	Delivered      bool        `json:"delivered"`
	DeliveredAt    *time.Time  `json:"deliveredAt,omitempty"`
	IsRead         bool        `json:"isRead"`
	ReadAt         *time.Time  `json:"readAt,omitempty"`
}

// Status derives the lifecycle state. Seen wins over delivered, so a seen
// message whose delivered event was lost still reports StatusSeen.
func (m *Message) Status() MessageStatus {
	switch {
	case m.IsRead:
		return StatusSeen
	case m.Delivered:
		return StatusDelivered
	default:
		return StatusSent
	}
}

// Conversation is a 1:1 chat thread between exactly two participants.
type Conversation struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	LastMessage  *Message      `json:"lastMessage,omitempty"`
	UnreadCount  int           `json:"unreadCount"`
}

// Peer returns the participant other than selfID. The second return is
// false when no single counterpart can be resolved.
func (c *Conversation) Peer(selfID string) (Participant, bool) {
	var peer Participant
	found := false
	for _, p := range c.Participants {
		if p.ID == selfID {
			continue
		}
		if found {
			return Participant{}, false
		}
		peer = p
		found = true
	}
	return peer, found
}

// LoginResult is the response from the auth endpoint.
type LoginResult struct {
	Token string   `json:"token"`
	User  Identity `json:"user"`
}
