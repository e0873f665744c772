package dormie

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Event Taxonomy
// ============================================================================

// Event names on the realtime channel. The set is closed: anything outside
// it is rejected at the channel boundary.
const (
	// Client → server
	EventJoin                   = "join"
	EventJoinUserType           = "joinUserType"
	EventJoinConversation       = "joinConversation"
	EventLeaveConversation      = "leaveConversation"
	EventActiveInConversation   = "activeInConversation"
	EventInactiveInConversation = "inactiveInConversation"
	EventNewMessage             = "newMessage"
	EventMarkMessageSeen        = "markMessageSeen"
	EventMarkConversationSeen   = "markConversationSeen"
	EventVerifyDelivery         = "verifyDelivery"
	EventTyping                 = "typing"
	EventPing                   = "ping"

	// Server → client
	EventConnected            = "connected"
	EventMessageDelivered     = "messageDelivered"
	EventMessageSeen          = "messageSeen"
	EventConversationSeen     = "conversationSeen"
	EventUserStatus           = "userStatus"
	EventNotification         = "notification"
	EventConversationAssigned = "conversationAssigned"
	EventPong                 = "pong"
)

// Envelope is the wire format for all realtime events.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newEnvelope(event string, payload any) (Envelope, error) {
	env := Envelope{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// ============================================================================
// Payloads
// ============================================================================

// ConnectedPayload is the server's handshake envelope after a transport is
// established.
type ConnectedPayload struct {
	SocketID string `json:"socketId"`
}

// JoinPayload subscribes to the user's identity channel.
type JoinPayload struct {
	UserID string `json:"userId"`
}

// JoinUserTypePayload subscribes to the role broadcast channel.
type JoinUserTypePayload struct {
	Role Role `json:"role"`
}

// ConversationRefPayload scopes a membership or presence signal to one
// conversation room.
type ConversationRefPayload struct {
	ConversationID string `json:"conversationId"`
}

// NewMessagePayload carries a just-persisted message. Outbound it includes
// the recipient id so the server can route delivery; inbound it carries the
// conversation snapshot for list reconciliation.
type NewMessagePayload struct {
	Message        Message       `json:"message"`
	ConversationID string        `json:"conversationId"`
	RecipientID    string        `json:"recipientId,omitempty"`
	Conversation   *Conversation `json:"conversation,omitempty"`
}

// MessageRefPayload identifies one message in one conversation.
type MessageRefPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId,omitempty"`
}

// MessageDeliveredPayload confirms delivery of one message.
type MessageDeliveredPayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	DeliveredAt    time.Time `json:"deliveredAt"`
}

// ConversationSeenPayload is the bulk read confirmation for a conversation.
type ConversationSeenPayload struct {
	ConversationID string    `json:"conversationId"`
	SeenBy         string    `json:"seenBy"`
	SeenAt         time.Time `json:"seenAt"`
}

// TypingPayload is the typing edge signal. UserID is set on inbound events
// only.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
	IsTyping       bool   `json:"isTyping"`
}

// UserStatusPayload announces a presence change.
type UserStatusPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"` // online | offline
}

// NotificationPayload is a portal notification pushed over the channel.
type NotificationPayload struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConversationAssignedPayload announces that an admin routed a request's
// conversation to a staff member.
type ConversationAssignedPayload struct {
	ConversationID string `json:"conversationId"`
	StaffID        string `json:"staffId"`
}

// PingPayload correlates a liveness probe with its pong.
type PingPayload struct {
	RequestID string `json:"requestId"`
}

// PongPayload is the liveness reply.
type PongPayload struct {
	RequestID string `json:"requestId"`
}

// ============================================================================
// Boundary decoding
// ============================================================================

// decodeEvent validates an inbound envelope against the closed taxonomy and
// returns its typed payload. Unknown events and malformed payloads are
// errors so the read loop can log and drop them in one place.
func decodeEvent(env Envelope) (any, error) {
	var v any
	switch env.Event {
	case EventConnected:
		v = &ConnectedPayload{}
	case EventNewMessage:
		v = &NewMessagePayload{}
	case EventMessageDelivered:
		v = &MessageDeliveredPayload{}
	case EventMessageSeen:
		v = &MessageRefPayload{}
	case EventConversationSeen:
		v = &ConversationSeenPayload{}
	case EventTyping:
		v = &TypingPayload{}
	case EventUserStatus:
		v = &UserStatusPayload{}
	case EventNotification:
		v = &NotificationPayload{}
	case EventConversationAssigned:
		v = &ConversationAssignedPayload{}
	case EventPong:
		v = &PongPayload{}
	default:
		return nil, fmt.Errorf("unknown event %q", env.Event)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Event, err)
		}
	}
	return v, nil
}
