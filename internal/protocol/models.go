package protocol

import (
	"encoding/json"
	"time"
)

// Participant is one entry of a presence snapshot. ID is assigned by the relay;
// Username is a display label and may repeat across IDs.
type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"isOnline"`
}

// Message is a one-to-one chat message as stamped by the relay.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// Between reports whether m was exchanged by a and b, in either direction.
func (m Message) Between(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// WS Message Types

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinPayload struct {
	Username string `json:"username"`
}

type StartChatPayload struct {
	UserID string `json:"userId"`
}

type SendMessagePayload struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

type UserJoinedPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}
