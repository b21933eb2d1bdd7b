// Package protocol defines the JSON envelope spoken between the chat client and
// the relay, and the typed inbound events the client reconciles.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Outbound (client to relay) event types.
const (
	TypeJoin        = "join"
	TypeStartChat   = "start_chat"
	TypeSendMessage = "send_message"
)

// Inbound (relay to client) event types. Connect and disconnect never travel on
// the wire; the transport synthesizes them.
const (
	TypeConnect         = "connect"
	TypeDisconnect      = "disconnect"
	TypeUsersUpdated    = "users_updated"
	TypeUserJoined      = "user_joined"
	TypeMessageReceived = "message_received"
	TypeChatHistory     = "chat_history"
)

var (
	// ErrMalformed marks a frame or event that is missing required fields or
	// cannot be parsed.
	ErrMalformed = errors.New("malformed event")
	// ErrUnknownType marks a well-formed envelope with an unrecognised type.
	ErrUnknownType = errors.New("unknown event type")
)

// Event is an inbound event applied by the session synchronizer.
type Event interface {
	Type() string
	Validate() error
}

type Connected struct{}

type Disconnected struct {
	Err error
}

type UsersUpdated struct {
	Participants []Participant
}

type UserJoined struct {
	UserID   string
	Username string
}

type MessageReceived struct {
	Message Message
}

type ChatHistory struct {
	Messages []Message
}

func (Connected) Type() string       { return TypeConnect }
func (Disconnected) Type() string    { return TypeDisconnect }
func (UsersUpdated) Type() string    { return TypeUsersUpdated }
func (UserJoined) Type() string      { return TypeUserJoined }
func (MessageReceived) Type() string { return TypeMessageReceived }
func (ChatHistory) Type() string     { return TypeChatHistory }

func (Connected) Validate() error    { return nil }
func (Disconnected) Validate() error { return nil }

func (e UsersUpdated) Validate() error {
	for i, p := range e.Participants {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("participant %d: %w", i, err)
		}
	}
	return nil
}

func (e UserJoined) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("%w: user_joined without userId", ErrMalformed)
	}
	return nil
}

func (e MessageReceived) Validate() error {
	return e.Message.Validate()
}

func (e ChatHistory) Validate() error {
	for i, m := range e.Messages {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks the fields the client keys state on.
func (p Participant) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: participant without id", ErrMalformed)
	}
	if p.Username == "" {
		return fmt.Errorf("%w: participant %s without username", ErrMalformed, p.ID)
	}
	return nil
}

// Validate checks the fields the client keys state on.
func (m Message) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: message without id", ErrMalformed)
	case m.SenderID == "":
		return fmt.Errorf("%w: message %s without senderId", ErrMalformed, m.ID)
	case m.ReceiverID == "":
		return fmt.Errorf("%w: message %s without receiverId", ErrMalformed, m.ID)
	}
	return nil
}

// Encode wraps payload in a {type, payload} envelope.
func Encode(msgType string, payload interface{}) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	return json.Marshal(WSMessage{Type: msgType, Payload: payloadBytes})
}

// DecodeEnvelope parses the outer envelope only.
func DecodeEnvelope(data []byte) (WSMessage, error) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return WSMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type == "" {
		return WSMessage{}, fmt.Errorf("%w: envelope without type", ErrMalformed)
	}
	return msg, nil
}

// Bind unmarshals the envelope payload into v.
func (m WSMessage) Bind(v interface{}) error {
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return fmt.Errorf("%w: %s without payload", ErrMalformed, m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, m.Type, err)
	}
	return nil
}

// Decode parses an inbound frame into a validated Event.
func Decode(data []byte) (Event, error) {
	msg, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	var ev Event
	switch msg.Type {
	case TypeUsersUpdated:
		var users []Participant
		if err := msg.Bind(&users); err != nil {
			return nil, err
		}
		ev = UsersUpdated{Participants: users}

	case TypeUserJoined:
		var p UserJoinedPayload
		if err := msg.Bind(&p); err != nil {
			return nil, err
		}
		ev = UserJoined{UserID: p.UserID, Username: p.Username}

	case TypeMessageReceived:
		var m Message
		if err := msg.Bind(&m); err != nil {
			return nil, err
		}
		ev = MessageReceived{Message: m}

	case TypeChatHistory:
		var msgs []Message
		if err := msg.Bind(&msgs); err != nil {
			return nil, err
		}
		ev = ChatHistory{Messages: msgs}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}

	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}
