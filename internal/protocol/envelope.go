package protocol

import (
	"encoding/json"
	"fmt"
)

// EnvelopeType identifies the payload carried by a wire envelope.
type EnvelopeType string

const (
	TypeAuth     EnvelopeType = "auth"
	TypeMessage  EnvelopeType = "message"
	TypePresence EnvelopeType = "presence"
	TypeCursor   EnvelopeType = "cursor"
	TypeAck      EnvelopeType = "ack"
)

// MessageStatus tracks a message's delivery progression.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusDelivered MessageStatus = "delivered"
	StatusFailed    MessageStatus = "failed"
)

// rawEnvelope is the stable wire shape: {"type": "...", "data": {...}}.
type rawEnvelope struct {
	Type EnvelopeType    `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Auth is sent once by the client immediately after socket open. Name is an
// optional display name the server folds into its user directory.
type Auth struct {
	Token string `json:"token"`
	Name  string `json:"name,omitempty"`
}

// Message is a direct message in either direction. MessageID is server-issued
// once confirmed; a client-originated message carries its provisional id in
// ClientID until the ack arrives.
type Message struct {
	MessageID   string        `json:"messageId,omitempty"`
	ClientID    string        `json:"clientId,omitempty"`
	SenderID    string        `json:"senderId"`
	RecipientID string        `json:"recipientId"`
	Content     string        `json:"content"`
	Timestamp   int64         `json:"timestamp"`
	Kind        string        `json:"type"`
	Status      MessageStatus `json:"status,omitempty"`
}

// Presence is an online/offline notice (inbound, UserID set) or a heartbeat
// (outbound, timestamp only).
type Presence struct {
	UserID    string `json:"userId,omitempty"`
	Online    *bool  `json:"online,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Cursor signals that the sender is actively viewing the conversation with
// ChatWith. The server zeroes its durable unread counter for that pair.
type Cursor struct {
	ChatWith string `json:"chatWith"`
	Ts       int64  `json:"ts"`
}

// Ack is the server's per-message delivery acknowledgment. It carries the
// server-issued MessageID for the provisional ClientID the sender used.
type Ack struct {
	ClientID  string `json:"clientId"`
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
}

// Envelope is the decoded form of one wire frame: exactly one payload field
// is non-nil, matching Type.
type Envelope struct {
	Type     EnvelopeType
	Auth     *Auth
	Message  *Message
	Presence *Presence
	Cursor   *Cursor
	Ack      *Ack
}

// DecodeError reports a frame that could not be decoded. The reader logs and
// drops these; they never tear down the connection.
type DecodeError struct {
	Reason string
	Frame  []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame: %s", e.Reason)
}

// Decode parses a raw frame into a typed envelope.
func Decode(raw []byte) (*Envelope, error) {
	var outer rawEnvelope
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, &DecodeError{Reason: err.Error(), Frame: raw}
	}

	env := &Envelope{Type: outer.Type}
	var payload any
	switch outer.Type {
	case TypeAuth:
		env.Auth = &Auth{}
		payload = env.Auth
	case TypeMessage:
		env.Message = &Message{}
		payload = env.Message
	case TypePresence:
		env.Presence = &Presence{}
		payload = env.Presence
	case TypeCursor:
		env.Cursor = &Cursor{}
		payload = env.Cursor
	case TypeAck:
		env.Ack = &Ack{}
		payload = env.Ack
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown envelope type %q", outer.Type), Frame: raw}
	}

	if len(outer.Data) > 0 {
		if err := json.Unmarshal(outer.Data, payload); err != nil {
			return nil, &DecodeError{Reason: err.Error(), Frame: raw}
		}
	}
	return env, nil
}

// Encode serializes a payload under the given envelope type.
func Encode(t EnvelopeType, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return json.Marshal(rawEnvelope{Type: t, Data: data})
}

// EncodeAuth builds an auth envelope for the given bearer credential.
func EncodeAuth(token string) ([]byte, error) {
	return Encode(TypeAuth, Auth{Token: token})
}

// EncodeHeartbeat builds an outbound presence heartbeat (timestamp only).
func EncodeHeartbeat(ts int64) ([]byte, error) {
	return Encode(TypePresence, Presence{Timestamp: ts})
}

// EncodeCursor builds a cursor envelope naming the attended conversation.
func EncodeCursor(chatWith string, ts int64) ([]byte, error) {
	return Encode(TypeCursor, Cursor{ChatWith: chatWith, Ts: ts})
}

// Bool returns a pointer to b, for the Presence.Online field.
func Bool(b bool) *bool {
	return &b
}
