package model

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mqy/pairchat/identity"
)

// EventType identifies the payload of an Envelope.
type EventType string

const (
	// Server -> Client
	TypeNewMessage EventType = "newMessage"
	TypeRoster     EventType = "getOnlineUsers"
	TypeError      EventType = "error"

	// Client -> Server
	TypePing EventType = "ping"
)

// Error codes
const (
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotFound     = "not_found"
	ErrCodeInvalidMsg   = "invalid_message"
	ErrCodeInternal     = "internal_error"
	ErrCodeRateLimited  = "rate_limited"
)

// Envelope wraps every websocket frame with a type field.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ErrorMessage is the payload of TypeError frames and of HTTP error bodies.
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEnvelope creates an envelope with the given type and data.
func NewEnvelope(t EventType, data interface{}) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: t, Data: raw}, nil
}

// EncodeEnvelope marshals a complete frame.
func EncodeEnvelope(t EventType, data interface{}) ([]byte, error) {
	env, err := NewEnvelope(t, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// ParseEnvelope parses a frame.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Type == "" {
		return nil, errors.New("envelope: missing type")
	}
	return &env, nil
}

// DecodeMessage decodes the payload of a TypeNewMessage frame. Frames that do not carry
// a usable message are reported as errors.
func (e *Envelope) DecodeMessage() (*Message, error) {
	if e.Type != TypeNewMessage {
		return nil, fmt.Errorf("envelope: type %q is not %q", e.Type, TypeNewMessage)
	}
	var m Message
	if err := json.Unmarshal(e.Data, &m); err != nil {
		return nil, fmt.Errorf("envelope: bad message: %w", err)
	}
	if !m.Valid() {
		return nil, errors.New("envelope: message misses id or participants")
	}
	return &m, nil
}

// DecodeRoster decodes the payload of a TypeRoster frame into normalized identities.
func (e *Envelope) DecodeRoster() ([]string, error) {
	if e.Type != TypeRoster {
		return nil, fmt.Errorf("envelope: type %q is not %q", e.Type, TypeRoster)
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(e.Data, &raw); err != nil {
		return nil, fmt.Errorf("envelope: bad roster: %w", err)
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if id := identity.Normalize(nullToNil(r)); id != "" {
			out = append(out, id)
		}
	}
	return out, nil
}
