// Package model holds the wire types shared by the pairchat server and clients.
package model

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/mqy/pairchat/identity"
)

// Message is a persisted direct message. Ids are assigned by the store.
type Message struct {
	ID         string    `json:"_id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text,omitempty"`
	Image      string    `json:"image,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// wireMessage accepts any identity representation for the id fields.
type wireMessage struct {
	ID         json.RawMessage `json:"_id"`
	AltID      json.RawMessage `json:"id"`
	SenderID   json.RawMessage `json:"senderId"`
	ReceiverID json.RawMessage `json:"receiverId"`
	Text       *string         `json:"text"`
	Image      *string         `json:"image"`
	CreatedAt  json.RawMessage `json:"createdAt"`
}

// UnmarshalJSON normalizes `_id`, `senderId` and `receiverId` so that decoded messages are
// always comparable by plain string equality.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := Message{
		ID:         identity.Normalize(nullToNil(w.ID)),
		SenderID:   identity.Normalize(nullToNil(w.SenderID)),
		ReceiverID: identity.Normalize(nullToNil(w.ReceiverID)),
	}
	if out.ID == "" {
		out.ID = identity.Normalize(nullToNil(w.AltID))
	}
	if w.Text != nil {
		out.Text = *w.Text
	}
	if w.Image != nil {
		out.Image = *w.Image
	}
	t, err := parseTime(w.CreatedAt)
	if err != nil {
		return err
	}
	out.CreatedAt = t

	*m = out
	return nil
}

// Valid reports whether m carries the fields every consumer relies on.
func (m *Message) Valid() bool {
	return m != nil && m.ID != "" && m.SenderID != "" && m.ReceiverID != ""
}

// CreatedAtMillis is the creation time in unix milliseconds, the unit cutoffs are kept in.
func (m *Message) CreatedAtMillis() int64 {
	if m.CreatedAt.IsZero() {
		return 0
	}
	return m.CreatedAt.UnixMilli()
}

// Normalize returns a copy with canonical identities. Messages built in process (not
// decoded from json) go through this at ingress.
func (m Message) Normalize() Message {
	m.ID = identity.Normalize(m.ID)
	m.SenderID = identity.Normalize(m.SenderID)
	m.ReceiverID = identity.Normalize(m.ReceiverID)
	return m
}

// Peer returns the participant of m that is not self.
func (m *Message) Peer(self string) string {
	return m.Key().Peer(self)
}

// Key is the conversation m belongs to.
func (m *Message) Key() identity.ConversationKey {
	return identity.NewConversationKey(m.SenderID, m.ReceiverID)
}

// Payload is the client supplied part of a new message.
type Payload struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// Empty reports whether p carries neither text nor image.
func (p Payload) Empty() bool {
	return len(bytes.TrimSpace([]byte(p.Text))) == 0 && p.Image == ""
}

func nullToNil(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

// parseTime accepts RFC3339 strings and unix millisecond numbers.
func parseTime(raw json.RawMessage) (time.Time, error) {
	if nullToNil(raw) == nil {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var t time.Time
		if err := json.Unmarshal(raw, &t); err != nil {
			return time.Time{}, err
		}
		return t, nil
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
