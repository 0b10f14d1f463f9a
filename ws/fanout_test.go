package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/pairchat/model"
)

func TestFanoutDeliver(t *testing.T) {
	r := NewRegistry()
	f := NewFanout(r)
	b := newFakeConn("sb")
	r.Register("B", b)

	msg := &model.Message{ID: "m1", SenderID: "A", ReceiverID: "B", Text: "hi", CreatedAt: time.Unix(1, 0)}
	assert.True(t, f.Deliver(msg))

	var pushed []*model.Message
	for _, env := range b.envelopes(t) {
		if env.Type == model.TypeNewMessage {
			m, err := env.DecodeMessage()
			require.NoError(t, err)
			pushed = append(pushed, m)
		}
	}
	require.Len(t, pushed, 1)
	assert.Equal(t, "m1", pushed[0].ID)
	assert.Equal(t, "hi", pushed[0].Text)
}

func TestFanoutOffline(t *testing.T) {
	f := NewFanout(NewRegistry())
	msg := &model.Message{ID: "m1", SenderID: "A", ReceiverID: "B"}
	assert.False(t, f.Deliver(msg))
}

func TestFanoutDropped(t *testing.T) {
	r := NewRegistry()
	b := newFakeConn("sb")
	r.Register("B", b)
	b.full = true

	assert.False(t, NewFanout(r).Deliver(&model.Message{ID: "m1", SenderID: "A", ReceiverID: "B"}))
}

func TestFanoutMalformed(t *testing.T) {
	r := NewRegistry()
	b := newFakeConn("sb")
	r.Register("B", b)
	f := NewFanout(r)

	assert.False(t, f.Deliver(nil))
	assert.False(t, f.Deliver(&model.Message{SenderID: "A", ReceiverID: "B"}))
	assert.False(t, f.Deliver(&model.Message{ID: "m1", SenderID: "A"}))
	assert.Len(t, b.envelopes(t), 1) // roster only
}
