package model

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageUnmarshalNormalizesIds(t *testing.T) {
	in := `{"_id":{"$oid":"m1"},"senderId":{"_id":"A","fullName":"Ann"},"receiverId":"B",
		"text":"hi","createdAt":"2024-01-02T03:04:05.006Z"}`

	var m Message
	require.NoError(t, json.Unmarshal([]byte(in), &m))
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "A", m.SenderID)
	assert.Equal(t, "B", m.ReceiverID)
	assert.Equal(t, "hi", m.Text)
	assert.True(t, m.Valid())
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 6e6, time.UTC).UnixMilli(), m.CreatedAtMillis())
}

func TestMessageUnmarshalMillisAndAltId(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"id":7,"senderId":1,"receiverId":2,"createdAt":1000}`), &m))
	assert.Equal(t, "7", m.ID)
	assert.Equal(t, "1", m.SenderID)
	assert.Equal(t, "2", m.ReceiverID)
	assert.EqualValues(t, 1000, m.CreatedAtMillis())
}

func TestMessageInvalid(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"senderId":null,"receiverId":"B"}`), &m))
	assert.False(t, m.Valid())
	assert.EqualValues(t, 0, m.CreatedAtMillis())

	assert.Error(t, json.Unmarshal([]byte(`{"createdAt":{}}`), &m))
}

func TestMessagePeer(t *testing.T) {
	m := Message{SenderID: "A", ReceiverID: "B"}
	assert.Equal(t, "B", m.Peer("A"))
	assert.Equal(t, "A", m.Peer("B"))
}

func TestPayloadEmpty(t *testing.T) {
	assert.True(t, Payload{}.Empty())
	assert.True(t, Payload{Text: "  \n"}.Empty())
	assert.False(t, Payload{Image: "https://img"}.Empty())
	assert.False(t, Payload{Text: "hi"}.Empty())
}

func TestEnvelope(t *testing.T) {
	msg := Message{ID: "m1", SenderID: "A", ReceiverID: "B", Text: "hi", CreatedAt: time.Unix(1, 0)}
	raw, err := EncodeEnvelope(TypeNewMessage, &msg)
	require.NoError(t, err)

	env, err := ParseEnvelope(raw)
	require.NoError(t, err)
	got, err := env.DecodeMessage()
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
	assert.True(t, msg.CreatedAt.Equal(got.CreatedAt))

	_, err = env.DecodeRoster()
	assert.Error(t, err)

	raw, err = EncodeEnvelope(TypeRoster, []interface{}{"U1", map[string]string{"$oid": "U2"}, nil})
	require.NoError(t, err)
	env, err = ParseEnvelope(raw)
	require.NoError(t, err)
	ids, err := env.DecodeRoster()
	require.NoError(t, err)
	assert.Equal(t, []string{"U1", "U2"}, ids)

	_, err = ParseEnvelope([]byte(`{"data":1}`))
	assert.Error(t, err)
	_, err = ParseEnvelope([]byte(`not json`))
	assert.Error(t, err)

	env = &Envelope{Type: TypeNewMessage, Data: json.RawMessage(`{"text":"no ids"}`)}
	_, err = env.DecodeMessage()
	assert.Error(t, err)
}

func TestCreatedAtMillisFarFuture(t *testing.T) {
	far := time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC)
	m := Message{CreatedAt: far}
	assert.Equal(t, far.Unix()*1000, m.CreatedAtMillis())

	var decoded Message
	in := fmt.Sprintf(`{"_id":"m1","senderId":"A","receiverId":"B","createdAt":%d}`, far.Unix()*1000)
	require.NoError(t, json.Unmarshal([]byte(in), &decoded))
	assert.True(t, far.Equal(decoded.CreatedAt))
}

func TestMessageKey(t *testing.T) {
	m := Message{SenderID: "B", ReceiverID: "A"}
	assert.Equal(t, "A__B", m.Key().String())
	assert.Equal(t, "A", m.Peer("B"))
	self := Message{SenderID: "A", ReceiverID: "A"}
	assert.Equal(t, "A", self.Peer("A"))
}
