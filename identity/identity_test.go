package identity

import (
	"encoding/json"
	"testing"

	"github.com/pborman/uuid"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type stringer struct{ s string }

func (s stringer) String() string { return s.s }

func TestNormalize(t *testing.T) {
	oid := bson.NewObjectID()
	u := uuid.NewRandom()
	var nilOid *bson.ObjectID

	cases := []struct {
		name string
		in   any
		out  string
	}{
		{"nil", nil, ""},
		{"string", "U1", "U1"},
		{"bytes", []byte("U2"), "U2"},
		{"object id", oid, oid.Hex()},
		{"object id pointer", &oid, oid.Hex()},
		{"nil object id pointer", nilOid, ""},
		{"uuid", u, u.String()},
		{"extended json", map[string]any{"$oid": "abc"}, "abc"},
		{"populated document", map[string]any{"_id": "def", "fullName": "x"}, "def"},
		{"nested document", map[string]any{"_id": map[string]any{"$oid": "ghi"}}, "ghi"},
		{"string map", map[string]string{"$oid": "jkl"}, "jkl"},
		{"integral float", float64(42), "42"},
		{"fractional float", 1.5, "1.5"},
		{"int64", int64(7), "7"},
		{"json number", json.Number("99"), "99"},
		{"raw document", json.RawMessage(`{"$oid":"mno"}`), "mno"},
		{"raw string", json.RawMessage(`"pqr"`), "pqr"},
		{"stringer", stringer{"stu"}, "stu"},
		{"fallback", struct{ A int }{1}, "{1}"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.out, Normalize(c.in))
		})
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("abc", map[string]any{"$oid": "abc"}))
	assert.True(t, Equal(nil, ""))
	assert.False(t, Equal("a", "b"))
}

func TestConversationKey(t *testing.T) {
	ab := NewConversationKey("A", "B")
	ba := NewConversationKey(map[string]any{"_id": "B"}, "A")
	assert.Equal(t, ab, ba)
	assert.Equal(t, "A__B", ab.String())

	assert.True(t, ab.Has("A"))
	assert.False(t, ab.Has("C"))
	assert.Equal(t, "B", ab.Peer("A"))
	assert.Equal(t, "A", ab.Peer("B"))

	self := NewConversationKey("A", "A")
	assert.Equal(t, "A", self.Peer("A"))

	parsed, ok := ParseConversationKey("B__A")
	assert.True(t, ok)
	assert.Equal(t, ab, parsed)

	_, ok = ParseConversationKey("nope")
	assert.False(t, ok)
	assert.True(t, ConversationKey{}.IsZero())
}
