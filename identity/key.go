package identity

import "strings"

const keySeparator = "__"

// ConversationKey identifies a two-party conversation. The pair is unordered: the key
// built for (a, b) equals the key built for (b, a).
type ConversationKey struct {
	lo, hi string
}

// NewConversationKey normalizes both identities and orders them.
func NewConversationKey(a, b any) ConversationKey {
	x, y := Normalize(a), Normalize(b)
	if y < x {
		x, y = y, x
	}
	return ConversationKey{lo: x, hi: y}
}

// ParseConversationKey reverses String. ok is false when s has no separator.
func ParseConversationKey(s string) (ConversationKey, bool) {
	i := strings.Index(s, keySeparator)
	if i < 0 {
		return ConversationKey{}, false
	}
	return NewConversationKey(s[:i], s[i+len(keySeparator):]), true
}

func (k ConversationKey) String() string {
	return k.lo + keySeparator + k.hi
}

// IsZero reports whether the key was never set.
func (k ConversationKey) IsZero() bool {
	return k.lo == "" && k.hi == ""
}

// Has reports whether id is one of the two participants.
func (k ConversationKey) Has(id any) bool {
	s := Normalize(id)
	return s == k.lo || s == k.hi
}

// Peer returns the participant that is not self. For a conversation with oneself the
// peer is self.
func (k ConversationKey) Peer(self any) string {
	if Normalize(self) == k.lo {
		return k.hi
	}
	return k.lo
}
