package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/mqy/pairchat/identity"
)

const (
	CookieName = "x-uid"
	QueryName  = "userId"
)

// MockClient trusts the `x-uid` cookie, or the `userId` query parameter that websocket
// clients without cookie support send on handshake.
type MockClient struct {
	Client
}

func (c *MockClient) Auth(r *http.Request) (string, error) {
	var uid string

	if c, err := r.Cookie(CookieName); err == nil {
		uid = c.Value
	}
	if uid == "" {
		uid = r.URL.Query().Get(QueryName)
	}

	uid = identity.Normalize(strings.TrimSpace(uid))
	if uid == "" {
		return "", fmt.Errorf("empty %s cookie and %s query", CookieName, QueryName)
	}
	return uid, nil
}
