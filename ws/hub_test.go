package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/pairchat/auth"
	"github.com/mqy/pairchat/model"
)

func dial(t *testing.T, srv *httptest.Server, uid string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?userId=" + uid
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

// readUntil reads frames until one matches or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, match func(*model.Envelope) bool) *model.Envelope {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		env, err := model.ParseEnvelope(data)
		require.NoError(t, err)
		if match(env) {
			return env
		}
	}
}

func rosterEquals(ids ...string) func(*model.Envelope) bool {
	return func(env *model.Envelope) bool {
		if env.Type != model.TypeRoster {
			return false
		}
		got, err := env.DecodeRoster()
		if err != nil || len(got) != len(ids) {
			return false
		}
		for i := range ids {
			if got[i] != ids[i] {
				return false
			}
		}
		return true
	}
}

func TestHubPresenceAndPush(t *testing.T) {
	hub := NewHub(&auth.MockClient{})
	hub.Online()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	a := dial(t, srv, "A")
	defer a.Close()
	readUntil(t, a, rosterEquals("A"))

	b := dial(t, srv, "B")
	defer b.Close()
	readUntil(t, a, rosterEquals("A", "B"))
	readUntil(t, b, rosterEquals("A", "B"))

	msg := &model.Message{ID: "m1", SenderID: "A", ReceiverID: "B", Text: "hi", CreatedAt: time.Now()}
	require.True(t, hub.Deliver(msg))

	env := readUntil(t, b, func(env *model.Envelope) bool { return env.Type == model.TypeNewMessage })
	got, err := env.DecodeMessage()
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)

	require.NoError(t, b.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	readUntil(t, a, rosterEquals("A"))
	assert.Equal(t, []string{"A"}, hub.Registry().Snapshot())
}

func TestHubRejectsUnsupportedRequest(t *testing.T) {
	hub := NewHub(&auth.MockClient{})
	hub.Online()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	a := dial(t, srv, "A")
	defer a.Close()

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`)))
	env := readUntil(t, a, func(env *model.Envelope) bool { return env.Type == model.TypeError })
	assert.Contains(t, string(env.Data), model.ErrCodeInvalidMsg)
}

func TestHubOfflineAndUnauthorized(t *testing.T) {
	hub := NewHub(&auth.MockClient{})
	srv := httptest.NewServer(hub)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws?userId=A")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	hub.Online()
	resp, err = http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestGetRemoteIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", getRemoteIP(r))

	r.Header.Set("X-Forwarded-For", "1.1.1.1, 2.2.2.2")
	assert.Equal(t, "2.2.2.2", getRemoteIP(r))

	r.Header.Set("X-Real-IP", "3.3.3.3")
	assert.Equal(t, "3.3.3.3", getRemoteIP(r))
}
