package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/mqy/pairchat/auth"
	"github.com/mqy/pairchat/model"
	"github.com/mqy/pairchat/retry"
)

const (
	// WsPath is where the server mounts its websocket hub.
	WsPath = "/ws"

	handshakeTimeout = 10 * time.Second
	readLimit        = 1 << 20
)

// PushHandler receives decoded push frames, see chatsync.Engine. OnPush reports whether
// the message was kept.
type PushHandler interface {
	OnPush(msg *model.Message) bool
	OnRoster(ids []string)
}

// PushConn keeps a websocket open to the server and feeds its frames to a handler.
type PushConn struct {
	url     string
	self    string
	dialer  *websocket.Dialer
	handler PushHandler

	// connected is notified after each successful dial, for tests.
	connected chan struct{}
}

// NewPushConn takes the server root, like "http://localhost:5001".
func NewPushConn(baseURL, self string, handler PushHandler) (*PushConn, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + WsPath)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set(auth.QueryName, self)
	u.RawQuery = q.Encode()

	return &PushConn{
		url:     u.String(),
		self:    self,
		dialer:  &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		handler: handler,
	}, nil
}

// Run dials and reads until ctx is done, reconnecting with backoff whenever the
// connection fails.
func (p *PushConn) Run(ctx context.Context) {
	var backoff time.Duration
	for {
		conn, err := p.dial(ctx)
		if err == nil {
			backoff = 0
			if p.connected != nil {
				p.connected <- struct{}{}
			}
			err = p.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			return
		}
		glog.Errorf("push: connection error: %v", err)
		if !retry.Sleep(ctx, &backoff) {
			return
		}
		glog.Infof("push: reconnect after %v", backoff)
	}
}

func (p *PushConn) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Add("Cookie", (&http.Cookie{Name: auth.CookieName, Value: p.self}).String())

	conn, resp, err := p.dialer.DialContext(ctx, p.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s error: %v, status: %d", p.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s error: %w", p.url, err)
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

// serve reads frames until the connection fails or ctx is done.
func (p *PushConn) serve(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("closed by server")
			}
			return err
		}
		if mt != websocket.TextMessage {
			continue
		}
		p.dispatch(data)
	}
}

func (p *PushConn) dispatch(data []byte) {
	env, err := model.ParseEnvelope(data)
	if err != nil {
		glog.V(5).Infof("push: drop malformed frame: %v", err)
		return
	}

	switch env.Type {
	case model.TypeNewMessage:
		msg, err := env.DecodeMessage()
		if err != nil {
			glog.V(5).Infof("push: drop malformed message: %v", err)
			return
		}
		p.handler.OnPush(msg)
	case model.TypeRoster:
		ids, err := env.DecodeRoster()
		if err != nil {
			glog.V(5).Infof("push: drop malformed roster: %v", err)
			return
		}
		p.handler.OnRoster(ids)
	case model.TypeError:
		glog.Errorf("push: server error: %s", env.Data)
	default:
		glog.V(5).Infof("push: ignore frame of type %s", env.Type)
	}
}
