package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/mqy/pairchat/model"
)

type SessionError int

const (
	ReadError  SessionError = 1
	WriteError SessionError = 2
	PingError  SessionError = 3
	BadRequest SessionError = 4
	ServerStop SessionError = 5
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	// Recommend configure nginx with `keep-alive_timeout` >= 65s.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second

	// websocket max message size to read.
	readLimit = 4096

	// frames buffered per connection before pushes are dropped.
	sendBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Fix error: request origin not allowed by Upgrader.CheckOrigin
	CheckOrigin: func(r *http.Request) bool {
		// When the node is behind nginx: host=ws-backend.
		// TODO: check against --allowed-origins once the web client ships.
		return true
	},
}

// Session describes one websocket connection.
type Session struct {
	Uid        string `json:"uid"`
	Sid        string `json:"sid"`
	CreateTime int64  `json:"create_time"`
	Ip         string `json:"ip,omitempty"`
}

// Handler manages an active connection to end user.
// Every new websocket connection creates a new session.
type Handler struct {
	sync.Mutex

	hub     *Hub
	session *Session
	conn    *websocket.Conn

	dataChan chan []byte
	closing  bool
}

func (h *Handler) String() string {
	out, _ := json.Marshal(h.session)
	return string(out)
}

// Sid implements `Conn.Sid`.
func (h *Handler) Sid() string {
	return h.session.Sid
}

// Send implements `Conn.Send`.
func (h *Handler) Send(frame []byte) bool {
	h.Lock()
	defer h.Unlock()
	if h.closing {
		return false
	}
	select {
	case h.dataChan <- frame:
		return true
	default:
		return false
	}
}

// close is idempotent. Unless the whole server is stopping, the handler is removed from
// the registry, which broadcasts the new roster.
func (h *Handler) close(cause SessionError) {
	h.Lock()
	if h.closing {
		h.Unlock()
		return
	}
	h.closing = true
	close(h.dataChan)
	h.Unlock()

	// Outside the lock: a slow peer must not stall Send, which runs under the registry lock.
	_ = h.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
	h.conn.Close()

	glog.V(5).Infof("session closed, cause: %d, %s", cause, h)
	if cause != ServerStop {
		h.hub.registry.Unregister(h.session.Uid, h)
	}
}

func (h *Handler) replyError(code, message string) {
	frame, err := model.EncodeEnvelope(model.TypeError, model.ErrorMessage{Code: code, Message: message})
	if err != nil {
		glog.Errorf("replyError(): encode error: %v", err)
		return
	}
	h.Send(frame)
}

func (h *Handler) recvLoop() {
	defer func() { glog.V(5).Infof("recvLoop(): exited, session: %s", h) }()

	h.conn.SetReadLimit(readLimit)
	h.conn.SetReadDeadline(time.Now().Add(pongWait))
	h.conn.SetPongHandler(func(s string) error {
		h.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, msg, err := h.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				glog.V(5).Infof("recvLoop(): peer closed: %v", err)
			} else {
				glog.Errorf("recvLoop(): read error: %v", err)
			}
			h.close(ReadError)
			return
		}

		glog.V(5).Infof("recvLoop(): incoming client message: %v", string(msg))

		if msgType != websocket.TextMessage {
			glog.Errorf("recvLoop(): unexpected message type: %d", msgType)
			h.replyError(model.ErrCodeInvalidMsg, "websocket only supports TextMessage")
			h.close(BadRequest)
			return
		}

		env, err := model.ParseEnvelope(msg)
		if err != nil {
			glog.Errorf("recvLoop(): message error: msg: %s, err: %v", string(msg), err)
			h.replyError(model.ErrCodeInvalidMsg, fmt.Sprintf("unmarshal error: %v", err))
			continue
		}

		switch env.Type {
		case model.TypePing:
			// keep-alive from clients that cannot send control frames.
		default:
			glog.Errorf("recvLoop(): unsupported request: %s", env.Type)
			h.replyError(model.ErrCodeInvalidMsg, "unsupported request")
		}
	}
}

func (h *Handler) sendLoop() {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Infof("sendLoop(): exited, session: %s", h)
	}()

	for {
		select {
		case frame, ok := <-h.dataChan:
			if !ok { // chan was closed
				glog.V(5).Infof("sendLoop(): data chan closed, session: %s", h)
				return
			}

			if glog.V(5) {
				logValue := string(frame)
				if len(logValue) > 100 {
					logValue = logValue[:100] + " ..."
				}
				glog.Infof("sendLoop(), get from data chan, value: %s, session: %s", logValue, h)
			}

			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				glog.Errorf("sendLoop(), error write message. session: %s, err: %v", h, err)
				h.close(WriteError)
				return
			}
		case <-pingTicker.C:
			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Errorf("sendLoop(), error write ping message. session: %s, err: %v", h, err)
				h.close(PingError)
				return
			}
		}
	}
}
