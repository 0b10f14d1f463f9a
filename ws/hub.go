package ws

import (
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/mqy/pairchat/auth"
	"github.com/mqy/pairchat/model"
)

// Hub works as a hub that accepts websocket sessions and serves presence and pushes.
type Hub struct {
	authClient auth.Client
	registry   *Registry
	fanout     *Fanout
	online     atomic.Bool
}

// NewHub creates a `Hub`.
func NewHub(authClient auth.Client) *Hub {
	registry := NewRegistry()
	return &Hub{
		authClient: authClient,
		registry:   registry,
		fanout:     NewFanout(registry),
	}
}

// Registry returns the presence registry of this node.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Deliver implements `cluster.Deliverer`.
func (h *Hub) Deliver(msg *model.Message) bool {
	return h.fanout.Deliver(msg)
}

// ServeHTTP handles websocket requests from the peer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.online.Load() {
		http.Error(w, "This node is temporarily offline", http.StatusServiceUnavailable)
		return
	}

	uid, err := h.authClient.Auth(r)
	if err != nil {
		glog.Errorf("ServeHTTP(): authenticate error: %v", err)
		http.Error(w, "Authenticate error", http.StatusForbidden)
		return
	}

	sess := &Session{
		Uid:        uid,
		Sid:        strings.ReplaceAll(uuid.New(), "-", ""),
		CreateTime: time.Now().Unix(),
		Ip:         getRemoteIP(r),
	}

	// If the upgrade fails, then Upgrade replies to the client with an HTTP error response.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("ServeHTTP(): upgrader.Upgrade error, uid: %s, err: %s", uid, err)
		return
	}

	// NOTE:  after upgrade, `w.WriteHeader(...)`` causes error `response.Write on hijacked connection`.

	handler := &Handler{
		dataChan: make(chan []byte, sendBufferSize),
		session:  sess,
		conn:     conn,
		hub:      h,
	}

	conn.SetCloseHandler(func(code int, text string) error {
		glog.Infof("session closed by peer, session: %s, code: %d, text: %s", handler, code, text)
		return nil
	})

	h.registry.Register(uid, handler)

	go handler.recvLoop()
	go handler.sendLoop()
}

// Online starts accepting sessions.
func (h *Hub) Online() {
	glog.Infof("Online()")
	h.online.Store(true)
}

// Offline stops accepting sessions; existing sessions are kept.
func (h *Hub) Offline() {
	glog.Infof("Offline()")
	h.online.Store(false)
}

// Close closes every session without broadcasting, used on server stop.
func (h *Hub) Close() {
	h.Offline()
	glog.Infof("close connections ...")
	for _, c := range h.registry.all() {
		if handler, ok := c.(*Handler); ok {
			handler.close(ServerStop)
		}
	}
	glog.Infof("close connections done")
}

func getRemoteIP(r *http.Request) string {
	ip := r.Header.Get("X-REAL-IP")
	if ip == "" {
		if ips := r.Header.Get("X-FORWARDED-FOR"); ips != "" {
			slice := strings.Split(ips, ",")
			for _, x := range slice {
				if x = strings.TrimSpace(x); x != "" {
					ip = x
				}
			}
		}
	}
	if ip == "" {
		ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	}

	return ip
}
