package ws

import (
	"sort"
	"sync"

	"github.com/golang/glog"

	"github.com/mqy/pairchat/identity"
	"github.com/mqy/pairchat/model"
)

// Conn is a live client connection as seen by the Registry.
type Conn interface {
	// Sid returns the session id, unique per connection.
	Sid() string
	// Send queues a frame without blocking. It returns false when the frame was dropped
	// because the connection is closing or its buffer is full.
	Send(frame []byte) bool
}

// Registry maps identities to their live connections. All mutations and snapshots run
// under one lock, so concurrent connects and disconnects never lose entries.
//
// An identity may briefly hold more than one connection (a reconnect racing the close of
// the old socket). Lookup returns the newest one; the identity stays online until every
// connection it registered has been unregistered.
type Registry struct {
	sync.Mutex
	conns map[string][]Conn
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string][]Conn),
	}
}

// Register records conn as the newest connection of id and broadcasts the roster.
func (r *Registry) Register(id string, conn Conn) {
	id = identity.Normalize(id)
	if id == "" || conn == nil {
		return
	}

	r.Lock()
	defer r.Unlock()

	slice := removeConn(r.conns[id], conn)
	r.conns[id] = append(slice, conn)
	glog.V(5).Infof("registry: register %s, sid: %s, connections: %d", id, conn.Sid(), len(r.conns[id]))

	r.broadcastLocked()
}

// Unregister drops conn from id. A duplicate disconnect is a no-op and returns false.
func (r *Registry) Unregister(id string, conn Conn) bool {
	id = identity.Normalize(id)

	r.Lock()
	defer r.Unlock()

	slice, ok := r.conns[id]
	if !ok {
		return false
	}
	rest := removeConn(slice, conn)
	if len(rest) == len(slice) {
		return false
	}
	if len(rest) == 0 {
		delete(r.conns, id)
	} else {
		r.conns[id] = rest
	}
	glog.V(5).Infof("registry: unregister %s, sid: %s, connections left: %d", id, conn.Sid(), len(rest))

	r.broadcastLocked()
	return true
}

// Snapshot returns the sorted set of online identities.
func (r *Registry) Snapshot() []string {
	r.Lock()
	defer r.Unlock()
	return r.snapshotLocked()
}

// Lookup returns the newest connection of id. ok is false when id is offline, which is
// not an error.
func (r *Registry) Lookup(id string) (Conn, bool) {
	id = identity.Normalize(id)
	r.Lock()
	slice := r.conns[id]
	r.Unlock()
	if len(slice) == 0 {
		return nil, false
	}
	return slice[len(slice)-1], true
}

// all returns every registered connection.
func (r *Registry) all() []Conn {
	r.Lock()
	defer r.Unlock()
	var out []Conn
	for _, slice := range r.conns {
		out = append(out, slice...)
	}
	return out
}

func (r *Registry) snapshotLocked() []string {
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// broadcastLocked queues the roster to every connection. Running under the registry lock
// keeps broadcasts in mutation order; Send never blocks.
func (r *Registry) broadcastLocked() {
	roster := r.snapshotLocked()
	onlineUsers.Set(float64(len(roster)))
	rosterBroadcasts.Inc()

	frame, err := model.EncodeEnvelope(model.TypeRoster, roster)
	if err != nil {
		glog.Errorf("registry: encode roster error: %v", err)
		return
	}
	for _, slice := range r.conns {
		for _, c := range slice {
			if !c.Send(frame) {
				glog.V(5).Infof("registry: roster dropped for sid: %s", c.Sid())
			}
		}
	}
}

func removeConn(slice []Conn, conn Conn) []Conn {
	for i, c := range slice {
		if c == conn {
			out := make([]Conn, 0, len(slice)-1)
			out = append(out, slice[:i]...)
			return append(out, slice[i+1:]...)
		}
	}
	return slice
}
