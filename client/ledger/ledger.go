// Package ledger keeps the per-device "cleared at" cutoffs of conversations. Clearing a
// conversation never deletes anything on the server; messages created at or before the
// cutoff are just hidden on this device.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/pairchat/identity"
	"github.com/mqy/pairchat/model"
)

// Store persists cutoffs, see localstore.Store.
type Store interface {
	LoadCutoffs(self string) (map[string]int64, error)
	SaveCutoff(self, key string, ms int64) error
}

// ErrNotLoaded is returned by MarkDeleted before Load picked an identity.
var ErrNotLoaded = errors.New("ledger: not loaded")

type Ledger struct {
	sync.RWMutex
	store   Store
	self    string
	cutoffs map[string]int64
}

func New(store Store) *Ledger {
	return &Ledger{store: store, cutoffs: make(map[string]int64)}
}

// Load replaces the in-memory cutoffs with those persisted for self. Stored keys are
// re-canonicalized; keys that are not conversation keys are skipped.
func (l *Ledger) Load(self string) error {
	self = identity.Normalize(self)
	stored, err := l.store.LoadCutoffs(self)
	if err != nil {
		return err
	}
	cutoffs := make(map[string]int64, len(stored))
	for k, ms := range stored {
		key, ok := identity.ParseConversationKey(k)
		if !ok {
			glog.Warningf("ledger: skip bad conversation key %q of %s", k, self)
			continue
		}
		if ms > cutoffs[key.String()] {
			cutoffs[key.String()] = ms
		}
	}
	l.Lock()
	l.self = self
	l.cutoffs = cutoffs
	l.Unlock()
	return nil
}

// CutoffFor returns the cutoff of key in unix ms, 0 when the conversation was never cleared.
func (l *Ledger) CutoffFor(key identity.ConversationKey) int64 {
	l.RLock()
	defer l.RUnlock()
	return l.cutoffs[key.String()]
}

// MarkDeleted moves the cutoff of key to at, unless it is already later. The resulting
// cutoff is returned.
func (l *Ledger) MarkDeleted(key identity.ConversationKey, at time.Time) (int64, error) {
	ms := at.UnixMilli()

	l.Lock()
	defer l.Unlock()
	if l.self == "" {
		return 0, ErrNotLoaded
	}
	if key.IsZero() {
		return 0, errors.New("ledger: empty conversation key")
	}
	k := key.String()
	if cur := l.cutoffs[k]; cur >= ms {
		glog.V(5).Infof("ledger: keep cutoff %d of %s, clear at %d", cur, k, ms)
		return cur, nil
	}
	if err := l.store.SaveCutoff(l.self, k, ms); err != nil {
		return l.cutoffs[k], fmt.Errorf("save cutoff of %s error: %w", k, err)
	}
	l.cutoffs[k] = ms
	return ms, nil
}

// Visible reports whether msg was created after the cutoff of its conversation.
func (l *Ledger) Visible(msg *model.Message) bool {
	key := identity.NewConversationKey(msg.SenderID, msg.ReceiverID)
	return msg.CreatedAtMillis() > l.CutoffFor(key)
}
