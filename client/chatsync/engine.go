// Package chatsync keeps one client's view of its conversations consistent while it is
// fed from three sources: user driven loads, a silent periodic poll and the push stream.
//
// Every fetch carries a token. Only the response to the latest token is applied, so a
// slow answer for a conversation the user already left never overwrites the current one.
// Pushed and sent messages are merged by id, so a message seen through several sources
// is kept once.
package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/pairchat/identity"
	"github.com/mqy/pairchat/model"
)

const DefaultPollInterval = 2500 * time.Millisecond

var ErrNoConversation = errors.New("no conversation is open")

type Config struct {
	Self     string
	Store    Store
	Ledger   Ledger
	Notifier Notifier
	Listener Listener
	Now      func() time.Time
}

type Engine struct {
	sync.Mutex
	conf Config
	self string

	users  []*model.User
	online map[string]struct{}

	openPeer string
	messages []*model.Message
	ids      map[string]struct{}

	token   uint64
	loading bool
	err     error
}

func New(conf Config) *Engine {
	if conf.Notifier == nil {
		conf.Notifier = nopNotifier{}
	}
	if conf.Listener == nil {
		conf.Listener = nopListener{}
	}
	if conf.Now == nil {
		conf.Now = time.Now
	}
	return &Engine{
		conf:   conf,
		self:   identity.Normalize(conf.Self),
		online: make(map[string]struct{}),
		ids:    make(map[string]struct{}),
	}
}

func (e *Engine) Self() string {
	return e.self
}

// LoadUsers refreshes the conversation list.
func (e *Engine) LoadUsers(ctx context.Context) error {
	users, err := e.conf.Store.FetchUsers(ctx)
	if err != nil {
		return e.fail(fmt.Errorf("load users error: %w", err))
	}

	list := make([]*model.User, 0, len(users))
	for _, u := range users {
		if u == nil {
			continue
		}
		cp := *u
		cp.ID = identity.Normalize(cp.ID)
		if cp.ID != "" {
			list = append(list, &cp)
		}
	}

	e.Lock()
	e.users = list
	e.Unlock()
	e.conf.Listener.Changed()
	return nil
}

// LoadConversation opens the conversation with peer and loads its history. The loading
// flag stays set until the response of this call, or of a later one, is applied.
func (e *Engine) LoadConversation(ctx context.Context, peer string) error {
	peer = identity.Normalize(peer)
	if peer == "" {
		return ErrNoConversation
	}

	e.Lock()
	e.token++
	token := e.token
	if peer != e.openPeer {
		e.openPeer = peer
		e.resetCacheLocked()
	}
	e.loading = true
	e.bringToTopLocked(peer)
	e.Unlock()
	e.conf.Listener.Changed()

	msgs, err := e.conf.Store.FetchMessages(ctx, peer)
	return e.apply(token, peer, msgs, err, true)
}

// PollTick silently refreshes the open conversation. It does nothing when no
// conversation is open or a user visible load is in flight.
func (e *Engine) PollTick(ctx context.Context) error {
	e.Lock()
	if e.openPeer == "" || e.loading {
		e.Unlock()
		return nil
	}
	e.token++
	token, peer := e.token, e.openPeer
	e.Unlock()

	msgs, err := e.conf.Store.FetchMessages(ctx, peer)
	return e.apply(token, peer, msgs, err, false)
}

// Run polls every interval until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.PollTick(ctx); err != nil {
				glog.V(5).Infof("chatsync: poll error: %v", err)
			}
		}
	}
}

func (e *Engine) apply(token uint64, peer string, msgs []*model.Message, err error, visible bool) error {
	e.Lock()
	if token != e.token {
		e.Unlock()
		glog.V(5).Infof("chatsync: discard stale response %d of %s, latest is %d", token, peer, e.token)
		return nil
	}
	if visible {
		e.loading = false
	}
	if err != nil {
		err = fmt.Errorf("load messages with %s error: %w", peer, err)
		e.err = err
		e.Unlock()
		e.conf.Listener.Failed(err)
		e.conf.Listener.Changed()
		return err
	}

	e.resetCacheLocked()
	for _, m := range msgs {
		if m == nil {
			continue
		}
		n := m.Normalize()
		e.mergeLocked(&n)
	}
	if visible {
		e.err = nil
	}
	e.Unlock()

	e.conf.Listener.Changed()
	return nil
}

// OnPush merges a pushed message. It reports whether the message was added to the open
// conversation; malformed, cleared and duplicate messages are not.
func (e *Engine) OnPush(msg *model.Message) bool {
	if msg == nil {
		return false
	}
	m := msg.Normalize()
	if !m.Valid() {
		glog.V(5).Infof("chatsync: drop malformed push %+v", m)
		return false
	}

	e.Lock()
	e.bringToTopLocked(m.Peer(e.self))
	openPeer := e.openPeer
	e.Unlock()

	e.conf.Notifier.Evaluate(&m, openPeer)

	var merged bool
	e.Lock()
	if e.openPeer != "" && m.Key().Has(e.openPeer) {
		merged = e.mergeLocked(&m)
	}
	e.Unlock()
	e.conf.Listener.Changed()
	return merged
}

// OnRoster replaces the set of online users.
func (e *Engine) OnRoster(ids []string) {
	online := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = identity.Normalize(id); id != "" {
			online[id] = struct{}{}
		}
	}
	e.Lock()
	e.online = online
	e.Unlock()
	e.conf.Listener.Changed()
}

func (e *Engine) IsOnline(id string) bool {
	e.Lock()
	defer e.Unlock()
	_, ok := e.online[identity.Normalize(id)]
	return ok
}

// Online returns the online users, sorted.
func (e *Engine) Online() []string {
	e.Lock()
	out := make([]string, 0, len(e.online))
	for id := range e.online {
		out = append(out, id)
	}
	e.Unlock()
	sort.Strings(out)
	return out
}

// SendMessage sends payload to peer, or to the open conversation when peer is empty. The
// stored message is merged into the cache when that conversation is open.
func (e *Engine) SendMessage(ctx context.Context, peer string, payload model.Payload) (*model.Message, error) {
	peer = identity.Normalize(peer)
	if peer == "" {
		e.Lock()
		peer = e.openPeer
		e.Unlock()
		if peer == "" {
			return nil, ErrNoConversation
		}
	}

	msg, err := e.conf.Store.SendMessage(ctx, peer, payload)
	if err != nil {
		return nil, e.fail(fmt.Errorf("send message to %s error: %w", peer, err))
	}
	m := msg.Normalize()

	e.Lock()
	e.bringToTopLocked(peer)
	if peer == e.openPeer && m.Valid() {
		e.mergeLocked(&m)
	}
	e.Unlock()
	e.conf.Listener.Changed()
	return &m, nil
}

// DeleteConversation clears the open conversation on this device. Messages created up
// to now stay hidden, later ones show up as usual.
func (e *Engine) DeleteConversation() error {
	e.Lock()
	peer := e.openPeer
	e.Unlock()
	if peer == "" {
		return ErrNoConversation
	}

	if _, err := e.conf.Ledger.MarkDeleted(identity.NewConversationKey(e.self, peer), e.conf.Now()); err != nil {
		return e.fail(fmt.Errorf("clear conversation with %s error: %w", peer, err))
	}

	e.Lock()
	if e.openPeer == peer {
		e.resetCacheLocked()
	}
	e.Unlock()
	e.conf.Listener.Changed()
	return nil
}

// IsOwn reports whether msg renders as sent by the local user: sent by self to the open
// peer, or else sent by self unless it is the open peer writing to self.
func (e *Engine) IsOwn(msg *model.Message) bool {
	sender, receiver := identity.Normalize(msg.SenderID), identity.Normalize(msg.ReceiverID)
	e.Lock()
	open := e.openPeer
	e.Unlock()

	if open != "" && sender == e.self && receiver == open {
		return true
	}
	if open != "" && sender == open && receiver == e.self {
		return false
	}
	return sender == e.self
}

// FullName resolves id against the conversation list.
func (e *Engine) FullName(id string) (string, bool) {
	id = identity.Normalize(id)
	e.Lock()
	defer e.Unlock()
	for _, u := range e.users {
		if u.ID == id {
			return u.FullName, true
		}
	}
	return "", false
}

// Users returns the conversation list, most recent activity first.
func (e *Engine) Users() []model.User {
	e.Lock()
	defer e.Unlock()
	out := make([]model.User, len(e.users))
	for i, u := range e.users {
		out[i] = *u
	}
	return out
}

// Messages returns the visible messages of the open conversation.
func (e *Engine) Messages() []model.Message {
	e.Lock()
	defer e.Unlock()
	out := make([]model.Message, len(e.messages))
	for i, m := range e.messages {
		out[i] = *m
	}
	return out
}

func (e *Engine) OpenPeer() string {
	e.Lock()
	defer e.Unlock()
	return e.openPeer
}

func (e *Engine) Loading() bool {
	e.Lock()
	defer e.Unlock()
	return e.loading
}

// Err is the last surfaced error, cleared by the next successful load.
func (e *Engine) Err() error {
	e.Lock()
	defer e.Unlock()
	return e.err
}

func (e *Engine) fail(err error) error {
	e.Lock()
	e.err = err
	e.Unlock()
	e.conf.Listener.Failed(err)
	return err
}

func (e *Engine) resetCacheLocked() {
	e.messages = nil
	e.ids = make(map[string]struct{})
}

// mergeLocked appends m unless it is cleared or already cached.
func (e *Engine) mergeLocked(m *model.Message) bool {
	if m == nil || m.ID == "" {
		return false
	}
	if _, ok := e.ids[m.ID]; ok {
		return false
	}
	if !e.conf.Ledger.Visible(m) {
		return false
	}
	e.ids[m.ID] = struct{}{}
	e.messages = append(e.messages, m)
	return true
}

func (e *Engine) bringToTopLocked(id string) {
	if id == "" {
		return
	}
	for i, u := range e.users {
		if u.ID == id {
			if i > 0 {
				copy(e.users[1:i+1], e.users[:i])
				e.users[0] = u
			}
			return
		}
	}
}
