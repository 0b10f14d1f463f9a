package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mqy/pairchat/identity"
	"github.com/mqy/pairchat/model"
)

// memoryStore implements `IMessageStore` in process memory, for demos and tests.
type memoryStore struct {
	sync.RWMutex
	users    map[string]*model.User
	messages map[identity.ConversationKey][]*model.Message
	now      func() time.Time
}

func NewMemoryStore(users ...*model.User) *memoryStore {
	s := &memoryStore{
		users:    make(map[string]*model.User),
		messages: make(map[identity.ConversationKey][]*model.Message),
		now:      time.Now,
	}
	for _, u := range users {
		s.AddUser(u)
	}
	return s
}

func (s *memoryStore) AddUser(u *model.User) {
	cp := *u
	cp.ID = identity.Normalize(cp.ID)
	s.Lock()
	s.users[cp.ID] = &cp
	s.Unlock()
}

func (s *memoryStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	s.RLock()
	defer s.RUnlock()
	u, ok := s.users[identity.Normalize(id)]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memoryStore) FetchUsers(ctx context.Context, self string) ([]*model.User, error) {
	self = identity.Normalize(self)
	s.RLock()
	out := make([]*model.User, 0, len(s.users))
	for id, u := range s.users {
		if id != self {
			cp := *u
			out = append(out, &cp)
		}
	}
	s.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FullName != out[j].FullName {
			return out[i].FullName < out[j].FullName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memoryStore) FetchMessages(ctx context.Context, self, peer string) ([]*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := identity.NewConversationKey(self, peer)
	s.RLock()
	defer s.RUnlock()
	slice := s.messages[key]
	out := make([]*model.Message, 0, len(slice))
	for _, m := range slice {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memoryStore) SaveMessage(ctx context.Context, sender, receiver string, payload model.Payload) (*model.Message, error) {
	msg, err := newMessage(sender, receiver, payload, s.now())
	if err != nil {
		return nil, err
	}
	if _, err := s.GetUser(ctx, msg.ReceiverID); err != nil {
		return nil, err
	}

	key := identity.NewConversationKey(msg.SenderID, msg.ReceiverID)
	s.Lock()
	// Keep create time ascending even if the clock steps back.
	if slice := s.messages[key]; len(slice) > 0 {
		if last := slice[len(slice)-1].CreatedAt; msg.CreatedAt.Before(last) {
			msg.CreatedAt = last
		}
	}
	s.messages[key] = append(s.messages[key], msg)
	s.Unlock()

	cp := *msg
	return &cp, nil
}
