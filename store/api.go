package store

import (
	"context"
	"errors"

	"github.com/mqy/pairchat/model"
)

var (
	// ErrEmptyMessage is returned when a payload carries neither text nor image.
	ErrEmptyMessage = errors.New("message has neither text nor image")

	// ErrUserNotFound is returned when the receiver (or requested user) does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// IMessageStore is the authoritative store of users and messages.
type IMessageStore interface {
	// GetUser gets a user by id.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// FetchUsers lists every user except self, order by full name.
	FetchUsers(ctx context.Context, self string) ([]*model.User, error)

	// FetchMessages lists the conversation between self and peer, order by create time ASC.
	FetchMessages(ctx context.Context, self, peer string) ([]*model.Message, error)

	// SaveMessage persists a message and returns it with the store assigned id and time.
	SaveMessage(ctx context.Context, sender, receiver string, payload model.Payload) (*model.Message, error)
}
