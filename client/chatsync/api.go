package chatsync

import (
	"context"
	"time"

	"github.com/mqy/pairchat/identity"
	"github.com/mqy/pairchat/model"
)

//go:generate mockgen -destination=mock/mock_api.go -package=mock github.com/mqy/pairchat/client/chatsync Store,Notifier

// Store is the authoritative message store as seen by one signed in user.
type Store interface {
	FetchUsers(ctx context.Context) ([]*model.User, error)
	FetchMessages(ctx context.Context, peer string) ([]*model.Message, error)
	SendMessage(ctx context.Context, peer string, payload model.Payload) (*model.Message, error)
}

// Ledger hides cleared messages, see ledger.Ledger.
type Ledger interface {
	Visible(msg *model.Message) bool
	MarkDeleted(key identity.ConversationKey, at time.Time) (int64, error)
}

// Notifier decides on alerts for pushed messages, see notify.Dispatcher.
type Notifier interface {
	Evaluate(msg *model.Message, openPeer string) bool
}

// Listener observes the engine. Calls are made without the engine lock held, so a
// listener may read engine state.
type Listener interface {
	Changed()
	Failed(err error)
}

type nopListener struct{}

func (nopListener) Changed()     {}
func (nopListener) Failed(error) {}

type nopNotifier struct{}

func (nopNotifier) Evaluate(*model.Message, string) bool { return false }
