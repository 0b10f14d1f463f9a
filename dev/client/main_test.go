package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/pairchat/client/chatsync"
	"github.com/mqy/pairchat/client/ledger"
	"github.com/mqy/pairchat/client/localstore"
	"github.com/mqy/pairchat/client/notify"
	"github.com/mqy/pairchat/model"
)

type emptyStore struct{}

func (emptyStore) FetchUsers(context.Context) ([]*model.User, error) { return nil, nil }

func (emptyStore) FetchMessages(context.Context, string) ([]*model.Message, error) {
	return nil, nil
}

func (emptyStore) SendMessage(context.Context, string, model.Payload) (*model.Message, error) {
	return nil, nil
}

func TestPrinterSkipsDuplicateAndClearedPushes(t *testing.T) {
	state, err := localstore.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer state.Close()

	led := ledger.New(state)
	require.NoError(t, led.Load("B"))

	engine := chatsync.New(chatsync.Config{
		Self:   "B",
		Store:  emptyStore{},
		Ledger: led,
		Now:    func() time.Time { return time.UnixMilli(2000) },
	})
	require.NoError(t, engine.LoadConversation(context.Background(), "A"))
	require.NoError(t, engine.DeleteConversation())

	var out bytes.Buffer
	p := printer{engine: engine, out: &out}

	m1 := &model.Message{ID: "m1", SenderID: "A", ReceiverID: "B", Text: "hi", CreatedAt: time.UnixMilli(3000)}
	assert.True(t, p.OnPush(m1))
	assert.False(t, p.OnPush(m1))
	assert.False(t, p.OnPush(&model.Message{ID: "m0", SenderID: "A", ReceiverID: "B", Text: "old", CreatedAt: time.UnixMilli(1000)}))
	assert.False(t, p.OnPush(&model.Message{ID: "m2", SenderID: "C", ReceiverID: "B", Text: "other", CreatedAt: time.UnixMilli(4000)}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)
	assert.True(t, strings.HasSuffix(lines[0], "A: hi"), lines[0])
}

func TestPermissionConcurrentAccess(t *testing.T) {
	p := &permission{allow: true}
	assert.Equal(t, notify.PermissionDefault, p.Status())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = p.Request(context.Background())
		}()
		go func() {
			defer wg.Done()
			_ = p.Status()
		}()
	}
	wg.Wait()
	assert.Equal(t, notify.PermissionGranted, p.Status())
}
