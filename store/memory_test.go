package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/pairchat/model"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(
		&model.User{ID: "A", FullName: "Ann"},
		&model.User{ID: "B", FullName: "Bob"},
		&model.User{ID: "C", FullName: "Bob"},
	)
	ctx := context.Background()

	users, err := s.FetchUsers(ctx, "A")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "B", users[0].ID)
	assert.Equal(t, "C", users[1].ID)

	_, err = s.GetUser(ctx, "Z")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = s.SaveMessage(ctx, "A", "Z", model.Payload{Text: "x"})
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = s.SaveMessage(ctx, "A", "B", model.Payload{})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	t0 := time.Unix(100, 0)
	s.now = func() time.Time { return t0 }
	m1, err := s.SaveMessage(ctx, "A", "B", model.Payload{Text: "hi"})
	require.NoError(t, err)

	s.now = func() time.Time { return t0.Add(-time.Second) }
	m2, err := s.SaveMessage(ctx, "B", "A", model.Payload{Image: "img"})
	require.NoError(t, err)
	assert.False(t, m2.CreatedAt.Before(m1.CreatedAt))

	_, err = s.SaveMessage(ctx, "A", "C", model.Payload{Text: "elsewhere"})
	require.NoError(t, err)

	got, err := s.FetchMessages(ctx, "B", "A")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, m1.ID, got[0].ID)
	assert.Equal(t, m2.ID, got[1].ID)

	// returned messages are copies.
	got[0].Text = "changed"
	again, _ := s.FetchMessages(ctx, "A", "B")
	assert.Equal(t, "hi", again[0].Text)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.FetchMessages(cancelled, "A", "B")
	assert.Error(t, err)
}
