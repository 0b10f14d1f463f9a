package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/pairchat/model"
)

func TestNewMessage(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)

	m, err := newMessage("A", "B", model.Payload{Text: " hi "}, now)
	require.NoError(t, err)
	assert.Len(t, m.ID, 32)
	assert.Equal(t, "A", m.SenderID)
	assert.Equal(t, "B", m.ReceiverID)
	assert.Equal(t, "hi", m.Text)
	assert.Equal(t, now.Truncate(time.Millisecond), m.CreatedAt)

	m2, err := newMessage("A", "B", model.Payload{Image: "https://img/1.png"}, now)
	require.NoError(t, err)
	assert.NotEqual(t, m.ID, m2.ID)

	_, err = newMessage("A", "B", model.Payload{}, now)
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = newMessage("A", "", model.Payload{Text: "x"}, now)
	assert.ErrorIs(t, err, ErrUserNotFound)

	// talking to oneself is allowed.
	_, err = newMessage("A", "A", model.Payload{Text: "note"}, now)
	assert.NoError(t, err)
}

func TestIsDupKeyError(t *testing.T) {
	s := &messageStore{}
	assert.True(t, s.IsDupKeyError(&mysql.MySQLError{Number: 1062}))
	assert.True(t, s.IsDupKeyError(fmt.Errorf("wrapped: %w", &mysql.MySQLError{Number: 1062})))
	assert.False(t, s.IsDupKeyError(&mysql.MySQLError{Number: 1064}))
	assert.False(t, s.IsDupKeyError(errors.New("other")))
}
