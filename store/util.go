package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pborman/uuid"

	"github.com/mqy/pairchat/identity"
	"github.com/mqy/pairchat/model"
)

var schema = []string{
	"CREATE TABLE IF NOT EXISTS users (" +
		"id VARCHAR(64) NOT NULL PRIMARY KEY," +
		"full_name VARCHAR(255) NOT NULL," +
		"email VARCHAR(255) NULL," +
		"profile_pic VARCHAR(1024) NULL)",
	"CREATE TABLE IF NOT EXISTS messages (" +
		"id VARCHAR(32) NOT NULL PRIMARY KEY," +
		"sender_id VARCHAR(64) NOT NULL," +
		"receiver_id VARCHAR(64) NOT NULL," +
		"text TEXT NULL," +
		"image VARCHAR(1024) NULL," +
		"create_time DATETIME(3) NOT NULL," +
		"INDEX idx_pair_time (sender_id, receiver_id, create_time))",
}

// EnsureSchema creates the tables when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func newMessageID() string {
	return strings.ReplaceAll(uuid.New(), "-", "")
}

// newMessage validates the participants and payload. create_time keeps milliseconds only,
// so the returned message equals what a later fetch reads back.
func newMessage(sender, receiver string, payload model.Payload, now time.Time) (*model.Message, error) {
	sender, receiver = identity.Normalize(sender), identity.Normalize(receiver)
	if receiver == "" {
		return nil, ErrUserNotFound
	}
	if sender == "" || payload.Empty() {
		return nil, ErrEmptyMessage
	}
	return &model.Message{
		ID:         newMessageID(),
		SenderID:   sender,
		ReceiverID: receiver,
		Text:       strings.TrimSpace(payload.Text),
		Image:      payload.Image,
		CreatedAt:  now.UTC().Truncate(time.Millisecond),
	}, nil
}
