package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"

	"github.com/mqy/pairchat/identity"
	"github.com/mqy/pairchat/model"
)

const (
	getUserSQL       = "SELECT id, full_name, email, profile_pic FROM users WHERE id=?"
	fetchUsersSQL    = "SELECT id, full_name, email, profile_pic FROM users WHERE id<>? ORDER BY full_name, id"
	fetchMessagesSQL = "SELECT id, sender_id, receiver_id, text, image, create_time FROM messages " +
		"WHERE (sender_id=? AND receiver_id=?) OR (sender_id=? AND receiver_id=?) " +
		"ORDER BY create_time ASC, id ASC"
	insertMessageSQL = "INSERT INTO messages (id, sender_id, receiver_id, text, image, create_time) VALUES (?,?,?,?,?,?)"
)

// maxInsertAttempts bounds retries on id collision.
const maxInsertAttempts = 3

// messageStore implements interface `IMessageStore`.
type messageStore struct {
	*sql.DB
	now func() time.Time
}

func NewMessageStore(db *sql.DB) *messageStore {
	return &messageStore{DB: db, now: time.Now}
}

func (s *messageStore) withTx(ctx context.Context, exec func(ctx context.Context, tx *sql.Tx) error, opts ...*sql.TxOptions) error {
	var txOpts *sql.TxOptions
	if len(opts) == 0 {
		txOpts = &sql.TxOptions{
			Isolation: sql.LevelRepeatableRead,
			ReadOnly:  false,
		}
	} else {
		txOpts = opts[0]
	}
	tx, err := s.BeginTx(ctx, txOpts)
	if err != nil {
		return err
	}

	if err := exec(ctx, tx); err != nil {
		if err2 := tx.Rollback(); err2 != nil {
			glog.Errorf("failed to rollback: %v", err2)
		}
		return err
	}

	return tx.Commit()
}

func (s *messageStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	var email, pic sql.NullString
	row := s.QueryRowContext(ctx, getUserSQL, identity.Normalize(id))
	if err := row.Scan(&u.ID, &u.FullName, &email, &pic); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		glog.Errorf("get user scan err: %v", err)
		return nil, err
	}
	u.Email, u.ProfilePic = email.String, pic.String
	return &u, nil
}

func (s *messageStore) FetchUsers(ctx context.Context, self string) ([]*model.User, error) {
	rows, err := s.QueryContext(ctx, fetchUsersSQL, identity.Normalize(self))
	if err != nil {
		glog.Errorf("fetch users query err: %v", err)
		return nil, err
	}
	defer rows.Close()

	var out []*model.User
	for rows.Next() {
		var u model.User
		var email, pic sql.NullString
		if err := rows.Scan(&u.ID, &u.FullName, &email, &pic); err != nil {
			glog.Errorf("fetch users scan err: %v", err)
			return nil, err
		}
		u.Email, u.ProfilePic = email.String, pic.String
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (s *messageStore) FetchMessages(ctx context.Context, self, peer string) ([]*model.Message, error) {
	self, peer = identity.Normalize(self), identity.Normalize(peer)

	var out []*model.Message
	if err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, fetchMessagesSQL, self, peer, peer, self)
		if err != nil {
			glog.Errorf("fetch messages query err: %v", err)
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var m model.Message
			var text, image sql.NullString
			if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &text, &image, &m.CreatedAt); err != nil {
				glog.Errorf("fetch messages scan err: %v", err)
				return err
			}
			m.Text, m.Image = text.String, image.String
			out = append(out, &m)
		}
		return rows.Err()
	}, &sql.TxOptions{Isolation: sql.LevelReadCommitted, ReadOnly: true}); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *messageStore) SaveMessage(ctx context.Context, sender, receiver string, payload model.Payload) (*model.Message, error) {
	msg, err := newMessage(sender, receiver, payload, s.now())
	if err != nil {
		return nil, err
	}

	if _, err := s.GetUser(ctx, msg.ReceiverID); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, insertMessageSQL, msg.ID, msg.SenderID, msg.ReceiverID,
				nullString(msg.Text), nullString(msg.Image), msg.CreatedAt)
			return err
		})
		if err == nil {
			return msg, nil
		}
		if !s.IsDupKeyError(err) || attempt >= maxInsertAttempts {
			glog.Errorf("insert message exec err: %v", err)
			return nil, fmt.Errorf("save message: %w", err)
		}
		glog.Infof("message id collision: %s, regenerate", msg.ID)
		msg.ID = newMessageID()
	}
}

func (s *messageStore) IsDupKeyError(err error) bool {
	var val *mysql.MySQLError
	if errors.As(err, &val) {
		return val.Number == 1062
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
