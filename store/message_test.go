package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/pairchat/model"
)

// e.g. PAIRCHAT_MYSQL_DSN="root:@tcp(127.0.0.1:3306)/pairchat_test?parseTime=true"
const dsnEnv = "PAIRCHAT_MYSQL_DSN"

func openTestDB(t *testing.T) *sql.DB {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s is not set", dsnEnv)
	}
	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, EnsureSchema(context.Background(), db))
	for _, table := range []string{"messages", "users"} {
		_, err := db.Exec("DELETE FROM " + table)
		require.NoError(t, err)
	}
	for _, u := range [][2]string{{"A", "Ann"}, {"B", "Bob"}, {"C", "Cid"}} {
		_, err := db.Exec("INSERT INTO users (id, full_name) VALUES (?, ?)", u[0], u[1])
		require.NoError(t, err)
	}
	return db
}

func TestSaveAndFetchMessages(t *testing.T) {
	s := NewMessageStore(openTestDB(t))
	ctx := context.Background()

	users, err := s.FetchUsers(ctx, "A")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Bob", users[0].FullName)

	_, err = s.SaveMessage(ctx, "A", "nobody", model.Payload{Text: "x"})
	assert.ErrorIs(t, err, ErrUserNotFound)

	const N = 30
	var wg sync.WaitGroup
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := "A", "B"
			if i%2 == 1 {
				from, to = to, from
			}
			_, err := s.SaveMessage(ctx, from, to, model.Payload{Text: fmt.Sprintf("m%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	_, err = s.SaveMessage(ctx, "A", "C", model.Payload{Text: "other conversation"})
	require.NoError(t, err)

	ab, err := s.FetchMessages(ctx, "A", "B")
	require.NoError(t, err)
	ba, err := s.FetchMessages(ctx, "B", "A")
	require.NoError(t, err)
	require.Len(t, ab, N)
	assert.Equal(t, ab, ba)

	seen := map[string]bool{}
	for i, m := range ab {
		assert.False(t, seen[m.ID])
		seen[m.ID] = true
		if i > 0 {
			assert.False(t, m.CreatedAt.Before(ab[i-1].CreatedAt))
		}
	}
}
