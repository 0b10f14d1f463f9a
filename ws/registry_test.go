package ws

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/pairchat/model"
)

type fakeConn struct {
	sync.Mutex
	sid    string
	full   bool
	frames [][]byte
}

func newFakeConn(sid string) *fakeConn {
	return &fakeConn{sid: sid}
}

func (c *fakeConn) Sid() string { return c.sid }

func (c *fakeConn) Send(frame []byte) bool {
	c.Lock()
	defer c.Unlock()
	if c.full {
		return false
	}
	c.frames = append(c.frames, frame)
	return true
}

func (c *fakeConn) envelopes(t *testing.T) []*model.Envelope {
	c.Lock()
	defer c.Unlock()
	var out []*model.Envelope
	for _, f := range c.frames {
		env, err := model.ParseEnvelope(f)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func (c *fakeConn) lastRoster(t *testing.T) []string {
	var last []string
	for _, env := range c.envelopes(t) {
		if env.Type == model.TypeRoster {
			ids, err := env.DecodeRoster()
			require.NoError(t, err)
			last = ids
		}
	}
	return last
}

func TestRegistryConnectDisconnect(t *testing.T) {
	r := NewRegistry()
	u1, u2 := newFakeConn("s1"), newFakeConn("s2")

	r.Register("U1", u1)
	r.Register("U2", u2)
	assert.True(t, r.Unregister("U1", u1))

	assert.Equal(t, []string{"U2"}, r.Snapshot())
	assert.Equal(t, []string{"U2"}, u2.lastRoster(t))

	// u1 got the roster up to its own disconnect only.
	assert.Equal(t, []string{"U1", "U2"}, u1.lastRoster(t))

	_, ok := r.Lookup("U1")
	assert.False(t, ok)
	c, ok := r.Lookup("U2")
	assert.True(t, ok)
	assert.Equal(t, "s2", c.Sid())
}

func TestRegistryDuplicateDisconnect(t *testing.T) {
	r := NewRegistry()
	u1 := newFakeConn("s1")
	r.Register("U1", u1)

	assert.True(t, r.Unregister("U1", u1))
	assert.False(t, r.Unregister("U1", u1))
	assert.False(t, r.Unregister("nobody", u1))
	assert.Empty(t, r.Snapshot())
}

func TestRegistryLastConnectionWins(t *testing.T) {
	r := NewRegistry()
	old, cur := newFakeConn("old"), newFakeConn("new")

	r.Register("U1", old)
	r.Register("U1", cur)

	c, ok := r.Lookup("U1")
	require.True(t, ok)
	assert.Equal(t, "new", c.Sid())

	// The old socket closing must not take the identity offline.
	assert.True(t, r.Unregister("U1", old))
	assert.Equal(t, []string{"U1"}, r.Snapshot())
	c, ok = r.Lookup("U1")
	require.True(t, ok)
	assert.Equal(t, "new", c.Sid())

	assert.True(t, r.Unregister("U1", cur))
	assert.Empty(t, r.Snapshot())
}

func TestRegistryNormalizesIdentity(t *testing.T) {
	r := NewRegistry()
	r.Register("", newFakeConn("ignored"))
	assert.Empty(t, r.Snapshot())

	c := newFakeConn("s1")
	r.Register("U1", c)
	_, ok := r.Lookup("U1")
	assert.True(t, ok)
}

func TestRegistryRosterAccuracyUnderConcurrency(t *testing.T) {
	r := NewRegistry()

	const N = 200
	type entry struct {
		id   string
		conn *fakeConn
		drop bool
	}
	entries := make([]entry, N)
	expect := map[string]int{}
	for i := 0; i < N; i++ {
		id := fmt.Sprintf("U%d", i%50)
		entries[i] = entry{id: id, conn: newFakeConn(fmt.Sprintf("s%d", i)), drop: rand.Intn(3) == 0}
		if !entries[i].drop {
			expect[id]++
		}
	}

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e entry) {
			defer wg.Done()
			r.Register(e.id, e.conn)
			if e.drop {
				r.Unregister(e.id, e.conn)
			}
		}(e)
	}
	wg.Wait()

	var want []string
	for id := range expect {
		want = append(want, id)
	}
	assert.ElementsMatch(t, want, r.Snapshot())

	// every live connection eventually observed the final roster.
	for _, e := range entries {
		if !e.drop {
			assert.ElementsMatch(t, want, e.conn.lastRoster(t))
		}
	}
}

func TestRegistryRosterFrame(t *testing.T) {
	r := NewRegistry()
	c := newFakeConn("s1")
	r.Register("U1", c)

	envs := c.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, model.TypeRoster, envs[0].Type)
	var ids []string
	require.NoError(t, json.Unmarshal(envs[0].Data, &ids))
	assert.Equal(t, []string{"U1"}, ids)
}
