package websocket

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_MultipleSessionsPerIdentity(t *testing.T) {
	r := NewRegistry()
	a1 := newMockConn("a1", "")
	a2 := newMockConn("a2", "")

	sessions, added := r.Register("alice", a1)
	assert.True(t, added)
	assert.Equal(t, 1, sessions)

	sessions, added = r.Register("alice", a2)
	assert.True(t, added)
	assert.Equal(t, 2, sessions)

	assert.ElementsMatch(t, []Connection{a1, a2}, r.ConnectionsOf("alice"))

	identity, ok := r.IdentityOf("a2")
	require.True(t, ok)
	assert.Equal(t, "alice", identity)
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	c := newMockConn("c1", "")

	r.Register("alice", c)
	sessions, added := r.Register("alice", c)
	assert.False(t, added)
	assert.Equal(t, 1, sessions)

	// the first binding wins
	_, added = r.Register("bob", c)
	assert.False(t, added)
	identity, _ := r.IdentityOf("c1")
	assert.Equal(t, "alice", identity)
	assert.Empty(t, r.ConnectionsOf("bob"))
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	a1 := newMockConn("a1", "")
	a2 := newMockConn("a2", "")
	r.Register("alice", a1)
	r.Register("alice", a2)

	identity, remaining, removed := r.Unregister(a1)
	assert.True(t, removed)
	assert.Equal(t, "alice", identity)
	assert.Equal(t, 1, remaining)

	_, remaining, removed = r.Unregister(a2)
	assert.True(t, removed)
	assert.Equal(t, 0, remaining)
	assert.Empty(t, r.ConnectionsOf("alice"))

	_, _, removed = r.Unregister(a2)
	assert.False(t, removed, "unregistering twice is a no-op")

	users, conns := r.Count()
	assert.Zero(t, users)
	assert.Zero(t, conns)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newMockConn(fmt.Sprintf("c%d", i), "")
			identity := fmt.Sprintf("user%d", i%5)
			r.Register(identity, c)
			_ = r.ConnectionsOf(identity)
			r.Unregister(c)
		}(i)
	}
	wg.Wait()

	users, conns := r.Count()
	assert.Zero(t, users)
	assert.Zero(t, conns)
}

func TestRegistry_Identities(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.Identities())

	r.Register("bob", newMockConn("b1", ""))
	r.Register("alice", newMockConn("a1", ""))
	a2 := newMockConn("a2", "")
	r.Register("alice", a2)
	assert.Equal(t, []string{"alice", "bob"}, r.Identities())

	r.Unregister(a2)
	assert.Equal(t, []string{"alice", "bob"}, r.Identities(), "alice keeps one session")
}
