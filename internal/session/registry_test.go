package session_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/roomrelay/internal/session"
)

func newRegistry(t *testing.T) *session.Registry {
	t.Helper()
	return session.NewRegistry(zaptest.NewLogger(t))
}

func TestRegistry_DeliverToRegistered(t *testing.T) {
	r := newRegistry(t)
	o := session.NewOutbox("a", 4)
	r.Register("a", o)

	assert.True(t, r.Deliver("a", []byte("hi")))
	assert.Equal(t, []byte("hi"), <-o.Messages())
}

func TestRegistry_DeliverUnknownIsDropped(t *testing.T) {
	r := newRegistry(t)
	assert.False(t, r.Deliver("ghost", []byte("hi")))
}

func TestRegistry_DeliverToClosedIsDropped(t *testing.T) {
	r := newRegistry(t)
	o := session.NewOutbox("a", 4)
	r.Register("a", o)
	o.Close()
	assert.False(t, r.Deliver("a", []byte("hi")))
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := newRegistry(t)
	old := session.NewOutbox("a", 4)
	fresh := session.NewOutbox("a", 4)
	_, replaced := r.Register("a", old)
	assert.False(t, replaced)
	prev, replaced := r.Register("a", fresh)
	require.True(t, replaced)
	assert.Same(t, old, prev)

	require.True(t, r.Deliver("a", []byte("m")))
	assert.Equal(t, 0, old.Len())
	assert.Equal(t, 1, fresh.Len())
	assert.False(t, old.IsClosed(), "closing the replaced handle is left to the caller")
	assert.Equal(t, 1, r.Count())

	_, replaced = r.Register("a", fresh)
	assert.False(t, replaced, "re-registering the same handle replaces nothing")
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	r := newRegistry(t)
	r.Register("a", session.NewOutbox("a", 1))
	r.Unregister("a")
	r.Unregister("a")
	assert.False(t, r.Has("a"))
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_UnregisterIfOnlyRemovesOwnHandle(t *testing.T) {
	r := newRegistry(t)
	old := session.NewOutbox("a", 1)
	fresh := session.NewOutbox("a", 1)
	r.Register("a", old)
	r.Register("a", fresh)

	assert.False(t, r.Owns("a", old))
	assert.False(t, r.UnregisterIf("a", old))
	assert.True(t, r.Has("a"))

	assert.True(t, r.Owns("a", fresh))
	assert.True(t, r.UnregisterIf("a", fresh))
	assert.False(t, r.Has("a"))
}

func TestRegistry_DeliverManyIsIndependent(t *testing.T) {
	r := newRegistry(t)
	a := session.NewOutbox("a", 1)
	b := session.NewOutbox("b", 1)
	r.Register("a", a)
	r.Register("b", b)
	require.NoError(t, a.Push([]byte("fill")))

	n := r.DeliverMany([]string{"a", "b", "ghost"}, []byte("m"))
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, b.Len())
}

func TestRegistry_ConcurrentRegisterDeliver(t *testing.T) {
	r := newRegistry(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("c%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := session.NewOutbox(id, 8)
			r.Register(id, o)
			r.Deliver(id, []byte("x"))
			r.UnregisterIf(id, o)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Count())
}
