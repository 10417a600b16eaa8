package session_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/roomrelay/internal/session"
)

func TestOutbox_PushAndReceive(t *testing.T) {
	o := session.NewOutbox("c1", 4)
	require.NoError(t, o.Push([]byte("a")))
	require.NoError(t, o.Push([]byte("b")))

	assert.Equal(t, 2, o.Len())
	assert.Equal(t, []byte("a"), <-o.Messages())
	assert.Equal(t, []byte("b"), <-o.Messages())
}

func TestOutbox_FullReturnsError(t *testing.T) {
	o := session.NewOutbox("c1", 1)
	require.NoError(t, o.Push([]byte("a")))
	err := o.Push([]byte("b"))
	assert.ErrorIs(t, err, session.ErrOutboxFull)
}

func TestOutbox_PushAfterClose(t *testing.T) {
	o := session.NewOutbox("c1", 1)
	o.Close()
	assert.True(t, o.IsClosed())
	assert.ErrorIs(t, o.Push([]byte("a")), session.ErrOutboxClosed)
}

func TestOutbox_CloseIsIdempotent(t *testing.T) {
	o := session.NewOutbox("c1", 1)
	o.Close()
	assert.NotPanics(t, o.Close)
	_, ok := <-o.Messages()
	assert.False(t, ok)
}

func TestOutbox_CloseDrainsRemaining(t *testing.T) {
	o := session.NewOutbox("c1", 2)
	require.NoError(t, o.Push([]byte("a")))
	o.Close()

	msg, ok := <-o.Messages()
	assert.True(t, ok)
	assert.Equal(t, []byte("a"), msg)
	_, ok = <-o.Messages()
	assert.False(t, ok)
}

func TestOutbox_DefaultSize(t *testing.T) {
	o := session.NewOutbox("c1", 0)
	for i := 0; i < session.DefaultOutboxSize; i++ {
		require.NoError(t, o.Push([]byte{byte(i)}))
	}
	assert.ErrorIs(t, o.Push([]byte("x")), session.ErrOutboxFull)
}

func TestOutbox_ConcurrentPushAndClose(t *testing.T) {
	o := session.NewOutbox("c1", 1024)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 32; j++ {
				_ = o.Push([]byte("x"))
			}
		}()
	}
	o.Close()
	wg.Wait()
	assert.True(t, o.IsClosed())
}

func TestPropertyOutbox_PreservesOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		msgs := rapid.SliceOfN(rapid.SliceOfN(rapid.Byte(), 1, 8), 0, 50).Draw(rt, "msgs")
		o := session.NewOutbox("c", len(msgs)+1)
		for _, m := range msgs {
			if err := o.Push(m); err != nil {
				rt.Fatalf("push: %v", err)
			}
		}
		o.Close()

		var got [][]byte
		for m := range o.Messages() {
			got = append(got, m)
		}
		if len(msgs) == 0 {
			assert.Empty(rt, got)
			return
		}
		assert.Equal(rt, msgs, got)
	})
}
