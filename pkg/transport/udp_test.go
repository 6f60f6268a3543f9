package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPair(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	a, err := Open("127.0.0.1:0", "")
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	b, err := Open("127.0.0.1:0", a.LocalAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	require.NoError(t, a.SetRemote(b.LocalAddr().String()))
	return a, b
}

func TestChannel_SendReceive(t *testing.T) {
	a, b := openPair(t)

	require.NoError(t, b.Send([]byte("hello")))
	got, ok, err := a.TryReceive(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got)

	require.NoError(t, a.Send([]byte{1, 2, 3}))
	got, from, err := b.TryReceiveFrom(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
	assert.Equal(t, a.LocalAddr().Port, from.Port)
}

func TestChannel_OneDatagramPerReceive(t *testing.T) {
	a, b := openPair(t)

	require.NoError(t, b.Send([]byte("one")))
	require.NoError(t, b.Send([]byte("two")))

	first, ok, err := a.TryReceive(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	second, ok, err := a.TryReceive(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one", string(first))
	assert.Equal(t, "two", string(second))
}

func TestChannel_TimeoutIsNotAnError(t *testing.T) {
	a, _ := openPair(t)

	start := time.Now()
	got, ok, err := a.TryReceive(20 * time.Millisecond)
	elapsed := time.Since(start)

	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.GreaterOrEqual(t, elapsed, 15*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestChannel_NoRemote(t *testing.T) {
	c, err := Open("127.0.0.1:0", "")
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.Remote())
	assert.ErrorIs(t, c.Send([]byte{0}), ErrNoRemote)
}

func TestChannel_SetRemoteRedirects(t *testing.T) {
	a, b := openPair(t)
	c, err := Open("127.0.0.1:0", "")
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, b.SetRemote(c.LocalAddr().String()))
	require.NoError(t, b.Send([]byte("moved")))

	got, ok, err := c.TryReceive(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "moved", string(got))

	_, ok, err = a.TryReceive(20 * time.Millisecond)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestChannel_Close(t *testing.T) {
	c, err := Open("127.0.0.1:0", "127.0.0.1:9")
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send([]byte{1}), ErrClosed)
	_, _, err = c.TryReceive(time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_BadAddress(t *testing.T) {
	_, err := Open("not-an-address", "")
	assert.Error(t, err)

	_, err = Open("127.0.0.1:0", "nope:nope")
	assert.Error(t, err)
}
