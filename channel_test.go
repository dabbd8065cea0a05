package muduo

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestLoop(t *testing.T) *EventLoop {
	t.Helper()
	loop, err := NewEventLoop(BackendEpoll)
	require.NoError(t, err)
	t.Cleanup(func() { _ = loop.Close() })
	return loop
}

func TestChannel_IsNoneEvent(t *testing.T) {
	loop := newTestLoop(t)
	ch := NewChannel(loop, 0)
	assert.True(t, ch.IsNoneEvent())

	ch.EnableReading()
	assert.True(t, ch.IsReading())
	assert.False(t, ch.IsNoneEvent())

	ch.DisableAll()
	assert.True(t, ch.IsNoneEvent())
}

func TestChannel_HandleEvent_ReadBeforeWrite(t *testing.T) {
	loop := newTestLoop(t)
	ch := NewChannel(loop, 0)

	var order []string
	ch.SetReadCallback(func(Timestamp) { order = append(order, "read") })
	ch.SetWriteCallback(func() { order = append(order, "write") })

	ch.SetRevents(Event(unix.POLLIN | unix.POLLOUT))
	ch.HandleEvent(Now())

	assert.Equal(t, []string{"read", "write"}, order)
}

func TestChannel_HandleEvent_HupWithoutReadFiresClose(t *testing.T) {
	loop := newTestLoop(t)
	ch := NewChannel(loop, 0)

	closed := false
	ch.SetCloseCallback(func() { closed = true })

	ch.SetRevents(Event(unix.POLLHUP))
	ch.HandleEvent(Now())

	assert.True(t, closed)
}

func TestChannel_HandleEvent_HupWithReadDoesNotClose(t *testing.T) {
	loop := newTestLoop(t)
	ch := NewChannel(loop, 0)

	closed, read := false, false
	ch.SetCloseCallback(func() { closed = true })
	ch.SetReadCallback(func(Timestamp) { read = true })

	ch.SetRevents(Event(unix.POLLHUP | unix.POLLIN))
	ch.HandleEvent(Now())

	assert.False(t, closed)
	assert.True(t, read)
}

func TestChannel_Tie_ExpiredOwnerSkipsDispatch(t *testing.T) {
	loop := newTestLoop(t)
	ch := NewChannel(loop, 0)

	called := false
	ch.SetReadCallback(func(Timestamp) { called = true })
	ch.SetRevents(Event(unix.POLLIN))

	func() {
		owner := &TCPConnection{}
		ch.Tie(owner)
	}()

	// Force a GC so the weak reference has a chance to clear. The runtime
	// does not guarantee that it clears; when it has, HandleEvent must skip
	// the read callback.
	runtime.GC()
	expired := ch.tie.Value() == nil
	ch.HandleEvent(Now())
	if expired {
		assert.False(t, called)
	}
}

func TestChannel_EnableDisableReadingRoundTrip(t *testing.T) {
	loop := newTestLoop(t)
	ch := NewChannel(loop, 0)

	ch.EnableWriting()
	ch.EnableReading()
	ch.DisableReading()

	assert.False(t, ch.IsReading())
	assert.True(t, ch.IsWriting())
	assert.True(t, loop.hasChannel(ch))

	ch.DisableAll()
	ch.Remove()
	assert.False(t, loop.hasChannel(ch))
}
