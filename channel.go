package muduo

import (
	"runtime"
	"weak"

	"golang.org/x/sys/unix"
)

// Event is a bitmask of interest/readiness flags. The values are the raw
// poll(2) bits, which on Linux coincide with the corresponding EPOLL* bits,
// so both demultiplexer back-ends can exchange masks with a Channel without
// translation.
type Event int32

const (
	// EventNone is "no interest registered".
	EventNone Event = 0
	// EventReadable bundles POLLIN and POLLPRI: "readable" and "has
	// priority data" are treated identically.
	EventReadable Event = Event(unix.POLLIN | unix.POLLPRI)
	// EventWritable is plain POLLOUT interest.
	EventWritable Event = Event(unix.POLLOUT)
)

// revents-only bits a Channel may observe but never requests as interest.
const (
	eventHup   = Event(unix.POLLHUP)
	eventRdHup = Event(unix.POLLRDHUP)
	eventErr   = Event(unix.POLLERR)
	eventNval  = Event(unix.POLLNVAL)
)

// Channel indices used by the two demultiplexer back-ends. indexNew means
// "never registered"; the poll back-end additionally uses any value >= 0 as
// a slot position, while the epoll back-end uses only these three states.
const (
	indexNew int32 = iota - 1
	indexAdded
	indexDeleted
)

// Channel binds one file descriptor, an interest mask, and up to four
// callbacks, and mediates registration with its EventLoop's demultiplexer.
// A Channel never owns the fd it wraps: closing the fd is the owner's
// responsibility.
type Channel struct {
	loop *EventLoop
	fd   int

	events  Event
	revents Event
	index   int32 // demultiplexer-specific slot/tag; -1 = never registered

	tie  weak.Pointer[TCPConnection]
	tied bool

	readCallback  func(now Timestamp)
	writeCallback func()
	closeCallback func()
	errorCallback func()

	eventHandling bool
	addedToLoop   bool
	logHup        bool
}

// NewChannel creates a Channel for fd, owned by loop. It is not registered
// with the demultiplexer until an interest is enabled.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{
		loop:   loop,
		fd:     fd,
		index:  indexNew,
		logHup: true,
	}
}

// Fd returns the wrapped file descriptor.
func (c *Channel) Fd() int { return c.fd }

// Events returns the current interest mask.
func (c *Channel) Events() Event { return c.events }

// SetRevents is called by the demultiplexer after poll/epoll_wait to record
// which events fired.
func (c *Channel) SetRevents(ev Event) { c.revents = ev }

// Index returns the demultiplexer-specific bookkeeping slot/tag.
func (c *Channel) Index() int32 { return c.index }

// SetIndex is called exclusively by the demultiplexer implementations.
func (c *Channel) SetIndex(idx int32) { c.index = idx }

func (c *Channel) SetReadCallback(fn func(now Timestamp)) { c.readCallback = fn }
func (c *Channel) SetWriteCallback(fn func())             { c.writeCallback = fn }
func (c *Channel) SetCloseCallback(fn func())             { c.closeCallback = fn }
func (c *Channel) SetErrorCallback(fn func())             { c.errorCallback = fn }

// SetLogHup controls whether a HUP-without-IN event is logged at warn level.
func (c *Channel) SetLogHup(v bool) { c.logHup = v }

// Tie arms the weak back-reference used to keep owner alive for the
// duration of exactly one HandleEvent call. The owner holds the channel
// strongly; the weak pointer here is what breaks the cycle.
func (c *Channel) Tie(owner *TCPConnection) {
	c.tie = weak.Make(owner)
	c.tied = true
}

// IsNoneEvent reports whether the channel currently has no interest
// registered.
func (c *Channel) IsNoneEvent() bool { return c.events == EventNone }

// IsReading reports whether read interest is currently enabled.
func (c *Channel) IsReading() bool { return c.events&EventReadable != 0 }

// IsWriting reports whether write interest is currently enabled.
func (c *Channel) IsWriting() bool { return c.events&EventWritable != 0 }

// EnableReading adds EventReadable to the interest mask and updates the
// demultiplexer registration.
func (c *Channel) EnableReading() {
	c.events |= EventReadable
	c.update()
}

// DisableReading removes EventReadable from the interest mask.
func (c *Channel) DisableReading() {
	c.events &^= EventReadable
	c.update()
}

// EnableWriting adds EventWritable to the interest mask.
func (c *Channel) EnableWriting() {
	c.events |= EventWritable
	c.update()
}

// DisableWriting removes EventWritable from the interest mask.
func (c *Channel) DisableWriting() {
	c.events &^= EventWritable
	c.update()
}

// DisableAll clears the interest mask entirely.
func (c *Channel) DisableAll() {
	c.events = EventNone
	c.update()
}

func (c *Channel) update() {
	c.addedToLoop = true
	c.loop.updateChannel(c)
}

// Remove detaches the channel from its loop's demultiplexer. The interest
// mask must already be none.
func (c *Channel) Remove() {
	c.addedToLoop = false
	c.loop.removeChannel(c)
}

// HandleEvent dispatches revents to the appropriate callback(s), in a
// fixed order:
//  1. upgrade the tie, bail if expired
//  2. HUP without IN -> close callback
//  3. NVAL -> warn log; ERR or NVAL -> error callback
//  4. IN/PRI/RDHUP -> read callback
//  5. OUT -> write callback
func (c *Channel) HandleEvent(now Timestamp) {
	if c.tied {
		owner := c.tie.Value()
		if owner == nil {
			return
		}
		// The upgraded reference must pin the owner across the whole
		// dispatch, not just this nil check.
		defer runtime.KeepAlive(owner)
	}
	c.eventHandling = true
	defer func() { c.eventHandling = false }()
	c.handleEventWithGuard(now)
}

func (c *Channel) handleEventWithGuard(now Timestamp) {
	if c.revents&eventHup != 0 && c.revents&Event(unix.POLLIN) == 0 {
		if c.logHup {
			logWarn("channel hang-up without read interest", "fd", c.fd)
		}
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}
	if c.revents&eventNval != 0 {
		logWarn("channel has invalid file descriptor", "fd", c.fd)
	}
	if c.revents&(eventErr|eventNval) != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
	if c.revents&(Event(unix.POLLIN)|Event(unix.POLLPRI)|eventRdHup) != 0 {
		if c.readCallback != nil {
			c.readCallback(now)
		}
	}
	if c.revents&Event(unix.POLLOUT) != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}
