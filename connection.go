package muduo

import (
	"net"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

type connState int32

const (
	connStateConnecting connState = iota
	connStateConnected
	connStateDisconnecting
	connStateDisconnected
)

// ConnectionCallback fires once a connection is fully established and again
// right before it is torn down.
type ConnectionCallback func(conn *TCPConnection)

// MessageCallback fires whenever new bytes have landed in a connection's
// input buffer.
type MessageCallback func(conn *TCPConnection, buf *Buffer, receivedAt Timestamp)

// WriteCompleteCallback fires once all data passed to Send has been written
// to the socket: either by Send's own direct write, or when the output
// buffer has fully drained after a partial write.
type WriteCompleteCallback func(conn *TCPConnection)

// HighWaterMarkCallback fires once per crossing when a connection's output
// buffer grows past its high-water mark.
type HighWaterMarkCallback func(conn *TCPConnection, outstanding int)

// CloseCallback is the server's internal hook for removing a connection
// from its owning map; applications use ConnectionCallback instead.
type CloseCallback func(conn *TCPConnection)

// TCPConnection is one established socket, bound to exactly one sub-loop
// for its entire lifetime. All methods besides Send/Shutdown/ForceClose
// (which may be called from any goroutine) must run on that loop's thread.
type TCPConnection struct {
	loop *EventLoop
	name string

	fd      int
	channel *Channel

	localAddr net.Addr
	peerAddr  net.Addr

	state     atomic.Int32
	destroyed bool // loop-thread-only; guards double teardown

	inputBuffer  *Buffer
	outputBuffer *Buffer

	highWaterMark int

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	closeCallback         CloseCallback

	ctx any
}

const defaultHighWaterMark = 64 * 1024 * 1024

func newTCPConnection(loop *EventLoop, name string, fd int, localAddr, peerAddr net.Addr) *TCPConnection {
	c := &TCPConnection{
		loop:          loop,
		name:          name,
		fd:            fd,
		localAddr:     localAddr,
		peerAddr:      peerAddr,
		inputBuffer:   NewBuffer(),
		outputBuffer:  NewBuffer(),
		highWaterMark: defaultHighWaterMark,
	}
	c.state.Store(int32(connStateConnecting))
	c.channel = NewChannel(loop, fd)
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)
	c.channel.Tie(c)
	_ = setTCPNoDelay(fd, true)
	return c
}

// Name returns the connection's unique-within-its-server name.
func (c *TCPConnection) Name() string { return c.name }

// Loop returns the sub-loop this connection is bound to.
func (c *TCPConnection) Loop() *EventLoop { return c.loop }

// LocalAddr returns the connection's local endpoint.
func (c *TCPConnection) LocalAddr() net.Addr { return c.localAddr }

// PeerAddr returns the connection's remote endpoint.
func (c *TCPConnection) PeerAddr() net.Addr { return c.peerAddr }

// Connected reports whether the connection is currently established.
func (c *TCPConnection) Connected() bool {
	return connState(c.state.Load()) == connStateConnected
}

// Context returns the application-defined value previously set with
// SetContext, or nil.
func (c *TCPConnection) Context() any { return c.ctx }

// SetContext attaches an application-defined value to the connection.
func (c *TCPConnection) SetContext(ctx any) { c.ctx = ctx }

func (c *TCPConnection) setConnectionCallback(cb ConnectionCallback) { c.connectionCallback = cb }
func (c *TCPConnection) setMessageCallback(cb MessageCallback)       { c.messageCallback = cb }
func (c *TCPConnection) setWriteCompleteCallback(cb WriteCompleteCallback) {
	c.writeCompleteCallback = cb
}
func (c *TCPConnection) setHighWaterMarkCallback(cb HighWaterMarkCallback, mark int) {
	c.highWaterMarkCallback = cb
	c.highWaterMark = mark
}
func (c *TCPConnection) setCloseCallback(cb CloseCallback) { c.closeCallback = cb }

// connectEstablished transitions the connection to connected and fires the
// user's ConnectionCallback. Must run on the owning loop.
func (c *TCPConnection) connectEstablished() {
	c.loop.assertInLoopThread()
	c.state.Store(int32(connStateConnected))
	c.channel.Tie(c)
	c.channel.EnableReading()
	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
}

// connectDestroyed tears down the channel. Must run on the owning loop,
// after the close-callback path has already unregistered the connection
// from its server's map.
func (c *TCPConnection) connectDestroyed() {
	c.loop.assertInLoopThread()
	if c.destroyed {
		return
	}
	c.destroyed = true
	if connState(c.state.Load()) == connStateConnected {
		c.state.Store(int32(connStateDisconnected))
		c.channel.DisableAll()
		if c.connectionCallback != nil {
			c.connectionCallback(c)
		}
	}
	c.channel.Remove()
	_ = closeFd(c.fd)
}

func (c *TCPConnection) handleRead(now Timestamp) {
	c.loop.assertInLoopThread()
	n, err := c.inputBuffer.ReadFd(c.fd)
	switch {
	case err != nil:
		if err == unix.EAGAIN {
			return
		}
		logError("connection read failed", "name", c.name, "error", err.Error())
		c.handleError()
		c.handleClose()
	case n > 0:
		if c.messageCallback != nil {
			c.messageCallback(c, c.inputBuffer, now)
		}
	default:
		// A zero-byte read on a readable socket is the peer's close.
		c.handleClose()
	}
}

func (c *TCPConnection) handleWrite() {
	c.loop.assertInLoopThread()
	if !c.channel.IsWriting() {
		return
	}
	n, err := unix.Write(c.fd, c.outputBuffer.Peek())
	if err != nil {
		if err != unix.EAGAIN {
			logError("connection write failed", "name", c.name, "error", err.Error())
		}
		return
	}
	c.outputBuffer.Retrieve(n)
	if c.outputBuffer.ReadableBytes() == 0 {
		c.channel.DisableWriting()
		if c.writeCompleteCallback != nil {
			c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
		}
		if connState(c.state.Load()) == connStateDisconnecting {
			c.shutdownInLoop()
		}
	}
}

func (c *TCPConnection) handleClose() {
	c.loop.assertInLoopThread()
	st := connState(c.state.Load())
	if st == connStateDisconnected {
		return
	}
	c.state.Store(int32(connStateDisconnected))
	c.channel.DisableAll()
	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
	if c.closeCallback != nil {
		c.closeCallback(c)
	}
}

func (c *TCPConnection) handleError() {
	errno, _ := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	logError("connection socket error", "name", c.name, "errno", errno)
}

// Send enqueues data for writing, writing it directly if the output buffer
// is currently empty and no write interest is registered. Safe to call
// from any goroutine: calls from a foreign thread are dispatched via
// RunInLoop. Returns ErrConnectionClosed if the connection is no longer
// established.
func (c *TCPConnection) Send(data []byte) error {
	if connState(c.state.Load()) != connStateConnected {
		return ErrConnectionClosed
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
		return nil
	}
	buf := append([]byte(nil), data...)
	c.loop.RunInLoop(func() { c.sendInLoop(buf) })
	return nil
}

func (c *TCPConnection) sendInLoop(data []byte) {
	if connState(c.state.Load()) == connStateDisconnected {
		return
	}

	remaining := len(data)
	wrote := 0

	if !c.channel.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := unix.Write(c.fd, data)
		if err != nil {
			if err != unix.EAGAIN {
				logError("connection send failed", "name", c.name, "error", err.Error())
			}
			n = 0
		} else {
			wrote = n
			remaining -= n
			if remaining == 0 && c.writeCompleteCallback != nil {
				c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
			}
		}
	}

	if remaining > 0 {
		oldLen := c.outputBuffer.ReadableBytes()
		newLen := oldLen + remaining
		if newLen >= c.highWaterMark && oldLen < c.highWaterMark && c.highWaterMarkCallback != nil {
			c.loop.QueueInLoop(func() { c.highWaterMarkCallback(c, newLen) })
		}
		c.outputBuffer.Append(data[wrote:])
		if !c.channel.IsWriting() {
			c.channel.EnableWriting()
		}
	}
}

// Shutdown half-closes the connection's write side once any pending output
// has drained. Reads may continue until the peer also closes. Returns
// ErrConnectionClosed if the connection is no longer established.
func (c *TCPConnection) Shutdown() error {
	if connState(c.state.Load()) != connStateConnected {
		return ErrConnectionClosed
	}
	c.state.Store(int32(connStateDisconnecting))
	c.loop.RunInLoop(c.shutdownInLoop)
	return nil
}

func (c *TCPConnection) shutdownInLoop() {
	c.loop.assertInLoopThread()
	if !c.channel.IsWriting() {
		_ = shutdownWrite(c.fd)
	}
}

// ForceClose drops the connection immediately regardless of pending output.
func (c *TCPConnection) ForceClose() {
	st := connState(c.state.Load())
	if st == connStateConnected || st == connStateDisconnecting {
		c.state.Store(int32(connStateDisconnecting))
		c.loop.QueueInLoop(c.handleClose)
	}
}
