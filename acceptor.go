package muduo

import (
	"net"

	"golang.org/x/sys/unix"
)

// Acceptor owns the listening socket and hands freshly accepted connections
// to its NewConnectionCallback. It keeps a reserved idle fd so that when
// the process is out of file descriptors it can still accept (and
// immediately drop) the pending connection, rather than spinning on EMFILE
// under level-triggered readiness.
type Acceptor struct {
	loop      *EventLoop
	listenFd  int
	localAddr net.Addr
	channel   *Channel
	idleFd    int
	listening bool

	newConnectionCallback func(connFd int, peerAddr net.Addr)
}

// NewAcceptor creates a non-blocking listening socket bound to addr on
// network (one of "tcp", "tcp4", "tcp6"). reusePort enables SO_REUSEPORT so
// multiple processes/threads may share the same listen address.
func NewAcceptor(loop *EventLoop, network, addr string, reusePort bool) (*Acceptor, error) {
	fd, bound, err := createListenFd(network, addr, reusePort)
	if err != nil {
		return nil, err
	}

	idleFd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		_ = closeFd(fd)
		return nil, wrap("open /dev/null", err)
	}

	a := &Acceptor{
		loop:      loop,
		listenFd:  fd,
		localAddr: bound,
		idleFd:    idleFd,
	}
	a.channel = NewChannel(loop, fd)
	a.channel.SetReadCallback(a.handleRead)
	return a, nil
}

// SetNewConnectionCallback installs the callback invoked with each accepted
// connection's fd and peer address. Must be called before Listen.
func (a *Acceptor) SetNewConnectionCallback(cb func(connFd int, peerAddr net.Addr)) {
	a.newConnectionCallback = cb
}

// Listening reports whether Listen has been called.
func (a *Acceptor) Listening() bool { return a.listening }

// Addr returns the bound listen address.
func (a *Acceptor) Addr() net.Addr { return a.localAddr }

// Listen marks the socket as passive and starts watching it for read
// readiness (i.e. incoming connections). Must run on the owning loop.
func (a *Acceptor) Listen() error {
	a.loop.assertInLoopThread()
	if err := unix.Listen(a.listenFd, unix.SOMAXCONN); err != nil {
		return wrap("listen", err)
	}
	a.listening = true
	a.channel.EnableReading()
	return nil
}

func (a *Acceptor) handleRead(now Timestamp) {
	a.loop.assertInLoopThread()

	connFd, sa, err := acceptConn(a.listenFd)
	if err != nil {
		if err == unix.EMFILE {
			// Out of file descriptors: close the reserved idle fd to free one
			// slot, accept and immediately drop the pending connection so it
			// doesn't spin the loop, then reopen the idle fd for next time.
			_ = closeFd(a.idleFd)
			a.idleFd, _, _ = unix.Accept(a.listenFd)
			_ = closeFd(a.idleFd)
			a.idleFd, _ = unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
			return
		}
		if err != unix.EAGAIN {
			logError("accept failed", "error", err.Error())
		}
		return
	}

	if a.newConnectionCallback != nil {
		a.newConnectionCallback(connFd, sockaddrToTCPAddr(sa))
	} else {
		_ = closeFd(connFd)
	}
}

// Close tears down the listening socket and its reserved idle fd.
func (a *Acceptor) Close() error {
	a.channel.DisableAll()
	a.channel.Remove()
	_ = closeFd(a.idleFd)
	return closeFd(a.listenFd)
}
