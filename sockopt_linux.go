//go:build linux

package muduo

import (
	"net"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"golang.org/x/sys/unix"
)

// createListenFd opens a listening socket for addr, optionally with
// SO_REUSEPORT, and hands back a raw non-blocking fd plus the bound
// address. Construction goes through net.Listen/go_reuseport so the stack
// handles IPv4/IPv6/hostname resolution identically to the standard
// library; the raw fd is then detached for the reactor to own directly.
func createListenFd(network, addr string, reusePort bool) (fd int, bound net.Addr, err error) {
	var ln net.Listener
	if reusePort {
		ln, err = reuseport.Listen(network, addr)
	} else {
		ln, err = net.Listen(network, addr)
	}
	if err != nil {
		return -1, nil, wrap("listen", err)
	}

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return -1, nil, wrap("listen", errUnsupportedListener)
	}

	file, err := tcpLn.File()
	_ = tcpLn.Close()
	if err != nil {
		return -1, nil, wrap("listener file", err)
	}

	// Closing the *os.File would close its descriptor with it, so detach a
	// fresh dup for the reactor before letting the file go.
	fd, err = unix.Dup(int(file.Fd()))
	_ = file.Close()
	if err != nil {
		return -1, nil, wrap("dup listener fd", err)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, nil, wrap("set nonblock", err)
	}

	return fd, ln.Addr(), nil
}

// acceptConn accepts one connection off listenFd, returning a non-blocking,
// close-on-exec client fd in a single accept4(2) call.
func acceptConn(listenFd int) (fd int, sa unix.Sockaddr, err error) {
	fd, sa, err = unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, nil, err
	}
	return fd, sa, nil
}

func setTCPNoDelay(fd int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return wrap("setsockopt TCP_NODELAY", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v))
}

func setKeepAlive(fd int, idle time.Duration) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return wrap("setsockopt SO_KEEPALIVE", err)
	}
	if idle <= 0 {
		return nil
	}
	secs := int(idle / time.Second)
	if secs < 1 {
		secs = 1
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs); err != nil {
		return wrap("setsockopt TCP_KEEPIDLE", err)
	}
	return nil
}

// shutdownWrite half-closes the write side of fd, letting the reader see
// EOF while fd may still be read from.
func shutdownWrite(fd int) error {
	return wrap("shutdown", unix.Shutdown(fd, unix.SHUT_WR))
}

func closeFd(fd int) error {
	return wrap("close", unix.Close(fd))
}

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, a.Addr[:])
		return &net.TCPAddr{IP: ip, Port: a.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		return &net.TCPAddr{IP: ip, Port: a.Port}
	default:
		return nil
	}
}

func localTCPAddr(fd int) *net.TCPAddr {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil
	}
	return sockaddrToTCPAddr(sa)
}

func peerTCPAddr(fd int) *net.TCPAddr {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return nil
	}
	return sockaddrToTCPAddr(sa)
}
