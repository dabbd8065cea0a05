//go:build linux

package muduo

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// eventFD wraps an eventfd(2) object used by EventLoop as its cross-thread
// wakeup channel.
type eventFD struct {
	fd int
}

func newEventFD() (*eventFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, wrap("eventfd", err)
	}
	return &eventFD{fd: fd}, nil
}

func (e *eventFD) Fd() int { return e.fd }

// WriteEvent writes v to the counter, waking up anyone blocked in
// epoll/poll-waiting on this fd for read.
func (e *eventFD) WriteEvent(v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := unix.Write(e.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return wrap("eventfd write", err)
	}
	return nil
}

// ReadEvent drains the counter, returning its value.
func (e *eventFD) ReadEvent() (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(e.fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, wrap("eventfd read", err)
	}
	if n < 8 {
		return 0, nil
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (e *eventFD) Close() error {
	return wrap("close eventfd", unix.Close(e.fd))
}
