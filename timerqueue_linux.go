//go:build linux

package muduo

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"
)

// timerFD wraps a timerfd(2) object: the single kernel timer that drives a
// TimerQueue.
type timerFD struct {
	fd int
}

func newTimerFD() (*timerFD, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, wrap("timerfd_create", err)
	}
	return &timerFD{fd: fd}, nil
}

func (t *timerFD) Fd() int { return t.fd }

// arm re-arms the timer to fire once after d. The caller enforces the
// 100µs floor.
func (t *timerFD) arm(d time.Duration) error {
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(d.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(t.fd, 0, &spec, nil); err != nil {
		return wrap("timerfd_settime", err)
	}
	return nil
}

// drain reads the expiration counter so the channel's read readiness is
// cleared.
func (t *timerFD) drain() (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(t.fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, wrap("timerfd read", err)
	}
	if n < 8 {
		return 0, nil
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (t *timerFD) Close() error {
	return wrap("close timerfd", unix.Close(t.fd))
}
