//go:build linux

package muduo

import (
	"time"

	"golang.org/x/sys/unix"
)

const initEventListSize = 16

// epollDemultiplexer is a set-style poller over epoll(7). Each channel's
// index is a three-state tag (indexNew/indexAdded/indexDeleted) tracking
// whether the fd is currently in the kernel set. The kernel event carries
// the plain fd (unix.EpollEvent.Fd), resolved back to a *Channel through
// the channels map; no pointers round-trip through kernel-visible memory.
type epollDemultiplexer struct {
	epfd     int
	events   []unix.EpollEvent
	channels map[int]*Channel
}

func newEpollDemultiplexer() (Demultiplexer, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, wrap("epoll_create1", err)
	}
	return &epollDemultiplexer{
		epfd:     fd,
		events:   make([]unix.EpollEvent, initEventListSize),
		channels: make(map[int]*Channel),
	}, nil
}

func (p *epollDemultiplexer) Poll(timeout time.Duration) (Timestamp, []*Channel, error) {
	msec := int(timeout / time.Millisecond)
	n, err := unix.EpollWait(p.epfd, p.events, msec)
	now := Now()
	if err != nil {
		if err == unix.EINTR {
			return now, nil, nil
		}
		return now, nil, wrap("epoll_wait", err)
	}
	var active []*Channel
	if n > 0 {
		for i := 0; i < n; i++ {
			ch := p.channels[int(p.events[i].Fd)]
			if ch == nil {
				continue
			}
			ch.SetRevents(Event(p.events[i].Events))
			active = append(active, ch)
		}
		// The event buffer doubles whenever a wait fills it entirely, so
		// later waits are not capped. It is never shrunk.
		if n == len(p.events) {
			p.events = make([]unix.EpollEvent, len(p.events)*2)
		}
	}
	return now, active, nil
}

func (p *epollDemultiplexer) UpdateChannel(ch *Channel) {
	switch ch.Index() {
	case indexNew, indexDeleted:
		if !ch.IsNoneEvent() {
			p.channels[ch.Fd()] = ch
			p.epollCtl(unix.EPOLL_CTL_ADD, ch)
			ch.SetIndex(indexAdded)
		}
		// new/deleted with no interest: nothing to do.
	case indexAdded:
		if ch.IsNoneEvent() {
			p.epollCtl(unix.EPOLL_CTL_DEL, ch)
			ch.SetIndex(indexDeleted)
		} else {
			p.epollCtl(unix.EPOLL_CTL_MOD, ch)
		}
	}
}

func (p *epollDemultiplexer) RemoveChannel(ch *Channel) {
	idx := ch.Index()
	delete(p.channels, ch.Fd())
	if idx == indexAdded {
		p.epollCtl(unix.EPOLL_CTL_DEL, ch)
	}
	ch.SetIndex(indexNew)
}

func (p *epollDemultiplexer) HasChannel(ch *Channel) bool {
	existing, ok := p.channels[ch.Fd()]
	return ok && existing == ch
}

func (p *epollDemultiplexer) Close() error {
	return wrap("close epoll fd", unix.Close(p.epfd))
}

func (p *epollDemultiplexer) epollCtl(op int, ch *Channel) {
	ev := unix.EpollEvent{
		Events: uint32(ch.Events()),
		Fd:     int32(ch.Fd()),
	}
	if err := unix.EpollCtl(p.epfd, op, ch.Fd(), &ev); err != nil {
		logError("epoll_ctl failed", "op", op, "fd", ch.Fd(), "error", err.Error())
	}
}
