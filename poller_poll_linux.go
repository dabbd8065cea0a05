//go:build linux

package muduo

import (
	"time"

	"golang.org/x/sys/unix"
)

// pollDemultiplexer is a level-triggered array poller built directly on
// poll(2). Each channel's index stores its position in the dense pollfds
// slice. Temporary disinterest (interest -> none while still registered)
// is encoded by storing -fd-1 (the bitwise complement of the real fd) in
// the slot, leaving Channel.fd untouched.
type pollDemultiplexer struct {
	pollfds  []unix.PollFd
	channels map[int]*Channel
}

func newPollDemultiplexer() (Demultiplexer, error) {
	return &pollDemultiplexer{
		channels: make(map[int]*Channel),
	}, nil
}

func (p *pollDemultiplexer) Poll(timeout time.Duration) (Timestamp, []*Channel, error) {
	msec := int(timeout / time.Millisecond)
	n, err := unix.Poll(p.pollfds, msec)
	now := Now()
	if err != nil {
		if err == unix.EINTR {
			return now, nil, nil
		}
		return now, nil, wrap("poll", err)
	}
	var active []*Channel
	if n > 0 {
		for i := range p.pollfds {
			if n == 0 {
				break
			}
			pfd := &p.pollfds[i]
			if pfd.Revents == 0 {
				continue
			}
			n--
			ch := p.channels[int(pfd.Fd)]
			if ch == nil {
				continue
			}
			ch.SetRevents(Event(pfd.Revents))
			active = append(active, ch)
		}
	}
	return now, active, nil
}

func (p *pollDemultiplexer) UpdateChannel(ch *Channel) {
	if ch.Index() < 0 {
		// A brand new channel: append it.
		pfd := unix.PollFd{Fd: int32(ch.Fd()), Events: int16(ch.Events())}
		p.pollfds = append(p.pollfds, pfd)
		idx := int32(len(p.pollfds) - 1)
		ch.SetIndex(idx)
		p.channels[ch.Fd()] = ch
		return
	}

	// Already registered: refresh the slot in place.
	idx := ch.Index()
	pfd := &p.pollfds[idx]
	pfd.Events = int16(ch.Events())
	pfd.Revents = 0
	if ch.IsNoneEvent() {
		// Temporary disinterest: keep the map entry, hide the fd from poll(2)
		// by negating it so the kernel never reports on it, without losing
		// the real fd value (Channel.fd is untouched).
		pfd.Fd = int32(-ch.Fd() - 1)
	} else {
		pfd.Fd = int32(ch.Fd())
	}
}

func (p *pollDemultiplexer) RemoveChannel(ch *Channel) {
	idx := ch.Index()
	if idx < 0 {
		return
	}
	delete(p.channels, ch.Fd())
	last := len(p.pollfds) - 1
	if int(idx) != last {
		p.pollfds[idx] = p.pollfds[last]
		remappedFd := p.pollfds[idx].Fd
		if remappedFd < 0 {
			remappedFd = -remappedFd - 1
		}
		if moved := p.channels[int(remappedFd)]; moved != nil {
			moved.SetIndex(idx)
		}
	}
	p.pollfds = p.pollfds[:last]
	ch.SetIndex(indexNew)
}

func (p *pollDemultiplexer) HasChannel(ch *Channel) bool {
	existing, ok := p.channels[ch.Fd()]
	return ok && existing == ch
}

func (p *pollDemultiplexer) Close() error {
	return nil
}
