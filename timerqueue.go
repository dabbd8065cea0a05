package muduo

import (
	"container/heap"
	"time"
)

const minTimerInterval = 100 * time.Microsecond

// timerHeap is a container/heap-backed min-heap over *Timer ordered by
// (expiration, sequence). Ordering ties by sequence makes timers with
// equal expirations fire in insertion order, since sequence is monotonic.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].expiration.Equal(h[j].expiration) {
		return h[i].sequence < h[j].sequence
	}
	return h[i].expiration.Before(h[j].expiration)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}

// TimerQueue holds an ordered set of expiring callbacks driven by a single
// kernel timer (timerfd). All public methods are thread-safe: they
// schedule their actual work onto the owning loop via task injection.
type TimerQueue struct {
	loop    *EventLoop
	timerFd *timerFD
	channel *Channel

	expiry     timerHeap
	byHandle   map[*Timer]int64
	cancelling map[timerKey]struct{}

	callingExpiredTimers bool
}

func newTimerQueue(loop *EventLoop) (*TimerQueue, error) {
	tfd, err := newTimerFD()
	if err != nil {
		return nil, err
	}
	tq := &TimerQueue{
		loop:       loop,
		timerFd:    tfd,
		byHandle:   make(map[*Timer]int64),
		cancelling: make(map[timerKey]struct{}),
	}
	tq.channel = NewChannel(loop, tfd.Fd())
	tq.channel.SetReadCallback(tq.handleRead)
	tq.channel.EnableReading()
	return tq, nil
}

func (tq *TimerQueue) close() {
	tq.channel.DisableAll()
	tq.channel.Remove()
	_ = tq.timerFd.Close()
}

// AddTimer schedules cb to run at when, and every interval thereafter if
// interval > 0. Safe to call from any thread.
func (tq *TimerQueue) AddTimer(cb func(), when Timestamp, interval time.Duration) TimerId {
	t := newTimer(cb, when, interval)
	id := TimerId{timer: t, sequence: t.sequence}
	tq.loop.RunInLoop(func() {
		tq.addTimerInLoop(t)
	})
	return id
}

// Cancel cancels the timer identified by id. Always safe, even after the
// timer has already expired (a no-op in that case).
func (tq *TimerQueue) Cancel(id TimerId) {
	key := id.key()
	tq.loop.RunInLoop(func() {
		tq.cancelInLoop(key)
	})
}

func (tq *TimerQueue) addTimerInLoop(t *Timer) {
	earliestChanged := tq.insert(t)
	if earliestChanged {
		tq.rearm()
	}
}

// insert adds t to both sets and reports whether it became the new
// earliest expiration.
func (tq *TimerQueue) insert(t *Timer) bool {
	earliestChanged := len(tq.expiry) == 0 || t.expiration.Before(tq.expiry[0].expiration)
	heap.Push(&tq.expiry, t)
	tq.byHandle[t] = t.sequence
	return earliestChanged
}

func (tq *TimerQueue) cancelInLoop(key timerKey) {
	if seq, ok := tq.byHandle[key.timer]; ok && seq == key.sequence {
		tq.removeTimer(key.timer)
		return
	}
	if tq.callingExpiredTimers {
		tq.cancelling[key] = struct{}{}
		return
	}
	// Already fully expired and removed: silent no-op.
}

func (tq *TimerQueue) removeTimer(t *Timer) {
	if t.heapIndex >= 0 {
		heap.Remove(&tq.expiry, t.heapIndex)
	}
	delete(tq.byHandle, t)
}

// handleRead is the timerfd channel's read callback: drain, compute
// expired timers, dispatch them in order, restart/destroy, and re-arm.
func (tq *TimerQueue) handleRead(now Timestamp) {
	if _, err := tq.timerFd.drain(); err != nil {
		logError("timerfd drain failed", "error", err.Error())
	}

	expired := tq.popExpired(now)

	tq.callingExpiredTimers = true
	clear(tq.cancelling)

	for _, t := range expired {
		t.callback()
	}

	for _, t := range expired {
		key := timerKey{timer: t, sequence: t.sequence}
		if _, cancelled := tq.cancelling[key]; t.repeat && !cancelled {
			t.restart(now)
			tq.insert(t)
		}
	}

	tq.callingExpiredTimers = false
	tq.rearm()
}

// popExpired removes and returns, in non-decreasing expiration order, every
// timer whose expiration is <= now.
func (tq *TimerQueue) popExpired(now Timestamp) []*Timer {
	var expired []*Timer
	for len(tq.expiry) > 0 && !tq.expiry[0].expiration.After(now) {
		t := heap.Pop(&tq.expiry).(*Timer)
		delete(tq.byHandle, t)
		expired = append(expired, t)
	}
	return expired
}

// rearm re-arms the kernel timer for the current earliest expiration, with
// a 100µs floor so a zero-delay arm cannot livelock the loop.
func (tq *TimerQueue) rearm() {
	if len(tq.expiry) == 0 {
		return
	}
	now := Now()
	d := tq.expiry[0].expiration.Sub(now)
	if d < minTimerInterval {
		d = minTimerInterval
	}
	if err := tq.timerFd.arm(d); err != nil {
		logError("failed to arm kernel timer", "error", err.Error())
	}
}

// invariantHolds reports whether the two parallel sets agree in size. They
// may only diverge inside the dispatch critical region.
func (tq *TimerQueue) invariantHolds() bool {
	return len(tq.expiry) == len(tq.byHandle)
}
