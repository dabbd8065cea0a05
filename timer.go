package muduo

import (
	"sync/atomic"
	"time"
)

// timerSequence is the process-wide monotonically increasing counter used
// to disambiguate recycled *Timer pointers.
var timerSequence atomic.Int64

// Timer represents one scheduled callback, owned by exactly one TimerQueue.
type Timer struct {
	callback   func()
	expiration Timestamp
	interval   time.Duration
	repeat     bool
	sequence   int64

	// heapIndex is maintained by container/heap for O(log n) removal.
	heapIndex int
}

func newTimer(cb func(), when Timestamp, interval time.Duration) *Timer {
	return &Timer{
		callback:   cb,
		expiration: when,
		interval:   interval,
		repeat:     interval > 0,
		sequence:   timerSequence.Add(1),
		heapIndex:  -1,
	}
}

// restart advances the timer to its next expiration per the simple-periodic
// drift policy (now + interval, never previousExpiration + interval).
func (t *Timer) restart(now Timestamp) {
	t.expiration = AddTime(now, t.interval)
}

// TimerId is a stable handle safe to hold across expirations. Cancellation
// matches on (timer pointer, sequence): a recycled pointer with a different
// sequence is treated as a different timer.
type TimerId struct {
	timer    *Timer
	sequence int64
}

type timerKey struct {
	timer    *Timer
	sequence int64
}

func (id TimerId) key() timerKey {
	return timerKey{timer: id.timer, sequence: id.sequence}
}
