package muduo

import (
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// loopsByThread enforces "at most one EventLoop per OS thread" and lets a
// thread look up its own loop via CurrentThreadLoop.
var loopsByThread sync.Map // map[int32]*EventLoop

var ignoreSigPipeOnce sync.Once

// EventLoop is one reactor: it owns a Demultiplexer, a TimerQueue, and a
// wakeup channel, and pins itself to the OS thread that creates it. All
// Channel registration and callback dispatch for channels it owns must
// happen on that thread; cross-thread work is injected via RunInLoop /
// QueueInLoop.
type EventLoop struct {
	threadID int32

	looping atomic.Bool
	quit    atomic.Bool

	eventHandling        bool
	currentActiveChannel *Channel
	activeChannels       []*Channel

	callingPendingFunctors atomic.Bool
	mu                     sync.Mutex
	pendingFunctors        []func()

	poller     Demultiplexer
	timerQueue *TimerQueue

	wakeupFd      *eventFD
	wakeupChannel *Channel

	pollReturnTime Timestamp
}

// NewEventLoop constructs a loop pinned to the calling goroutine's OS
// thread via runtime.LockOSThread. The caller must invoke NewEventLoop from
// the same goroutine that will later call Loop, and that goroutine must
// never be rescheduled onto another thread's work (LockOSThread holds the
// pin until the goroutine exits).
func NewEventLoop(backend PollerBackend) (*EventLoop, error) {
	ignoreSigPipeOnce.Do(func() {
		signal.Ignore(syscall.SIGPIPE)
	})

	runtime.LockOSThread()
	tid := int32(unix.Gettid())

	poller, err := NewDemultiplexer(backend)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}

	loop := &EventLoop{
		threadID: tid,
		poller:   poller,
	}
	if _, loaded := loopsByThread.LoadOrStore(tid, loop); loaded {
		logFatal("another event loop already owns this thread", "tid", tid)
	}

	wakeupFd, err := newEventFD()
	if err != nil {
		_ = poller.Close()
		loopsByThread.Delete(tid)
		runtime.UnlockOSThread()
		return nil, err
	}
	loop.wakeupFd = wakeupFd
	loop.wakeupChannel = NewChannel(loop, wakeupFd.Fd())
	loop.wakeupChannel.SetReadCallback(loop.handleWakeup)
	loop.wakeupChannel.EnableReading()

	tq, err := newTimerQueue(loop)
	if err != nil {
		_ = wakeupFd.Close()
		_ = poller.Close()
		loopsByThread.Delete(tid)
		runtime.UnlockOSThread()
		return nil, err
	}
	loop.timerQueue = tq

	logDebug("event loop created", "tid", tid)
	return loop, nil
}

// Loop runs the reactor's blocking dispatch cycle until Quit is called.
// Must be called from the thread that created the loop.
func (l *EventLoop) Loop() {
	l.assertInLoopThread()
	l.looping.Store(true)
	l.quit.Store(false)
	logInfo("event loop start", "tid", l.threadID)

	for !l.quit.Load() {
		l.activeChannels = l.activeChannels[:0]
		now, active, err := l.poller.Poll(10 * time.Second)
		if err != nil {
			logError("poll failed", "error", err.Error())
			continue
		}
		l.pollReturnTime = now
		l.activeChannels = active

		l.eventHandling = true
		for _, ch := range l.activeChannels {
			l.currentActiveChannel = ch
			ch.HandleEvent(l.pollReturnTime)
		}
		l.currentActiveChannel = nil
		l.eventHandling = false

		l.doPendingFunctors()
	}

	logInfo("event loop stop", "tid", l.threadID)
	l.looping.Store(false)
}

// Quit signals the loop to stop after its current iteration. Safe to call
// from any thread.
func (l *EventLoop) Quit() {
	l.quit.Store(true)
	if !l.isInLoopThread() && l.looping.Load() {
		l.wakeup()
	}
}

// Close releases the loop's OS resources. Must be called after Loop has
// returned.
func (l *EventLoop) Close() error {
	l.timerQueue.close()
	l.wakeupChannel.DisableAll()
	l.wakeupChannel.Remove()
	err1 := l.wakeupFd.Close()
	err2 := l.poller.Close()
	loopsByThread.Delete(l.threadID)
	runtime.UnlockOSThread()
	if err1 != nil {
		return err1
	}
	return err2
}

// RunInLoop runs cb immediately if called from the loop's own thread,
// otherwise queues it for the next iteration.
func (l *EventLoop) RunInLoop(cb func()) {
	if l.isInLoopThread() {
		cb()
		return
	}
	l.QueueInLoop(cb)
}

// QueueInLoop always defers cb to the next doPendingFunctors pass, waking
// the loop if necessary.
func (l *EventLoop) QueueInLoop(cb func()) {
	l.mu.Lock()
	l.pendingFunctors = append(l.pendingFunctors, cb)
	l.mu.Unlock()

	if !l.isInLoopThread() || l.callingPendingFunctors.Load() {
		l.wakeup()
	}
}

func (l *EventLoop) doPendingFunctors() {
	l.callingPendingFunctors.Store(true)

	l.mu.Lock()
	functors := l.pendingFunctors
	l.pendingFunctors = nil
	l.mu.Unlock()

	for _, f := range functors {
		f()
	}

	l.callingPendingFunctors.Store(false)
}

// RunAt schedules cb to run once at when.
func (l *EventLoop) RunAt(when Timestamp, cb func()) TimerId {
	return l.timerQueue.AddTimer(cb, when, 0)
}

// RunAfter schedules cb to run once after d elapses.
func (l *EventLoop) RunAfter(d time.Duration, cb func()) TimerId {
	return l.RunAt(AddTime(Now(), d), cb)
}

// RunEvery schedules cb to run every interval, starting one interval from
// now.
func (l *EventLoop) RunEvery(interval time.Duration, cb func()) TimerId {
	return l.timerQueue.AddTimer(cb, AddTime(Now(), interval), interval)
}

// Cancel cancels a previously scheduled timer.
func (l *EventLoop) Cancel(id TimerId) {
	l.timerQueue.Cancel(id)
}

func (l *EventLoop) updateChannel(ch *Channel) {
	l.assertInLoopThread()
	l.poller.UpdateChannel(ch)
}

func (l *EventLoop) removeChannel(ch *Channel) {
	l.assertInLoopThread()
	if l.eventHandling && l.currentActiveChannel != ch {
		// Removing a channel from inside another channel's handler is only
		// well-defined when the victim is not in this cycle's active set.
		for _, active := range l.activeChannels {
			if active == ch {
				logFatal("channel removed while still pending dispatch", "fd", ch.Fd())
			}
		}
	}
	l.poller.RemoveChannel(ch)
}

func (l *EventLoop) hasChannel(ch *Channel) bool {
	l.assertInLoopThread()
	return l.poller.HasChannel(ch)
}

func (l *EventLoop) wakeup() {
	if err := l.wakeupFd.WriteEvent(1); err != nil {
		logError("wakeup write failed", "error", err.Error())
	}
}

func (l *EventLoop) handleWakeup(now Timestamp) {
	if _, err := l.wakeupFd.ReadEvent(); err != nil {
		logError("wakeup read failed", "error", err.Error())
	}
}

func (l *EventLoop) isInLoopThread() bool {
	return int32(unix.Gettid()) == l.threadID
}

func (l *EventLoop) assertInLoopThread() {
	if !l.isInLoopThread() {
		logFatal("loop method called from a foreign thread",
			"ownerTid", l.threadID, "callerTid", unix.Gettid())
	}
}

// IsInLoopThread reports whether the calling goroutine is running on this
// loop's thread.
func (l *EventLoop) IsInLoopThread() bool { return l.isInLoopThread() }

// CurrentThreadLoop returns the EventLoop owned by the calling OS thread,
// or nil if this thread has none.
func CurrentThreadLoop() *EventLoop {
	if v, ok := loopsByThread.Load(int32(unix.Gettid())); ok {
		return v.(*EventLoop)
	}
	return nil
}
