package muduo

import "sync"

// EventLoopThread spawns one goroutine, pins it to its own OS thread with
// an EventLoop, and hands the running *EventLoop back to StartLoop's
// caller. A goroutine is not normally pinned to an OS thread; pinning
// happens inside NewEventLoop via runtime.LockOSThread, which is why the
// loop must be constructed on the same goroutine that later calls Loop.
type EventLoopThread struct {
	mu       sync.Mutex
	cond     *sync.Cond
	loop     *EventLoop
	backend  PollerBackend
	initFunc func(*EventLoop)
	started  bool
	done     chan struct{}
}

// NewEventLoopThread creates a thread that has not yet started. initFunc,
// if non-nil, runs on the new thread immediately after loop construction
// and before Loop begins dispatching.
func NewEventLoopThread(backend PollerBackend, initFunc func(*EventLoop)) *EventLoopThread {
	t := &EventLoopThread{
		backend:  backend,
		initFunc: initFunc,
		done:     make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// StartLoop spawns the goroutine and blocks until its EventLoop exists,
// returning it. Calling StartLoop more than once is a programmer error.
func (t *EventLoopThread) StartLoop() *EventLoop {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		logFatal("EventLoopThread.StartLoop called twice")
	}
	t.started = true
	t.mu.Unlock()

	go t.threadMain()

	t.mu.Lock()
	for t.loop == nil {
		t.cond.Wait()
	}
	loop := t.loop
	t.mu.Unlock()
	return loop
}

func (t *EventLoopThread) threadMain() {
	loop, err := NewEventLoop(t.backend)
	if err != nil {
		logFatal("event loop thread failed to construct its loop", "error", err.Error())
	}

	if t.initFunc != nil {
		t.initFunc(loop)
	}

	t.mu.Lock()
	t.loop = loop
	t.cond.Signal()
	t.mu.Unlock()

	loop.Loop()

	_ = loop.Close()

	t.mu.Lock()
	t.loop = nil
	t.mu.Unlock()
	close(t.done)
}

// Stop asks the loop to quit and joins the goroutine. Must not be called
// from the loop's own thread.
func (t *EventLoopThread) Stop() {
	t.mu.Lock()
	loop := t.loop
	t.mu.Unlock()
	if loop == nil {
		return
	}
	loop.Quit()
	<-t.done
}
