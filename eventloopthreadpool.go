package muduo

import "sync"

// EventLoopThreadPool owns a fixed set of EventLoopThreads, handing work
// to them by round-robin or by hash. An empty pool (zero threads)
// degenerates to always returning the base loop, so a single-threaded
// server needs no special casing.
type EventLoopThreadPool struct {
	baseLoop *EventLoop
	backend  PollerBackend
	initFunc func(*EventLoop)

	mu      sync.Mutex
	started bool
	threads []*EventLoopThread
	loops   []*EventLoop
	next    int
}

// NewEventLoopThreadPool creates a pool attached to baseLoop, the loop that
// owns the Acceptor. Threads are not spawned until Start.
func NewEventLoopThreadPool(baseLoop *EventLoop, backend PollerBackend) *EventLoopThreadPool {
	return &EventLoopThreadPool{baseLoop: baseLoop, backend: backend}
}

// SetThreadInitCallback installs a hook run on each worker thread right
// after its loop is constructed, before it starts dispatching.
func (p *EventLoopThreadPool) SetThreadInitCallback(cb func(*EventLoop)) {
	p.initFunc = cb
}

// Start spawns numThreads worker threads. numThreads == 0 is valid: all
// connections are then handled on baseLoop.
func (p *EventLoopThreadPool) Start(numThreads int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		logFatal("EventLoopThreadPool.Start called twice")
	}
	p.started = true

	for i := 0; i < numThreads; i++ {
		th := NewEventLoopThread(p.backend, p.initFunc)
		p.threads = append(p.threads, th)
		p.loops = append(p.loops, th.StartLoop())
	}

	if numThreads == 0 && p.initFunc != nil {
		p.initFunc(p.baseLoop)
	}
}

// GetNextLoop returns loops in round-robin order, or baseLoop if the pool
// has no worker threads.
func (p *EventLoopThreadPool) GetNextLoop() *EventLoop {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	loop := p.loops[p.next]
	p.next = (p.next + 1) % len(p.loops)
	return loop
}

// GetLoopForHash deterministically maps hashCode to the same loop every
// time, or baseLoop if the pool has no worker threads.
func (p *EventLoopThreadPool) GetLoopForHash(hashCode uint64) *EventLoop {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	return p.loops[hashCode%uint64(len(p.loops))]
}

// GetAllLoops returns every worker loop, or just baseLoop if none exist.
func (p *EventLoopThreadPool) GetAllLoops() []*EventLoop {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.loops) == 0 {
		return []*EventLoop{p.baseLoop}
	}
	out := make([]*EventLoop, len(p.loops))
	copy(out, p.loops)
	return out
}

// Stop asks every worker loop to quit and joins the worker goroutines. The
// TCPServer that owns this pool drains connections first.
func (p *EventLoopThreadPool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, th := range p.threads {
		th.Stop()
	}
}
