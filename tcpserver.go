package muduo

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// TCPServer owns an Acceptor bound to a base loop, an EventLoopThreadPool
// of sub-loops connections are distributed across, and the name -> entry
// map needed to enumerate and tear down connections. Map mutations only
// ever run on the base loop; the mutex exists solely so Connections() can
// be read from another goroutine.
type TCPServer struct {
	loop     *EventLoop
	acceptor *Acceptor
	pool     *EventLoopThreadPool

	name   string
	ipPort string

	mu          sync.Mutex
	connections map[string]*TCPConnection

	nextConnID atomic.Int64
	started    atomic.Bool
	stopped    atomic.Bool

	highWaterMark int
	numThreads    int

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback

	threadInitCallback func(*EventLoop)
}

// NewTCPServer constructs a server bound to loop (the loop Start and the
// Acceptor itself run on) listening on addr.
func NewTCPServer(loop *EventLoop, addr string, opts ServerOptions) (*TCPServer, error) {
	opts = opts.withDefaults()

	acceptor, err := NewAcceptor(loop, opts.Network, addr, opts.ReusePort == EnableReusePort)
	if err != nil {
		return nil, err
	}

	s := &TCPServer{
		loop:          loop,
		acceptor:      acceptor,
		pool:          NewEventLoopThreadPool(loop, opts.Backend),
		name:          opts.Name,
		ipPort:        addr,
		connections:   make(map[string]*TCPConnection),
		highWaterMark: opts.HighWaterMark,
		numThreads:    opts.NumThreads,
	}
	acceptor.SetNewConnectionCallback(s.newConnection)
	return s, nil
}

// SetConnectionCallback installs the callback fired on connect and on
// disconnect.
func (s *TCPServer) SetConnectionCallback(cb ConnectionCallback) { s.connectionCallback = cb }

// SetMessageCallback installs the callback fired whenever bytes arrive.
func (s *TCPServer) SetMessageCallback(cb MessageCallback) { s.messageCallback = cb }

// SetWriteCompleteCallback installs the callback fired once queued output
// has fully drained.
func (s *TCPServer) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	s.writeCompleteCallback = cb
}

// SetHighWaterMarkCallback installs the callback fired when a connection's
// output buffer crosses its high-water mark.
func (s *TCPServer) SetHighWaterMarkCallback(cb HighWaterMarkCallback) {
	s.highWaterMarkCallback = cb
}

// SetThreadInitCallback installs a hook run on each sub-loop thread right
// after its loop is constructed. Must be called before Start.
func (s *TCPServer) SetThreadInitCallback(cb func(*EventLoop)) {
	s.threadInitCallback = cb
	s.pool.SetThreadInitCallback(cb)
}

// Addr returns the server's bound listen address.
func (s *TCPServer) Addr() net.Addr { return s.acceptor.Addr() }

// ThreadPool exposes the sub-loop pool, mainly so tests and advanced
// callers can pick a specific loop for RunEvery-style periodic work.
func (s *TCPServer) ThreadPool() *EventLoopThreadPool { return s.pool }

// Start spawns the sub-loop pool and begins listening, blocking until the
// listening socket is actually registered with the base loop's
// demultiplexer. Idempotent: calling it more than once is a no-op.
func (s *TCPServer) Start() error {
	if s.stopped.Load() {
		return ErrClosing
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	s.pool.Start(s.numThreads)
	done := make(chan error, 1)
	s.loop.RunInLoop(func() {
		done <- s.acceptor.Listen()
	})
	return <-done
}

// newConnection runs on the base loop (it is the Acceptor's callback): it
// picks the next sub-loop, builds the connection's name, and crosses into
// that sub-loop via RunInLoop to finish construction.
func (s *TCPServer) newConnection(fd int, peerAddr net.Addr) {
	s.loop.assertInLoopThread()

	ioLoop := s.pool.GetNextLoop()
	id := s.nextConnID.Add(1)
	connName := fmt.Sprintf("%s-%s#%d", s.name, s.ipPort, id)

	logInfo("new connection", "server", s.name, "name", connName, "peer", peerAddr.String())

	local := localTCPAddr(fd)
	var localAddr net.Addr
	if local != nil {
		localAddr = local
	}

	conn := newTCPConnection(ioLoop, connName, fd, localAddr, peerAddr)
	conn.setConnectionCallback(s.connectionCallback)
	conn.setMessageCallback(s.messageCallback)
	conn.setWriteCompleteCallback(s.writeCompleteCallback)
	conn.setHighWaterMarkCallback(s.highWaterMarkCallback, s.highWaterMark)
	conn.setCloseCallback(s.removeConnection)

	s.mu.Lock()
	s.connections[connName] = conn
	s.mu.Unlock()

	ioLoop.RunInLoop(conn.connectEstablished)
}

func (s *TCPServer) removeConnection(conn *TCPConnection) {
	s.loop.RunInLoop(func() {
		s.removeConnectionInLoop(conn)
	})
}

func (s *TCPServer) removeConnectionInLoop(conn *TCPConnection) {
	s.loop.assertInLoopThread()
	logInfo("removing connection", "server", s.name, "name", conn.Name())

	s.mu.Lock()
	delete(s.connections, conn.Name())
	s.mu.Unlock()

	conn.Loop().QueueInLoop(conn.connectDestroyed)
}

// Connections returns a snapshot of the currently live connections.
func (s *TCPServer) Connections() []*TCPConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*TCPConnection, 0, len(s.connections))
	for _, c := range s.connections {
		out = append(out, c)
	}
	return out
}

// Stop closes the listening socket, tears down every live connection, and
// asks the sub-loop pool to quit. It does not wait for queued output to
// finish draining.
func (s *TCPServer) Stop() error {
	s.stopped.Store(true)
	done := make(chan error, 1)
	s.loop.RunInLoop(func() {
		err := s.acceptor.Close()

		s.mu.Lock()
		conns := s.connections
		s.connections = make(map[string]*TCPConnection)
		s.mu.Unlock()

		for _, conn := range conns {
			conn.Loop().QueueInLoop(conn.connectDestroyed)
		}
		done <- err
	})
	err := <-done
	s.pool.Stop()
	return err
}
