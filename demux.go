package muduo

import (
	"os"
	"time"
)

// PollerBackend selects which concrete Demultiplexer implementation an
// EventLoop uses.
type PollerBackend int

const (
	// BackendAuto lets NewDemultiplexer decide via the MUDUO_USE_POLL
	// environment variable.
	BackendAuto PollerBackend = iota
	// BackendEpoll forces the set-style epoll back-end.
	BackendEpoll
	// BackendPoll forces the level-triggered array poller.
	BackendPoll
)

// Demultiplexer is the uniform contract both back-ends satisfy. All four
// operations must be called on the owning EventLoop's thread.
type Demultiplexer interface {
	// Poll waits up to timeout for readiness, populates each active
	// channel's revents, and returns them alongside the poll-return time.
	Poll(timeout time.Duration) (now Timestamp, active []*Channel, err error)
	// UpdateChannel makes the registration consistent with ch's current
	// interest mask.
	UpdateChannel(ch *Channel)
	// RemoveChannel de-registers ch.
	RemoveChannel(ch *Channel)
	// HasChannel reports whether ch is currently registered.
	HasChannel(ch *Channel) bool
	// Close releases any OS resources held by the demultiplexer.
	Close() error
}

// NewDemultiplexer constructs the back-end selected by backend, resolving
// BackendAuto from the MUDUO_USE_POLL environment variable: unset or "0"
// selects epoll, any other value selects poll. There is no runtime
// switching after construction.
func NewDemultiplexer(backend PollerBackend) (Demultiplexer, error) {
	if backend == BackendAuto {
		if v := os.Getenv("MUDUO_USE_POLL"); v != "" && v != "0" {
			backend = BackendPoll
		} else {
			backend = BackendEpoll
		}
	}
	switch backend {
	case BackendPoll:
		return newPollDemultiplexer()
	default:
		return newEpollDemultiplexer()
	}
}
