package muduo

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// startTestLoop constructs an EventLoop and starts Loop() on the same
// goroutine that will own its OS thread, per NewEventLoop's contract, and
// returns once the loop exists. The caller drives scheduling from a
// different goroutine via the thread-safe RunInLoop/RunAfter/RunEvery/
// Cancel APIs, exactly as a real multi-threaded server would.
func startTestLoop(t *testing.T, backend PollerBackend) *EventLoop {
	t.Helper()
	ready := make(chan *EventLoop, 1)
	go func() {
		loop, err := NewEventLoop(backend)
		if err != nil {
			panic(err)
		}
		ready <- loop
		loop.Loop()
		_ = loop.Close()
	}()
	loop := <-ready
	t.Cleanup(loop.Quit)
	return loop
}

func TestTimerQueue_FiresOnce(t *testing.T) {
	loop := startTestLoop(t, BackendEpoll)

	var wg sync.WaitGroup
	wg.Add(1)
	var fired int
	var mu sync.Mutex

	loop.RunAfter(20*time.Millisecond, func() {
		mu.Lock()
		fired++
		mu.Unlock()
		wg.Done()
		loop.Quit()
	})

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, fired)
}

func TestTimerQueue_CancelBeforeFire(t *testing.T) {
	loop := startTestLoop(t, BackendEpoll)

	fired := false
	id := loop.RunAfter(50*time.Millisecond, func() { fired = true })
	loop.RunInLoop(func() { loop.Cancel(id) })

	done := make(chan struct{})
	loop.RunAfter(80*time.Millisecond, func() {
		close(done)
		loop.Quit()
	})

	<-done

	assert.False(t, fired)
}

func TestTimerQueue_RepeatingTimerCancelsAfterN(t *testing.T) {
	loop := startTestLoop(t, BackendEpoll)

	var mu sync.Mutex
	count := 0
	var id TimerId

	mu.Lock()
	id = loop.RunEvery(10*time.Millisecond, func() {
		mu.Lock()
		defer mu.Unlock()
		count++
		if count >= 3 {
			loop.Cancel(id)
			loop.Quit()
		}
	})
	mu.Unlock()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		c := count
		mu.Unlock()
		if c >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for repeating timer")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, count, 3)
}

func TestTimerQueue_CancelAfterFireIsNoOp(t *testing.T) {
	loop := startTestLoop(t, BackendEpoll)

	fired := make(chan struct{})
	id := loop.RunAfter(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}

	// Cancelling twice after expiry must be silently accepted.
	loop.Cancel(id)
	loop.Cancel(id)

	done := make(chan struct{})
	loop.RunAfter(20*time.Millisecond, func() {
		close(done)
		loop.Quit()
	})
	<-done
}

func TestTimerQueue_CancelTwiceBeforeFire(t *testing.T) {
	loop := startTestLoop(t, BackendEpoll)

	fired := make(chan struct{}, 1)
	id := loop.RunAfter(300*time.Millisecond, func() { fired <- struct{}{} })

	loop.Cancel(id)
	loop.Cancel(id)

	done := make(chan struct{})
	loop.RunAfter(400*time.Millisecond, func() {
		close(done)
		loop.Quit()
	})
	<-done

	select {
	case <-fired:
		t.Fatal("cancelled timer fired anyway")
	default:
	}
}

func TestTimerQueue_PastExpirationFiresPromptly(t *testing.T) {
	loop := startTestLoop(t, BackendEpoll)

	fired := make(chan struct{})
	loop.RunAt(AddTime(Now(), -time.Second), func() {
		close(fired)
		loop.Quit()
	})

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("already-expired timer never fired")
	}
}

func TestTimerQueue_ParallelSetsStayInSync(t *testing.T) {
	loop := startTestLoop(t, BackendEpoll)

	checked := make(chan bool, 1)
	loop.RunAfter(10*time.Millisecond, func() {})
	loop.RunAfter(20*time.Millisecond, func() {})
	loop.RunInLoop(func() {
		checked <- loop.timerQueue.invariantHolds()
		loop.Quit()
	})

	select {
	case ok := <-checked:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("invariant check never ran")
	}
}
