package muduo

import (
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLoop_DuplicateInSameThreadAborts(t *testing.T) {
	if os.Getenv("MUDUO_TEST_DUPLICATE_LOOP") == "1" {
		loop, err := NewEventLoop(BackendEpoll)
		if err != nil {
			os.Exit(2)
		}
		defer loop.Close()
		_, _ = NewEventLoop(BackendEpoll)
		os.Exit(0) // the second construction must have aborted already
	}

	cmd := exec.Command(os.Args[0], "-test.run", "TestEventLoop_DuplicateInSameThreadAborts")
	cmd.Env = append(os.Environ(), "MUDUO_TEST_DUPLICATE_LOOP=1")
	err := cmd.Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode())
}

func TestEventLoop_RunInLoop_SameThreadRunsImmediately(t *testing.T) {
	loop, err := NewEventLoop(BackendEpoll)
	require.NoError(t, err)
	defer loop.Close()

	ran := false
	loop.RunInLoop(func() { ran = true })
	assert.True(t, ran)
}

func TestEventLoop_QueueInLoop_CrossThreadWakesLoop(t *testing.T) {
	loop := startTestLoop(t, BackendEpoll)

	done := make(chan struct{})
	var ranOnLoopThread bool
	loop.RunInLoop(func() {
		ranOnLoopThread = loop.IsInLoopThread()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cross-thread RunInLoop never executed")
	}
	assert.True(t, ranOnLoopThread)
}

func TestEventLoop_CurrentThreadLoop(t *testing.T) {
	loop := startTestLoop(t, BackendEpoll)

	assert.Nil(t, CurrentThreadLoop())

	found := make(chan *EventLoop, 1)
	loop.RunInLoop(func() {
		found <- CurrentThreadLoop()
	})

	select {
	case got := <-found:
		assert.Same(t, loop, got)
	case <-time.After(2 * time.Second):
		t.Fatal("loop task never executed")
	}
}

func TestEventLoop_QuitFromOtherThreadReturnsPromptly(t *testing.T) {
	loop := startTestLoop(t, BackendEpoll)

	running := make(chan struct{})
	loop.QueueInLoop(func() { close(running) })
	select {
	case <-running:
	case <-time.After(2 * time.Second):
		t.Fatal("loop never ran its first task")
	}

	stopped := make(chan struct{})
	go func() {
		loop.Quit()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("quit from another goroutine stalled")
	}

	// Loop must return well before the 10s poll bound.
	deadline := time.Now().Add(2 * time.Second)
	for loop.looping.Load() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.False(t, loop.looping.Load(), "Loop did not return after Quit from another goroutine")
}

func TestEventLoop_PollBackendRunsTasks(t *testing.T) {
	loop := startTestLoop(t, BackendPoll)

	done := make(chan struct{})
	loop.RunInLoop(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poll-backed loop never ran the task")
	}
}

func TestEventLoop_TaskEnqueuedDuringDrainStillRuns(t *testing.T) {
	loop := startTestLoop(t, BackendEpoll)

	// The inner task lands while the loop is draining its pending queue; it
	// must not stall until some unrelated readiness event arrives.
	done := make(chan struct{})
	loop.QueueInLoop(func() {
		loop.QueueInLoop(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task enqueued during drain never ran")
	}
}

func TestEventLoop_ManyQueuedTasksAllRun(t *testing.T) {
	loop := startTestLoop(t, BackendEpoll)

	const n = 200
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(n)
	seen := make(map[int]bool)

	for i := 0; i < n; i++ {
		i := i
		loop.QueueInLoop(func() {
			mu.Lock()
			seen[i] = true
			mu.Unlock()
			wg.Done()
		})
	}

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(5 * time.Second):
		t.Fatal("not all queued tasks ran")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, n)
}
