package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ruffel/remotefs/worker"
	"github.com/ruffel/remotefs/worker/workertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []worker.WatchEvent
}

func (l *eventLog) add(ev worker.WatchEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, ev)
}

func (l *eventLog) snapshot() []worker.WatchEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]worker.WatchEvent(nil), l.events...)
}

func TestWatchWorker_AddRemove(t *testing.T) {
	t.Parallel()

	agent := workertest.New()
	agent.Mkdir("/home/test/src")
	agent.Mkdir("/etc")

	var log eventLog

	w := worker.NewWatch(agent.Pipe(true), worker.WithEventHandler(log.add))
	t.Cleanup(func() { _ = w.Close() })

	ctx := context.Background()

	require.Error(t, w.AddWatch(ctx, "w0", "/missing", worker.WatchOptions{}))
	require.NoError(t, w.AddWatch(ctx, "w1", "~/src", worker.WatchOptions{Recursive: true, Excludes: []string{"node_modules"}}))
	require.NoError(t, w.AddWatch(ctx, "w2", "/etc", worker.WatchOptions{}))

	watches := agent.Watches()
	require.Len(t, watches, 2)
	assert.Equal(t, "/home/test/src", watches["w1"].Path)
	assert.True(t, watches["w1"].Recursive)
	assert.Equal(t, []string{"node_modules"}, watches["w1"].Excludes)

	agent.Emit(worker.WatchEvent{ID: "w1", Path: "/home/test/src/a.go", Kind: worker.EventChanged})

	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, worker.WatchEvent{ID: "w1", Path: "/home/test/src/a.go", Kind: worker.EventChanged}, log.snapshot()[0])

	// Requests still get their own replies after an event.
	require.NoError(t, w.RmWatch(ctx, "w2"))
	assert.NotContains(t, agent.Watches(), "w2")
}

func TestWatchWorker_EventsInterleaveWithRequests(t *testing.T) {
	t.Parallel()

	agent := workertest.New()

	var log eventLog

	w := worker.NewWatch(agent.Pipe(true), worker.WithEventHandler(log.add))
	t.Cleanup(func() { _ = w.Close() })

	ctx := context.Background()

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		for i := range 50 {
			agent.Emit(worker.WatchEvent{ID: "w", Path: "/p", Kind: worker.EventCreated})

			if i%10 == 0 {
				time.Sleep(time.Millisecond)
			}
		}
	}()

	for range 20 {
		require.NoError(t, w.AddWatch(ctx, "w", "/", worker.WatchOptions{}))
	}

	wg.Wait()

	require.Eventually(t, func() bool { return len(log.snapshot()) == 50 }, time.Second, time.Millisecond)
	require.NoError(t, w.Err())
}

func TestWatchWorker_Failure(t *testing.T) {
	t.Parallel()

	agent := workertest.New()

	failed := make(chan error, 1)

	w := worker.NewWatch(agent.Pipe(true), worker.WithFailureHandler(func(err error) { failed <- err }))

	agent.Kill()

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("watch worker did not notice the dropped channel")
	}

	require.Error(t, <-failed)
	require.Error(t, w.AddWatch(context.Background(), "w", "/", worker.WatchOptions{}))
}

func TestWatchWorker_RejectedOnPlainChannel(t *testing.T) {
	t.Parallel()

	agent := workertest.New()

	// A watch request sent to an agent in plain mode is an operation error.
	w := worker.NewWatch(agent.Pipe(false))
	t.Cleanup(func() { _ = w.Close() })

	err := w.AddWatch(context.Background(), "w", "/", worker.WatchOptions{})
	require.Error(t, err)
	assert.True(t, worker.IsRemote(err))
	require.NoError(t, w.Err())
}
