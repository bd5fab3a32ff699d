package remotefs_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ruffel/remotefs"
	"github.com/ruffel/remotefs/transport"
	sshtransport "github.com/ruffel/remotefs/transport/ssh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hostEnvs hands out a fresh agent environment per dial.
type hostEnvs struct {
	t     *testing.T
	dials atomic.Int32
	fail  atomic.Int32

	mu   sync.Mutex
	envs []*agentEnv
}

func (h *hostEnvs) dial(context.Context, remotefs.HostConfig, sshtransport.PassphraseFunc) (transport.Environment, error) {
	h.dials.Add(1)

	if h.fail.Load() > 0 {
		h.fail.Add(-1)

		return nil, errors.New("no route to host")
	}

	env := newAgentEnv(h.t).current()
	env.agent.Mkdir("/srv")

	h.mu.Lock()
	h.envs = append(h.envs, env)
	h.mu.Unlock()

	return env, nil
}

func (h *hostEnvs) last() *agentEnv {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.envs[len(h.envs)-1]
}

func newHost(t *testing.T, opts ...remotefs.Option) (*remotefs.Host, *hostEnvs) {
	t.Helper()

	envs := &hostEnvs{t: t}
	base := []remotefs.Option{
		remotefs.WithAgentScript(testScript),
		remotefs.WithDialer(envs.dial),
		remotefs.WithSecondaryWorkers(1),
	}

	h := remotefs.NewHost("test", remotefs.HostConfig{Host: "example.com"}, append(base, opts...)...)
	t.Cleanup(func() { _ = h.Reset() })

	return h, envs
}

func TestHost_LazyConnection(t *testing.T) {
	t.Parallel()

	h, envs := newHost(t)
	assert.Equal(t, int32(0), envs.dials.Load(), "nothing is dialed up front")

	ctx := context.Background()

	c1, err := h.Connection(ctx)
	require.NoError(t, err)

	c2, err := h.Connection(ctx)
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, int32(1), envs.dials.Load())
}

func TestHost_ConcurrentCallersShareConnection(t *testing.T) {
	t.Parallel()

	h, envs := newHost(t)

	var wg sync.WaitGroup

	conns := make([]*remotefs.Connection, 10)
	for i := range conns {
		wg.Add(1)

		go func() {
			defer wg.Done()

			c, err := h.Connection(context.Background())
			assert.NoError(t, err)
			conns[i] = c
		}()
	}

	wg.Wait()

	for _, c := range conns {
		assert.Same(t, conns[0], c)
	}

	assert.Equal(t, int32(1), envs.dials.Load())
}

func TestHost_Reset(t *testing.T) {
	t.Parallel()

	h, envs := newHost(t)
	ctx := context.Background()

	c1, err := h.Connection(ctx)
	require.NoError(t, err)

	require.NoError(t, h.Reset())
	assert.Equal(t, remotefs.PhaseClosed, c1.State().Phase)

	c2, err := h.Connection(ctx)
	require.NoError(t, err)

	assert.NotSame(t, c1, c2)
	assert.Equal(t, int32(2), envs.dials.Load())

	require.NoError(t, h.Reset())
	require.NoError(t, h.Reset(), "reset without a connection is a no-op")
}

func TestHost_ReplacesFailedConnection(t *testing.T) {
	t.Parallel()

	h, envs := newHost(t)
	envs.fail.Store(1)

	ctx := context.Background()

	_, err := h.Connection(ctx)

	var ce *remotefs.ConnectionError
	require.ErrorAs(t, err, &ce)

	c, err := h.Connection(ctx)
	require.NoError(t, err)
	assert.Equal(t, remotefs.PhaseReady, c.State().Phase)

	// A connection that dies later is replaced too.
	envs.last().agent.Kill()
	<-c.Done()

	c2, err := h.Connection(ctx)
	require.NoError(t, err)
	assert.NotSame(t, c, c2)
	assert.Equal(t, int32(3), envs.dials.Load())
}

func TestHost_WatchesSurviveReconnect(t *testing.T) {
	t.Parallel()

	h, envs := newHost(t)
	ctx := context.Background()

	// Recorded before any connection exists.
	require.NoError(t, h.AddWatch(ctx, "b", "/srv", remotefs.WatchOptions{}))

	_, err := h.Connection(ctx)
	require.NoError(t, err)

	watches := envs.last().agent.Watches()
	require.Contains(t, watches, "b")

	// Forwarded to the live connection.
	require.NoError(t, h.AddWatch(ctx, "a", "~", remotefs.WatchOptions{Recursive: true}))
	assert.Contains(t, envs.last().agent.Watches(), "a")

	require.NoError(t, h.Reset())

	_, err = h.Connection(ctx)
	require.NoError(t, err)

	watches = envs.last().agent.Watches()
	assert.Len(t, watches, 2)
	assert.Equal(t, "/home/test", watches["a"].Path)
	assert.True(t, watches["a"].Recursive)

	require.NoError(t, h.RmWatch(ctx, "b"))
	assert.NotContains(t, envs.last().agent.Watches(), "b")
}

func TestHost_ActiveWatches(t *testing.T) {
	t.Parallel()

	h, _ := newHost(t)
	ctx := context.Background()

	require.NoError(t, h.AddWatch(ctx, "2", "/b", remotefs.WatchOptions{}))
	require.NoError(t, h.AddWatch(ctx, "1", "/a", remotefs.WatchOptions{Excludes: []string{".git"}}))
	require.NoError(t, h.AddWatch(ctx, "3", "/c", remotefs.WatchOptions{}))
	require.NoError(t, h.RmWatch(ctx, "3"))

	got := h.ActiveWatches()
	assert.Equal(t, []remotefs.Watch{
		{ID: "1", Path: "/a", Options: remotefs.WatchOptions{Excludes: []string{".git"}}},
		{ID: "2", Path: "/b"},
	}, got)

	got[0].Path = "/changed"
	assert.Equal(t, "/a", h.ActiveWatches()[0].Path, "snapshot is a copy")
}
