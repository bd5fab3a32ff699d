package remotefs

import (
	"context"
	"sort"
	"sync"
)

// Host is a named remote machine. It owns at most one live Connection,
// created on demand, and the watches that should exist on it.
type Host struct {
	name string
	cfg  HostConfig
	opts []Option

	mu      sync.Mutex
	conn    *Connection
	watches map[string]Watch
}

// NewHost returns a host. Nothing is dialed until Connection is called.
func NewHost(name string, cfg HostConfig, opts ...Option) *Host {
	return &Host{
		name:    name,
		cfg:     cfg,
		opts:    opts,
		watches: make(map[string]Watch),
	}
}

// Name returns the host's name.
func (h *Host) Name() string { return h.name }

// Config returns the host's configuration.
func (h *Host) Config() HostConfig { return h.cfg }

// Connection returns the live connection, connecting first if there is
// none. A failed or closed connection is replaced. Concurrent callers share
// one connection attempt.
func (h *Host) Connection(ctx context.Context) (*Connection, error) {
	h.mu.Lock()

	c := h.conn
	if c != nil && c.State().Phase.Terminal() {
		c = nil
	}

	if c != nil {
		h.mu.Unlock()

		if err := c.waitReady(ctx); err != nil {
			return nil, err
		}

		return c, nil
	}

	c = NewConnection(h.name, h.cfg, h.opts...)
	h.conn = c
	replay := h.activeWatches()
	h.mu.Unlock()

	if err := c.Connect(ctx, replay...); err != nil {
		h.forget(c)

		return nil, err
	}

	return c, nil
}

func (h *Host) forget(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn == c {
		h.conn = nil
	}
}

// Reset closes the current connection. The next call to Connection opens
// a new one.
func (h *Host) Reset() error {
	h.mu.Lock()
	c := h.conn
	h.conn = nil
	h.mu.Unlock()

	if c == nil {
		return nil
	}

	return c.Close()
}

// AddWatch records a watch and registers it on the live connection, if
// any. Recorded watches are restored on every new connection.
func (h *Host) AddWatch(ctx context.Context, id, path string, opts WatchOptions) error {
	w := Watch{ID: id, Path: path, Options: opts}

	h.mu.Lock()
	h.watches[id] = w
	c := h.conn
	h.mu.Unlock()

	if c == nil || c.State().Phase != PhaseReady {
		return nil
	}

	return c.AddWatch(ctx, w)
}

// RmWatch forgets a watch and removes it from the live connection.
func (h *Host) RmWatch(ctx context.Context, id string) error {
	h.mu.Lock()
	delete(h.watches, id)
	c := h.conn
	h.mu.Unlock()

	if c == nil || c.State().Phase != PhaseReady {
		return nil
	}

	return c.RmWatch(ctx, id)
}

// ActiveWatches returns a copy of the recorded watches ordered by id.
func (h *Host) ActiveWatches() []Watch {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.activeWatches()
}

func (h *Host) activeWatches() []Watch {
	out := make([]Watch, 0, len(h.watches))
	for _, w := range h.watches {
		out = append(out, w)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}
