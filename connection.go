package remotefs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ruffel/remotefs/agent"
	"github.com/ruffel/remotefs/cache"
	"github.com/ruffel/remotefs/pool"
	"github.com/ruffel/remotefs/transport"
	"github.com/ruffel/remotefs/worker"
)

// Operation priorities. Lower values are served first.
const (
	PriorityHigh   = 1
	PriorityNormal = 5
	PriorityLow    = 10
)

// Connection is one SSH session to a host, the agent workers running over
// it and the session's cache. A Connection is used once: after it fails or
// is closed, a new one must be created.
type Connection struct {
	name string
	cfg  HostConfig
	opts options
	log  *zap.Logger

	state atomic.Pointer[State]

	// ctx bounds the remote worker processes.
	ctx    context.Context //nolint:containedctx
	cancel context.CancelFunc

	workers   *pool.Pool[*worker.Worker]
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	mu      sync.Mutex
	env     transport.Environment
	interp  *transport.Command
	watch   *worker.WatchWorker
	started []*worker.Worker
	nextID  int
	info    worker.ServerInfo
	cache   *cache.DirectoryCache
}

// NewConnection returns an idle connection to the host described by cfg.
func NewConnection(name string, cfg HostConfig, opts ...Option) *Connection {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Connection{
		name:   name,
		cfg:    cfg,
		opts:   o,
		log:    o.logger.With(zap.String("host", name)),
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}

	var popts []pool.Option
	if o.metrics != nil {
		popts = append(popts, pool.WithObserver(func(s pool.Stats) {
			o.metrics.ObservePool(name, s)
		}))
	}

	c.workers = pool.New[*worker.Worker](popts...)
	c.state.Store(&State{Phase: PhaseIdle, Since: time.Now()})

	return c
}

// Name returns the host name the connection was created for.
func (c *Connection) Name() string { return c.name }

// Done is closed once the connection has failed or been closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Workers returns the pool occupancy.
func (c *Connection) Workers() pool.Stats { return c.workers.Stats() }

// ServerInfo returns the identity record fetched while connecting. Home
// always ends in "/".
func (c *Connection) ServerInfo() worker.ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.info
}

// Cache returns the session cache, or nil before the connection is ready.
func (c *Connection) Cache() *cache.DirectoryCache {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cache
}

// Connect opens the session, installs the agent if needed and starts the
// workers. Watches in replay are registered on the new watch channel. The
// connection is Ready when Connect returns nil; extra workers keep starting
// in the background. Any failure tears the connection down.
func (c *Connection) Connect(ctx context.Context, replay ...Watch) error {
	if !c.advance(PhaseIdle, PhaseConnecting) {
		if c.State().Phase.Terminal() {
			return c.terminalErr()
		}

		return fmt.Errorf("connection to %s already started", c.name)
	}

	if err := c.connect(ctx, replay); err != nil {
		c.fail(err)

		return c.terminalErr()
	}

	return nil
}

func (c *Connection) connect(ctx context.Context, replay []Watch) error {
	c.publish(StatusConnecting, nil)
	c.log.Info("connecting")

	if c.opts.script == nil {
		return &BootstrapError{Host: c.name, Stage: StageProbe, Err: ErrNoAgentScript}
	}

	interp, err := agent.Interpreter(c.cfg.Python)
	if err != nil {
		return &BootstrapError{Host: c.name, Stage: StageProbe, Err: err}
	}

	env, err := c.opts.dial(ctx, c.cfg, c.opts.prompt)
	if err != nil {
		return &ConnectionError{Host: c.name, Err: err}
	}

	c.mu.Lock()
	c.env = env
	c.interp = interp
	c.mu.Unlock()

	// Closed while dialing: teardown already ran without seeing env.
	if c.State().Phase.Terminal() {
		_ = env.Close()

		return c.terminalErr()
	}

	go c.supervise(env)

	if !c.advance(PhaseConnecting, PhaseBootstrapping) {
		return c.terminalErr()
	}

	c.publish(StatusInitializing, nil)

	if err := c.bootstrap(ctx, env, interp); err != nil {
		return err
	}

	primary, err := c.startWorker()
	if err != nil {
		return &ConnectionError{Host: c.name, Err: err}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c.startWatch(gctx, replay)

		return nil
	})

	g.Go(func() error {
		info, err := primary.ServerInfo(gctx)
		if err != nil {
			return fmt.Errorf("server info: %w", err)
		}

		c.setServerInfo(info)

		return nil
	})

	if err := g.Wait(); err != nil {
		return &ConnectionError{Host: c.name, Err: err}
	}

	if err := c.workers.Add(primary); err != nil {
		return c.terminalErr()
	}

	if !c.advance(PhaseBootstrapping, PhaseReady) {
		return c.terminalErr()
	}

	c.readyOnce.Do(func() { close(c.ready) })
	c.publish(StatusConnected, nil)
	c.log.Info("connected", zap.String("home", c.ServerInfo().Home))

	go c.startSecondaries()

	return nil
}

// WaitReady blocks until the connection is Ready, has failed, or ctx is done.
func (c *Connection) WaitReady(ctx context.Context) error {
	if c.State().Phase == PhaseIdle {
		return ErrNotConnected
	}

	return c.waitReady(ctx)
}

// waitReady also waits on a connection whose Connect has not started yet.
func (c *Connection) waitReady(ctx context.Context) error {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	if c.State().Phase == PhaseReady {
		return nil
	}

	return c.terminalErr()
}

func (c *Connection) setServerInfo(info worker.ServerInfo) {
	if !strings.HasSuffix(info.Home, "/") {
		info.Home += "/"
	}

	var copts []cache.Option

	copts = append(copts, cache.WithLogger(c.log.Named("cache")))
	if c.opts.metrics != nil {
		copts = append(copts, cache.WithRecorder(c.opts.metrics.CacheRecorder(c.name)))
	}

	base := ""
	if c.opts.cacheDir != "" {
		base = filepath.Join(c.opts.cacheDir, cache.SanitizeSegment(c.name))
	}

	dc := cache.New(base, copts...)
	if err := dc.SetServerInfo(info); err != nil {
		c.log.Warn("file cache disabled", zap.Error(err))

		dc = cache.New("", copts...)
		_ = dc.SetServerInfo(info)
	}

	c.mu.Lock()
	c.info = info
	c.cache = dc
	c.mu.Unlock()
}

// supervise fails the connection when the session ends underneath it.
func (c *Connection) supervise(env transport.Environment) {
	err := env.Wait()
	if err == nil {
		err = errors.New("session ended")
	}

	c.fail(&ConnectionError{Host: c.name, Err: err})
}

func (c *Connection) startWorker() (*worker.Worker, error) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	env, interp := c.env, c.interp
	c.mu.Unlock()

	w, err := worker.Start(c.ctx, env, agent.WorkerCommand(interp, false),
		worker.WithID(id),
		worker.WithLogger(c.log),
		worker.WithFailureHandler(func(err error) {
			c.fail(&ConnectionError{Host: c.name, Err: err})
		}),
	)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.State().Phase.Terminal() {
		c.mu.Unlock()
		_ = w.Close()

		return nil, c.terminalErr()
	}

	c.started = append(c.started, w)
	c.mu.Unlock()

	return w, nil
}

// startSecondaries adds up to the configured number of extra workers,
// stopping at the first one that fails to start.
func (c *Connection) startSecondaries() {
	for i := range c.opts.secondary {
		w, err := c.startWorker()
		if err != nil {
			if !c.State().Phase.Terminal() {
				c.log.Debug("secondary worker start stopped", zap.Int("started", i), zap.Error(err))
			}

			return
		}

		if err := c.workers.Add(w); err != nil {
			_ = w.Close()

			return
		}
	}
}

// startWatch opens the watch channel and replays watches onto it. Failures
// leave the connection without a watch channel.
func (c *Connection) startWatch(ctx context.Context, replay []Watch) {
	c.mu.Lock()
	env, interp := c.env, c.interp
	c.mu.Unlock()

	ww, err := worker.StartWatch(c.ctx, env, agent.WorkerCommand(interp, true),
		worker.WithID(-1),
		worker.WithLogger(c.log),
		worker.WithEventHandler(c.onEvent),
		worker.WithFailureHandler(c.dropWatch),
	)
	if err != nil {
		c.log.Warn("watch worker unavailable", zap.Error(err))

		return
	}

	c.mu.Lock()
	if c.State().Phase.Terminal() {
		c.mu.Unlock()
		_ = ww.Close()

		return
	}

	c.watch = ww
	c.mu.Unlock()

	var g errgroup.Group

	for _, w := range replay {
		g.Go(func() error {
			if err := ww.AddWatch(ctx, w.ID, w.Path, w.Options); err != nil {
				c.log.Warn("failed to restore watch", zap.String("id", w.ID), zap.String("path", w.Path), zap.Error(err))
			}

			return nil
		})
	}

	_ = g.Wait()
}

func (c *Connection) onEvent(ev worker.WatchEvent) {
	if c.opts.onEvent != nil {
		c.opts.onEvent(ev)
	}
}

// dropWatch forgets a failed watch channel. The connection carries on
// without watching.
func (c *Connection) dropWatch(err error) {
	c.mu.Lock()
	if c.watch != nil && c.watch.Err() != nil {
		c.watch = nil
	}
	c.mu.Unlock()

	c.log.Warn("watch channel failed", zap.Error(err))
}

func (c *Connection) watchWorker() *worker.WatchWorker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watch == nil || c.watch.Err() != nil {
		return nil
	}

	return c.watch
}

// AddWatch subscribes to changes below w.Path. Without a watch channel it
// does nothing.
func (c *Connection) AddWatch(ctx context.Context, w Watch) error {
	ww := c.watchWorker()
	if ww == nil {
		return nil
	}

	return ww.AddWatch(ctx, w.ID, w.Path, w.Options)
}

// RmWatch cancels a subscription. Without a watch channel it does nothing.
func (c *Connection) RmWatch(ctx context.Context, id string) error {
	ww := c.watchWorker()
	if ww == nil {
		return nil
	}

	return ww.RmWatch(ctx, id)
}

// do runs fn on a pooled worker. A channel failure fails the whole
// connection. The context is honoured while queued and up to the moment the
// request is sent; an exchange in flight always completes.
func (c *Connection) do(ctx context.Context, priority int, op string, fn func(*worker.Worker) error) error {
	if c.State().Phase == PhaseIdle {
		return ErrNotConnected
	}

	start := time.Now()

	w, err := c.workers.Checkout(ctx, priority)
	if err == nil {
		err = fn(w)

		if worker.IsChannelError(err) {
			c.workers.Discard()
			c.fail(&ConnectionError{Host: c.name, Err: err})
			err = c.terminalErr()
		} else {
			c.workers.Checkin(w)
		}
	}

	if c.opts.metrics != nil {
		c.opts.metrics.ObserveOperation(c.name, op, time.Since(start), err)
	}

	return err
}

// ExpandPath resolves p, including a leading "~", on the host.
func (c *Connection) ExpandPath(ctx context.Context, priority int, p string) (string, error) {
	var out string

	err := c.do(ctx, priority, worker.OpExpandPath, func(w *worker.Worker) error {
		var err error
		out, err = w.ExpandPath(ctx, p)

		return err
	})

	return out, err
}

// List returns the entries of directory p keyed by name.
func (c *Connection) List(ctx context.Context, priority int, p string) (map[string]worker.Stat, error) {
	var out map[string]worker.Stat

	err := c.do(ctx, priority, worker.OpList, func(w *worker.Worker) error {
		var err error
		out, err = w.List(ctx, p)

		return err
	})

	return out, err
}

// ReadFile reads p. A cachedHash equal to the remote content's md5 yields an
// Unchanged result without data.
func (c *Connection) ReadFile(ctx context.Context, priority int, p, cachedHash string) (worker.ReadResult, error) {
	var out worker.ReadResult

	err := c.do(ctx, priority, worker.OpFileRead, func(w *worker.Worker) error {
		var err error
		out, err = w.ReadFile(ctx, p, cachedHash)

		return err
	})

	return out, err
}

// WriteFile writes data to p.
func (c *Connection) WriteFile(ctx context.Context, priority int, p string, data []byte, opts worker.WriteOptions) error {
	return c.do(ctx, priority, worker.OpFileWrite, func(w *worker.Worker) error {
		return w.WriteFile(ctx, p, data, opts)
	})
}

// WriteFileDiff writes updated to p as a delta against original.
func (c *Connection) WriteFileDiff(ctx context.Context, priority int, p string, original, updated []byte, opts worker.WriteOptions) error {
	return c.do(ctx, priority, worker.OpFileWriteDiff, func(w *worker.Worker) error {
		return w.WriteFileDiff(ctx, p, original, updated, opts)
	})
}

// Rename moves from to to.
func (c *Connection) Rename(ctx context.Context, priority int, from, to string, opts worker.RenameOptions) error {
	return c.do(ctx, priority, worker.OpRename, func(w *worker.Worker) error {
		return w.Rename(ctx, from, to, opts)
	})
}

// Delete removes p.
func (c *Connection) Delete(ctx context.Context, priority int, p string) error {
	return c.do(ctx, priority, worker.OpDelete, func(w *worker.Worker) error {
		return w.Delete(ctx, p)
	})
}

// Mkdir creates directory p.
func (c *Connection) Mkdir(ctx context.Context, priority int, p string) error {
	return c.do(ctx, priority, worker.OpMkdir, func(w *worker.Worker) error {
		return w.Mkdir(ctx, p)
	})
}

// Close tears the connection down. Pending and later operations fail with a
// ConnectionError wrapping ErrConnectionClosed.
func (c *Connection) Close() error {
	if !c.finish(PhaseClosed, &ConnectionError{Host: c.name, Err: ErrConnectionClosed}) {
		return nil
	}

	c.log.Debug("connection closed")

	return c.teardown(c.terminalErr())
}

// fail ends the connection with err. Only the first failure is reported.
func (c *Connection) fail(err error) {
	if !c.finish(PhaseError, err) {
		return
	}

	c.log.Error("connection failed", zap.Error(err))
	c.publish(StatusError, err)

	_ = c.teardown(err)

	if c.opts.onError != nil {
		c.opts.onError(err)
	}
}

func (c *Connection) teardown(cause error) error {
	var ce *ConnectionError
	if !errors.As(cause, &ce) {
		cause = &ConnectionError{Host: c.name, Err: cause}
	}

	c.workers.Close(cause)
	c.cancel()

	c.mu.Lock()
	started := c.started
	c.started = nil
	watch := c.watch
	c.watch = nil
	env := c.env
	c.mu.Unlock()

	for _, w := range started {
		_ = w.Close()
	}

	if watch != nil {
		_ = watch.Close()
	}

	var err error
	if env != nil {
		err = env.Close()
	}

	c.readyOnce.Do(func() { close(c.ready) })
	close(c.done)

	return err
}

// terminalErr is the error every caller sees once the connection has ended.
func (c *Connection) terminalErr() error {
	if err := c.State().Err; err != nil {
		return err
	}

	return ErrNotConnected
}
