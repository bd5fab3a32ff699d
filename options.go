package remotefs

import (
	"context"
	"time"

	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"

	"github.com/ruffel/remotefs/agent"
	"github.com/ruffel/remotefs/cache"
	"github.com/ruffel/remotefs/pool"
	"github.com/ruffel/remotefs/transport"
	sshtransport "github.com/ruffel/remotefs/transport/ssh"
)

// DefaultSecondaryWorkers is how many workers are added after the primary.
const DefaultSecondaryWorkers = 4

// Dialer opens the transport for a host.
type Dialer func(ctx context.Context, cfg HostConfig, prompt sshtransport.PassphraseFunc) (transport.Environment, error)

// Metrics receives connection telemetry.
type Metrics interface {
	ObservePool(host string, stats pool.Stats)
	ObserveOperation(host, op string, d time.Duration, err error)
	CacheRecorder(host string) cache.Recorder
}

// Option configures a Connection or Host.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	bus       EventBus.Bus
	prompt    sshtransport.PassphraseFunc
	script    *agent.Script
	dial      Dialer
	onError   func(error)
	secondary int
	metrics   Metrics
	cacheDir  string
	onEvent   func(WatchEvent)
	progress  transport.ProgressFunc
}

func defaultOptions() options {
	return options{
		logger:    zap.NewNop(),
		dial:      dialSSH,
		secondary: DefaultSecondaryWorkers,
	}
}

func dialSSH(ctx context.Context, cfg HostConfig, prompt sshtransport.PassphraseFunc) (transport.Environment, error) {
	return sshtransport.New(ctx, cfg.SSHConfig(prompt))
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithStatusBus publishes connection milestones on bus. See NewStatusBus.
func WithStatusBus(bus EventBus.Bus) Option {
	return func(o *options) {
		o.bus = bus
	}
}

// WithPassphrasePrompter is asked for the passphrase of an encrypted key
// when the host config carries none.
func WithPassphrasePrompter(fn sshtransport.PassphraseFunc) Option {
	return func(o *options) {
		o.prompt = fn
	}
}

// WithAgentScript sets the agent payload installed on hosts.
func WithAgentScript(s *agent.Script) Option {
	return func(o *options) {
		o.script = s
	}
}

// WithDialer replaces the SSH dialer.
func WithDialer(d Dialer) Option {
	return func(o *options) {
		if d != nil {
			o.dial = d
		}
	}
}

// WithErrorHandler is called once when a connection fails. It is not called
// for Close.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.onError = fn
	}
}

// WithSecondaryWorkers sets how many workers are started in the background
// once the connection is ready.
func WithSecondaryWorkers(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.secondary = n
		}
	}
}

// WithMetrics reports pool occupancy, operations and cache lookups to m.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithCacheDir enables the local cache below dir. Each host gets its own
// subdirectory.
func WithCacheDir(dir string) Option {
	return func(o *options) {
		o.cacheDir = dir
	}
}

// WithWatchHandler receives watch events from the host.
func WithWatchHandler(fn func(WatchEvent)) Option {
	return func(o *options) {
		o.onEvent = fn
	}
}

// WithProgressReporter is called with the bytes sent while the agent is
// installed on a host.
func WithProgressReporter(fn transport.ProgressFunc) Option {
	return func(o *options) {
		o.progress = fn
	}
}
