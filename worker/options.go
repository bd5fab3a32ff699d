package worker

import "go.uber.org/zap"

// Option configures a Worker or WatchWorker.
type Option func(*options)

type options struct {
	id        int
	logger    *zap.Logger
	onFailure func(error)
	onEvent   func(WatchEvent)
}

func defaultOptions() options {
	return options{logger: zap.NewNop()}
}

// WithID labels the worker in logs and errors.
func WithID(id int) Option {
	return func(o *options) {
		o.id = id
	}
}

// WithLogger sets the logger. Agent stderr is forwarded to it at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithFailureHandler registers the single observer told when the channel
// fails. It is called at most once, from its own goroutine, and not when the
// worker is closed deliberately.
func WithFailureHandler(fn func(error)) Option {
	return func(o *options) {
		o.onFailure = fn
	}
}

// WithEventHandler registers the handler for watch events. Only a
// WatchWorker delivers events; the handler runs on the channel's reader
// goroutine and should not block.
func WithEventHandler(fn func(WatchEvent)) Option {
	return func(o *options) {
		o.onEvent = fn
	}
}
