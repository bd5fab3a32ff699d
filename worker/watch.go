package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ruffel/remotefs/transport"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// WatchWorker is the dedicated watch channel. Requests are serialized like
// on a Worker, but a reader goroutine owns the stream so that watch events
// arriving between responses are delivered to the event handler.
type WatchWorker struct {
	ch   io.ReadWriteCloser
	opts options

	mu      sync.Mutex // serializes requests
	replies chan Response

	done    chan struct{}
	stateMu sync.Mutex
	err     error
}

// NewWatch wraps an established channel and starts its reader.
func NewWatch(ch io.ReadWriteCloser, opts ...Option) *WatchWorker {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	w := &WatchWorker{
		ch:      ch,
		opts:    o,
		replies: make(chan Response, 1),
		done:    make(chan struct{}),
	}

	go w.readLoop(bufio.NewReader(ch))

	return w
}

// StartWatch launches the agent in watch mode. cmd must already carry the
// watcher argument.
func StartWatch(ctx context.Context, env transport.Environment, cmd *transport.Command, opts ...Option) (*WatchWorker, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ch, err := startChannel(ctx, env, cmd, o.logger.Named("watcher"))
	if err != nil {
		return nil, err
	}

	return NewWatch(ch, opts...), nil
}

// Done is closed once the channel has terminated.
func (w *WatchWorker) Done() <-chan struct{} { return w.done }

// Err returns the terminal error, or nil while the channel is usable.
func (w *WatchWorker) Err() error {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	return w.err
}

// Close shuts the channel down without notifying the failure handler.
func (w *WatchWorker) Close() error {
	if !w.terminate(ErrClosed) {
		return nil
	}

	return w.ch.Close()
}

func (w *WatchWorker) terminate(err error) bool {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	if w.err != nil {
		return false
	}

	w.err = err
	close(w.done)

	return true
}

func (w *WatchWorker) fail(err error) error {
	err = fmt.Errorf("watch worker: %w", err)

	if w.terminate(err) {
		_ = w.ch.Close()

		w.opts.logger.Warn("watch channel failed", zap.Error(err))

		if fn := w.opts.onFailure; fn != nil {
			go fn(err)
		}
	}

	return err
}

func (w *WatchWorker) readLoop(r *bufio.Reader) {
	for {
		var resp Response
		if err := ReadFrame(r, &resp); err != nil {
			w.fail(fmt.Errorf("receive: %w", err))

			return
		}

		if resp.Status != StatusEvent {
			select {
			case w.replies <- resp:
			default:
				w.fail(fmt.Errorf("%w: unsolicited response with status %d", ErrProtocol, resp.Status))

				return
			}

			continue
		}

		var ev WatchEvent
		if err := msgpack.Unmarshal(resp.Payload, &ev); err != nil {
			w.fail(fmt.Errorf("%w: decode watch event: %w", ErrProtocol, err))

			return
		}

		if fn := w.opts.onEvent; fn != nil {
			fn(ev)
		}
	}
}

func (w *WatchWorker) call(ctx context.Context, op string, args any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.Err(); err != nil {
		return err
	}

	if err := WriteFrame(w.ch, Request{Op: op, Args: args}); err != nil {
		return w.fail(fmt.Errorf("send %s: %w", op, err))
	}

	var resp Response
	select {
	case resp = <-w.replies:
	case <-w.done:
		return w.Err()
	}

	switch resp.Status {
	case StatusOK:
		return nil
	case StatusError:
		var p ErrorPayload
		if err := msgpack.Unmarshal(resp.Payload, &p); err != nil {
			return w.fail(fmt.Errorf("%w: decode %s error: %w", ErrProtocol, op, err))
		}

		return &RemoteError{Op: op, Code: p.Code, Message: p.Message}
	default:
		return w.fail(fmt.Errorf("%w: unexpected status %d for %s", ErrProtocol, resp.Status, op))
	}
}

// AddWatch subscribes id to changes under path.
func (w *WatchWorker) AddWatch(ctx context.Context, id, path string, opts WatchOptions) error {
	return w.call(ctx, OpAddWatch, WatchArgs{
		ID:        id,
		Path:      path,
		Recursive: opts.Recursive,
		Excludes:  opts.Excludes,
	})
}

// RmWatch cancels the subscription id.
func (w *WatchWorker) RmWatch(ctx context.Context, id string) error {
	return w.call(ctx, OpRmWatch, UnwatchArgs{ID: id})
}
