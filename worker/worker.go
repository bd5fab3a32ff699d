package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ruffel/remotefs/transport"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Worker is one pooled channel to the agent. It executes one operation at a
// time; callers get concurrency by holding several Workers.
type Worker struct {
	ch   io.ReadWriteCloser
	r    *bufio.Reader
	opts options

	mu sync.Mutex // held for the whole request/response exchange

	stateMu sync.Mutex
	err     error // terminal error, set once
}

// New wraps an established channel.
func New(ch io.ReadWriteCloser, opts ...Option) *Worker {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Worker{ch: ch, r: bufio.NewReader(ch), opts: o}
}

// Start launches the agent with cmd over env and returns a Worker for it.
// ctx bounds the lifetime of the remote process, not just the start.
func Start(ctx context.Context, env transport.Environment, cmd *transport.Command, opts ...Option) (*Worker, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ch, err := startChannel(ctx, env, cmd, o.logger.Named("agent"))
	if err != nil {
		return nil, err
	}

	w := New(ch, opts...)

	// A process that dies between requests is reported without waiting
	// for the next call.
	go func() {
		<-ch.exited
		w.fail(ch.exitErr)
	}()

	return w, nil
}

// ID returns the label given with WithID.
func (w *Worker) ID() int { return w.opts.id }

// Err returns the terminal error, or nil while the worker is usable.
func (w *Worker) Err() error {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	return w.err
}

// Close shuts the channel down. The failure handler is not invoked.
func (w *Worker) Close() error {
	if !w.terminate(ErrClosed) {
		return nil
	}

	return w.ch.Close()
}

// terminate records err as terminal. It reports false if already terminated.
func (w *Worker) terminate(err error) bool {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	if w.err != nil {
		return false
	}

	w.err = err

	return true
}

// fail marks the channel broken, closes it and notifies the observer.
func (w *Worker) fail(err error) error {
	err = fmt.Errorf("worker %d: %w", w.opts.id, err)

	if w.terminate(err) {
		_ = w.ch.Close()

		w.opts.logger.Debug("worker channel failed", zap.Int("worker", w.opts.id), zap.Error(err))

		if fn := w.opts.onFailure; fn != nil {
			go fn(err)
		}
	}

	return err
}

// call performs one request/response exchange and decodes an ok payload into out.
func (w *Worker) call(ctx context.Context, op string, args, out any) error {
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
	if err := ReadFrame(w.r, &resp); err != nil {
		return w.fail(fmt.Errorf("receive %s: %w", op, err))
	}

	return w.decode(op, resp, out)
}

func (w *Worker) decode(op string, resp Response, out any) error {
	switch resp.Status {
	case StatusOK:
		if out == nil {
			return nil
		}

		if err := msgpack.Unmarshal(resp.Payload, out); err != nil {
			return w.fail(fmt.Errorf("%w: decode %s result: %w", ErrProtocol, op, err))
		}

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

// ServerInfo fetches the session identity record.
func (w *Worker) ServerInfo(ctx context.Context) (ServerInfo, error) {
	var info ServerInfo
	err := w.call(ctx, OpServerInfo, struct{}{}, &info)

	return info, err
}

// ExpandPath resolves path, including a leading "~", to an absolute path.
func (w *Worker) ExpandPath(ctx context.Context, path string) (string, error) {
	var out string
	err := w.call(ctx, OpExpandPath, PathArgs{Path: path}, &out)

	return out, err
}

// List returns the entries of the directory at path keyed by name.
func (w *Worker) List(ctx context.Context, path string) (map[string]Stat, error) {
	var out map[string]Stat
	if err := w.call(ctx, OpList, PathArgs{Path: path}, &out); err != nil {
		return nil, err
	}

	if out == nil {
		out = map[string]Stat{}
	}

	return out, nil
}

// ReadFile returns the content at path. If cachedHash matches the remote
// content, the result is marked Unchanged and carries no data.
func (w *Worker) ReadFile(ctx context.Context, path, cachedHash string) (ReadResult, error) {
	var out ReadResult
	err := w.call(ctx, OpFileRead, ReadArgs{Path: path, CachedHash: cachedHash}, &out)

	return out, err
}

// WriteFile writes data to path.
func (w *Worker) WriteFile(ctx context.Context, path string, data []byte, opts WriteOptions) error {
	return w.call(ctx, OpFileWrite, WriteArgs{
		Path:      path,
		Data:      data,
		Create:    opts.Create,
		Overwrite: opts.Overwrite,
	}, nil)
}

// WriteFileDiff writes updated to path by sending only its delta against
// original, which must be the current remote content.
func (w *Worker) WriteFileDiff(ctx context.Context, path string, original, updated []byte, opts WriteOptions) error {
	return w.call(ctx, OpFileWriteDiff, WriteDiffArgs{
		Path:      path,
		BaseHash:  Hash(original),
		Delta:     ComputeDelta(original, updated),
		Create:    opts.Create,
		Overwrite: opts.Overwrite,
	}, nil)
}

// Rename moves from to to.
func (w *Worker) Rename(ctx context.Context, from, to string, opts RenameOptions) error {
	return w.call(ctx, OpRename, RenameArgs{From: from, To: to, Overwrite: opts.Overwrite}, nil)
}

// Delete removes path.
func (w *Worker) Delete(ctx context.Context, path string) error {
	return w.call(ctx, OpDelete, PathArgs{Path: path}, nil)
}

// Mkdir creates the directory path.
func (w *Worker) Mkdir(ctx context.Context, path string) error {
	return w.call(ctx, OpMkdir, PathArgs{Path: path}, nil)
}

// IsChannelError reports whether err means the worker's channel is gone, as
// opposed to an operation failure reported by the agent or a cancelled context.
func IsChannelError(err error) bool {
	if err == nil || IsRemote(err) {
		return false
	}

	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
