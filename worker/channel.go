package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ruffel/remotefs/transport"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"
)

// procChannel adapts a remote process to a duplex byte stream.
type procChannel struct {
	proc transport.Process
	in   *io.PipeWriter
	out  *io.PipeReader

	exited  chan struct{}
	exitErr error

	once sync.Once
}

func (c *procChannel) Read(p []byte) (int, error)  { return c.out.Read(p) }
func (c *procChannel) Write(p []byte) (int, error) { return c.in.Write(p) }

func (c *procChannel) Close() error {
	var err error

	c.once.Do(func() {
		_ = c.in.Close()
		_ = c.out.Close()
		err = c.proc.Close()
	})

	return err
}

// startChannel runs cmd through env and wires its stdio into a channel.
// The process lives until ctx is done or the channel is closed.
func startChannel(ctx context.Context, env transport.Environment, cmd *transport.Command, logger *zap.Logger) (*procChannel, error) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	c := transport.From(cmd).
		Stdin(stdinR).
		Stdout(stdoutW).
		Stderr(&zapio.Writer{Log: logger, Level: zap.DebugLevel}).
		Build()

	proc, err := env.Start(ctx, c)
	if err != nil {
		_ = stdinW.Close()
		_ = stdoutR.Close()

		return nil, err
	}

	pc := &procChannel{proc: proc, in: stdinW, out: stdoutR, exited: make(chan struct{})}

	go func() {
		err := proc.Wait()
		if err == nil {
			err = errors.New("agent exited")
		}

		pc.exitErr = fmt.Errorf("agent process ended: %w", err)
		_ = stdoutW.CloseWithError(pc.exitErr)
		_ = stdinR.Close()
		close(pc.exited)
	}()

	return pc, nil
}
