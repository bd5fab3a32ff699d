package ssh

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/ruffel/remotefs/transport"
	"golang.org/x/crypto/ssh"
)

var _ transport.Process = (*Process)(nil)

// Process implements transport.Process for SSH execution.
type Process struct {
	env     *Environment
	session *ssh.Session
	cmd     *transport.Command

	result *transport.Result
	mu     sync.RWMutex
	done   chan struct{}
	closed bool
}

// Wait blocks until the command completes.
// Closing the process while a Wait is pending unblocks it.
func (p *Process) Wait() error {
	<-p.done

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.result.Error != nil {
		// If it's a clean exit error, convert to transport.ExitError
		exitErr := &ssh.ExitError{}
		if errors.As(p.result.Error, &exitErr) {
			return &transport.ExitError{
				Command:  p.cmd,
				ExitCode: exitErr.ExitStatus(),
				Cause:    p.result.Error,
			}
		}

		return &transport.TransportError{Command: p.cmd, Err: p.result.Error}
	}

	return nil
}

// Result returns the command execution result.
func (p *Process) Result() *transport.Result {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.result == nil {
		return &transport.Result{}
	}

	return &transport.Result{
		ExitCode: p.result.ExitCode,
		Duration: p.result.Duration,
		Error:    p.result.Error,
	}
}

// Close terminates the SSH session.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true

	if p.session != nil {
		err := p.session.Close()
		if errors.Is(err, io.EOF) {
			return nil
		}

		return err
	}

	return nil
}

// kill asks the remote side to terminate the command, then closes the session.
func (p *Process) kill() {
	p.mu.RLock()
	session, closed := p.session, p.closed
	p.mu.RUnlock()

	if !closed && session != nil {
		_ = session.Signal(ssh.SIGKILL)
	}

	_ = p.Close()
}

func (p *Process) start(ctx context.Context) error {
	if p.cmd.Stdout != nil {
		p.session.Stdout = p.cmd.Stdout
	}

	if p.cmd.Stderr != nil {
		p.session.Stderr = p.cmd.Stderr
	}

	if p.cmd.Stdin != nil {
		p.session.Stdin = p.cmd.Stdin
	}

	startTime := time.Now()

	// Prepend env and dir to the command
	// Format: [vars] [cd] [cmd]
	// Example: export VAR='1'; cd '/tmp' && 'echo' 'hello'
	if err := p.session.Start(buildFullCommand(p.cmd)); err != nil {
		return err
	}

	go func() {
		defer close(p.done)
		defer p.env.decrementActive()

		// Monitor context cancellation
		doneCheck := make(chan struct{})

		go func() {
			select {
			case <-ctx.Done():
				p.kill()
			case <-doneCheck:
				// Process finished naturally, stop monitor
			}
		}()

		err := p.session.Wait()

		close(doneCheck) // Signal monitor to exit

		duration := time.Since(startTime)

		var exitCode int

		if err != nil {
			exitErr := &ssh.ExitError{}
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitStatus()
			} else {
				exitCode = 255 // Unknown/connection error
			}
		}

		p.mu.Lock()
		p.result = &transport.Result{
			ExitCode: exitCode,
			Duration: duration,
			Error:    err,
		}
		p.mu.Unlock()
	}()

	return nil
}
