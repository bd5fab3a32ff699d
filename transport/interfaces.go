// Package transport abstracts the remote side of a connection as something that can run commands.
//
// # Core Interfaces
//
// - Environment: The session to a remote system (SSH in production, mocks in tests).
// - Process: A running command handle (allows Wait, Close).
//
// # Streaming
//
// Output is never buffered by default. Attach an io.Writer to a Command to capture stdout/stderr,
// or attach an io.Reader/io.Writer pair to drive a long-lived command as a duplex byte stream.
//
// For simple "just give me the output" cases, use the Executor wrapper.
package transport

import (
	"context"
	"io"
)

// Environment abstracts the underlying system where commands are executed.
type Environment interface {
	io.Closer

	// Run executes a command synchronously.
	// Returns the result (exit code, error). Output is not captured by default; use Command.Stdout/Stderr.
	Run(ctx context.Context, cmd *Command) (*Result, error)

	// Start initiates a command asynchronously.
	// The caller manages the returned Process and must ensure resources are released via
	// either Wait() or Close().
	Start(ctx context.Context, cmd *Command) (Process, error)

	// Upload copies raw bytes to a file at remotePath, creating missing parent directories.
	Upload(ctx context.Context, r io.Reader, remotePath string, opts ...FileOption) error

	// Wait blocks until the environment's underlying transport shuts down and returns the
	// error that caused the shutdown (nil after a clean Close).
	Wait() error
}

// Process represents a command that has been started but not yet completed.
type Process interface {
	io.Closer

	// Wait blocks until the process exits.
	// Returns an error if the exit code is non-zero or the transport failed.
	Wait() error

	// Result returns metadata (exit code, duration) (only valid after Wait).
	Result() *Result
}
