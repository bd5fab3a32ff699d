package mock

import (
	"context"
	"io"
	"strings"

	"github.com/ruffel/remotefs/transport"
	"github.com/stretchr/testify/mock"
)

// Environment implements a mock transport.Environment using testify/mock.
type Environment struct {
	mock.Mock
}

var _ transport.Environment = (*Environment)(nil)

// New creates a new mock environment.
func New() *Environment {
	return &Environment{}
}

// Upload mocks streaming content to the remote environment.
func (m *Environment) Upload(ctx context.Context, r io.Reader, remotePath string, opts ...transport.FileOption) error {
	// Variadic capture fix for testify
	args := m.Called(ctx, r, remotePath, opts)

	return args.Error(0)
}

// Run mocks running a command to completion.
func (m *Environment) Run(ctx context.Context, cmd *transport.Command) (*transport.Result, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*transport.Result), args.Error(1)
}

// Start mocks starting a command asynchronously.
func (m *Environment) Start(ctx context.Context, cmd *transport.Command) (transport.Process, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(transport.Process), args.Error(1)
}

// Wait mocks waiting for the connection to terminate.
func (m *Environment) Wait() error {
	args := m.Called()

	return args.Error(0)
}

// Close mocks closing the environment.
func (m *Environment) Close() error {
	args := m.Called()

	return args.Error(0)
}

// Process implements a mock transport.Process using testify/mock.
type Process struct {
	mock.Mock
}

var _ transport.Process = (*Process)(nil)

// Wait mocks waiting for the process to complete.
func (m *Process) Wait() error {
	args := m.Called()

	return args.Error(0)
}

// Result mocks returning the process result.
func (m *Process) Result() *transport.Result {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).(*transport.Result)
}

// Close mocks closing the process.
func (m *Process) Close() error {
	args := m.Called()

	return args.Error(0)
}

// WriteOutput is a helper to simulate output writing for mocked processes.
// Usage: mockProcess.On("Wait").Run(WriteOutput(cmd.Stdout, "output")).Return(nil).
func WriteOutput(w io.Writer, content string) func(mock.Arguments) {
	return func(_ mock.Arguments) {
		if w != nil {
			_, _ = io.WriteString(w, content)
		}
	}
}

// WriteStdout returns a Run hook for "Run" expectations that writes content to
// the Stdout of the command passed to the mocked call.
func WriteStdout(content string) func(mock.Arguments) {
	return func(args mock.Arguments) {
		cmd := args.Get(1).(*transport.Command)
		if cmd.Stdout != nil {
			_, _ = io.WriteString(cmd.Stdout, content)
		}
	}
}

// WriteStderr is like WriteStdout for the command's Stderr.
func WriteStderr(content string) func(mock.Arguments) {
	return func(args mock.Arguments) {
		cmd := args.Get(1).(*transport.Command)
		if cmd.Stderr != nil {
			_, _ = io.WriteString(cmd.Stderr, content)
		}
	}
}

// Hang returns a Run hook that blocks until done is closed. It is used to
// model Environment.Wait on a connection that stays up until closed.
func Hang(done <-chan struct{}) func(mock.Arguments) {
	return func(_ mock.Arguments) {
		<-done
	}
}

// CommandContaining matches a *transport.Command whose shell rendering
// contains every given fragment.
func CommandContaining(fragments ...string) any {
	return mock.MatchedBy(func(cmd *transport.Command) bool {
		rendered := cmd.String()
		for _, f := range fragments {
			if !strings.Contains(rendered, f) {
				return false
			}
		}

		return true
	})
}
