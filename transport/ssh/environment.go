package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ruffel/remotefs/transport"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

var _ transport.Environment = (*Environment)(nil)

// Environment implements transport.Environment for SSH execution.
type Environment struct {
	config Config
	client *ssh.Client
	mu     sync.Mutex
	active int
	closed bool
}

// loadAgentAuth connects to the SSH agent and returns an ssh.AuthMethod.
// Returns nil if UseAgent is false or the agent socket is unavailable.
func loadAgentAuth(ctx context.Context, useAgent bool) ssh.AuthMethod {
	if !useAgent {
		return nil
	}

	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	conn, err := (&net.Dialer{Timeout: 500 * time.Millisecond}).DialContext(ctx, "unix", socket)
	if err != nil {
		return nil
	}

	signers, err := agent.NewClient(conn).Signers()
	if err != nil {
		return nil
	}

	return ssh.PublicKeys(signers...)
}

// New establishes a new SSH connection. The context bounds both the TCP dial
// and the SSH handshake.
func New(ctx context.Context, c Config) (*Environment, error) {
	c = c.WithDefaults()

	if c.HostKeyCheck == nil && c.KnownHostsFile != "" {
		cb, err := knownhosts.New(c.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts %s: %w", c.KnownHostsFile, err)
		}

		c.HostKeyCheck = cb
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	clientConfig, err := c.ToClientConfig()
	if err != nil {
		return nil, err
	}

	if agentAuth := loadAgentAuth(ctx, c.UseAgent); agentAuth != nil {
		clientConfig.Auth = append(clientConfig.Auth, agentAuth)
	}

	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))

	conn, err := (&net.Dialer{Timeout: c.Timeout}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ssh at %s: %w", addr, err)
	}

	// The handshake itself is not context-aware; closing the socket aborts it.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if !stop() {
		if err == nil {
			_ = sshConn.Close()
		}

		return nil, fmt.Errorf("failed to dial ssh at %s: %w", addr, ctx.Err())
	}

	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("failed to dial ssh at %s: %w", addr, err)
	}

	return NewFromClient(ssh.NewClient(sshConn, chans, reqs), c), nil
}

// NewFromClient creates a new SSH environment from an existing client.
func NewFromClient(client *ssh.Client, config Config) *Environment {
	return &Environment{
		config: config,
		client: client,
	}
}

// Run executes a command synchronously on the remote server.
func (e *Environment) Run(ctx context.Context, cmd *transport.Command) (*transport.Result, error) {
	proc, err := e.Start(ctx, cmd)
	if err != nil {
		return nil, err
	}

	defer func() { _ = proc.Close() }()

	if err := proc.Wait(); err != nil {
		var exitErr *transport.ExitError
		if errors.As(err, &exitErr) {
			return proc.Result(), nil
		}

		return nil, err
	}

	return proc.Result(), nil
}

// Start opens a NEW SSH session for the command.
func (e *Environment) Start(ctx context.Context, cmd *transport.Command) (transport.Process, error) {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()

		return nil, transport.ErrEnvironmentClosed
	}

	e.active++
	e.mu.Unlock()

	session, err := e.client.NewSession()
	if err != nil {
		e.decrementActive()

		return nil, &transport.TransportError{Command: cmd, Err: fmt.Errorf("failed to create ssh session: %w", err)}
	}

	process := &Process{
		env:     e,
		session: session,
		cmd:     cmd,
		done:    make(chan struct{}),
	}

	if err := process.start(ctx); err != nil {
		_ = session.Close()

		e.decrementActive()

		return nil, &transport.TransportError{Command: cmd, Err: err}
	}

	return process, nil
}

// Wait blocks until the underlying SSH connection terminates and returns the
// reason, or nil when it ended through Close.
func (e *Environment) Wait() error {
	err := e.client.Wait()

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()

	if closed {
		return nil
	}

	return err
}

// Active reports the number of sessions currently open.
func (e *Environment) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.active
}

// Close closes the underlying SSH connection.
func (e *Environment) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}

	e.closed = true

	if e.client != nil {
		return e.client.Close()
	}

	return nil
}

func (e *Environment) decrementActive() {
	e.mu.Lock()
	e.active--
	e.mu.Unlock()
}
