package ssh

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ruffel/remotefs/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// execHandler runs one exec request against the session channel and returns
// its exit status.
type execHandler func(command string, ch ssh.Channel) uint32

type testServer struct {
	ln      net.Listener
	handler execHandler

	mu    sync.Mutex
	conns []*ssh.ServerConn
}

func startTestServer(t *testing.T, handler execHandler) *testServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{NoClientAuth: true}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testServer{ln: ln, handler: handler}

	t.Cleanup(func() {
		_ = ln.Close()
		s.dropAll()
	})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go s.serve(conn, cfg)
		}
	}()

	return s
}

func (s *testServer) serve(conn net.Conn, cfg *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		_ = conn.Close()

		return
	}

	s.mu.Lock()
	s.conns = append(s.conns, sconn)
	s.mu.Unlock()

	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported")

			continue
		}

		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}

		go s.session(ch, chReqs)
	}
}

func (s *testServer) session(ch ssh.Channel, reqs <-chan *ssh.Request) {
	for req := range reqs {
		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}

			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)

			continue
		}

		_ = req.Reply(true, nil)

		go func() {
			status := s.handler(payload.Command, ch)
			_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
			_ = ch.Close()
		}()
	}
}

func (s *testServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conns {
		_ = c.Close()
	}
}

func (s *testServer) config() Config {
	addr := s.ln.Addr().(*net.TCPAddr)

	c := NewConfig("127.0.0.1", "tester")
	c.Port = addr.Port
	c.InsecureSkipVerify = true
	c.Timeout = 5 * time.Second

	return c
}

func dial(t *testing.T, s *testServer) *Environment {
	t.Helper()

	env, err := New(context.Background(), s.config())
	require.NoError(t, err)

	t.Cleanup(func() { _ = env.Close() })

	return env
}

func scriptedHandler(command string, ch ssh.Channel) uint32 {
	switch {
	case strings.HasPrefix(command, "'echo' "):
		_, _ = io.WriteString(ch, strings.Trim(strings.TrimPrefix(command, "'echo' "), "'")+"\n")

		return 0
	case strings.HasPrefix(command, "'cat'"):
		_, _ = io.Copy(ch, ch)

		return 0
	case strings.HasPrefix(command, "'exit' "):
		_, _ = io.WriteString(ch.Stderr(), "bad things")
		code, _ := strconv.Atoi(strings.Trim(strings.TrimPrefix(command, "'exit' "), "'"))

		return uint32(code)
	case strings.HasPrefix(command, "'sleep'"):
		time.Sleep(10 * time.Second)

		return 0
	default:
		return 127
	}
}

func TestEnvironment_Run(t *testing.T) {
	t.Parallel()

	env := dial(t, startTestServer(t, scriptedHandler))
	ctx := context.Background()

	t.Run("stdout", func(t *testing.T) {
		t.Parallel()

		var stdout bytes.Buffer

		res, err := env.Run(ctx, &transport.Command{Cmd: "echo", Args: []string{"hello"}, Stdout: &stdout})
		require.NoError(t, err)
		assert.Equal(t, 0, res.ExitCode)
		assert.Equal(t, "hello\n", stdout.String())
	})

	t.Run("stdin", func(t *testing.T) {
		t.Parallel()

		var stdout bytes.Buffer

		cmd := transport.Cmd("cat").Input([]byte("piped through")).Stdout(&stdout).Build()

		_, err := env.Run(ctx, cmd)
		require.NoError(t, err)
		assert.Equal(t, "piped through", stdout.String())
	})

	t.Run("non-zero exit is a result, not an error", func(t *testing.T) {
		t.Parallel()

		res, err := env.Run(ctx, transport.NewCommand("exit", "3"))
		require.NoError(t, err)
		assert.Equal(t, 3, res.ExitCode)
	})

	t.Run("executor reports exit error with stderr", func(t *testing.T) {
		t.Parallel()

		_, err := transport.NewExecutor(env).RunBuffered(ctx, transport.NewCommand("exit", "4"))

		var exitErr *transport.ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 4, exitErr.ExitCode)
		assert.Equal(t, "bad things", string(exitErr.Stderr))
	})
}

func TestEnvironment_StartCancel(t *testing.T) {
	t.Parallel()

	env := dial(t, startTestServer(t, scriptedHandler))

	ctx, cancel := context.WithCancel(context.Background())

	proc, err := env.Start(ctx, transport.NewCommand("sleep", "10"))
	require.NoError(t, err)

	cancel()

	done := make(chan error, 1)

	go func() { done <- proc.Wait() }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after context cancellation")
	}
}

func TestEnvironment_CloseAndWait(t *testing.T) {
	t.Parallel()

	env := dial(t, startTestServer(t, scriptedHandler))

	waited := make(chan error, 1)

	go func() { waited <- env.Wait() }()

	require.NoError(t, env.Close())
	require.NoError(t, env.Close(), "close is idempotent")

	select {
	case err := <-waited:
		assert.NoError(t, err, "a clean close is not a failure")
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after Close")
	}

	_, err := env.Start(context.Background(), transport.NewCommand("echo", "x"))
	require.ErrorIs(t, err, transport.ErrEnvironmentClosed)

	err = env.Upload(context.Background(), strings.NewReader("x"), "~/x")
	require.ErrorIs(t, err, transport.ErrEnvironmentClosed)
}

func TestEnvironment_WaitReportsServerDrop(t *testing.T) {
	t.Parallel()

	srv := startTestServer(t, scriptedHandler)
	env := dial(t, srv)

	waited := make(chan error, 1)

	go func() { waited <- env.Wait() }()

	srv.dropAll()

	select {
	case err := <-waited:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not observe the dropped connection")
	}
}

func TestNew_CancelledContext(t *testing.T) {
	t.Parallel()

	srv := startTestServer(t, scriptedHandler)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(ctx, srv.config())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || strings.Contains(err.Error(), "operation was canceled"))
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Host: "example.com", User: "root"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HostKeyCheck")
}
