package remotefs_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/ruffel/remotefs"
	"github.com/ruffel/remotefs/agent"
	"github.com/ruffel/remotefs/transport"
	"github.com/ruffel/remotefs/transport/mock"
	sshtransport "github.com/ruffel/remotefs/transport/ssh"
	"github.com/ruffel/remotefs/worker/workertest"
	tmock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testScript = agent.NewScript([]byte("PK fake agent payload"))

// agentEnv is a mocked session whose worker launches are served by an
// in-memory agent. Probe and upload commands go through the mock.
type agentEnv struct {
	*mock.Environment

	agent *workertest.Agent
	drop  func()
}

func (e *agentEnv) Start(ctx context.Context, cmd *transport.Command) (transport.Process, error) {
	return e.agent.Start(ctx, cmd)
}

func newAgentEnv(t *testing.T) *agentEnv {
	t.Helper()

	ended := make(chan struct{})

	var once sync.Once

	env := &agentEnv{
		Environment: mock.New(),
		agent:       workertest.New(),
		drop:        func() { once.Do(func() { close(ended) }) },
	}

	env.On("Wait").Run(mock.Hang(ended)).Return(errors.New("session closed")).Maybe()
	env.On("Close").Run(func(tmock.Arguments) {
		env.drop()
		env.agent.Kill()
	}).Return(nil).Maybe()

	t.Cleanup(env.drop)

	return env
}

// probe queues one probe answer per call.
func (e *agentEnv) probe(outputs ...string) *agentEnv {
	for _, out := range outputs {
		e.On("Run", tmock.Anything, mock.CommandContaining("command -v")).
			Run(mock.WriteStdout(out)).
			Return(&transport.Result{}, nil).
			Once()
	}

	return e
}

func (e *agentEnv) current() *agentEnv {
	return e.probe("[ponyfs-marker h " + testScript.Hash() + "]\n")
}

// expectUpload accepts one stdin upload and records the payload.
func (e *agentEnv) expectUpload(got *[]byte) *tmock.Call {
	return e.On("Run", tmock.Anything, mock.CommandContaining("sys.stdin")).
		Run(func(args tmock.Arguments) {
			cmd := args.Get(1).(*transport.Command)
			*got, _ = io.ReadAll(cmd.Stdin)
		}).
		Return(&transport.Result{}, nil).
		Once()
}

func (e *agentEnv) dialer() remotefs.Dialer {
	return func(context.Context, remotefs.HostConfig, sshtransport.PassphraseFunc) (transport.Environment, error) {
		return e, nil
	}
}

func newConnection(env *agentEnv, opts ...remotefs.Option) *remotefs.Connection {
	base := []remotefs.Option{
		remotefs.WithAgentScript(testScript),
		remotefs.WithDialer(env.dialer()),
	}

	return remotefs.NewConnection("test", remotefs.HostConfig{Host: "example.com"}, append(base, opts...)...)
}

func connect(t *testing.T, env *agentEnv, opts ...remotefs.Option) *remotefs.Connection {
	t.Helper()

	c := newConnection(env, opts...)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	return c
}
