package mock

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ruffel/remotefs/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMockEnvironment(t *testing.T) {
	t.Parallel()

	env := New()
	ctx := context.Background()

	expectedRes := &transport.Result{ExitCode: 0}
	env.On("Run", ctx, mock.AnythingOfType("*transport.Command")).Return(expectedRes, nil)

	res, err := env.Run(ctx, &transport.Command{Cmd: "echo"})
	require.NoError(t, err)
	assert.Equal(t, expectedRes, res)

	body := strings.NewReader("payload")
	env.On("Upload", ctx, body, "dst", mock.Anything).Return(nil)

	err = env.Upload(ctx, body, "dst")
	require.NoError(t, err)

	env.AssertExpectations(t)
}

func TestMockEnvironment_WriteStdout(t *testing.T) {
	t.Parallel()

	env := New()
	env.On("Run", mock.Anything, CommandContaining("md5sum")).
		Run(WriteStdout("[marker h abc]\n")).
		Return(&transport.Result{}, nil)

	var stdout bytes.Buffer

	cmd := transport.ShellCommand("md5sum file")
	cmd.Stdout = &stdout

	_, err := env.Run(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, "[marker h abc]\n", stdout.String())
}

func TestMockEnvironment_Hang(t *testing.T) {
	t.Parallel()

	env := New()
	done := make(chan struct{})

	env.On("Wait").Run(Hang(done)).Return(nil)

	returned := make(chan error, 1)

	go func() { returned <- env.Wait() }()

	select {
	case <-returned:
		t.Fatal("Wait returned before release")
	case <-time.After(20 * time.Millisecond):
	}

	close(done)

	require.NoError(t, <-returned)
}

func TestMockProcess(t *testing.T) {
	t.Parallel()

	proc := new(Process)

	var out bytes.Buffer

	proc.On("Wait").Run(WriteOutput(&out, "done")).Return(nil)
	proc.On("Result").Return(&transport.Result{ExitCode: 0})
	proc.On("Close").Return(nil)

	require.NoError(t, proc.Wait())
	assert.Equal(t, "done", out.String())
	assert.True(t, proc.Result().Success())
	require.NoError(t, proc.Close())

	proc.AssertExpectations(t)
}
