package transport

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_Cmd(t *testing.T) {
	t.Parallel()

	cmd := Cmd("python3").
		Arg("-c").
		Arg("print(1)").
		Dir("/tmp").
		Env("FOO", "bar").
		Input([]byte("some input")).
		Build()

	assert.Equal(t, "python3", cmd.Cmd)
	assert.Equal(t, []string{"-c", "print(1)"}, cmd.Args)
	assert.Equal(t, "/tmp", cmd.Dir)
	assert.Equal(t, []string{"FOO=bar"}, cmd.Env)

	inputBytes, err := io.ReadAll(cmd.Stdin)
	require.NoError(t, err)
	assert.Equal(t, "some input", string(inputBytes))
}

func TestBuilder_Args(t *testing.T) {
	t.Parallel()

	cmd := Cmd("echo").
		Args("hello", "world").
		Build()

	assert.Equal(t, "echo", cmd.Cmd)
	assert.Equal(t, []string{"hello", "world"}, cmd.Args)
}

func TestBuilder_From(t *testing.T) {
	t.Parallel()

	base := NewCommand("/usr/bin/env", "python3")
	cmd := From(base).Arg("-u").Build()

	assert.Equal(t, []string{"python3", "-u"}, cmd.Args)
	assert.Equal(t, []string{"python3"}, base.Args, "original must not be mutated")
}

func TestBuilder_Streams(t *testing.T) {
	t.Parallel()

	var stdout, stderr strings.Builder

	cmd := Cmd("sh").
		Stdout(&stdout).
		Stderr(&stderr).
		Build()

	assert.NotNil(t, cmd.Stdout)
	assert.NotNil(t, cmd.Stderr)
}
