package transporttest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruffel/remotefs/transport"
)

const scratch = "~/.remotefs-contract"

func coreContracts() []TestCase {
	return []TestCase{
		{
			Category: CategoryCore,
			Name:     "simple-echo",
			Run: func(t T, env transport.Environment) {
				res, err := transport.NewExecutor(env).RunShell(t.Context(), "echo hello")
				require.NoError(t, err)

				assert.Equal(t, "hello", strings.TrimSpace(string(res.Stdout)))
				assert.Equal(t, 0, res.ExitCode)
			},
		},
		{
			Category:    CategoryCore,
			Name:        "exit-code",
			Description: "A non-zero exit is a result, not a transport error",
			Run: func(t T, env transport.Environment) {
				res, err := env.Run(t.Context(), transport.ShellCommand("exit 3"))
				require.NoError(t, err)
				assert.Equal(t, 3, res.ExitCode)
			},
		},
		{
			Category:    CategoryCore,
			Name:        "exit-error-carries-stderr",
			Description: "The executor attaches stderr to the ExitError",
			Run: func(t T, env transport.Environment) {
				_, err := transport.NewExecutor(env).RunShell(t.Context(), "echo boom >&2; exit 2")

				var exitErr *transport.ExitError
				require.True(t, errors.As(err, &exitErr))
				assert.Equal(t, 2, exitErr.ExitCode)
				assert.Equal(t, "boom", strings.TrimSpace(string(exitErr.Stderr)))
			},
		},
		{
			Category:    CategoryCore,
			Name:        "stdin",
			Description: "Command stdin reaches the remote process",
			Run: func(t T, env transport.Environment) {
				cmd := transport.From(transport.NewCommand("cat")).Input([]byte("piped")).Build()

				res, err := transport.NewExecutor(env).RunBuffered(t.Context(), cmd)
				require.NoError(t, err)
				assert.Equal(t, "piped", string(res.Stdout))
			},
		},
	}
}

func streamingContracts() []TestCase {
	return []TestCase{
		{
			Category:    CategoryStreaming,
			Name:        "duplex",
			Description: "A started process answers line by line before its stdin closes",
			Run: func(t T, env transport.Environment) {
				stdinR, stdinW := io.Pipe()
				stdoutR, stdoutW := io.Pipe()

				cmd := transport.From(transport.NewCommand("cat")).Stdin(stdinR).Stdout(stdoutW).Build()

				proc, err := env.Start(t.Context(), cmd)
				require.NoError(t, err)

				lines := bufio.NewReader(stdoutR)

				for i := range 3 {
					_, err := fmt.Fprintf(stdinW, "frame %d\n", i)
					require.NoError(t, err)

					line, err := lines.ReadString('\n')
					require.NoError(t, err)
					assert.Equal(t, fmt.Sprintf("frame %d\n", i), line)
				}

				require.NoError(t, stdinW.Close())
				require.NoError(t, proc.Wait())
				_ = stdoutW.Close()
			},
		},
		{
			Category:    CategoryStreaming,
			Name:        "close-stops-process",
			Description: "Closing a process releases a blocked Wait",
			Run: func(t T, env transport.Environment) {
				proc, err := env.Start(t.Context(), transport.ShellCommand("sleep 60"))
				require.NoError(t, err)

				done := make(chan error, 1)

				go func() { done <- proc.Wait() }()

				require.NoError(t, proc.Close())

				select {
				case <-done:
				case <-time.After(10 * time.Second):
					t.Errorf("Wait did not return after Close")
				}
			},
		},
	}
}

func fileContracts() []TestCase {
	return []TestCase{
		{
			Category:    CategoryFiles,
			Name:        "upload-nested",
			Description: "Upload creates parents and honours permissions",
			Run: func(t T, env transport.Environment) {
				ctx := t.Context()
				exec := transport.NewExecutor(env)

				defer func() { _, _ = exec.RunShell(ctx, "rm -rf "+scratch) }()

				payload := bytes.Repeat([]byte("agent"), 4096)

				err := env.Upload(ctx, bytes.NewReader(payload), scratch+"/nested/worker.zip", transport.WithPermissions(0o600))
				require.NoError(t, err)

				res, err := exec.RunShell(ctx, "wc -c < "+scratch+"/nested/worker.zip; stat -c %a "+scratch+"/nested/worker.zip")
				require.NoError(t, err)

				fields := strings.Fields(string(res.Stdout))
				require.Len(t, fields, 2)
				assert.Equal(t, fmt.Sprint(len(payload)), fields[0])
				assert.Equal(t, "600", fields[1])
			},
		},
	}
}

func lifecycleContracts() []TestCase {
	return []TestCase{
		{
			Category:    CategoryLifecycle,
			Name:        "close-idempotent",
			Description: "Closing an environment multiple times is deterministic and non-fatal",
			Run: func(t T, env transport.Environment) {
				require.NoError(t, env.Close())
				require.NoError(t, env.Close())
			},
		},
		{
			Category:    CategoryLifecycle,
			Name:        "close-post-use-fails",
			Description: "Run, Start and Upload fail deterministically after close",
			Run: func(t T, env transport.Environment) {
				ctx := t.Context()
				require.NoError(t, env.Close())

				_, err := env.Run(ctx, transport.ShellCommand("true"))
				require.ErrorIs(t, err, transport.ErrEnvironmentClosed)

				_, err = env.Start(ctx, transport.ShellCommand("true"))
				require.ErrorIs(t, err, transport.ErrEnvironmentClosed)

				err = env.Upload(ctx, strings.NewReader("x"), scratch+"/x")
				require.ErrorIs(t, err, transport.ErrEnvironmentClosed)
			},
		},
		{
			Category:    CategoryLifecycle,
			Name:        "wait-returns-on-close",
			Description: "Wait unblocks with a nil error after a clean Close",
			Run: func(t T, env transport.Environment) {
				done := make(chan error, 1)

				go func() { done <- env.Wait() }()

				require.NoError(t, env.Close())

				select {
				case err := <-done:
					assert.NoError(t, err)
				case <-time.After(10 * time.Second):
					t.Errorf("Wait did not return after Close")
				}
			},
		},
	}
}
