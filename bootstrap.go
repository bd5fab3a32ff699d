package remotefs

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/ruffel/remotefs/agent"
	"github.com/ruffel/remotefs/fileutil"
	"github.com/ruffel/remotefs/transport"
)

// bootstrap makes sure the host runs the configured agent: probe, upload
// once if absent or stale, then probe again.
func (c *Connection) bootstrap(ctx context.Context, env transport.Environment, interp *transport.Command) error {
	script := c.opts.script
	exec := transport.NewExecutor(env)

	res, err := c.probe(ctx, exec, interp)
	if err != nil {
		return &BootstrapError{Host: c.name, Stage: StageProbe, Err: err}
	}

	if res.Current(script) {
		c.log.Debug("agent is current", zap.String("hash", res.Hash))

		return nil
	}

	c.log.Info("installing agent",
		zap.String("remote_hash", res.Hash),
		zap.String("local_hash", script.Hash()),
		zap.String("method", string(c.uploadMethod())),
	)

	if err := c.upload(ctx, exec, interp, script); err != nil {
		return &BootstrapError{Host: c.name, Stage: StageUpload, Err: err}
	}

	res, err = c.probe(ctx, exec, interp)
	if err != nil {
		return &BootstrapError{Host: c.name, Stage: StageVerify, Err: err}
	}

	if !res.Current(script) {
		return &BootstrapError{Host: c.name, Stage: StageVerify, Err: ErrAgentHashMismatch}
	}

	return nil
}

func (c *Connection) probe(ctx context.Context, exec *transport.Executor, interp *transport.Command) (agent.ProbeResult, error) {
	out, err := exec.RunShell(ctx, agent.ProbeScript(interp))
	if len(out.Stderr) > 0 {
		c.log.Debug("probe stderr", zap.ByteString("stderr", out.Stderr))
	}

	if err != nil {
		return agent.ProbeResult{}, err
	}

	res, err := agent.ParseProbe(string(out.Stdout))
	if err != nil {
		return res, err
	}

	if res.Status == agent.StatusNoInterpreter {
		return res, ErrNoInterpreter
	}

	return res, nil
}

func (c *Connection) uploadMethod() UploadMethod {
	if c.cfg.UploadMethod == "" {
		return UploadStdin
	}

	return c.cfg.UploadMethod
}

func (c *Connection) upload(ctx context.Context, exec *transport.Executor, interp *transport.Command, script *agent.Script) error {
	progress := c.opts.progress

	if c.uploadMethod() == UploadSFTP {
		fopts := []transport.FileOption{transport.WithPermissions(0o600)}
		if progress != nil {
			fopts = append(fopts, transport.WithProgress(progress))
		}

		return exec.Upload(ctx, script.Reader(), agent.Path, fopts...)
	}

	var stdin io.Reader = script.Reader()
	if progress != nil {
		stdin = &fileutil.ProgressReader{Reader: stdin, Total: int64(script.Len()), Fn: progress}
	}

	_, err := exec.RunBuffered(ctx, agent.UploadCommand(interp, stdin))

	return err
}
