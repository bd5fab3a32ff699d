package ssh

import (
	"context"
	"fmt"
	"io"
	pathpkg "path"
	"strings"

	"github.com/pkg/sftp"
	"github.com/ruffel/remotefs/fileutil"
	"github.com/ruffel/remotefs/transport"
)

// Upload streams r to remotePath using SFTP, creating missing parent
// directories. A leading "~/" is resolved against the SFTP working directory,
// which OpenSSH sets to the login user's home.
func (e *Environment) Upload(ctx context.Context, r io.Reader, remotePath string, opts ...transport.FileOption) error {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()

		return transport.ErrEnvironmentClosed
	}

	client := e.client
	e.mu.Unlock()

	cfg := transport.DefaultFileConfig()
	for _, o := range opts {
		o(&cfg)
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return &transport.TransportError{Err: fmt.Errorf("failed to create sftp client: %w", err)}
	}

	defer func() { _ = sftpClient.Close() }()

	remotePath = sftpPath(remotePath)

	if dir := pathpkg.Dir(remotePath); dir != "." && dir != "/" {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return fmt.Errorf("failed to create remote directory %q: %w", dir, err)
		}
	}

	dst, err := sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %q: %w", remotePath, err)
	}

	defer func() { _ = dst.Close() }()

	if err := sftpClient.Chmod(remotePath, cfg.Permissions); err != nil {
		return fmt.Errorf("failed to chmod remote file: %w", err)
	}

	var reader io.Reader = &fileutil.ContextReader{Ctx: ctx, Reader: r}
	if cfg.Progress != nil {
		reader = &fileutil.ProgressReader{Reader: reader, Total: sizeOf(r), Fn: cfg.Progress}
	}

	if _, err := io.Copy(dst, reader); err != nil {
		return fmt.Errorf("failed to write remote file %q: %w", remotePath, err)
	}

	return nil
}

// sftpPath converts a shell-style remote path to one the SFTP server accepts.
func sftpPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")

	switch {
	case p == "~":
		return "."
	case strings.HasPrefix(p, "~/"):
		return p[2:]
	default:
		return p
	}
}

// sizeOf returns the remaining length of r when it can be known without reading.
func sizeOf(r io.Reader) int64 {
	if l, ok := r.(interface{ Len() int }); ok {
		return int64(l.Len())
	}

	return 0
}
