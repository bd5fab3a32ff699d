//go:build integration

package ssh

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"strconv"
	"testing"
	"time"

	"github.com/ruffel/remotefs/transport"
	"github.com/ruffel/remotefs/transport/transporttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

const (
	sshTestImage       = "lscr.io/linuxserver/openssh-server:latest"
	sshTestContainer   = "remotefs-ssh-test-container"
	sshTestPortDefault = 2224
)

func TestIntegration(t *testing.T) {
	config, cleanup := setupSSHEnvironment(t)
	defer cleanup()

	t.Logf("Connecting to %s@%s:%d...", config.User, config.Host, config.Port)

	ctx := context.Background()

	env, err := New(ctx, config)
	require.NoError(t, err)
	defer env.Close()

	t.Run("Run simple command", func(t *testing.T) {
		var stdout bytes.Buffer
		cmd := transport.Command{
			Cmd:    "echo",
			Args:   []string{"hello ssh"},
			Stdout: &stdout,
		}

		res, err := env.Run(ctx, &cmd)
		require.NoError(t, err)
		assert.Equal(t, 0, res.ExitCode)
		assert.Equal(t, "hello ssh\n", stdout.String())
	})

	t.Run("Run error command", func(t *testing.T) {
		res, err := env.Run(ctx, transport.ShellCommand("exit 1"))
		require.NoError(t, err)
		assert.Equal(t, 1, res.ExitCode)
	})

	t.Run("Upload to home relative path", func(t *testing.T) {
		remotePath := "~/.remotefs-it/nested/upload.txt"

		err := env.Upload(ctx, strings.NewReader("ssh-transfer-content"), remotePath, transport.WithPermissions(0o644))
		require.NoError(t, err)

		var stdout bytes.Buffer
		catCmd := transport.ShellCommand("cat ~/.remotefs-it/nested/upload.txt")
		catCmd.Stdout = &stdout
		_, err = env.Run(ctx, catCmd)
		require.NoError(t, err)
		assert.Equal(t, "ssh-transfer-content", stdout.String())

		_, _ = env.Run(ctx, transport.ShellCommand("rm -rf ~/.remotefs-it"))
	})

	t.Run("Working Directory", func(t *testing.T) {
		var stdout bytes.Buffer
		cmd := transport.Command{
			Cmd:    "pwd",
			Dir:    "/tmp",
			Stdout: &stdout,
		}
		_, err := env.Run(ctx, &cmd)
		require.NoError(t, err)
		assert.Contains(t, stdout.String(), "/tmp")
	})

	t.Run("Environment Variables", func(t *testing.T) {
		var stdout bytes.Buffer
		cmd := transport.Command{
			Cmd:    "sh",
			Args:   []string{"-c", "echo $REMOTEFS_TEST_VAR"},
			Env:    []string{"REMOTEFS_TEST_VAR=hello_env"},
			Stdout: &stdout,
		}
		_, err := env.Run(ctx, &cmd)
		require.NoError(t, err)
		assert.Equal(t, "hello_env\n", stdout.String())
	})
}

func TestContract(t *testing.T) {
	config, cleanup := setupSSHEnvironment(t)
	defer cleanup()

	transporttest.Verify(t, func(t transporttest.T) transport.Environment {
		env, err := New(t.Context(), config)
		require.NoError(t, err)

		return env
	})
}

// setupSSHEnvironment determines if we should use an existing SSH host or spin up a Docker container.
func setupSSHEnvironment(t *testing.T) (Config, func()) {
	// Check for manual override (e.g. CI or manual testing)
	host := os.Getenv("SSH_TEST_HOST")
	if host != "" {
		portStr := os.Getenv("SSH_TEST_PORT")
		port, _ := strconv.Atoi(portStr)
		if port == 0 {
			port = 22
		}
		return Config{
			Host:               host,
			Port:               port,
			User:               os.Getenv("SSH_TEST_USER"),
			Password:           os.Getenv("SSH_TEST_PASS"),
			PrivateKeyPath:     os.Getenv("SSH_TEST_KEY_PATH"),
			Timeout:            5 * time.Second,
			InsecureSkipVerify: true,
		}, func() {}
	}

	// Fallback to Docker
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("SSH_TEST_HOST not set and docker not found in PATH")
	}

	privKey, pubKey, err := generateSSHKey()
	require.NoError(t, err)

	tmpDir := t.TempDir()
	keyPath := filepath.Join(tmpDir, "id_rsa_test")
	err = os.WriteFile(keyPath, privKey, 0600)
	require.NoError(t, err)

	sshTestUser := "testuser"

	// Cleanup existing container if any
	_ = exec.Command("docker", "rm", "-f", sshTestContainer).Run()

	cmd := exec.Command("docker", "run", "-d",
		"--name", sshTestContainer,
		"-p", fmt.Sprintf("%d:2222", sshTestPortDefault),
		"-e", "PUID=1000",
		"-e", "PGID=1000",
		"-e", "USER_NAME="+sshTestUser,
		"-e", "PUBLIC_KEY="+string(pubKey),
		"-e", "SUDO_ACCESS=true",
		"-e", "PASSWORD_ACCESS=false",
		sshTestImage,
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "Failed to start docker container: %s", out)

	// Wait for container to be inspectable
	time.Sleep(1 * time.Second)

	cleanup := func() {
		if os.Getenv("KEEP_SSH_CONTAINER") == "" {
			_ = exec.Command("docker", "rm", "-f", sshTestContainer).Run()
		}
	}

	// Use localhost and mapped port for Mac compatibility
	host = "127.0.0.1"
	port := sshTestPortDefault

	// Wait for SSH ready
	addr := fmt.Sprintf("%s:%d", host, port)
	if !waitForPort(addr, 30*time.Second) {
		logs, _ := exec.Command("docker", "logs", sshTestContainer).CombinedOutput()
		cleanup()
		t.Fatalf("SSH server never became ready at %s. Logs:\n%s", addr, logs)
	}
	// Give sshd a grace period
	time.Sleep(3 * time.Second)

	return Config{
		Host:               host,
		Port:               port,
		User:               sshTestUser,
		PrivateKeyPath:     keyPath,
		Timeout:            5 * time.Second,
		InsecureSkipVerify: true,
	}, cleanup
}

func generateSSHKey() ([]byte, []byte, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}
	privBlock := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}
	pub, err := ssh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	return pem.EncodeToMemory(privBlock), ssh.MarshalAuthorizedKey(pub), nil
}

func waitForPort(addr string, timeout time.Duration) bool {
	end := time.Now().Add(timeout)
	for time.Now().Before(end) {
		conn, err := net.DialTimeout("tcp", addr, 1*time.Second)
		if err == nil {
			conn.Close()
			return true
		}
		time.Sleep(500 * time.Millisecond)
	}
	return false
}
