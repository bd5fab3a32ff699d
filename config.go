package remotefs

import (
	"errors"
	"fmt"
	"time"

	sshtransport "github.com/ruffel/remotefs/transport/ssh"
)

// UploadMethod selects how the agent payload reaches the host.
type UploadMethod string

// Upload methods.
const (
	// UploadStdin pipes the payload through the remote interpreter.
	UploadStdin UploadMethod = "stdin"

	// UploadSFTP writes the payload with the SFTP subsystem.
	UploadSFTP UploadMethod = "sftp"
)

// HostConfig describes how to reach one remote host.
type HostConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`

	Password       string `yaml:"password"`
	PrivateKey     string `yaml:"private_key"`
	PrivateKeyFile string `yaml:"private_key_file"`
	Passphrase     string `yaml:"passphrase"`
	Agent          bool   `yaml:"agent"`

	// Python is the interpreter command, e.g. "/usr/bin/env python3".
	Python string `yaml:"python"`

	KnownHostsFile     string        `yaml:"known_hosts_file"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Timeout            time.Duration `yaml:"timeout"`

	UploadMethod UploadMethod `yaml:"upload_method"`

	// Path is the default remote folder.
	Path string `yaml:"path"`
}

// Validate checks the fields that have no usable default.
func (c HostConfig) Validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}

	switch c.UploadMethod {
	case "", UploadStdin, UploadSFTP:
	default:
		return fmt.Errorf("unknown upload method %q", c.UploadMethod)
	}

	return nil
}

// SSHConfig maps the host onto a transport configuration.
func (c HostConfig) SSHConfig(prompt sshtransport.PassphraseFunc) sshtransport.Config {
	cfg := sshtransport.Config{
		Host:               c.Host,
		Port:               c.Port,
		User:               c.Username,
		Password:           c.Password,
		PrivateKey:         c.PrivateKey,
		PrivateKeyPath:     c.PrivateKeyFile,
		Passphrase:         c.Passphrase,
		PassphraseFunc:     prompt,
		UseAgent:           c.Agent,
		KnownHostsFile:     c.KnownHostsFile,
		InsecureSkipVerify: c.InsecureSkipVerify,
		Timeout:            c.Timeout,
	}

	return cfg.WithDefaults()
}
