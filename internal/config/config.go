// Package config loads the remotefs command configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ruffel/remotefs"
	"github.com/ruffel/remotefs/internal/logging"
	sshtransport "github.com/ruffel/remotefs/transport/ssh"
)

// FileName is the configuration file looked up in the user config directory.
const FileName = "config.yaml"

// EnvPath overrides the configuration file location.
const EnvPath = "REMOTEFS_CONFIG"

// ErrUnknownHost is returned by Lookup for a name that is not configured.
var ErrUnknownHost = errors.New("unknown host")

// Config is the top-level configuration file.
type Config struct {
	CacheDir         string          `yaml:"cache_dir"`
	Agent            string          `yaml:"agent"`
	SecondaryWorkers *int            `yaml:"secondary_workers"`
	SSHConfigFile    string          `yaml:"ssh_config_file"`
	MetricsAddr      string          `yaml:"metrics_addr"`
	Log              logging.Config  `yaml:"log"`
	Hosts            map[string]Host `yaml:"hosts"`
}

// Host is one configured host. SSHAlias fills unset connection fields from
// the matching ~/.ssh/config entry.
type Host struct {
	remotefs.HostConfig `yaml:",inline"`

	SSHAlias string `yaml:"ssh_alias"`
}

// DefaultPath returns $REMOTEFS_CONFIG, or config.yaml in the user config
// directory.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvPath); p != "" {
		return p, nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}

	return filepath.Join(dir, "remotefs", FileName), nil
}

// DefaultCacheDir returns the cache location used when none is configured.
func DefaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}

	return filepath.Join(dir, "remotefs")
}

// Load reads the configuration at path. A missing file yields an empty
// configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := &Config{}
		cfg.applyDefaults()

		return cfg, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates configuration data.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	for name, h := range cfg.Hosts {
		if h.Host == "" && h.SSHAlias == "" {
			return nil, fmt.Errorf("host %q: host or ssh_alias is required", name)
		}

		if err := (remotefs.HostConfig{Host: "-", UploadMethod: h.UploadMethod}).Validate(); err != nil {
			return nil, fmt.Errorf("host %q: %w", name, err)
		}
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir()
	}

	c.CacheDir = sshtransport.ExpandHome(c.CacheDir)
	c.Agent = sshtransport.ExpandHome(c.Agent)

	if c.Hosts == nil {
		c.Hosts = map[string]Host{}
	}
}

// Names returns the configured host names in order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Hosts))
	for name := range c.Hosts {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Lookup resolves a configured host. A name that is not configured is tried
// as an ssh config alias.
func (c *Config) Lookup(name string) (remotefs.HostConfig, error) {
	h, ok := c.Hosts[name]
	if !ok {
		h = Host{SSHAlias: name}

		if _, err := os.Stat(c.sshConfigPath()); err != nil {
			return remotefs.HostConfig{}, fmt.Errorf("%w: %s", ErrUnknownHost, name)
		}
	}

	if h.SSHAlias == "" {
		return h.HostConfig, nil
	}

	ssh, err := sshtransport.NewFromSSHConfig(h.SSHAlias, c.sshConfigPath())
	if err != nil {
		return remotefs.HostConfig{}, fmt.Errorf("host %q: %w", name, err)
	}

	return merge(h.HostConfig, ssh), nil
}

func (c *Config) sshConfigPath() string {
	if c.SSHConfigFile != "" {
		return sshtransport.ExpandHome(c.SSHConfigFile)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".ssh", "config")
}

// merge fills the zero fields of h from the ssh config entry.
func merge(h remotefs.HostConfig, ssh sshtransport.Config) remotefs.HostConfig {
	if h.Host == "" {
		h.Host = ssh.Host
	}

	if h.Port == 0 {
		h.Port = ssh.Port
	}

	if h.Username == "" {
		h.Username = ssh.User
	}

	if h.PrivateKeyFile == "" && h.PrivateKey == "" {
		h.PrivateKeyFile = ssh.PrivateKeyPath
	}

	if h.KnownHostsFile == "" {
		h.KnownHostsFile = ssh.KnownHostsFile
	}

	if ssh.InsecureSkipVerify {
		h.InsecureSkipVerify = true
	}

	return h
}

// Options returns the connection options the file configures.
func (c *Config) Options() []remotefs.Option {
	opts := []remotefs.Option{remotefs.WithCacheDir(c.CacheDir)}

	if c.SecondaryWorkers != nil {
		opts = append(opts, remotefs.WithSecondaryWorkers(*c.SecondaryWorkers))
	}

	return opts
}
