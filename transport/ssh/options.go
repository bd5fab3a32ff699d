package ssh

// Option defines a functional option for the SSH provider.
type Option func(*Config)

// Apply returns a copy of c with every option applied.
func (c Config) Apply(opts ...Option) Config {
	for _, o := range opts {
		o(&c)
	}

	return c
}

// WithHost sets the target hostname.
func WithHost(host string) Option {
	return func(c *Config) {
		c.Host = host
	}
}

// WithUser sets the SSH user.
func WithUser(user string) Option {
	return func(c *Config) {
		c.User = user
	}
}

// WithPort sets the SSH port.
func WithPort(port int) Option {
	return func(c *Config) {
		c.Port = port
	}
}

// WithPassword sets the SSH password.
func WithPassword(password string) Option {
	return func(c *Config) {
		c.Password = password
	}
}

// WithKeyPath sets the path to the private key file.
func WithKeyPath(path string) Option {
	return func(c *Config) {
		c.PrivateKeyPath = path
	}
}

// WithPassphrase sets the passphrase for an encrypted private key.
func WithPassphrase(passphrase string) Option {
	return func(c *Config) {
		c.Passphrase = passphrase
	}
}

// WithPassphraseFunc sets the callback asked for a missing key passphrase.
func WithPassphraseFunc(fn PassphraseFunc) Option {
	return func(c *Config) {
		c.PassphraseFunc = fn
	}
}

// WithAgent enables authentication through the SSH agent at SSH_AUTH_SOCK.
func WithAgent(use bool) Option {
	return func(c *Config) {
		c.UseAgent = use
	}
}

// WithKnownHostsFile verifies host keys against the given known_hosts file.
func WithKnownHostsFile(path string) Option {
	return func(c *Config) {
		c.KnownHostsFile = path
	}
}

// WithInsecureSkipVerify enables/disables strict host key checking.
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Config) {
		c.InsecureSkipVerify = skip
	}
}
