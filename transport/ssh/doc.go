// Package ssh provides an implementation of the transport.Environment interface
// for remote servers via the SSH protocol.
//
// It utilizes "golang.org/x/crypto/ssh" to manage sessions, providing:
//   - Password, private key (optionally encrypted) and agent authentication
//   - Host key verification through known_hosts
//   - Long-lived sessions with bidirectional streams, used for worker channels
//   - File uploads via SFTP
//
// Every Start opens a fresh session on the shared connection. Environment.Wait
// reports when the connection itself goes away, which is how callers detect
// transport failure independently of any single session.
//
// Usage:
//
//	config := ssh.NewConfig("example.com", "user")
//	config.KnownHostsFile = "/home/user/.ssh/known_hosts"
//	env, err := ssh.New(ctx, config)
package ssh
