// Package agent describes the remote worker payload and the shell commands
// used to install and launch it.
//
// The payload itself is opaque: a zip archive runnable by the remote Python
// interpreter. Installation is decided by a probe that reports whether the
// interpreter exists and, if the payload is already on the host, its md5.
package agent
