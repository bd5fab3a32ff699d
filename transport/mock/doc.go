// Package mock provides a controllable implementation of transport.Environment
// for testing purposes.
//
// It allows defining expectations for command execution and uploads,
// enabling deterministic unit tests for code that drives a remote host, such
// as the agent bootstrap sequence.
//
// Usage:
//
//	m := mock.New()
//	m.On("Run", mock.Anything, mock.CommandContaining("md5sum")).
//		Run(mock.WriteStdout("[ponyfs-marker n]\n")).
//		Return(&transport.Result{}, nil)
//	// pass 'm' to your logic
package mock
