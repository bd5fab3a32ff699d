package worker

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrProtocol indicates a malformed or unexpected frame on the channel.
	ErrProtocol = errors.New("worker protocol error")

	// ErrClosed is returned by operations on a worker whose channel is gone.
	ErrClosed = errors.New("worker closed")

	// ErrIsDir is matched by remote EISDIR errors.
	ErrIsDir = errors.New("is a directory")

	// ErrNotDir is matched by remote ENOTDIR errors.
	ErrNotDir = errors.New("not a directory")

	// ErrHashMismatch is matched by remote EHASH errors: the base of a diff
	// write was not the current content.
	ErrHashMismatch = errors.New("base hash mismatch")
)

// Error codes reported by the agent.
const (
	CodeNotFound     = "ENOENT"
	CodeExists       = "EEXIST"
	CodeIsDir        = "EISDIR"
	CodeNotDir       = "ENOTDIR"
	CodeAccess       = "EACCES"
	CodePermission   = "EPERM"
	CodeHashMismatch = "EHASH"
)

// RemoteError is an operation failure reported by the agent. The channel
// stays usable after one.
type RemoteError struct {
	Op      string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: remote error %s", e.Op, e.Code)
	}

	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Code)
}

// Is maps agent error codes onto the standard filesystem sentinels.
func (e *RemoteError) Is(target error) bool {
	switch e.Code {
	case CodeNotFound:
		return target == fs.ErrNotExist
	case CodeExists:
		return target == fs.ErrExist
	case CodeIsDir:
		return target == ErrIsDir
	case CodeNotDir:
		return target == ErrNotDir
	case CodeAccess, CodePermission:
		return target == fs.ErrPermission
	case CodeHashMismatch:
		return target == ErrHashMismatch
	default:
		return false
	}
}

// IsRemote reports whether err is an operation failure reported by the agent,
// as opposed to a failure of the channel itself.
func IsRemote(err error) bool {
	var re *RemoteError

	return errors.As(err, &re)
}
