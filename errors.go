package remotefs

import (
	"errors"
	"fmt"

	"github.com/ruffel/remotefs/agent"
)

var (
	// ErrConnectionClosed is the cause of every failure after Close.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotConnected is returned for operations on a connection that was
	// never connected.
	ErrNotConnected = errors.New("not connected")

	// ErrNoInterpreter means the remote host has no usable Python.
	ErrNoInterpreter = errors.New("remote host does not have Python installed")

	// ErrAgentHashMismatch means the agent still differs after an upload.
	ErrAgentHashMismatch = errors.New("agent hash mismatch after upload")

	// ErrInvalidProbeResponse means the probe output carried no marker.
	ErrInvalidProbeResponse = agent.ErrInvalidProbeResponse

	// ErrNoAgentScript means no agent payload was configured.
	ErrNoAgentScript = errors.New("no agent script configured")
)

// ConnectionError reports the failure of a host's session. Every operation
// pending on or issued to a failed connection returns one.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Stage names a step of the agent bootstrap.
type Stage string

// Bootstrap stages.
const (
	StageProbe  Stage = "probe"
	StageUpload Stage = "upload"
	StageVerify Stage = "verify"
)

// BootstrapError reports a failure installing or verifying the agent.
type BootstrapError struct {
	Host  string
	Stage Stage
	Err   error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("bootstrap %s on %s: %v", e.Stage, e.Host, e.Err)
}

func (e *BootstrapError) Unwrap() error {
	return e.Err
}
