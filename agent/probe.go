package agent

import (
	"errors"
	"regexp"
)

// ErrInvalidProbeResponse is returned when probe output carries no marker.
var ErrInvalidProbeResponse = errors.New("invalid response from server")

// ProbeStatus is the single letter answer of the probe.
type ProbeStatus byte

// Probe answers.
const (
	StatusPresent       ProbeStatus = 'h'
	StatusAbsent        ProbeStatus = 'n'
	StatusNoInterpreter ProbeStatus = 'p'
)

var probeRe = regexp.MustCompile(`\[` + regexp.QuoteMeta(Marker) + ` ([hnp])(?: ([a-zA-Z0-9]+)(?:\s+.*)?)?\]`)

// ProbeResult is the parsed probe answer.
type ProbeResult struct {
	Status ProbeStatus
	Hash   string
}

// ParseProbe finds the marker line in the probe output.
func ParseProbe(out string) (ProbeResult, error) {
	m := probeRe.FindStringSubmatch(out)
	if m == nil {
		return ProbeResult{}, ErrInvalidProbeResponse
	}

	return ProbeResult{Status: ProbeStatus(m[1][0]), Hash: m[2]}, nil
}

// Current reports whether the host already runs this payload.
func (r ProbeResult) Current(s *Script) bool {
	return r.Status == StatusPresent && r.Hash == s.Hash()
}
