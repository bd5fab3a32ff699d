package agent

import (
	"bytes"
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"fmt"
	"os"
)

// Script is the packaged worker payload and its content hash.
type Script struct {
	data []byte
	hash string
}

// NewScript wraps payload bytes.
func NewScript(data []byte) *Script {
	sum := md5.Sum(data) //nolint:gosec

	return &Script{data: data, hash: hex.EncodeToString(sum[:])}
}

// Load reads the payload from a local file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load agent script: %w", err)
	}

	return NewScript(data), nil
}

// Hash returns the hex md5 of the payload, as printed by md5sum on the host.
func (s *Script) Hash() string {
	return s.hash
}

// Len returns the payload size in bytes.
func (s *Script) Len() int {
	return len(s.data)
}

// Reader returns a fresh reader over the payload.
func (s *Script) Reader() *bytes.Reader {
	return bytes.NewReader(s.data)
}
