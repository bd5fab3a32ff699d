package worker

import (
	"crypto/md5" //nolint:gosec // content fingerprint shared with the agent, not a security boundary
	"encoding/hex"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// Operation names understood by the agent.
const (
	OpServerInfo    = "serverInfo"
	OpExpandPath    = "expandPath"
	OpList          = "ls"
	OpFileRead      = "fileRead"
	OpFileWrite     = "fileWrite"
	OpFileWriteDiff = "fileWriteDiff"
	OpRename        = "rename"
	OpDelete        = "delete"
	OpMkdir         = "mkdir"
	OpAddWatch      = "addWatch"
	OpRmWatch       = "rmWatch"
)

// Response status codes.
const (
	StatusOK    = 0
	StatusError = 1
	StatusEvent = 2
)

// Request is the frame sent for every operation.
type Request struct {
	_msgpack struct{} `msgpack:",as_array"` //nolint:unused

	Op   string
	Args any
}

// Response is the frame received for every operation, and for watch events.
type Response struct {
	_msgpack struct{} `msgpack:",as_array"` //nolint:unused

	Status  int
	Payload msgpack.RawMessage
}

// ErrorPayload is the payload of a StatusError response.
type ErrorPayload struct {
	Code    string `msgpack:"code"`
	Message string `msgpack:"message"`
}

// FileType is the bitmask in a stat record. TypeSymlink combines with
// TypeFile or TypeDirectory.
type FileType uint8

const (
	TypeFile      FileType = 0x01
	TypeDirectory FileType = 0x02
	TypeSymlink   FileType = 0x10
)

// IsFile reports whether the file bit is set.
func (t FileType) IsFile() bool { return t&TypeFile != 0 }

// IsDir reports whether the directory bit is set.
func (t FileType) IsDir() bool { return t&TypeDirectory != 0 }

// IsSymlink reports whether the symlink bit is set.
func (t FileType) IsSymlink() bool { return t&TypeSymlink != 0 }

func (t FileType) String() string {
	var s string

	switch {
	case t.IsDir():
		s = "dir"
	case t.IsFile():
		s = "file"
	default:
		s = "unknown"
	}

	if t.IsSymlink() {
		s += "+symlink"
	}

	return s
}

// Stat is the compact stat record [typeFlags, ctime, mtime, size]. Times are
// milliseconds since the Unix epoch.
type Stat struct {
	Type  FileType
	Ctime int64
	Mtime int64
	Size  int64
}

var (
	_ msgpack.CustomEncoder = (*Stat)(nil)
	_ msgpack.CustomDecoder = (*Stat)(nil)
)

// EncodeMsgpack writes the record as a four element array.
func (s Stat) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(4); err != nil {
		return err
	}

	for _, v := range []int64{int64(s.Type), s.Ctime, s.Mtime, s.Size} {
		if err := enc.EncodeInt(v); err != nil {
			return err
		}
	}

	return nil
}

// DecodeMsgpack reads the four element array. Numbers may arrive as integers
// or floats.
func (s *Stat) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}

	if n != 4 {
		return fmt.Errorf("%w: stat record has %d fields", ErrProtocol, n)
	}

	var vals [4]int64

	for i := range vals {
		v, err := dec.DecodeInterface()
		if err != nil {
			return err
		}

		if vals[i], err = toInt64(v); err != nil {
			return err
		}
	}

	s.Type = FileType(vals[0])
	s.Ctime, s.Mtime, s.Size = vals[1], vals[2], vals[3]

	return nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%w: number %d out of range", ErrProtocol, n)
		}

		return int64(n), nil
	case float32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: expected number, got %T", ErrProtocol, v)
	}
}

// ServerInfo identifies the remote environment for one session.
type ServerInfo struct {
	Home        string `msgpack:"home"`
	CacheKey    string `msgpack:"cacheKey"`
	NewCacheKey bool   `msgpack:"newCacheKey"`
}

// ReadResult is the outcome of ReadFile. When Unchanged is set, Data is empty
// and the caller's cached copy is current.
type ReadResult struct {
	Unchanged bool   `msgpack:"unchanged"`
	Data      []byte `msgpack:"data"`
	Hash      string `msgpack:"hash"`
}

// WriteOptions carries the create/overwrite intent of a write.
type WriteOptions struct {
	Create    bool
	Overwrite bool
}

// RenameOptions carries the overwrite intent of a rename.
type RenameOptions struct {
	Overwrite bool
}

// WatchOptions configures a watch subscription.
type WatchOptions struct {
	Recursive bool     `msgpack:"recursive" yaml:"recursive"`
	Excludes  []string `msgpack:"excludes" yaml:"excludes"`
}

// WatchEvent is an unsolicited change notification on the watch channel.
type WatchEvent struct {
	ID   string `msgpack:"id"`
	Path string `msgpack:"path"`
	Kind string `msgpack:"kind"`
}

// Watch event kinds.
const (
	EventCreated = "created"
	EventChanged = "changed"
	EventDeleted = "deleted"
)

// Wire argument records, one per operation.
type (
	PathArgs struct {
		Path string `msgpack:"path"`
	}

	ReadArgs struct {
		Path       string `msgpack:"path"`
		CachedHash string `msgpack:"cachedHash,omitempty"`
	}

	WriteArgs struct {
		Path      string `msgpack:"path"`
		Data      []byte `msgpack:"data"`
		Create    bool   `msgpack:"create"`
		Overwrite bool   `msgpack:"overwrite"`
	}

	WriteDiffArgs struct {
		Path      string    `msgpack:"path"`
		BaseHash  string    `msgpack:"baseHash"`
		Delta     []DeltaOp `msgpack:"delta"`
		Create    bool      `msgpack:"create"`
		Overwrite bool      `msgpack:"overwrite"`
	}

	RenameArgs struct {
		From      string `msgpack:"from"`
		To        string `msgpack:"to"`
		Overwrite bool   `msgpack:"overwrite"`
	}

	WatchArgs struct {
		ID        string   `msgpack:"id"`
		Path      string   `msgpack:"path"`
		Recursive bool     `msgpack:"recursive"`
		Excludes  []string `msgpack:"excludes"`
	}

	UnwatchArgs struct {
		ID string `msgpack:"id"`
	}
)

// Hash returns the hex md5 of data, the content fingerprint the agent uses
// for cachedHash and baseHash.
func Hash(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec

	return hex.EncodeToString(sum[:])
}
