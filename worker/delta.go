package worker

import (
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/vmihailenco/msgpack/v5"
)

// Delta operation kinds.
const (
	DeltaSkip   = -1
	DeltaKeep   = 0
	DeltaInsert = 1
)

// DeltaOp is one step of an edit script against the original content:
// keep N bytes, insert Data, or skip N bytes. It travels as [op, n] or
// [op, bytes].
type DeltaOp struct {
	Op   int
	N    int
	Data []byte
}

var (
	_ msgpack.CustomEncoder = (*DeltaOp)(nil)
	_ msgpack.CustomDecoder = (*DeltaOp)(nil)
)

// EncodeMsgpack writes the two element array form.
func (d DeltaOp) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}

	if err := enc.EncodeInt(int64(d.Op)); err != nil {
		return err
	}

	if d.Op == DeltaInsert {
		return enc.EncodeBytes(d.Data)
	}

	return enc.EncodeInt(int64(d.N))
}

// DecodeMsgpack reads the two element array form.
func (d *DeltaOp) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}

	if n != 2 {
		return fmt.Errorf("%w: delta op has %d fields", ErrProtocol, n)
	}

	if d.Op, err = dec.DecodeInt(); err != nil {
		return err
	}

	switch d.Op {
	case DeltaInsert:
		d.Data, err = dec.DecodeBytes()
	case DeltaKeep, DeltaSkip:
		d.N, err = dec.DecodeInt()
	default:
		err = fmt.Errorf("%w: unknown delta op %d", ErrProtocol, d.Op)
	}

	return err
}

// ComputeDelta returns the edit script turning original into updated.
// Both inputs are compared as text; callers should only diff UTF-8 content.
func ComputeDelta(original, updated []byte) []DeltaOp {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(original), string(updated), false)
	diffs = dmp.DiffCleanupEfficiency(diffs)

	ops := make([]DeltaOp, 0, len(diffs))

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			ops = appendOp(ops, DeltaOp{Op: DeltaKeep, N: len(d.Text)})
		case diffmatchpatch.DiffInsert:
			ops = appendOp(ops, DeltaOp{Op: DeltaInsert, Data: []byte(d.Text)})
		case diffmatchpatch.DiffDelete:
			ops = appendOp(ops, DeltaOp{Op: DeltaSkip, N: len(d.Text)})
		}
	}

	return ops
}

// appendOp merges consecutive ops of the same kind.
func appendOp(ops []DeltaOp, op DeltaOp) []DeltaOp {
	if op.N == 0 && len(op.Data) == 0 {
		return ops
	}

	if n := len(ops); n > 0 && ops[n-1].Op == op.Op {
		last := &ops[n-1]
		last.N += op.N
		last.Data = append(last.Data, op.Data...)

		return ops
	}

	return append(ops, op)
}

// ApplyDelta replays ops against original.
func ApplyDelta(original []byte, ops []DeltaOp) ([]byte, error) {
	out := make([]byte, 0, len(original))
	pos := 0

	for _, op := range ops {
		switch op.Op {
		case DeltaKeep:
			if op.N < 0 || pos+op.N > len(original) {
				return nil, fmt.Errorf("%w: keep %d past end of base", ErrProtocol, op.N)
			}

			out = append(out, original[pos:pos+op.N]...)
			pos += op.N
		case DeltaSkip:
			if op.N < 0 || pos+op.N > len(original) {
				return nil, fmt.Errorf("%w: skip %d past end of base", ErrProtocol, op.N)
			}

			pos += op.N
		case DeltaInsert:
			out = append(out, op.Data...)
		default:
			return nil, fmt.Errorf("%w: unknown delta op %d", ErrProtocol, op.Op)
		}
	}

	if pos != len(original) {
		return nil, fmt.Errorf("%w: delta consumed %d of %d base bytes", ErrProtocol, pos, len(original))
	}

	return out, nil
}
