// Package wire implements the fixed-layout binary primitives of the XChain
// wire format. All integers are big-endian; a varlen field is a uint32 length
// followed by that many bytes.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxVarlen bounds a single varlen field. Block builders refuse larger fields.
const MaxVarlen = 4 << 20

var (
	ErrShortBuffer   = errors.New("wire: short buffer")
	ErrTrailingBytes = errors.New("wire: trailing bytes")
	ErrTooLarge      = errors.New("wire: field too large")
)

// AppendUint32 appends v big-endian.
func AppendUint32(dst []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, v)
}

// AppendInt32 appends v as a two's complement uint32.
func AppendInt32(dst []byte, v int32) []byte {
	return binary.BigEndian.AppendUint32(dst, uint32(v))
}

// AppendUint64 appends v big-endian.
func AppendUint64(dst []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(dst, v)
}

// AppendVarlen appends a length-prefixed byte string.
func AppendVarlen(dst, b []byte) []byte {
	dst = AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

// Reader consumes a buffer field by field. The first failure is sticky:
// later reads return zero values and Err reports the original error.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader returns a Reader over b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Err returns the first decoding error.
func (r *Reader) Err() error { return r.err }

// Offset returns the number of bytes consumed.
func (r *Reader) Offset() int { return r.off }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) take(n int, field string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.err = fmt.Errorf("%w: %s needs %d bytes at offset %d, have %d",
			ErrShortBuffer, field, n, r.off, r.Remaining())
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

// Fixed copies exactly len(dst) bytes into dst.
func (r *Reader) Fixed(dst []byte, field string) {
	if b := r.take(len(dst), field); b != nil {
		copy(dst, b)
	}
}

// Uint32 reads a big-endian uint32.
func (r *Reader) Uint32(field string) uint32 {
	b := r.take(4, field)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// Int32 reads a two's complement int32.
func (r *Reader) Int32(field string) int32 {
	return int32(r.Uint32(field))
}

// Uint64 reads a big-endian uint64.
func (r *Reader) Uint64(field string) uint64 {
	b := r.take(8, field)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// Varlen reads a length-prefixed byte string. The result is a copy.
func (r *Reader) Varlen(field string) []byte {
	n := r.Uint32(field + " length")
	if r.err != nil {
		return nil
	}
	if n > MaxVarlen {
		r.err = fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, field, n)
		return nil
	}
	b := r.take(int(n), field)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// Finish returns Err, or ErrTrailingBytes if input is left over.
func (r *Reader) Finish() error {
	if r.err != nil {
		return r.err
	}
	if r.Remaining() != 0 {
		return fmt.Errorf("%w: %d", ErrTrailingBytes, r.Remaining())
	}
	return nil
}
