package variant

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Reader is a bounds-checked cursor over an encoded buffer. It never reads
// past the end of the slice it was created with.
type Reader struct {
	buf []byte
	off int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Offset is the number of bytes consumed so far.
func (r *Reader) Offset() int {
	return r.off
}

// Remaining is the number of bytes not yet consumed.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// Done fails with ErrTrailingBytes unless the buffer was fully consumed.
func (r *Reader) Done() error {
	if n := r.Remaining(); n != 0 {
		return &DecodeError{Offset: r.off, Err: ErrTrailingBytes, detail: fmt.Sprintf("%d byte(s) left", n)}
	}
	return nil
}

// take returns the next n bytes and advances. The comparison is done on
// signed ints against the remaining length, so a short buffer can never wrap.
func (r *Reader) take(kind Kind, n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, &DecodeError{
			Kind:   kind,
			Offset: r.off,
			Err:    ErrTruncated,
			detail: fmt.Sprintf("need %d byte(s), have %d", n, r.Remaining()),
		}
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *Reader) uint32(kind Kind) (uint32, error) {
	b, err := r.take(kind, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) float32(kind Kind) (float32, error) {
	v, err := r.uint32(kind)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// header consumes a tag word and checks its low 16 bits against kind.
// The full word is returned so callers can inspect encoding flags.
func (r *Reader) header(kind Kind) (uint32, error) {
	start := r.off
	word, err := r.uint32(kind)
	if err != nil {
		return 0, err
	}
	if got := Kind(word & kindMask); got != kind {
		r.off = start
		return 0, &DecodeError{Kind: kind, Offset: start, Err: ErrTagMismatch, detail: "got " + got.String()}
	}
	return word, nil
}

// Bool decodes a bool variant. Any nonzero payload is true.
func (r *Reader) Bool() (bool, error) {
	if _, err := r.header(KindBool); err != nil {
		return false, err
	}
	v, err := r.uint32(KindBool)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// Float decodes a float variant, narrowing 64-bit payloads to float32.
func (r *Reader) Float() (float32, error) {
	v, err := r.Float64()
	return float32(v), err
}

// Float64 decodes a float variant of either width.
func (r *Reader) Float64() (float64, error) {
	word, err := r.header(KindFloat)
	if err != nil {
		return 0, err
	}
	if word&FlagFloat64 == 0 {
		v, err := r.float32(KindFloat)
		return float64(v), err
	}
	b, err := r.take(KindFloat, 8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

func (r *Reader) Vec3() (Vec3, error) {
	var v Vec3
	if _, err := r.header(KindVec3); err != nil {
		return v, err
	}
	for i := range v {
		f, err := r.float32(KindVec3)
		if err != nil {
			return Vec3{}, err
		}
		v[i] = f
	}
	return v, nil
}

func (r *Reader) Basis() (Basis, error) {
	var m Basis
	if _, err := r.header(KindBasis); err != nil {
		return m, err
	}
	for i := range m {
		for j := range m[i] {
			f, err := r.float32(KindBasis)
			if err != nil {
				return Basis{}, err
			}
			m[i][j] = f
		}
	}
	return m, nil
}

// ArrayHeader consumes an array/tuple header and requires exactly n children
// to be declared. The children themselves are left for the caller.
func (r *Reader) ArrayHeader(n int) error {
	if _, err := r.header(KindArray); err != nil {
		return err
	}
	start := r.off
	count, err := r.uint32(KindArray)
	if err != nil {
		return err
	}
	if int64(count) != int64(n) {
		return &DecodeError{Kind: KindArray, Offset: start, Err: ErrCountMismatch, detail: fmt.Sprintf("got %d want %d", count, n)}
	}
	return nil
}

// Blob decodes a byte blob whose declared length must equal len(dst).
func (r *Reader) Blob(dst []byte) error {
	if _, err := r.header(KindBlob); err != nil {
		return err
	}
	start := r.off
	count, err := r.uint32(KindBlob)
	if err != nil {
		return err
	}
	if int64(count) != int64(len(dst)) {
		return &DecodeError{Kind: KindBlob, Offset: start, Err: ErrCountMismatch, detail: fmt.Sprintf("got %d want %d", count, len(dst))}
	}
	b, err := r.take(KindBlob, len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// Floats decodes an array of float variants into dst.
func (r *Reader) Floats(dst []float32) error {
	if err := r.ArrayHeader(len(dst)); err != nil {
		return err
	}
	for i := range dst {
		v, err := r.Float()
		if err != nil {
			return WithField(err, fmt.Sprintf("[%d]", i))
		}
		dst[i] = v
	}
	return nil
}

// Vec3s decodes an array of vec3 variants into dst.
func (r *Reader) Vec3s(dst []Vec3) error {
	if err := r.ArrayHeader(len(dst)); err != nil {
		return err
	}
	for i := range dst {
		v, err := r.Vec3()
		if err != nil {
			return WithField(err, fmt.Sprintf("[%d]", i))
		}
		dst[i] = v
	}
	return nil
}

// DecodeExact runs fn over buf and requires every byte to be consumed.
func DecodeExact(buf []byte, fn func(*Reader) error) error {
	r := NewReader(buf)
	if err := fn(r); err != nil {
		return err
	}
	return r.Done()
}

// DecodeBool decodes a buffer holding exactly one bool variant.
func DecodeBool(buf []byte) (bool, error) {
	var v bool
	err := DecodeExact(buf, func(r *Reader) error {
		var err error
		v, err = r.Bool()
		return err
	})
	return v, err
}
