// Package variant implements the tagged binary value encoding spoken by the
// physics host. Every value starts with a 4-byte little-endian tag word whose
// low 16 bits identify the shape of the payload that follows.
package variant

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the low 16 bits of a tag word.
type Kind uint16

const (
	KindBool  Kind = 1
	KindFloat Kind = 3
	KindVec3  Kind = 7
	KindBasis Kind = 12
	KindArray Kind = 19
	KindBlob  Kind = 20
)

// FlagFloat64 marks a float variant carrying an 8-byte payload.
const FlagFloat64 uint32 = 1 << 16

const kindMask uint32 = 0xFFFF

// Encoded sizes of the fixed-width variants as written by Writer.
const (
	HeaderSize = 4
	BoolSize   = HeaderSize + 4
	FloatSize  = HeaderSize + 4
	Vec3Size   = HeaderSize + 3*4
	BasisSize  = HeaderSize + 9*4
	// ArrayHeaderSize covers the tag word and the element count.
	ArrayHeaderSize = HeaderSize + 4
)

// BlobSize returns the encoded size of a byte blob holding n bytes.
func BlobSize(n int) int {
	return HeaderSize + 4 + n
}

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindFloat:
		return "float"
	case KindVec3:
		return "vec3"
	case KindBasis:
		return "basis"
	case KindArray:
		return "array"
	case KindBlob:
		return "blob"
	default:
		return fmt.Sprintf("kind(%d)", uint16(k))
	}
}

// Vec3 is x, y, z.
type Vec3 [3]float32

// Basis is a row-major 3x3 matrix.
type Basis [3][3]float32

// Identity is the identity basis.
var Identity = Basis{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

var (
	ErrTagMismatch   = errors.New("variant tag mismatch")
	ErrCountMismatch = errors.New("variant count mismatch")
	ErrTruncated     = errors.New("variant truncated")
	ErrTrailingBytes = errors.New("trailing bytes after variant")
)

// DecodeError reports where in a buffer a decode failed.
type DecodeError struct {
	Kind   Kind
	Field  string
	Offset int
	Err    error
	detail string
}

func (e *DecodeError) Error() string {
	msg := "decode"
	if e.Kind != 0 {
		msg += " " + e.Kind.String()
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" %q", e.Field)
	}
	msg += fmt.Sprintf(" at offset %d", e.Offset)
	if e.detail != "" {
		return msg + ": " + e.Err.Error() + " (" + e.detail + ")"
	}
	return msg + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// WithField prefixes the field path of err when it is a *DecodeError.
func WithField(err error, name string) error {
	var de *DecodeError
	if !errors.As(err, &de) {
		return err
	}
	cp := *de
	switch {
	case cp.Field == "":
		cp.Field = name
	case strings.HasPrefix(cp.Field, "["):
		cp.Field = name + cp.Field
	default:
		cp.Field = name + "." + cp.Field
	}
	return &cp
}
