package variant

import (
	"encoding/binary"
	"math"
)

// Writer appends encoded variants to a byte slice. Floats are always written
// in the 4-byte form.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with room for size bytes.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) uint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) float32(v float32) {
	w.uint32(math.Float32bits(v))
}

func (w *Writer) Bool(v bool) {
	w.uint32(uint32(KindBool))
	if v {
		w.uint32(1)
	} else {
		w.uint32(0)
	}
}

func (w *Writer) Float(v float32) {
	w.uint32(uint32(KindFloat))
	w.float32(v)
}

// Float64 writes the 8-byte float form. Packets never use it; it exists for
// peers that send doubles.
func (w *Writer) Float64(v float64) {
	w.uint32(uint32(KindFloat) | FlagFloat64)
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
}

func (w *Writer) Vec3(v Vec3) {
	w.uint32(uint32(KindVec3))
	for _, f := range v {
		w.float32(f)
	}
}

func (w *Writer) Basis(m Basis) {
	w.uint32(uint32(KindBasis))
	for _, row := range m {
		for _, f := range row {
			w.float32(f)
		}
	}
}

// ArrayHeader writes an array/tuple header announcing n children.
func (w *Writer) ArrayHeader(n int) {
	w.uint32(uint32(KindArray))
	w.uint32(uint32(n))
}

func (w *Writer) Blob(b []byte) {
	w.uint32(uint32(KindBlob))
	w.uint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *Writer) Floats(vs []float32) {
	w.ArrayHeader(len(vs))
	for _, v := range vs {
		w.Float(v)
	}
}

func (w *Writer) Vec3s(vs []Vec3) {
	w.ArrayHeader(len(vs))
	for _, v := range vs {
		w.Vec3(v)
	}
}

// EncodeBool returns the encoding of a single bool variant.
func EncodeBool(v bool) []byte {
	w := NewWriter(BoolSize)
	w.Bool(v)
	return w.Bytes()
}
