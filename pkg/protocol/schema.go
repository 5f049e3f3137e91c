package protocol

import (
	"fmt"

	"fcbridge/pkg/variant"
)

// field binds a wire field name to the Go value it is read into and written
// from. Slices stand for fixed-arity arrays; []byte is a byte blob.
type field struct {
	name string
	ptr  any
}

// Packet is a fixed tuple of variants encoded as one array variant.
type Packet interface {
	PacketName() string
	fields() []field
}

// Encode returns the wire bytes of p.
func Encode(p Packet) []byte {
	fs := p.fields()
	w := variant.NewWriter(sizeOf(fs))
	w.ArrayHeader(len(fs))
	for _, f := range fs {
		encodeField(w, f)
	}
	return w.Bytes()
}

// Size returns the wire size of p. It depends only on the packet type.
func Size(p Packet) int {
	return sizeOf(p.fields())
}

// DecodeInto parses one packet from the front of r.
func DecodeInto(r *variant.Reader, p Packet) error {
	fs := p.fields()
	if err := r.ArrayHeader(len(fs)); err != nil {
		return variant.WithField(err, p.PacketName())
	}
	for _, f := range fs {
		if err := decodeField(r, f); err != nil {
			return variant.WithField(variant.WithField(err, f.name), p.PacketName())
		}
	}
	return nil
}

// DecodeExact parses buf into p and fails on any leftover bytes.
func DecodeExact(buf []byte, p Packet) error {
	return variant.DecodeExact(buf, func(r *variant.Reader) error {
		return DecodeInto(r, p)
	})
}

// Decode is DecodeExact returning the packet by value.
func Decode[T any, PT interface {
	*T
	Packet
}](buf []byte) (T, error) {
	var out T
	if err := DecodeExact(buf, PT(&out)); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func encodeField(w *variant.Writer, f field) {
	switch p := f.ptr.(type) {
	case *bool:
		w.Bool(*p)
	case *float32:
		w.Float(*p)
	case *variant.Vec3:
		w.Vec3(*p)
	case *variant.Basis:
		w.Basis(*p)
	case []float32:
		w.Floats(p)
	case []variant.Vec3:
		w.Vec3s(p)
	case []byte:
		w.Blob(p)
	default:
		panic(fmt.Sprintf("protocol: unsupported field %s of type %T", f.name, f.ptr))
	}
}

func decodeField(r *variant.Reader, f field) error {
	var err error
	switch p := f.ptr.(type) {
	case *bool:
		*p, err = r.Bool()
	case *float32:
		*p, err = r.Float()
	case *variant.Vec3:
		*p, err = r.Vec3()
	case *variant.Basis:
		*p, err = r.Basis()
	case []float32:
		err = r.Floats(p)
	case []variant.Vec3:
		err = r.Vec3s(p)
	case []byte:
		err = r.Blob(p)
	default:
		panic(fmt.Sprintf("protocol: unsupported field %s of type %T", f.name, f.ptr))
	}
	return err
}

func sizeOf(fs []field) int {
	n := variant.ArrayHeaderSize
	for _, f := range fs {
		switch p := f.ptr.(type) {
		case *bool:
			n += variant.BoolSize
		case *float32:
			n += variant.FloatSize
		case *variant.Vec3:
			n += variant.Vec3Size
		case *variant.Basis:
			n += variant.BasisSize
		case []float32:
			n += variant.ArrayHeaderSize + len(p)*variant.FloatSize
		case []variant.Vec3:
			n += variant.ArrayHeaderSize + len(p)*variant.Vec3Size
		case []byte:
			n += variant.BlobSize(len(p))
		default:
			panic(fmt.Sprintf("protocol: unsupported field %s of type %T", f.name, f.ptr))
		}
	}
	return n
}
