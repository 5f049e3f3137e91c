package variant_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fcbridge/pkg/variant"
)

func TestBoolRoundTrip(t *testing.T) {
	for _, v := range []bool{true, false} {
		buf := variant.EncodeBool(v)
		require.Len(t, buf, variant.BoolSize)

		got, err := variant.DecodeBool(buf)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestBoolNonzeroIsTrue(t *testing.T) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(variant.KindBool))
	binary.LittleEndian.PutUint32(buf[4:8], 7)

	got, err := variant.DecodeBool(buf)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestFloatRoundTrip(t *testing.T) {
	values := []float32{0, 12, -12.2e5, 1e-38, float32(math.SmallestNonzeroFloat32), -0.16}
	for _, v := range values {
		w := variant.NewWriter(variant.FloatSize)
		w.Float(v)
		require.Equal(t, variant.FloatSize, w.Len())

		var got float32
		err := variant.DecodeExact(w.Bytes(), func(r *variant.Reader) error {
			var err error
			got, err = r.Float()
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestFloat64Payload(t *testing.T) {
	w := variant.NewWriter(12)
	w.Float64(12.0)
	require.Equal(t, 12, w.Len())
	assert.Equal(t, uint32(3|1<<16), binary.LittleEndian.Uint32(w.Bytes()[0:4]))

	var got float32
	err := variant.DecodeExact(w.Bytes(), func(r *variant.Reader) error {
		var err error
		got, err = r.Float()
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, float32(12), got)
}

func TestFloat64PayloadTruncated(t *testing.T) {
	w := variant.NewWriter(12)
	w.Float64(1.5)
	// only 4 of the 8 payload bytes present
	r := variant.NewReader(w.Bytes()[:8])
	_, err := r.Float()
	assert.ErrorIs(t, err, variant.ErrTruncated)
}

func TestVec3RoundTrip(t *testing.T) {
	v := variant.Vec3{12, 0, -12.2e5}
	w := variant.NewWriter(variant.Vec3Size)
	w.Vec3(v)
	require.Equal(t, variant.Vec3Size, w.Len())

	got, err := variant.NewReader(w.Bytes()).Vec3()
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestBasisRoundTrip(t *testing.T) {
	m := variant.Identity
	m[0][2] = 44.2
	w := variant.NewWriter(variant.BasisSize)
	w.Basis(m)
	require.Equal(t, variant.BasisSize, w.Len())

	got, err := variant.NewReader(w.Bytes()).Basis()
	require.NoError(t, err)
	assert.Equal(t, m, got)
	// row-major: element [0][2] is the third float after the tag
	assert.Equal(t, float32(44.2), math.Float32frombits(binary.LittleEndian.Uint32(w.Bytes()[12:16])))
}

func TestArrayOfBoolsSize(t *testing.T) {
	w := variant.NewWriter(0)
	w.ArrayHeader(2)
	w.Bool(true)
	w.Bool(false)
	assert.Equal(t, 24, w.Len())
}

func TestBlobRoundTrip(t *testing.T) {
	src := []byte("hello osd")
	w := variant.NewWriter(variant.BlobSize(len(src)))
	w.Blob(src)
	require.Equal(t, variant.BlobSize(len(src)), w.Len())

	dst := make([]byte, len(src))
	require.NoError(t, variant.DecodeExact(w.Bytes(), func(r *variant.Reader) error {
		return r.Blob(dst)
	}))
	assert.Equal(t, src, dst)
}

func TestTagMismatchEveryKind(t *testing.T) {
	// a vec3 header where every other kind is expected
	w := variant.NewWriter(variant.Vec3Size)
	w.Vec3(variant.Vec3{1, 2, 3})
	vec := w.Bytes()

	w = variant.NewWriter(variant.BoolSize)
	w.Bool(true)
	boolean := w.Bytes()

	cases := map[string]struct {
		buf []byte
		fn  func(*variant.Reader) error
	}{
		"bool":  {vec, func(r *variant.Reader) error { _, err := r.Bool(); return err }},
		"float": {vec, func(r *variant.Reader) error { _, err := r.Float(); return err }},
		"vec3":  {boolean, func(r *variant.Reader) error { _, err := r.Vec3(); return err }},
		"basis": {vec, func(r *variant.Reader) error { _, err := r.Basis(); return err }},
		"array": {vec, func(r *variant.Reader) error { return r.ArrayHeader(3) }},
		"blob":  {vec, func(r *variant.Reader) error { return r.Blob(make([]byte, 3)) }},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := tc.fn(variant.NewReader(tc.buf))
			require.Error(t, err)
			assert.True(t, errors.Is(err, variant.ErrTagMismatch), "got %v", err)
		})
	}
}

func TestHighBitsIgnoredForTagCheck(t *testing.T) {
	buf := variant.EncodeBool(true)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(variant.KindBool)|0xABCD0000)
	got, err := variant.DecodeBool(buf)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestArrayCountMismatch(t *testing.T) {
	w := variant.NewWriter(0)
	w.Floats([]float32{1, 2, 3})

	err := variant.NewReader(w.Bytes()).Floats(make([]float32, 4))
	assert.ErrorIs(t, err, variant.ErrCountMismatch)

	err = variant.NewReader(w.Bytes()).Floats(make([]float32, 2))
	assert.ErrorIs(t, err, variant.ErrCountMismatch)
}

func TestBlobCountMismatch(t *testing.T) {
	w := variant.NewWriter(0)
	w.Blob([]byte{1, 2, 3})

	err := variant.NewReader(w.Bytes()).Blob(make([]byte, 4))
	assert.ErrorIs(t, err, variant.ErrCountMismatch)
}

func TestBlobHugeDeclaredLength(t *testing.T) {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(variant.KindBlob))
	binary.LittleEndian.PutUint32(buf[4:8], math.MaxUint32)
	err := variant.NewReader(buf).Blob(make([]byte, 4))
	assert.ErrorIs(t, err, variant.ErrCountMismatch)
}

func TestTruncatedPrefixes(t *testing.T) {
	w := variant.NewWriter(0)
	w.ArrayHeader(3)
	w.Basis(variant.Identity)
	w.Floats([]float32{1, 2})
	w.Blob([]byte("abcd"))
	full := w.Bytes()

	decode := func(r *variant.Reader) error {
		if err := r.ArrayHeader(3); err != nil {
			return err
		}
		if _, err := r.Basis(); err != nil {
			return err
		}
		if err := r.Floats(make([]float32, 2)); err != nil {
			return err
		}
		return r.Blob(make([]byte, 4))
	}

	require.NoError(t, variant.DecodeExact(full, decode))
	for k := 0; k < len(full); k++ {
		// cap the slice so a read past k would panic instead of reading full
		prefix := full[:k:k]
		err := variant.DecodeExact(prefix, decode)
		require.Error(t, err, "prefix %d", k)
		assert.ErrorIs(t, err, variant.ErrTruncated, "prefix %d", k)
	}
}

func TestDecodeExactTrailingBytes(t *testing.T) {
	buf := append(variant.EncodeBool(true), 0x00)
	_, err := variant.DecodeBool(buf)
	assert.ErrorIs(t, err, variant.ErrTrailingBytes)
	assert.Equal(t, "decode at offset 8: trailing bytes after variant (1 byte(s) left)", err.Error())
	assert.NotContains(t, err.Error(), "kind(0)")
}

func TestDecodeErrorFieldPath(t *testing.T) {
	w := variant.NewWriter(0)
	w.ArrayHeader(2)
	w.Float(1)
	w.Bool(true)

	err := variant.NewReader(w.Bytes()).Floats(make([]float32, 2))
	err = variant.WithField(err, "factors")

	var de *variant.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "factors[1]", de.Field)
	assert.Equal(t, variant.KindFloat, de.Kind)
	assert.Equal(t, 16, de.Offset)
	assert.Contains(t, err.Error(), "factors[1]")
}

func TestReaderOffsetUnchangedOnTagMismatch(t *testing.T) {
	r := variant.NewReader(variant.EncodeBool(true))
	_, err := r.Float()
	require.Error(t, err)
	assert.Equal(t, 0, r.Offset())
	assert.Equal(t, variant.BoolSize, r.Remaining())
}
