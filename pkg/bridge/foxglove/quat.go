package foxglove

import (
	"math"

	"fcbridge/pkg/variant"
)

// quaternionFromBasis converts a row-major rotation basis to a unit
// quaternion, branching on the largest diagonal term for stability.
func quaternionFromBasis(b variant.Basis) Quaternion3 {
	if b == (variant.Basis{}) {
		return Quaternion3{W: 1}
	}
	m00, m01, m02 := float64(b[0][0]), float64(b[0][1]), float64(b[0][2])
	m10, m11, m12 := float64(b[1][0]), float64(b[1][1]), float64(b[1][2])
	m20, m21, m22 := float64(b[2][0]), float64(b[2][1]), float64(b[2][2])

	var q Quaternion3
	trace := m00 + m11 + m22
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q = Quaternion3{W: 0.25 * s, X: (m21 - m12) / s, Y: (m02 - m20) / s, Z: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(1+m00-m11-m22) * 2
		q = Quaternion3{W: (m21 - m12) / s, X: 0.25 * s, Y: (m01 + m10) / s, Z: (m02 + m20) / s}
	case m11 > m22:
		s := math.Sqrt(1+m11-m00-m22) * 2
		q = Quaternion3{W: (m02 - m20) / s, X: (m01 + m10) / s, Y: 0.25 * s, Z: (m12 + m21) / s}
	default:
		s := math.Sqrt(1+m22-m00-m11) * 2
		q = Quaternion3{W: (m10 - m01) / s, X: (m02 + m20) / s, Y: (m12 + m21) / s, Z: 0.25 * s}
	}

	norm := math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	if norm == 0 || math.IsNaN(norm) {
		return Quaternion3{W: 1}
	}
	return Quaternion3{X: q.X / norm, Y: q.Y / norm, Z: q.Z / norm, W: q.W / norm}
}

func vector(v variant.Vec3) Vector3 {
	return Vector3{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])}
}
