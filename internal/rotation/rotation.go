// Package rotation implements the quaternion math shared by the pose and
// policy services: normalization, rotation matrices, extrinsic Euler angles,
// the orientation one-hot bucket and the 16-value policy observation.
//
// Quaternions are stored scalar-last, [x, y, z, w], the order used by the
// pose model output and by the API.
package rotation

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// ErrShape reports a vector of the wrong length.
var ErrShape = errors.New("wrong vector length")

// normEpsilon is the norm below which a quaternion is treated as zero.
const normEpsilon = 1e-8

// OneHotThreshold is the axis component a z-axis must exceed to be bucketed.
const OneHotThreshold = 0.7

// ObservationSize is the length of the policy observation vector.
const ObservationSize = 16

// Quat is a quaternion in [x, y, z, w] order.
type Quat [4]float64

// Identity is the unit quaternion for no rotation.
var Identity = Quat{0, 0, 0, 1}

// FromSlice builds a Quat from exactly four values.
func FromSlice(v []float64) (Quat, error) {
	if len(v) != 4 {
		return Quat{}, fmt.Errorf("quaternion needs 4 values, got %d: %w", len(v), ErrShape)
	}
	return Quat{v[0], v[1], v[2], v[3]}, nil
}

// FromFloat32 builds a Quat from the first four values of a model output.
func FromFloat32(v []float32) (Quat, error) {
	if len(v) < 4 {
		return Quat{}, fmt.Errorf("quaternion needs 4 values, got %d: %w", len(v), ErrShape)
	}
	return Quat{float64(v[0]), float64(v[1]), float64(v[2]), float64(v[3])}, nil
}

func (q Quat) number() quat.Number {
	return quat.Number{Real: q[3], Imag: q[0], Jmag: q[1], Kmag: q[2]}
}

func fromNumber(n quat.Number) Quat {
	return Quat{n.Imag, n.Jmag, n.Kmag, n.Real}
}

// Norm returns the L2 norm.
func (q Quat) Norm() float64 {
	return quat.Abs(q.number())
}

// Slice returns q as a []float64 for JSON encoding.
func (q Quat) Slice() []float64 {
	return []float64{q[0], q[1], q[2], q[3]}
}

// Normalize returns q scaled to unit length, or Identity when q is
// numerically zero.
func Normalize(q Quat) Quat {
	n := q.Norm()
	if n < normEpsilon || math.IsNaN(n) {
		return Identity
	}
	return Quat{q[0] / n, q[1] / n, q[2] / n, q[3] / n}
}

// Canonical returns the representative of ±q with w >= 0. When w is zero the
// first non-zero component is made positive.
func Canonical(q Quat) Quat {
	for _, i := range [4]int{3, 0, 1, 2} {
		switch {
		case q[i] > 0:
			return q
		case q[i] < 0:
			return Quat{-q[0], -q[1], -q[2], -q[3]}
		}
	}
	return q
}

// Distance is the L2 distance between unit-normalized a and b, taking the
// closer of b and -b since both encode the same rotation.
func Distance(a, b Quat) float64 {
	a, b = Normalize(a), Normalize(b)
	return math.Min(l2(a, b, 1), l2(a, b, -1))
}

func l2(a, b Quat, sign float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - sign*b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Rotate applies q to v.
func Rotate(q Quat, v [3]float64) [3]float64 {
	n := Normalize(q).number()
	p := quat.Number{Imag: v[0], Jmag: v[1], Kmag: v[2]}
	r := quat.Mul(quat.Mul(n, p), quat.Conj(n))
	return [3]float64{r.Imag, r.Jmag, r.Kmag}
}

// ZAxis returns the body z-axis (0, 0, 1) rotated by q, which is the third
// column of the rotation matrix.
func ZAxis(q Quat) [3]float64 {
	return Rotate(q, [3]float64{0, 0, 1})
}

// Matrix returns the rotation matrix of the normalized quaternion.
func Matrix(q Quat) [3][3]float64 {
	q = Normalize(q)
	x, y, z, w := q[0], q[1], q[2], q[3]
	return [3][3]float64{
		{1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w)},
		{2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w)},
		{2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y)},
	}
}

// gimbalEpsilon bounds cos(pitch) below which roll and yaw are not separable.
const gimbalEpsilon = 1e-7

// Euler returns extrinsic x-y-z angles in degrees, so that
// R = Rz(yaw)·Ry(pitch)·Rx(roll). Roll and yaw lie in (-180, 180], pitch in
// [-90, 90]. In gimbal lock the yaw is fixed at 0 and folded into roll.
func Euler(q Quat) [3]float64 {
	r := Matrix(q)

	pitch := math.Asin(clamp(-r[2][0], -1, 1))
	var roll, yaw float64
	if math.Hypot(r[0][0], r[1][0]) < gimbalEpsilon {
		roll = math.Atan2(-r[1][2], r[1][1])
	} else {
		roll = math.Atan2(r[2][1], r[2][2])
		yaw = math.Atan2(r[1][0], r[0][0])
	}
	return [3]float64{degrees(roll), degrees(pitch), degrees(yaw)}
}

// OrientationOneHot buckets a z-axis into {up, down, left, right, forward,
// back}. The first matching test wins: +z, -z, +x, -x, +y, -y. A z-axis with
// no component beyond OneHotThreshold yields all zeros.
func OrientationOneHot(z [3]float64) [6]float32 {
	const t = OneHotThreshold
	var v [6]float32
	switch {
	case z[2] > t:
		v[0] = 1
	case z[2] < -t:
		v[1] = 1
	case z[0] > t:
		v[3] = 1
	case z[0] < -t:
		v[2] = 1
	case z[1] > t:
		v[4] = 1
	case z[1] < -t:
		v[5] = 1
	}
	return v
}

// Observation builds the policy input: normalized quaternion, angular
// velocity, z-axis and orientation one-hot.
func Observation(q Quat, angVel [3]float64) [ObservationSize]float32 {
	q = Normalize(q)
	z := ZAxis(q)
	hot := OrientationOneHot(z)

	var obs [ObservationSize]float32
	for i := range q {
		obs[i] = float32(q[i])
	}
	for i := range angVel {
		obs[4+i] = float32(angVel[i])
	}
	for i := range z {
		obs[7+i] = float32(z[i])
	}
	copy(obs[10:], hot[:])
	return obs
}

// Comparison scores a predicted orientation against a reference.
type Comparison struct {
	// Error is the double-cover-aware L2 distance, zero for q and -q.
	Error float64
	// AngleDeg is the angle of the relative rotation, in [0, 180].
	AngleDeg float64
	// RawError is the plain L2 distance |pred - actual|.
	RawError float64
}

// Compare normalizes both quaternions and reports their distance.
func Compare(pred, actual Quat) Comparison {
	p, a := Normalize(pred), Normalize(actual)
	return Comparison{
		Error:    math.Min(l2(p, a, 1), l2(p, a, -1)),
		AngleDeg: Angle(p, a),
		RawError: l2(p, a, 1),
	}
}

// Angle returns the rotation angle of actual·pred⁻¹ in degrees.
func Angle(pred, actual Quat) float64 {
	p, a := Normalize(pred).number(), Normalize(actual).number()
	d := quat.Mul(a, quat.Conj(p))
	vec := math.Sqrt(d.Imag*d.Imag + d.Jmag*d.Jmag + d.Kmag*d.Kmag)
	return degrees(2 * math.Atan2(vec, math.Abs(d.Real)))
}

// Mul returns the Hamilton product a·b.
func Mul(a, b Quat) Quat {
	return fromNumber(quat.Mul(a.number(), b.number()))
}

// FromEuler builds a unit quaternion from extrinsic x-y-z angles in degrees.
func FromEuler(roll, pitch, yaw float64) Quat {
	half := func(deg float64) (float64, float64) {
		return math.Sincos(deg * math.Pi / 360)
	}
	sx, cx := half(roll)
	sy, cy := half(pitch)
	sz, cz := half(yaw)
	qx := Quat{sx, 0, 0, cx}
	qy := Quat{0, sy, 0, cy}
	qz := Quat{0, 0, sz, cz}
	return Normalize(Mul(qz, Mul(qy, qx)))
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
