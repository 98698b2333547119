package tf

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Transform is a rigid transform mapping points expressed in a child frame
// into its parent frame: p_parent = Rotation(p_child) + Translation.
// Rotation must be a unit quaternion.
type Transform struct {
	Translation r3.Vec
	Rotation    r3.Rotation
}

// StampedTransform is the pose of Child relative to Parent at Stamp.
type StampedTransform struct {
	Parent string
	Child  string
	Stamp  time.Time
	Transform
}

// Identity returns the transform that leaves every point unchanged.
func Identity() Transform {
	return Transform{Rotation: r3.Rotation{Real: 1}}
}

// NewTransform builds a transform from a translation and a quaternion given
// as (x, y, z, w). The quaternion is normalized; a zero or non-finite
// quaternion is rejected.
func NewTransform(tx, ty, tz, qx, qy, qz, qw float64) (Transform, error) {
	for _, v := range []float64{tx, ty, tz, qx, qy, qz, qw} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Transform{}, errors.New("transform has non-finite component")
		}
	}
	q := quat.Number{Real: qw, Imag: qx, Jmag: qy, Kmag: qz}
	n := quat.Abs(q)
	if n == 0 {
		return Transform{}, errors.New("transform rotation is a zero quaternion")
	}
	return Transform{
		Translation: r3.Vec{X: tx, Y: ty, Z: tz},
		Rotation:    r3.Rotation(quat.Scale(1/n, q)),
	}, nil
}

// FromRPY builds a transform from a translation and roll/pitch/yaw angles
// in radians, applied in the fixed-axis order roll (X), pitch (Y), yaw (Z).
func FromRPY(tx, ty, tz, roll, pitch, yaw float64) Transform {
	qx := quat.Number(r3.NewRotation(roll, r3.Vec{X: 1}))
	qy := quat.Number(r3.NewRotation(pitch, r3.Vec{Y: 1}))
	qz := quat.Number(r3.NewRotation(yaw, r3.Vec{Z: 1}))
	return Transform{
		Translation: r3.Vec{X: tx, Y: ty, Z: tz},
		Rotation:    r3.Rotation(quat.Mul(qz, quat.Mul(qy, qx))),
	}
}

// Apply maps p from the child frame into the parent frame.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	return r3.Add(t.Rotation.Rotate(p), t.Translation)
}

// Compose returns t∘u, the transform that applies u first and then t.
func (t Transform) Compose(u Transform) Transform {
	return Transform{
		Translation: r3.Add(t.Rotation.Rotate(u.Translation), t.Translation),
		Rotation:    r3.Rotation(quat.Mul(quat.Number(t.Rotation), quat.Number(u.Rotation))),
	}
}

// Inverse returns the transform mapping parent-frame points back into the
// child frame.
func (t Transform) Inverse() Transform {
	inv := r3.Rotation(quat.Conj(quat.Number(t.Rotation)))
	return Transform{
		Translation: r3.Scale(-1, inv.Rotate(t.Translation)),
		Rotation:    inv,
	}
}

// Quaternion returns the rotation as (x, y, z, w).
func (t Transform) Quaternion() (x, y, z, w float64) {
	q := quat.Number(t.Rotation)
	return q.Imag, q.Jmag, q.Kmag, q.Real
}

// Interpolate blends a and b at fraction f in [0, 1]: translation linearly,
// rotation by shortest-path spherical linear interpolation.
func Interpolate(a, b Transform, f float64) Transform {
	switch {
	case f <= 0:
		return a
	case f >= 1:
		return b
	}
	return Transform{
		Translation: r3.Add(a.Translation, r3.Scale(f, r3.Sub(b.Translation, a.Translation))),
		Rotation:    slerp(a.Rotation, b.Rotation, f),
	}
}

func slerp(a, b r3.Rotation, f float64) r3.Rotation {
	qa, qb := quat.Number(a), quat.Number(b)
	dot := qa.Real*qb.Real + qa.Imag*qb.Imag + qa.Jmag*qb.Jmag + qa.Kmag*qb.Kmag
	if dot < 0 {
		qb = quat.Scale(-1, qb)
		dot = -dot
	}

	var out quat.Number
	if dot > 0.9995 {
		// Nearly parallel: nlerp avoids dividing by sin(theta) ~ 0.
		out = quat.Add(qa, quat.Scale(f, quat.Sub(qb, qa)))
	} else {
		theta := math.Acos(dot)
		sinTheta := math.Sin(theta)
		wa := math.Sin((1-f)*theta) / sinTheta
		wb := math.Sin(f*theta) / sinTheta
		out = quat.Add(quat.Scale(wa, qa), quat.Scale(wb, qb))
	}
	return r3.Rotation(quat.Scale(1/quat.Abs(out), out))
}

func (st StampedTransform) String() string {
	x, y, z, w := st.Quaternion()
	return fmt.Sprintf("%s->%s@%s t=(%.3f,%.3f,%.3f) q=(%.3f,%.3f,%.3f,%.3f)",
		st.Parent, st.Child, st.Stamp.Format(time.RFC3339Nano),
		st.Translation.X, st.Translation.Y, st.Translation.Z, x, y, z, w)
}
