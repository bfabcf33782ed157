// Package spatial holds the small value types shared by the payload
// layer and the replication coordinator: 3D vectors, rotations and the
// reference frame a transform is expressed in.
package spatial

import "math"

type Vec3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

func (v Vec3) Length() float64 {
	x, y, z := float64(v.X), float64(v.Y), float64(v.Z)
	return math.Sqrt(x*x + y*y + z*z)
}

func Distance(a, b Vec3) float64 { return a.Sub(b).Length() }

// Quat is an x,y,z,w rotation quaternion.
type Quat struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
	W float32 `json:"w"`
}

// Identity is the no-rotation quaternion.
var Identity = Quat{W: 1}

func (q Quat) Norm() float64 {
	x, y, z, w := float64(q.X), float64(q.Y), float64(q.Z), float64(q.W)
	return math.Sqrt(x*x + y*y + z*z + w*w)
}

// Normalized scales q to unit length. A degenerate (zero) quaternion
// collapses to Identity rather than propagating NaNs. Quaternions
// already within float32 rounding of unit length are returned as-is so
// repeated normalization is a fixed point.
func (q Quat) Normalized() Quat {
	n := q.Norm()
	if n == 0 {
		return Identity
	}
	if math.Abs(n-1) < 1e-6 {
		return q
	}
	x := float32(float64(q.X) / n)
	y := float32(float64(q.Y) / n)
	z := float32(float64(q.Z) / n)
	w := float32(float64(q.W) / n)
	return Quat{x, y, z, w}
}

// FrameKind selects the space a transform is expressed in.
type FrameKind uint8

const (
	FrameWorld    FrameKind = 0
	FrameAttached FrameKind = 1
)

// SpaceFrame is the reference frame of a FramedTransform: the world, or
// an entity attachment point (parent entity + bone index).
type SpaceFrame struct {
	Kind      FrameKind `json:"kind"`
	ParentID  uint64    `json:"parent_id,omitempty"`
	BoneIndex uint16    `json:"bone_index,omitempty"`
}

// FramedTransform is a position/rotation/velocity in a reference frame.
type FramedTransform struct {
	Position Vec3       `json:"position"`
	Rotation Quat       `json:"rotation"`
	Velocity Vec3       `json:"velocity"`
	Frame    SpaceFrame `json:"frame"`
}
