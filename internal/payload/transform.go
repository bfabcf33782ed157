package payload

import (
	"encoding/binary"
	"fmt"
	"math"

	"riftsync.gg/internal/schema"
	"riftsync.gg/internal/spatial"
)

// transformWireSize is the exact encoded size: position 3*float32,
// rotation 4*float32, velocity 3*float32, frame kind 1 byte, parent id
// 8 bytes, bone index 2 bytes.
const transformWireSize = 10*4 + 1 + 8 + 2

// Transform is the hot-path pose payload. Its wire form is bit-exact:
// little-endian float32 fields in declared order followed by the frame
// metadata. Rotation is stored as the canonical (positive scalar) unit
// quaternion after normalization.
type Transform struct {
	spatial.FramedTransform
}

func (Transform) SchemaID() schema.ID { return TransformID }

func (t Transform) Serialize() ([]byte, error) {
	b := make([]byte, transformWireSize)
	off := 0
	putF32 := func(f float32) {
		binary.LittleEndian.PutUint32(b[off:], math.Float32bits(f))
		off += 4
	}
	putF32(t.Position.X)
	putF32(t.Position.Y)
	putF32(t.Position.Z)
	putF32(t.Rotation.X)
	putF32(t.Rotation.Y)
	putF32(t.Rotation.Z)
	putF32(t.Rotation.W)
	putF32(t.Velocity.X)
	putF32(t.Velocity.Y)
	putF32(t.Velocity.Z)
	b[off] = byte(t.Frame.Kind)
	off++
	binary.LittleEndian.PutUint64(b[off:], t.Frame.ParentID)
	off += 8
	binary.LittleEndian.PutUint16(b[off:], t.Frame.BoneIndex)
	return b, nil
}

func (t Transform) Hash() (uint64, error) { return hashOf(t) }

func DecodeTransform(b []byte) (Transform, error) {
	if len(b) != transformWireSize {
		return Transform{}, fmt.Errorf("%w: transform needs %d bytes, got %d", ErrTruncated, transformWireSize, len(b))
	}
	off := 0
	getF32 := func() float32 {
		f := math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
		off += 4
		return f
	}
	var t Transform
	t.Position.X = getF32()
	t.Position.Y = getF32()
	t.Position.Z = getF32()
	t.Rotation.X = getF32()
	t.Rotation.Y = getF32()
	t.Rotation.Z = getF32()
	t.Rotation.W = getF32()
	t.Velocity.X = getF32()
	t.Velocity.Y = getF32()
	t.Velocity.Z = getF32()
	t.Frame.Kind = spatial.FrameKind(b[off])
	off++
	t.Frame.ParentID = binary.LittleEndian.Uint64(b[off:])
	off += 8
	t.Frame.BoneIndex = binary.LittleEndian.Uint16(b[off:])
	return t, nil
}
