package payload

import (
	"math"

	"riftsync.gg/internal/schema"
	"riftsync.gg/internal/spatial"
)

// Normalizer maps a payload to its canonical form so that two payloads
// describing the same physical state serialize to identical bytes.
// Without it, float jitter from the game memory reads would defeat
// hash-based deduplication and feed motion noise back into the update
// loop.
//
// Normalization is idempotent and only rewrites transform payloads;
// every other variant passes through untouched.
type Normalizer struct {
	// PositionPrecision is the quantization step for each position axis.
	// Rounding is half away from zero.
	PositionPrecision float64
	// VelocityEpsilon zeroes any velocity axis with a smaller magnitude.
	VelocityEpsilon float64
}

const (
	DefaultPositionPrecision = 0.001
	DefaultVelocityEpsilon   = 0.01
)

func NewNormalizer() Normalizer {
	return Normalizer{
		PositionPrecision: DefaultPositionPrecision,
		VelocityEpsilon:   DefaultVelocityEpsilon,
	}
}

// Normalize returns the canonical form of p.
func (n Normalizer) Normalize(p schema.Payload) schema.Payload {
	t, ok := p.(Transform)
	if !ok {
		return p
	}
	return n.NormalizeTransform(t)
}

func (n Normalizer) NormalizeTransform(t Transform) Transform {
	step := n.PositionPrecision
	if step <= 0 {
		step = DefaultPositionPrecision
	}
	eps := n.VelocityEpsilon
	if eps < 0 {
		eps = DefaultVelocityEpsilon
	}

	t.Position.X = quantize(t.Position.X, step)
	t.Position.Y = quantize(t.Position.Y, step)
	t.Position.Z = quantize(t.Position.Z, step)

	// Unit length, then canonical hemisphere: q and -q are the same
	// rotation, so the scalar component is kept non-negative.
	q := t.Rotation.Normalized()
	if q.W < 0 {
		q = spatial.Quat{X: -q.X, Y: -q.Y, Z: -q.Z, W: -q.W}
	}
	t.Rotation = q

	t.Velocity.X = gate(t.Velocity.X, eps)
	t.Velocity.Y = gate(t.Velocity.Y, eps)
	t.Velocity.Z = gate(t.Velocity.Z, eps)
	return t
}

func quantize(v float32, step float64) float32 {
	return float32(math.Round(float64(v)/step) * step)
}

func gate(v float32, eps float64) float32 {
	if math.Abs(float64(v)) < eps {
		return 0
	}
	return v
}
