package payload

import (
	"encoding/binary"
	"fmt"
	"math"

	"riftsync.gg/internal/schema"
)

// inputWireSize: move x/y + look yaw/pitch as float32, buttons bitmask
// and client sequence as uint32.
const inputWireSize = 4*4 + 4 + 4

// Input is the per-frame player input sample. Like Transform it is sent
// at tick rate, so it uses the fixed little-endian binary layout.
type Input struct {
	MoveX     float32
	MoveY     float32
	LookYaw   float32
	LookPitch float32
	Buttons   uint32
	Sequence  uint32
}

func (Input) SchemaID() schema.ID { return InputID }

func (in Input) Serialize() ([]byte, error) {
	b := make([]byte, inputWireSize)
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(in.MoveX))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(in.MoveY))
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(in.LookYaw))
	binary.LittleEndian.PutUint32(b[12:], math.Float32bits(in.LookPitch))
	binary.LittleEndian.PutUint32(b[16:], in.Buttons)
	binary.LittleEndian.PutUint32(b[20:], in.Sequence)
	return b, nil
}

func (in Input) Hash() (uint64, error) { return hashOf(in) }

func DecodeInput(b []byte) (Input, error) {
	if len(b) != inputWireSize {
		return Input{}, fmt.Errorf("%w: input needs %d bytes, got %d", ErrTruncated, inputWireSize, len(b))
	}
	return Input{
		MoveX:     math.Float32frombits(binary.LittleEndian.Uint32(b[0:])),
		MoveY:     math.Float32frombits(binary.LittleEndian.Uint32(b[4:])),
		LookYaw:   math.Float32frombits(binary.LittleEndian.Uint32(b[8:])),
		LookPitch: math.Float32frombits(binary.LittleEndian.Uint32(b[12:])),
		Buttons:   binary.LittleEndian.Uint32(b[16:]),
		Sequence:  binary.LittleEndian.Uint32(b[20:]),
	}, nil
}
