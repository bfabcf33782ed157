// Package payload defines the typed, serializable representations of
// game facts that flow through the replication coordinator, plus the
// normalizer that maps them to a canonical serialized form.
//
// Two serialization strategies coexist: Transform and Input are
// high-frequency and use a fixed little-endian binary layout that must
// stay bit-exact across implementations; the remaining variants carry
// variable-shape maps and use JSON.
package payload

import (
	"errors"
	"fmt"

	"riftsync.gg/internal/schema"
)

// ErrTruncated reports a binary buffer shorter or longer than the fixed
// layout of the target variant.
var ErrTruncated = errors.New("payload: truncated buffer")

// Current schema identities for the built-in variants. Bumping a version
// here and registering the old decoder alongside keeps older senders
// readable.
var (
	TransformID    = schema.ID{Kind: schema.KindTransform, Version: 1}
	HealthID       = schema.ID{Kind: schema.KindHealth, Version: 1}
	CombatActionID = schema.ID{Kind: schema.KindCombatAction, Version: 1}
	InputID        = schema.ID{Kind: schema.KindInput, Version: 1}
	SpawnID        = schema.ID{Kind: schema.KindSpawn, Version: 1}
	DespawnID      = schema.ID{Kind: schema.KindDespawn, Version: 1}
	AIStateID      = schema.ID{Kind: schema.KindAIState, Version: 1}
	InventoryID    = schema.ID{Kind: schema.KindInventory, Version: 1}
)

// HashBytes folds b into a 64-bit content hash (seed 17, multiplier 31).
// It is used for deduplication and change detection, not integrity.
func HashBytes(b []byte) uint64 {
	h := uint64(17)
	for _, c := range b {
		h = h*31 + uint64(c)
	}
	return h
}

func hashOf(p schema.Payload) (uint64, error) {
	b, err := p.Serialize()
	if err != nil {
		return 0, fmt.Errorf("payload: hash %s: %w", p.SchemaID(), err)
	}
	return HashBytes(b), nil
}

// RegisterBuiltins installs the decode routines for every built-in
// variant. It is called once at process start; extension payloads may
// register additional ids on the same registry at runtime.
func RegisterBuiltins(r *schema.Registry) {
	r.Register(TransformID, func(b []byte) (schema.Payload, error) { return DecodeTransform(b) })
	r.Register(InputID, func(b []byte) (schema.Payload, error) { return DecodeInput(b) })
	r.Register(HealthID, func(b []byte) (schema.Payload, error) { return DecodeHealth(b) })
	r.Register(CombatActionID, func(b []byte) (schema.Payload, error) { return DecodeCombatAction(b) })
	r.Register(SpawnID, func(b []byte) (schema.Payload, error) { return DecodeSpawn(b) })
	r.Register(DespawnID, func(b []byte) (schema.Payload, error) { return DecodeDespawn(b) })
	r.Register(AIStateID, func(b []byte) (schema.Payload, error) { return DecodeAIState(b) })
	r.Register(InventoryID, func(b []byte) (schema.Payload, error) { return DecodeInventory(b) })
}
