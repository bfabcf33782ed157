// Package schema gives every syncable state type a versioned identity
// and owns the process-wide lookup from that identity to a decode
// routine. Instances are created at startup and injected; there is no
// package-level registry.
package schema

import "fmt"

// Kind tags a syncable state type. Kinds are grouped into numerically
// spaced category ranges so each category can grow without renumbering:
//
//	100-199  core      (transform, health, spawn lifecycle)
//	200-299  combat
//	300-399  input
//	400-499  world
//	500-599  building  (reserved)
//	600-699  item
//	700-799  faction   (reserved)
//	1000+    custom    (runtime extensions)
type Kind uint16

const (
	KindUnknown Kind = 0

	KindTransform Kind = 101
	KindHealth    Kind = 102
	KindSpawn     Kind = 103
	KindDespawn   Kind = 104

	KindCombatAction Kind = 201

	KindInput Kind = 301

	KindAIState Kind = 401

	KindInventory Kind = 601

	// KindCustomBase is the first kind available to extension payloads.
	KindCustomBase Kind = 1000
)

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "UNKNOWN"
	case KindTransform:
		return "TRANSFORM"
	case KindHealth:
		return "HEALTH"
	case KindSpawn:
		return "SPAWN"
	case KindDespawn:
		return "DESPAWN"
	case KindCombatAction:
		return "COMBAT_ACTION"
	case KindInput:
		return "INPUT"
	case KindAIState:
		return "AI_STATE"
	case KindInventory:
		return "INVENTORY"
	}
	return fmt.Sprintf("KIND_%d", uint16(k))
}

// ID is the immutable (kind, version) identity every payload carries.
// Equality is structural; the zero value is invalid.
type ID struct {
	Kind    Kind   `json:"kind"`
	Version uint16 `json:"version"`
}

// Invalid is the zero identity. Receivers must drop payloads whose
// identity is not registered.
var Invalid = ID{}

func (id ID) Valid() bool { return id.Kind != KindUnknown }

func (id ID) String() string {
	return fmt.Sprintf("%s/v%d", id.Kind, id.Version)
}

// Payload is the capability set every syncable state type exposes:
// an identity, a serialized form, and a content hash over that form.
// Decoding is a free function paired with each variant (it precedes
// having an instance) and is dispatched through the Registry.
type Payload interface {
	SchemaID() ID
	Serialize() ([]byte, error)
	Hash() (uint64, error)
}
