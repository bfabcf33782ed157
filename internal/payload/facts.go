package payload

import (
	"encoding/json"
	"fmt"

	"riftsync.gg/internal/schema"
	"riftsync.gg/internal/spatial"
)

// The lower-frequency variants carry optional maps whose shape is not
// fixed at compile time, so they use a self-describing JSON encoding.
// Field names are part of the wire contract; the byte layout is not.

func marshalJSON(v any) ([]byte, error) { return json.Marshal(v) }

func decodeJSON(name string, b []byte, v any) error {
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("payload: decode %s: %w", name, err)
	}
	return nil
}

// Health is the current/max health of an entity plus optional per-limb
// detail.
type Health struct {
	EntityID uint64             `json:"entity_id"`
	Current  float32            `json:"current"`
	Max      float32            `json:"max"`
	Limbs    map[string]float32 `json:"limbs,omitempty"`
}

func (Health) SchemaID() schema.ID          { return HealthID }
func (h Health) Serialize() ([]byte, error) { return marshalJSON(h) }
func (h Health) Hash() (uint64, error)      { return hashOf(h) }

func DecodeHealth(b []byte) (Health, error) {
	var h Health
	err := decodeJSON("health", b, &h)
	return h, err
}

// CombatAction records one resolved combat act between two entities.
type CombatAction struct {
	ActorID  uint64       `json:"actor_id"`
	TargetID uint64       `json:"target_id,omitempty"`
	Action   string       `json:"action"`
	Damage   float32      `json:"damage,omitempty"`
	Position spatial.Vec3 `json:"position"`
}

func (CombatAction) SchemaID() schema.ID          { return CombatActionID }
func (c CombatAction) Serialize() ([]byte, error) { return marshalJSON(c) }
func (c CombatAction) Hash() (uint64, error)      { return hashOf(c) }

func DecodeCombatAction(b []byte) (CombatAction, error) {
	var c CombatAction
	err := decodeJSON("combat_action", b, &c)
	return c, err
}

// Spawn announces a player or entity entering the world, with an
// open-ended initial-state bag.
type Spawn struct {
	PlayerID     uint64            `json:"player_id"`
	Name         string            `json:"name"`
	Position     spatial.Vec3      `json:"position"`
	Location     string            `json:"location,omitempty"`
	InitialState map[string]string `json:"initial_state,omitempty"`
}

func (Spawn) SchemaID() schema.ID          { return SpawnID }
func (s Spawn) Serialize() ([]byte, error) { return marshalJSON(s) }
func (s Spawn) Hash() (uint64, error)      { return hashOf(s) }

func DecodeSpawn(b []byte) (Spawn, error) {
	var s Spawn
	err := decodeJSON("spawn", b, &s)
	return s, err
}

// Despawn announces a player or entity leaving the world.
type Despawn struct {
	PlayerID uint64 `json:"player_id"`
	Reason   string `json:"reason,omitempty"`
}

func (Despawn) SchemaID() schema.ID          { return DespawnID }
func (d Despawn) Serialize() ([]byte, error) { return marshalJSON(d) }
func (d Despawn) Hash() (uint64, error)      { return hashOf(d) }

func DecodeDespawn(b []byte) (Despawn, error) {
	var d Despawn
	err := decodeJSON("despawn", b, &d)
	return d, err
}

// AIState mirrors the behavioral state of an AI-driven entity, with a
// drive map (hunger, aggression, ...) whose keys are game-defined.
type AIState struct {
	EntityID uint64             `json:"entity_id"`
	State    string             `json:"state"`
	TargetID uint64             `json:"target_id,omitempty"`
	Drives   map[string]float64 `json:"drives,omitempty"`
}

func (AIState) SchemaID() schema.ID          { return AIStateID }
func (a AIState) Serialize() ([]byte, error) { return marshalJSON(a) }
func (a AIState) Hash() (uint64, error)      { return hashOf(a) }

func DecodeAIState(b []byte) (AIState, error) {
	var a AIState
	err := decodeJSON("ai_state", b, &a)
	return a, err
}

// ItemStack is one inventory slot entry.
type ItemStack struct {
	ItemID string `json:"item_id"`
	Count  int    `json:"count"`
	Slot   int    `json:"slot"`
}

// Inventory is the full item list of a player.
type Inventory struct {
	PlayerID uint64      `json:"player_id"`
	Items    []ItemStack `json:"items"`
}

func (Inventory) SchemaID() schema.ID          { return InventoryID }
func (i Inventory) Serialize() ([]byte, error) { return marshalJSON(i) }
func (i Inventory) Hash() (uint64, error)      { return hashOf(i) }

func DecodeInventory(b []byte) (Inventory, error) {
	var i Inventory
	err := decodeJSON("inventory", b, &i)
	return i, err
}
