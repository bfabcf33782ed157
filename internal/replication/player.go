package replication

import (
	"time"

	"riftsync.gg/internal/spatial"
)

// PlayerData is the authoritative per-player record. It is owned by the
// coordinator's registry while the player is active; accessors hand out
// copies, never the stored value.
type PlayerData struct {
	ID        uint64
	Name      string
	Position  spatial.Vec3
	Health    float32
	MaxHealth float32
	State     string
}

// StateUpdate is the ephemeral, transport-bound snapshot built per
// emission. It is not retained after handoff to the synchronizer and
// the observers.
type StateUpdate struct {
	PlayerID  uint64       `json:"player_id"`
	Name      string       `json:"name,omitempty"`
	Position  spatial.Vec3 `json:"position"`
	Health    float32      `json:"health"`
	MaxHealth float32      `json:"max_health"`
	State     string       `json:"state"`
	Timestamp time.Time    `json:"timestamp"`
}

// playerEntry is the registry slot for one active player. posKnown
// flips once a position has actually been observed (save overlay,
// controller refresh or bridge event) as opposed to whatever the caller
// passed to Add.
type playerEntry struct {
	data     PlayerData
	posKnown bool
}

func updateFor(d PlayerData, now time.Time) StateUpdate {
	return StateUpdate{
		PlayerID:  d.ID,
		Name:      d.Name,
		Position:  d.Position,
		Health:    d.Health,
		MaxHealth: d.MaxHealth,
		State:     d.State,
		Timestamp: now,
	}
}
