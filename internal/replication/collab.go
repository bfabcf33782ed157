package replication

import (
	"context"

	"riftsync.gg/internal/spatial"
)

// Collaborator boundaries. The coordinator owns sequencing and policy;
// the implementations behind these interfaces (live game memory, spawn
// authority, save engine, wire transport) live outside this package and
// may be nil, in which case the coordinator degrades to the documented
// fallback instead of failing.

// MemoryBridge reads and writes live entity state in game memory. The
// bridge invokes the coordinator's OnPlayerPositionChanged callback
// asynchronously when it detects a position delta.
type MemoryBridge interface {
	IsConnected() bool
	Connect() bool
	UpdatePosition(id uint64, pos spatial.Vec3) bool
	GetPosition(id uint64) spatial.Vec3
}

// Spawner activates and deactivates players in the running game.
// SpawnPlayer is potentially slow and is never called under the
// coordinator's registry lock.
type Spawner interface {
	SpawnPlayer(ctx context.Context, id uint64, data PlayerData, location string) error
	DespawnPlayer(id uint64) bool
	RequestGroupSpawn(ids []uint64, location string) (string, error)
	PlayerReadyToSpawn(groupID string, id uint64) bool
	AvailableLocations() []string
}

// Controller drives individual player behavior and reports fresh state
// snapshots. UpdatePlayerState returns ok=false when the controller has
// nothing newer than the coordinator's cache.
type Controller interface {
	UpdatePlayerState(id uint64) (PlayerData, bool)
	MovePlayer(id uint64, pos spatial.Vec3) error
	FollowPlayer(id, targetID uint64) error
	AttackTarget(id, targetID uint64) error
	PickupItem(id uint64, itemID string) error
	CreateSquad(leaderID uint64, memberIDs []uint64) error
}

// PlayerSave is the persisted state overlay returned by LoadPlayer.
type PlayerSave struct {
	Data          PlayerData
	SpawnPosition spatial.Vec3
}

// Persistence is the save engine boundary. LoadPlayer reports
// found=false (no error) when the player has never been saved.
// Concurrent save requests are serialized by the implementation, not by
// the coordinator.
type Persistence interface {
	LoadWorld(ctx context.Context) error
	SaveWorldState(ctx context.Context) error
	LoadPlayer(ctx context.Context, id uint64, name string) (save PlayerSave, found bool, err error)
	UnloadPlayer(ctx context.Context, id uint64) error
	RecordWorldEvent(kind string, data map[string]any)
}

// Synchronizer accepts outbound state updates for delivery. Handoff is
// fire-and-forget; the coordinator never blocks on delivery outcome.
type Synchronizer interface {
	Push(u StateUpdate)
}
