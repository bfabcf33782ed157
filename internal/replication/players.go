package replication

import (
	"context"
	"fmt"
	"sort"

	"riftsync.gg/internal/spatial"
)

// Add activates a player. With persistence configured the saved state
// is loaded first and its health/position overlaid onto data; that path
// never invokes the legacy spawn routine. Without persistence (or when
// the load finds nothing) the player is inserted and the spawner is
// invoked outside the registry lock. Adding an id that is already
// active overwrites the stored data and succeeds without a duplicate
// join notification.
func (c *Coordinator) Add(ctx context.Context, id uint64, data PlayerData, spawnLocation string) error {
	data.ID = id
	data.Position = c.canonicalPosition(data.Position)

	if c.persist != nil {
		save, found, err := c.persist.LoadPlayer(ctx, id, data.Name)
		if err != nil {
			c.logf("add player %d: load failed, falling back to spawn: %v", id, err)
		} else if found {
			data.Health = save.Data.Health
			data.MaxHealth = save.Data.MaxHealth
			if save.Data.State != "" {
				data.State = save.Data.State
			}
			data.Position = c.canonicalPosition(save.SpawnPosition)

			wasActive := c.insert(data, true)
			if !wasActive {
				c.obs.notifyJoined(data)
			}
			c.logf("add player %d (%s): restored from save", id, data.Name)
			return nil
		}
	}

	wasActive := c.insert(data, false)

	if c.spawner != nil {
		// Spawning is slow and must not hold the registry lock.
		if err := c.spawner.SpawnPlayer(ctx, id, data, spawnLocation); err != nil {
			c.logf("add player %d: spawn failed: %v", id, err)
			return fmt.Errorf("replication: spawn player %d: %w", id, err)
		}
		c.obs.notifySpawned(id)
		if c.bridgeConnected() {
			// The game decides the exact spawn point; read it back so the
			// cache starts from observed memory, not the caller's request.
			pos := c.canonicalPosition(c.bridge.GetPosition(id))
			data.Position = pos
			c.mu.Lock()
			if e, ok := c.players[id]; ok {
				e.data.Position = pos
				e.posKnown = true
			}
			c.mu.Unlock()
		}
	}

	if !wasActive {
		c.obs.notifyJoined(data)
	}
	c.logf("add player %d (%s): spawned at %q", id, data.Name, spawnLocation)
	return nil
}

// insert upserts the registry entry and its parallel timestamp slot
// under one lock so the two maps keep identical key sets. It reports
// whether the id was already active.
func (c *Coordinator) insert(data PlayerData, posKnown bool) (wasActive bool) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.players[data.ID]; ok {
		e.data = data
		e.posKnown = e.posKnown || posKnown
		return true
	}
	c.players[data.ID] = &playerEntry{data: data, posKnown: posKnown}
	c.lastEmit[data.ID] = now
	return false
}

// Remove deactivates a player. The registry and timestamp entries go
// first, atomically, so no concurrent tick can observe a half-removed
// player; the best-effort unload/despawn follows outside the lock.
// Removing an unknown id reports found=false and changes nothing.
func (c *Coordinator) Remove(id uint64) (found bool) {
	c.mu.Lock()
	_, found = c.players[id]
	if found {
		delete(c.players, id)
		delete(c.lastEmit, id)
	}
	c.mu.Unlock()
	if !found {
		c.logf("remove player %d: not found", id)
		return false
	}

	c.unloadOrDespawn(id)
	c.obs.notifyLeft(id)
	c.logf("remove player %d: done", id)
	return true
}

// Player returns a snapshot of one active player.
func (c *Coordinator) Player(id uint64) (PlayerData, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.players[id]
	if !ok {
		return PlayerData{}, false
	}
	return e.data, true
}

// Players returns snapshots of every active player, ordered by id.
func (c *Coordinator) Players() []PlayerData {
	c.mu.Lock()
	out := make([]PlayerData, 0, len(c.players))
	for _, e := range c.players {
		out = append(out, e.data)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Coordinator) isActive(id uint64) bool {
	c.mu.Lock()
	_, ok := c.players[id]
	c.mu.Unlock()
	return ok
}

// Action delegation: the coordinator validates that the player is
// active and passes through; the movement/combat algorithms live in the
// controller.

func (c *Coordinator) MovePlayer(id uint64, pos spatial.Vec3) error {
	if c.controller == nil {
		return ErrNoController
	}
	if !c.isActive(id) {
		return fmt.Errorf("%w: %d", ErrPlayerNotActive, id)
	}
	if err := c.controller.MovePlayer(id, pos); err != nil {
		return err
	}
	// Mirror the accepted move into game memory so the bridge and the
	// controller agree; the bridge reports the resulting delta back
	// through OnPlayerPositionChanged.
	if c.bridgeConnected() {
		if !c.bridge.UpdatePosition(id, c.canonicalPosition(pos)) {
			c.logf("move player %d: bridge write refused", id)
		}
	}
	return nil
}

func (c *Coordinator) FollowPlayer(id, targetID uint64) error {
	if c.controller == nil {
		return ErrNoController
	}
	if !c.isActive(id) {
		return fmt.Errorf("%w: %d", ErrPlayerNotActive, id)
	}
	return c.controller.FollowPlayer(id, targetID)
}

func (c *Coordinator) AttackTarget(id, targetID uint64) error {
	if c.controller == nil {
		return ErrNoController
	}
	if !c.isActive(id) {
		return fmt.Errorf("%w: %d", ErrPlayerNotActive, id)
	}
	return c.controller.AttackTarget(id, targetID)
}

func (c *Coordinator) PickupItem(id uint64, itemID string) error {
	if c.controller == nil {
		return ErrNoController
	}
	if !c.isActive(id) {
		return fmt.Errorf("%w: %d", ErrPlayerNotActive, id)
	}
	return c.controller.PickupItem(id, itemID)
}

func (c *Coordinator) CreateSquad(leaderID uint64, memberIDs []uint64) error {
	if c.controller == nil {
		return ErrNoController
	}
	if !c.isActive(leaderID) {
		return fmt.Errorf("%w: %d", ErrPlayerNotActive, leaderID)
	}
	return c.controller.CreateSquad(leaderID, memberIDs)
}

// RequestGroupSpawn passes a batch spawn request to the spawner and
// returns its group id. Completion arrives via OnGroupSpawnCompleted.
func (c *Coordinator) RequestGroupSpawn(ids []uint64, location string) (string, error) {
	if c.spawner == nil {
		return "", ErrNoSpawner
	}
	groupID, err := c.spawner.RequestGroupSpawn(ids, location)
	if err != nil {
		return "", fmt.Errorf("replication: group spawn: %w", err)
	}
	c.logf("group spawn %s: %d players at %q", groupID, len(ids), location)
	return groupID, nil
}

func (c *Coordinator) PlayerReadyToSpawn(groupID string, id uint64) bool {
	if c.spawner == nil {
		return false
	}
	return c.spawner.PlayerReadyToSpawn(groupID, id)
}

func (c *Coordinator) AvailableLocations() []string {
	if c.spawner == nil {
		return nil
	}
	return c.spawner.AvailableLocations()
}
