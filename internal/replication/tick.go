package replication

import "riftsync.gg/internal/spatial"

// UpdateGameState is one synchronization tick: refresh every active
// player from the controller and emit updates that pass the send
// policy. A panic from one player's refresh is contained so it cannot
// starve the rest of the roster or kill the tick driver.
func (c *Coordinator) UpdateGameState() {
	if !c.isRunning() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logf("tick: recovered: %v", r)
		}
	}()
	if c.controller == nil {
		return
	}

	now := c.now()
	var emits []StateUpdate

	c.mu.Lock()
	for id, e := range c.players {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logf("tick: player %d: recovered: %v", id, r)
				}
			}()
			fresh, ok := c.controller.UpdatePlayerState(id)
			if !ok {
				// Controller has nothing newer; keep the cached entry.
				return
			}
			fresh.ID = id
			fresh.Position = c.canonicalPosition(fresh.Position)
			e.data = fresh
			e.posKnown = true

			// Send policy: at most one tick-sourced emission per player
			// per UpdateThreshold window; a missing timestamp (first
			// ever) always qualifies.
			last, seen := c.lastEmit[id]
			if seen && now.Sub(last) < c.cfg.UpdateThreshold {
				return
			}
			emits = append(emits, updateFor(e.data, now))
			c.lastEmit[id] = now
		}()
	}
	c.mu.Unlock()

	for _, u := range emits {
		c.emit(u)
	}
}

// OnPlayerPositionChanged is the direct propagation path the bridge or
// controller invokes when it reports a position delta outside the tick.
// Large discrete moves (teleport, respawn) bypass the time threshold:
// the update is emitted immediately when there is no prior observed
// position or the distance moved exceeds PositionChangeThreshold.
func (c *Coordinator) OnPlayerPositionChanged(id uint64, pos spatial.Vec3) {
	pos = c.canonicalPosition(pos)

	c.mu.Lock()
	e, ok := c.players[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	prior := e.data.Position
	hadPrior := e.posKnown
	e.data.Position = pos
	e.posKnown = true

	emit := !hadPrior || spatial.Distance(prior, pos) > c.cfg.PositionChangeThreshold
	var u StateUpdate
	if emit {
		now := c.now()
		u = updateFor(e.data, now)
		c.lastEmit[id] = now
	}
	c.mu.Unlock()

	if emit {
		c.emit(u)
	}
}

// OnPlayerDied is the inbound death notification from the controller's
// observer; the registry entry stays (health arrives via the tick), the
// death is fanned out to subscribers.
func (c *Coordinator) OnPlayerDied(id uint64) {
	if !c.isActive(id) {
		return
	}
	c.logf("player %d died", id)
	c.obs.notifyDied(id)
}

// OnGroupSpawnCompleted is the inbound completion signal from the
// spawner's observer.
func (c *Coordinator) OnGroupSpawnCompleted(groupID string) {
	c.logf("group spawn %s completed", groupID)
	c.obs.notifyGroupCompleted(groupID)
}

// emit hands one snapshot to the synchronizer and the state-changed
// subscribers, outside the registry lock.
func (c *Coordinator) emit(u StateUpdate) {
	if c.syncer != nil {
		c.syncer.Push(u)
	}
	c.obs.notifyStateChanged(u)
}
