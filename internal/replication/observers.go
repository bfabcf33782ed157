package replication

import "sync"

// observers is the multicast subscriber set the coordinator exposes.
// Callbacks run synchronously on the goroutine that detected the
// condition (tick driver or direct-event caller), always after the
// registry mutation and outside its lock.
type observers struct {
	mu             sync.Mutex
	joined         []func(PlayerData)
	left           []func(uint64)
	stateChanged   []func(StateUpdate)
	spawned        []func(uint64)
	groupCompleted []func(string)
	died           []func(uint64)
}

func (o *observers) clear() {
	o.mu.Lock()
	o.joined = nil
	o.left = nil
	o.stateChanged = nil
	o.spawned = nil
	o.groupCompleted = nil
	o.died = nil
	o.mu.Unlock()
}

func (o *observers) notifyJoined(d PlayerData) {
	for _, fn := range o.snapshotJoined() {
		fn(d)
	}
}

func (o *observers) notifyLeft(id uint64) {
	o.mu.Lock()
	fns := append([]func(uint64){}, o.left...)
	o.mu.Unlock()
	for _, fn := range fns {
		fn(id)
	}
}

func (o *observers) notifyStateChanged(u StateUpdate) {
	o.mu.Lock()
	fns := append([]func(StateUpdate){}, o.stateChanged...)
	o.mu.Unlock()
	for _, fn := range fns {
		fn(u)
	}
}

func (o *observers) notifySpawned(id uint64) {
	o.mu.Lock()
	fns := append([]func(uint64){}, o.spawned...)
	o.mu.Unlock()
	for _, fn := range fns {
		fn(id)
	}
}

func (o *observers) notifyGroupCompleted(groupID string) {
	o.mu.Lock()
	fns := append([]func(string){}, o.groupCompleted...)
	o.mu.Unlock()
	for _, fn := range fns {
		fn(groupID)
	}
}

func (o *observers) notifyDied(id uint64) {
	o.mu.Lock()
	fns := append([]func(uint64){}, o.died...)
	o.mu.Unlock()
	for _, fn := range fns {
		fn(id)
	}
}

func (o *observers) snapshotJoined() []func(PlayerData) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]func(PlayerData){}, o.joined...)
}

// Subscription surface. Subscriptions are dropped wholesale by Stop so
// downstream components cannot dangle across a coordinator restart.

func (c *Coordinator) SubscribePlayerJoined(fn func(PlayerData)) {
	c.obs.mu.Lock()
	c.obs.joined = append(c.obs.joined, fn)
	c.obs.mu.Unlock()
}

func (c *Coordinator) SubscribePlayerLeft(fn func(uint64)) {
	c.obs.mu.Lock()
	c.obs.left = append(c.obs.left, fn)
	c.obs.mu.Unlock()
}

func (c *Coordinator) SubscribeStateChanged(fn func(StateUpdate)) {
	c.obs.mu.Lock()
	c.obs.stateChanged = append(c.obs.stateChanged, fn)
	c.obs.mu.Unlock()
}

func (c *Coordinator) SubscribePlayerSpawned(fn func(uint64)) {
	c.obs.mu.Lock()
	c.obs.spawned = append(c.obs.spawned, fn)
	c.obs.mu.Unlock()
}

func (c *Coordinator) SubscribeGroupSpawnCompleted(fn func(string)) {
	c.obs.mu.Lock()
	c.obs.groupCompleted = append(c.obs.groupCompleted, fn)
	c.obs.mu.Unlock()
}

func (c *Coordinator) SubscribePlayerDied(fn func(uint64)) {
	c.obs.mu.Lock()
	c.obs.died = append(c.obs.died, fn)
	c.obs.mu.Unlock()
}
