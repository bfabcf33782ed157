// Package replication owns the authoritative player registry and the
// fixed-rate synchronization loop that propagates player state to the
// transport layer. It sequences player lifecycle (join/spawn/despawn/
// leave) against the persistence and spawn collaborators and filters
// outbound updates by time and distance thresholds.
package replication

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"riftsync.gg/internal/payload"
	"riftsync.gg/internal/spatial"
)

var (
	ErrPlayerNotActive = errors.New("replication: player not active")
	ErrNoSpawner       = errors.New("replication: no spawner configured")
	ErrNoController    = errors.New("replication: no controller configured")
)

// Config carries the coordinator's scheduling and filtering knobs.
type Config struct {
	// TickInterval is the fixed synchronization period.
	TickInterval time.Duration
	// AutoSaveInterval is the world auto-save period (persistence only).
	AutoSaveInterval time.Duration
	// UpdateThreshold is the minimum gap between tick-sourced emissions
	// for one player.
	UpdateThreshold time.Duration
	// PositionChangeThreshold is the distance (length units) a direct
	// position event must exceed to bypass UpdateThreshold.
	PositionChangeThreshold float64
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 50 * time.Millisecond
	}
	if c.AutoSaveInterval <= 0 {
		c.AutoSaveInterval = 60 * time.Second
	}
	if c.UpdateThreshold <= 0 {
		c.UpdateThreshold = 100 * time.Millisecond
	}
	if c.PositionChangeThreshold <= 0 {
		c.PositionChangeThreshold = 0.5
	}
}

type lifecycle int32

const (
	stateStopped lifecycle = iota
	stateStarting
	stateRunning
	stateStopping
)

func (s lifecycle) String() string {
	switch s {
	case stateStopped:
		return "stopped"
	case stateStarting:
		return "starting"
	case stateRunning:
		return "running"
	case stateStopping:
		return "stopping"
	}
	return "unknown"
}

// Coordinator replicates authoritative player state. All registry
// mutation happens under one coarse mutex; collaborator calls that may
// block (spawn, save/load, despawn) run outside it, after the registry
// mutation they depend on has completed.
type Coordinator struct {
	cfg  Config
	log  *log.Logger
	norm payload.Normalizer

	bridge     MemoryBridge
	spawner    Spawner
	controller Controller
	persist    Persistence
	syncer     Synchronizer

	mu       sync.Mutex
	players  map[uint64]*playerEntry
	lastEmit map[uint64]time.Time

	state atomic.Int32
	stop  chan struct{}
	wg    sync.WaitGroup

	obs observers

	// now is stubbed in tests.
	now func() time.Time
}

func New(cfg Config) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		cfg:      cfg,
		norm:     payload.NewNormalizer(),
		players:  map[uint64]*playerEntry{},
		lastEmit: map[uint64]time.Time{},
		now:      time.Now,
	}
}

func (c *Coordinator) SetLogger(l *log.Logger)            { c.log = l }
func (c *Coordinator) SetNormalizer(n payload.Normalizer) { c.norm = n }
func (c *Coordinator) SetBridge(b MemoryBridge)           { c.bridge = b }
func (c *Coordinator) SetSpawner(s Spawner)               { c.spawner = s }
func (c *Coordinator) SetController(ct Controller)        { c.controller = ct }
func (c *Coordinator) SetPersistence(p Persistence)       { c.persist = p }
func (c *Coordinator) SetSynchronizer(s Synchronizer)     { c.syncer = s }

func (c *Coordinator) logf(format string, args ...any) {
	if c.log != nil {
		c.log.Printf(format, args...)
	}
}

func (c *Coordinator) lifecycleState() lifecycle { return lifecycle(c.state.Load()) }

func (c *Coordinator) isRunning() bool { return c.lifecycleState() == stateRunning }

// Start brings the coordinator to Running: connect the bridge (failure
// degrades to headless mode), load world state (failure falls back to
// defaults), then start the tick and auto-save drivers. Calling Start
// while already Running is an idempotent success.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(stateStopped), int32(stateStarting)) {
		if c.lifecycleState() == stateRunning {
			return nil
		}
		return fmt.Errorf("replication: start while %s", c.lifecycleState())
	}

	if c.bridge != nil && !c.bridge.IsConnected() {
		if !c.bridge.Connect() {
			c.logf("start: game memory bridge unavailable, running headless")
		}
	}

	if c.persist != nil {
		// Awaited synchronously: Start must not report success before
		// the load has resolved.
		if err := c.persist.LoadWorld(ctx); err != nil {
			c.logf("start: load world failed, using defaults: %v", err)
		}
	}

	c.stop = make(chan struct{})
	c.wg.Add(1)
	go c.tickDriver(c.stop)
	if c.persist != nil {
		c.wg.Add(1)
		go c.autoSaveDriver(c.stop)
	}

	c.state.Store(int32(stateRunning))
	c.logf("start: tick=%s autosave=%s threshold=%s", c.cfg.TickInterval, c.cfg.AutoSaveInterval, c.cfg.UpdateThreshold)
	return nil
}

// Stop cancels both drivers, flushes world state best-effort, despawns
// every still-active player and drops observer subscriptions. Stopping
// an already-stopped coordinator is a no-op.
func (c *Coordinator) Stop() {
	if !c.state.CompareAndSwap(int32(stateRunning), int32(stateStopping)) {
		return
	}

	close(c.stop)
	c.wg.Wait()

	if c.persist != nil {
		if err := c.persist.SaveWorldState(context.Background()); err != nil {
			c.logf("stop: save world failed: %v", err)
		}
	}

	c.mu.Lock()
	departed := make([]PlayerData, 0, len(c.players))
	for _, e := range c.players {
		departed = append(departed, e.data)
	}
	c.players = map[uint64]*playerEntry{}
	c.lastEmit = map[uint64]time.Time{}
	c.mu.Unlock()

	for _, d := range departed {
		c.unloadOrDespawn(d.ID)
		c.obs.notifyLeft(d.ID)
	}

	c.obs.clear()
	c.state.Store(int32(stateStopped))
	c.logf("stop: complete, %d players despawned", len(departed))
}

// ForceSave shares the auto-save persistence call; racing saves are the
// persistence collaborator's problem to serialize.
func (c *Coordinator) ForceSave(ctx context.Context) error {
	if c.persist == nil {
		return nil
	}
	return c.persist.SaveWorldState(ctx)
}

func (c *Coordinator) tickDriver(stop <-chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.UpdateGameState()
		}
	}
}

func (c *Coordinator) autoSaveDriver(stop <-chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.AutoSaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// A slow save delays only its own next run; the tick driver
			// is independent.
			if err := c.persist.SaveWorldState(context.Background()); err != nil {
				c.logf("autosave: %v", err)
			}
		}
	}
}

func (c *Coordinator) unloadOrDespawn(id uint64) {
	if c.persist != nil {
		if err := c.persist.UnloadPlayer(context.Background(), id); err != nil {
			c.logf("unload player %d: %v", id, err)
		}
		return
	}
	if c.spawner != nil {
		if !c.spawner.DespawnPlayer(id) {
			c.logf("despawn player %d: spawner refused", id)
		}
	}
}

func (c *Coordinator) bridgeConnected() bool {
	return c.bridge != nil && c.bridge.IsConnected()
}

// canonicalPosition routes a raw position through the payload
// normalizer so cached and emitted positions share one canonical form.
func (c *Coordinator) canonicalPosition(pos spatial.Vec3) spatial.Vec3 {
	var t payload.Transform
	t.Position = pos
	t.Rotation = spatial.Identity
	return c.norm.NormalizeTransform(t).Position
}
