package replication

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"riftsync.gg/internal/spatial"
)

type fakeController struct {
	mu     sync.Mutex
	states map[uint64]PlayerData
	fresh  map[uint64]bool
	panics map[uint64]bool
	moves  []uint64
}

func newFakeController() *fakeController {
	return &fakeController{
		states: map[uint64]PlayerData{},
		fresh:  map[uint64]bool{},
		panics: map[uint64]bool{},
	}
}

func (f *fakeController) report(id uint64, d PlayerData) {
	f.mu.Lock()
	f.states[id] = d
	f.fresh[id] = true
	f.mu.Unlock()
}

func (f *fakeController) UpdatePlayerState(id uint64) (PlayerData, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics[id] {
		panic("controller exploded")
	}
	if !f.fresh[id] {
		return PlayerData{}, false
	}
	return f.states[id], true
}

func (f *fakeController) MovePlayer(id uint64, pos spatial.Vec3) error {
	f.mu.Lock()
	f.moves = append(f.moves, id)
	f.mu.Unlock()
	return nil
}
func (f *fakeController) FollowPlayer(id, targetID uint64) error { return nil }

func (f *fakeController) AttackTarget(id, targetID uint64) error { return nil }

func (f *fakeController) PickupItem(id uint64, itemID string) error { return nil }

func (f *fakeController) CreateSquad(leaderID uint64, m []uint64) error { return nil }

type fakeBridge struct {
	mu        sync.Mutex
	connected bool
	positions map[uint64]spatial.Vec3
	writes    []uint64
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{connected: true, positions: map[uint64]spatial.Vec3{}}
}

func (f *fakeBridge) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBridge) Connect() bool {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return true
}

func (f *fakeBridge) UpdatePosition(id uint64, pos spatial.Vec3) bool {
	f.mu.Lock()
	f.positions[id] = pos
	f.writes = append(f.writes, id)
	f.mu.Unlock()
	return true
}

func (f *fakeBridge) GetPosition(id uint64) spatial.Vec3 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions[id]
}

type fakeSpawner struct {
	mu        sync.Mutex
	spawnErr  error
	spawned   []uint64
	despawned []uint64
}

func (f *fakeSpawner) SpawnPlayer(ctx context.Context, id uint64, data PlayerData, location string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return f.spawnErr
	}
	f.spawned = append(f.spawned, id)
	return nil
}

func (f *fakeSpawner) DespawnPlayer(id uint64) bool {
	f.mu.Lock()
	f.despawned = append(f.despawned, id)
	f.mu.Unlock()
	return true
}

func (f *fakeSpawner) RequestGroupSpawn(ids []uint64, location string) (string, error) {
	return "grp_1", nil
}
func (f *fakeSpawner) PlayerReadyToSpawn(groupID string, id uint64) bool { return true }

func (f *fakeSpawner) AvailableLocations() []string { return []string{"harbor"} }

type fakePersistence struct {
	mu         sync.Mutex
	saves      map[uint64]PlayerSave
	loadErr    error
	worldSaves int
	unloads    []uint64
}

func (f *fakePersistence) LoadWorld(ctx context.Context) error { return nil }

func (f *fakePersistence) SaveWorldState(ctx context.Context) error {
	f.mu.Lock()
	f.worldSaves++
	f.mu.Unlock()
	return nil
}

func (f *fakePersistence) LoadPlayer(ctx context.Context, id uint64, name string) (PlayerSave, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return PlayerSave{}, false, f.loadErr
	}
	s, ok := f.saves[id]
	return s, ok, nil
}

func (f *fakePersistence) UnloadPlayer(ctx context.Context, id uint64) error {
	f.mu.Lock()
	f.unloads = append(f.unloads, id)
	f.mu.Unlock()
	return nil
}

func (f *fakePersistence) RecordWorldEvent(kind string, data map[string]any) {}

type fakeSynchronizer struct {
	mu      sync.Mutex
	updates []StateUpdate
}

func (f *fakeSynchronizer) Push(u StateUpdate) {
	f.mu.Lock()
	f.updates = append(f.updates, u)
	f.mu.Unlock()
}

func (f *fakeSynchronizer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func (f *fakeSynchronizer) last() StateUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates[len(f.updates)-1]
}

// newTestCoordinator returns a coordinator whose drivers never fire on
// their own (huge intervals) so tests invoke ticks deterministically
// through a stubbed clock.
func newTestCoordinator(t *testing.T) (*Coordinator, *func() time.Time) {
	t.Helper()
	c := New(Config{
		TickInterval:     time.Hour,
		AutoSaveInterval: time.Hour,
	})
	nowFn := func() time.Time { return time.Unix(1_700_000_000, 0) }
	c.now = func() time.Time { return nowFn() }
	return c, &nowFn
}

func TestAdd_AlreadyActiveIsUpsert(t *testing.T) {
	c, _ := newTestCoordinator(t)
	joins := 0
	c.SubscribePlayerJoined(func(PlayerData) { joins++ })

	if err := c.Add(context.Background(), 1, PlayerData{Name: "kess", Health: 100, MaxHealth: 100}, "harbor"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.Add(context.Background(), 1, PlayerData{Name: "kess", Health: 55, MaxHealth: 100}, "harbor"); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	if joins != 1 {
		t.Fatalf("duplicate add must not re-notify join: got %d", joins)
	}
	d, ok := c.Player(1)
	if !ok {
		t.Fatalf("player missing after upsert")
	}
	if d.Health != 55 {
		t.Fatalf("upsert must overwrite stored data: health=%v", d.Health)
	}
	if got := len(c.Players()); got != 1 {
		t.Fatalf("expected 1 active player, got %d", got)
	}
}

func TestAdd_PersistenceOverlaySkipsSpawn(t *testing.T) {
	c, _ := newTestCoordinator(t)
	sp := &fakeSpawner{}
	p := &fakePersistence{saves: map[uint64]PlayerSave{
		7: {
			Data:          PlayerData{Health: 62, MaxHealth: 120, State: "CROUCHED"},
			SpawnPosition: spatial.Vec3{X: 5, Y: 0, Z: -3},
		},
	}}
	c.SetSpawner(sp)
	c.SetPersistence(p)

	if err := c.Add(context.Background(), 7, PlayerData{Name: "aro", Health: 100, MaxHealth: 100}, "harbor"); err != nil {
		t.Fatalf("add: %v", err)
	}

	d, _ := c.Player(7)
	if d.Health != 62 || d.MaxHealth != 120 || d.State != "CROUCHED" {
		t.Fatalf("saved state not overlaid: %+v", d)
	}
	if d.Position != (spatial.Vec3{X: 5, Y: 0, Z: -3}) {
		t.Fatalf("saved position not overlaid: %+v", d.Position)
	}
	if len(sp.spawned) != 0 {
		t.Fatalf("persistence path must not invoke the legacy spawn routine")
	}
}

func TestAdd_SpawnFailureReported(t *testing.T) {
	c, _ := newTestCoordinator(t)
	want := errors.New("no capacity")
	c.SetSpawner(&fakeSpawner{spawnErr: want})
	joins := 0
	c.SubscribePlayerJoined(func(PlayerData) { joins++ })

	err := c.Add(context.Background(), 3, PlayerData{Name: "vey"}, "harbor")
	if !errors.Is(err, want) {
		t.Fatalf("expected spawn error, got %v", err)
	}
	if joins != 0 {
		t.Fatalf("join must only be notified on spawn success")
	}
}

func TestRemove_NotFoundLeavesRegistryUnchanged(t *testing.T) {
	c, _ := newTestCoordinator(t)
	lefts := 0
	c.SubscribePlayerLeft(func(uint64) { lefts++ })

	if c.Remove(99) {
		t.Fatalf("removing unknown id must report not found")
	}
	if lefts != 0 {
		t.Fatalf("no departure notification for unknown id")
	}
}

func TestRemove_RegistryFirstThenUnload(t *testing.T) {
	c, _ := newTestCoordinator(t)
	p := &fakePersistence{saves: map[uint64]PlayerSave{}}
	c.SetPersistence(p)
	var left []uint64
	c.SubscribePlayerLeft(func(id uint64) {
		// By notification time the registry must already be clean.
		if _, ok := c.Player(id); ok {
			t.Errorf("player %d still visible during departure", id)
		}
		left = append(left, id)
	})

	if err := c.Add(context.Background(), 4, PlayerData{Name: "rin"}, ""); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !c.Remove(4) {
		t.Fatalf("remove: expected found")
	}
	if len(p.unloads) != 1 || p.unloads[0] != 4 {
		t.Fatalf("expected unload for player 4, got %v", p.unloads)
	}
	if len(left) != 1 {
		t.Fatalf("expected one departure notification")
	}
}

func TestTick_RespectsUpdateThreshold(t *testing.T) {
	c, nowFn := newTestCoordinator(t)
	ctrl := newFakeController()
	out := &fakeSynchronizer{}
	c.SetController(ctrl)
	c.SetSynchronizer(out)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	t0 := (*nowFn)()
	if err := c.Add(context.Background(), 1, PlayerData{Name: "p1"}, ""); err != nil {
		t.Fatalf("add: %v", err)
	}

	// 30ms later: below the 100ms window and below the 0.5 distance
	// threshold. No emission.
	*nowFn = func() time.Time { return t0.Add(30 * time.Millisecond) }
	ctrl.report(1, PlayerData{Name: "p1", Position: spatial.Vec3{Z: 0.2}})
	c.UpdateGameState()
	if out.count() != 0 {
		t.Fatalf("emission inside threshold window: %d", out.count())
	}

	// 120ms later: window elapsed. Exactly one emission, carrying the
	// fresh position.
	*nowFn = func() time.Time { return t0.Add(120 * time.Millisecond) }
	ctrl.report(1, PlayerData{Name: "p1", Position: spatial.Vec3{Z: 0.6}})
	c.UpdateGameState()
	if out.count() != 1 {
		t.Fatalf("expected exactly one emission, got %d", out.count())
	}
	if got := out.last().Position.Z; got != 0.6 {
		t.Fatalf("emitted position: got %v want 0.6", got)
	}
}

func TestDirectPositionChange_BypassesThrottle(t *testing.T) {
	c, nowFn := newTestCoordinator(t)
	ctrl := newFakeController()
	out := &fakeSynchronizer{}
	c.SetController(ctrl)
	c.SetSynchronizer(out)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	t0 := (*nowFn)()
	_ = c.Add(context.Background(), 1, PlayerData{Name: "p1"}, "")

	// Establish a cached position via the tick path.
	*nowFn = func() time.Time { return t0.Add(150 * time.Millisecond) }
	ctrl.report(1, PlayerData{Name: "p1", Position: spatial.Vec3{}})
	c.UpdateGameState()
	if out.count() != 1 {
		t.Fatalf("setup emission expected, got %d", out.count())
	}

	// Small jitter inside the fresh window: suppressed.
	c.OnPlayerPositionChanged(1, spatial.Vec3{Z: 0.2})
	if out.count() != 1 {
		t.Fatalf("sub-threshold move must not emit, got %d", out.count())
	}

	// Teleport-sized move: emits immediately, same window.
	c.OnPlayerPositionChanged(1, spatial.Vec3{Z: 3})
	if out.count() != 2 {
		t.Fatalf("large move must bypass the time threshold, got %d", out.count())
	}
	if got := out.last().Position.Z; got != 3 {
		t.Fatalf("emitted position: got %v want 3", got)
	}
}

func TestTick_PanicDoesNotStarveRoster(t *testing.T) {
	c, nowFn := newTestCoordinator(t)
	ctrl := newFakeController()
	out := &fakeSynchronizer{}
	c.SetController(ctrl)
	c.SetSynchronizer(out)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	t0 := (*nowFn)()
	_ = c.Add(context.Background(), 1, PlayerData{Name: "boom"}, "")
	_ = c.Add(context.Background(), 2, PlayerData{Name: "ok"}, "")
	ctrl.panics[1] = true
	ctrl.report(2, PlayerData{Name: "ok", Position: spatial.Vec3{X: 9}})

	*nowFn = func() time.Time { return t0.Add(200 * time.Millisecond) }
	c.UpdateGameState()

	if out.count() != 1 {
		t.Fatalf("healthy player must still emit, got %d", out.count())
	}
	if out.last().PlayerID != 2 {
		t.Fatalf("expected emission for player 2, got %d", out.last().PlayerID)
	}
}

func TestStart_IdempotentWhileRunning(t *testing.T) {
	c, _ := newTestCoordinator(t)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	firstStop := c.stop
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("second start must succeed: %v", err)
	}
	if c.stop != firstStop {
		t.Fatalf("second start must not create a new tick driver")
	}
	c.Stop()
}

func TestStop_IdempotentAndCleansUp(t *testing.T) {
	c, _ := newTestCoordinator(t)
	sp := &fakeSpawner{}
	c.SetSpawner(sp)
	c.SubscribeStateChanged(func(StateUpdate) {})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = c.Add(context.Background(), 1, PlayerData{Name: "p1"}, "")
	_ = c.Add(context.Background(), 2, PlayerData{Name: "p2"}, "")

	c.Stop()
	c.Stop() // second stop is a no-op

	if got := len(c.Players()); got != 0 {
		t.Fatalf("registry must be empty after stop, got %d", got)
	}
	if len(sp.despawned) != 2 {
		t.Fatalf("expected both players despawned, got %v", sp.despawned)
	}
	c.obs.mu.Lock()
	subs := len(c.obs.stateChanged)
	c.obs.mu.Unlock()
	if subs != 0 {
		t.Fatalf("subscriptions must be released on stop")
	}
	if c.lifecycleState() != stateStopped {
		t.Fatalf("expected stopped, got %s", c.lifecycleState())
	}
}

func TestAdd_ReadsSpawnPositionFromBridge(t *testing.T) {
	c, _ := newTestCoordinator(t)
	br := newFakeBridge()
	br.positions[3] = spatial.Vec3{X: 4, Z: 9}
	c.SetBridge(br)
	c.SetSpawner(&fakeSpawner{})
	var joinedAt spatial.Vec3
	c.SubscribePlayerJoined(func(d PlayerData) { joinedAt = d.Position })

	if err := c.Add(context.Background(), 3, PlayerData{Name: "vey"}, "harbor"); err != nil {
		t.Fatalf("add: %v", err)
	}

	d, _ := c.Player(3)
	if d.Position != (spatial.Vec3{X: 4, Z: 9}) {
		t.Fatalf("cached position must come from game memory, got %+v", d.Position)
	}
	if joinedAt != (spatial.Vec3{X: 4, Z: 9}) {
		t.Fatalf("join notification must carry the observed position, got %+v", joinedAt)
	}
}

func TestMovePlayer_WritesThroughBridge(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctrl := newFakeController()
	br := newFakeBridge()
	c.SetController(ctrl)
	c.SetBridge(br)

	_ = c.Add(context.Background(), 5, PlayerData{Name: "p5"}, "")
	if err := c.MovePlayer(5, spatial.Vec3{X: 1.5, Z: -2}); err != nil {
		t.Fatalf("move: %v", err)
	}

	if got := br.GetPosition(5); got != (spatial.Vec3{X: 1.5, Z: -2}) {
		t.Fatalf("accepted move must land in game memory, got %+v", got)
	}
	if len(ctrl.moves) != 1 {
		t.Fatalf("controller must still receive the move")
	}
}

func TestActions_RequireActivePlayer(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctrl := newFakeController()
	c.SetController(ctrl)

	if err := c.MovePlayer(5, spatial.Vec3{X: 1}); !errors.Is(err, ErrPlayerNotActive) {
		t.Fatalf("expected ErrPlayerNotActive, got %v", err)
	}
	_ = c.Add(context.Background(), 5, PlayerData{Name: "p5"}, "")
	if err := c.MovePlayer(5, spatial.Vec3{X: 1}); err != nil {
		t.Fatalf("move active player: %v", err)
	}
	if len(ctrl.moves) != 1 {
		t.Fatalf("move must pass through to the controller")
	}
}

func TestPlayers_ReturnsSnapshots(t *testing.T) {
	c, _ := newTestCoordinator(t)
	_ = c.Add(context.Background(), 1, PlayerData{Name: "p1", Health: 10}, "")

	d, _ := c.Player(1)
	d.Health = 999
	again, _ := c.Player(1)
	if again.Health != 10 {
		t.Fatalf("accessor must hand out copies, got %v", again.Health)
	}
}
