// Package savedb is the SQLite save engine behind the coordinator's
// persistence boundary. Player rows are written at unload time from the
// last state observed on the update stream; world events are indexed
// through an async writer so recording never stalls the tick.
package savedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"
	_ "modernc.org/sqlite"

	"riftsync.gg/internal/replication"
	"riftsync.gg/internal/spatial"
)

type Store struct {
	db  *sql.DB
	log *log.Logger

	mu     sync.Mutex
	latest map[uint64]replication.PlayerData

	events chan eventRow
	wg     sync.WaitGroup
	once   sync.Once
	closed atomic.Bool
}

type eventRow struct {
	ID         string
	Kind       string
	DataJSON   string
	RecordedAt string
}

// Open creates or opens the save database at path. The parent directory
// is created if missing.
func Open(path string, logger *log.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("savedb: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:     db,
		log:    logger,
		latest: map[uint64]replication.PlayerData{},
		// Buffered so bursty event recording (mass despawn, combat
		// storms) never blocks the caller.
		events: make(chan eventRow, 16384),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.eventLoop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-heavy event stream; NORMAL durability is
	// enough for a save database that can be rebuilt from the journal.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS world_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS players (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			pos_x REAL NOT NULL,
			pos_y REAL NOT NULL,
			pos_z REAL NOT NULL,
			health REAL NOT NULL,
			max_health REAL NOT NULL,
			state TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			data_json TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind, recorded_at);`,
	}
	for _, st := range stmts {
		if _, err := db.Exec(st); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.events)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *Store) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

// LoadWorld checks for a prior save marker. A fresh database is not an
// error; the coordinator starts from defaults.
func (s *Store) LoadWorld(ctx context.Context) error {
	var savedAt string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM world_meta WHERE key='saved_at'`).Scan(&savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		s.logf("load world: fresh database")
		return nil
	}
	if err != nil {
		return fmt.Errorf("savedb: load world: %w", err)
	}
	s.logf("load world: last saved %s", savedAt)
	return nil
}

// SaveWorldState writes the save marker and flushes the latest observed
// state of every tracked player in one transaction.
func (s *Store) SaveWorldState(ctx context.Context) error {
	s.mu.Lock()
	flush := make([]replication.PlayerData, 0, len(s.latest))
	for _, d := range s.latest {
		flush = append(flush, d)
	}
	s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("savedb: save world: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO world_meta(key,value) VALUES('saved_at',?)`, now); err != nil {
		return fmt.Errorf("savedb: save world: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO world_meta(key,value) VALUES('schema_version','1')`); err != nil {
		return fmt.Errorf("savedb: save world: %w", err)
	}
	for _, d := range flush {
		if err := upsertPlayer(ctx, tx, d, now); err != nil {
			return fmt.Errorf("savedb: save world: player %d: %w", d.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("savedb: save world: %w", err)
	}
	return nil
}

// LoadPlayer reads the saved row for id. found=false with a nil error
// means the player has never been saved.
func (s *Store) LoadPlayer(ctx context.Context, id uint64, name string) (replication.PlayerSave, bool, error) {
	var (
		save              replication.PlayerSave
		storedName, state string
		px, py, pz        float64
		health, maxHealth float64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, pos_x, pos_y, pos_z, health, max_health, state FROM players WHERE id=?`,
		int64(id),
	).Scan(&storedName, &px, &py, &pz, &health, &maxHealth, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return save, false, nil
	}
	if err != nil {
		return save, false, fmt.Errorf("savedb: load player %d: %w", id, err)
	}

	save.Data = replication.PlayerData{
		ID:        id,
		Name:      storedName,
		Health:    float32(health),
		MaxHealth: float32(maxHealth),
		State:     state,
	}
	save.SpawnPosition = spatial.Vec3{X: float32(px), Y: float32(py), Z: float32(pz)}
	save.Data.Position = save.SpawnPosition
	return save, true, nil
}

// UnloadPlayer persists the last observed state for id and drops it
// from the tracking cache. A player that never produced an update has
// nothing to write.
func (s *Store) UnloadPlayer(ctx context.Context, id uint64) error {
	s.mu.Lock()
	d, ok := s.latest[id]
	delete(s.latest, id)
	s.mu.Unlock()
	if !ok {
		s.logf("unload player %d: no observed state", id)
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("savedb: unload player %d: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := upsertPlayer(ctx, tx, d, now); err != nil {
		return fmt.Errorf("savedb: unload player %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("savedb: unload player %d: %w", id, err)
	}
	return nil
}

func upsertPlayer(ctx context.Context, tx *sql.Tx, d replication.PlayerData, now string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO players(id,name,pos_x,pos_y,pos_z,health,max_health,state,updated_at) VALUES(?,?,?,?,?,?,?,?,?)`,
		int64(d.ID),
		d.Name,
		float64(d.Position.X), float64(d.Position.Y), float64(d.Position.Z),
		float64(d.Health), float64(d.MaxHealth),
		d.State,
		now,
	)
	return err
}

// Push tracks the latest state seen on the update stream so unload and
// world saves have current data. Store is a synchronizer sink alongside
// the wire transports.
func (s *Store) Push(u replication.StateUpdate) {
	if s == nil || s.closed.Load() {
		return
	}
	s.mu.Lock()
	s.latest[u.PlayerID] = replication.PlayerData{
		ID:        u.PlayerID,
		Name:      u.Name,
		Position:  u.Position,
		Health:    u.Health,
		MaxHealth: u.MaxHealth,
		State:     u.State,
	}
	s.mu.Unlock()
}

// RecordWorldEvent enqueues a world event for the async writer. Events
// are dropped if the writer falls behind; the update journal remains
// the source of truth.
func (s *Store) RecordWorldEvent(kind string, data map[string]any) {
	if s == nil || s.closed.Load() {
		return
	}
	b, err := json.Marshal(data)
	if err != nil {
		s.logf("record event %q: %v", kind, err)
		return
	}
	r := eventRow{
		ID:         ksuid.New().String(),
		Kind:       kind,
		DataJSON:   string(b),
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.events <- r:
	default:
	}
}

func (s *Store) eventLoop() {
	ctx := context.Background()

	insert, err := s.db.Prepare(`INSERT OR REPLACE INTO events(id,kind,data_json,recorded_at) VALUES(?,?,?,?)`)
	if err != nil {
		s.logf("event writer: prepare: %v", err)
		for range s.events {
		}
		return
	}
	defer insert.Close()

	var (
		tx          *sql.Tx
		opCount     int
		commitEvery = 256
		commitWait  = time.Second
	)

	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
	}

	// The ticker flushes a quiet batch: a pending transaction is never
	// left open longer than commitWait waiting for the next event.
	flush := time.NewTicker(commitWait)
	defer flush.Stop()

	for {
		select {
		case r, ok := <-s.events:
			if !ok {
				commit()
				return
			}
			if tx == nil {
				txx, err := s.db.BeginTx(ctx, nil)
				if err != nil {
					time.Sleep(50 * time.Millisecond)
					continue
				}
				tx = txx
				opCount = 0
			}
			if _, err := tx.Stmt(insert).Exec(r.ID, r.Kind, r.DataJSON, r.RecordedAt); err != nil {
				_ = tx.Rollback()
				tx = nil
				opCount = 0
				continue
			}
			opCount++
			if opCount >= commitEvery {
				commit()
			}
		case <-flush.C:
			commit()
		}
	}
}
