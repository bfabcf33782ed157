package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"riftsync.gg/internal/config"
	"riftsync.gg/internal/payload"
	"riftsync.gg/internal/persistence/journal"
	"riftsync.gg/internal/persistence/savedb"
	"riftsync.gg/internal/replication"
	"riftsync.gg/internal/schema"
	"riftsync.gg/internal/transport/ws"
)

// fanout delivers each update to every configured sink.
type fanout []replication.Synchronizer

func (f fanout) Push(u replication.StateUpdate) {
	for _, s := range f {
		s.Push(u)
	}
}

func main() {
	var (
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		configPath = flag.String("config", "", "path to server.yaml (empty: built-in defaults)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
		noJournal  = flag.Bool("disable_journal", false, "disable the update journal regardless of config")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(strings.TrimSpace(*configPath))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if strings.TrimSpace(*addr) != "" {
		cfg.ListenAddr = strings.TrimSpace(*addr)
	}
	if d := strings.TrimSpace(*dataDir); d != "" {
		cfg.DataDir = d
		cfg.SQLitePath = filepath.Join(d, "riftsync.db")
		cfg.Journal.Dir = filepath.Join(d, "journal")
	}
	if *noJournal {
		cfg.Journal.Enabled = false
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, err := savedb.Open(cfg.SQLitePath, logger)
	if err != nil {
		logger.Fatalf("open save db: %v", err)
	}
	defer store.Close()

	reg := schema.NewRegistry()
	payload.RegisterBuiltins(reg)

	broadcaster := ws.NewBroadcaster(logger)
	defer broadcaster.Close()

	sinks := fanout{broadcaster, store}
	if cfg.Journal.Enabled {
		j := journal.NewUpdateJournal(cfg.Journal.Dir, cfg.Journal.MaxLinesPerSeg, logger)
		defer j.Close()
		sinks = append(sinks, j)
		logger.Printf("journal enabled at %s", cfg.Journal.Dir)
	}

	coord := replication.New(cfg.Replication())
	coord.SetLogger(logger)
	coord.SetNormalizer(cfg.Normalizer())
	coord.SetPersistence(store)
	coord.SetSynchronizer(sinks)

	coord.SubscribePlayerJoined(func(d replication.PlayerData) {
		store.RecordWorldEvent("player_joined", map[string]any{"player_id": d.ID, "name": d.Name})
	})
	coord.SubscribePlayerLeft(func(id uint64) {
		store.RecordWorldEvent("player_left", map[string]any{"player_id": id})
	})
	coord.SubscribePlayerDied(func(id uint64) {
		store.RecordWorldEvent("player_died", map[string]any{"player_id": id})
	})

	// Inbound frames drive the player lifecycle; movement and combat
	// delegation need a live controller and are rejected headless.
	broadcaster.SetIntake(reg, func(p schema.Payload) {
		switch m := p.(type) {
		case payload.Spawn:
			data := replication.PlayerData{Name: m.Name, Position: m.Position}
			if err := coord.Add(ctx, m.PlayerID, data, m.Location); err != nil {
				logger.Printf("intake: add player %d: %v", m.PlayerID, err)
			}
		case payload.Despawn:
			coord.Remove(m.PlayerID)
		case payload.CombatAction:
			if err := coord.AttackTarget(m.ActorID, m.TargetID); err != nil {
				logger.Printf("intake: attack by %d: %v", m.ActorID, err)
			}
		}
	})

	if err := coord.Start(ctx); err != nil {
		logger.Fatalf("start coordinator: %v", err)
	}
	defer coord.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/statusz", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(rw, "players %d\n", len(coord.Players()))
		fmt.Fprintf(rw, "subscribers %d\n", broadcaster.ClientCount())
	})
	mux.HandleFunc("/v1/updates", broadcaster.Handler())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
