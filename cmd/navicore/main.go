// Package main is the entry point for the recovery core daemon.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/navihq/recovery-core/internal/autonomy"
	"github.com/navihq/recovery-core/internal/bus"
	"github.com/navihq/recovery-core/internal/config"
	"github.com/navihq/recovery-core/internal/domain"
	"github.com/navihq/recovery-core/internal/event"
	"github.com/navihq/recovery-core/internal/healing"
	"github.com/navihq/recovery-core/internal/ingest"
	"github.com/navihq/recovery-core/internal/ipc"
	"github.com/navihq/recovery-core/internal/store"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to configuration YAML file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("navicore %s (commit=%s, built=%s)\n", version, commit, date)
		os.Exit(0)
	}

	// Resolve config path: --config flag > NAVI_CONFIG env > auto-discover next to exe.
	path := *configPath
	if path == "" {
		path = os.Getenv("NAVI_CONFIG")
	}
	if path == "" {
		path = discoverConfig()
	}
	if path == "" {
		fatal("no config found. Place config.yaml next to the exe, use --config <path>, or set NAVI_CONFIG.")
	}

	cfg, err := config.Load(path)
	if err != nil {
		fatal(fmt.Sprintf("load config: %v", err))
	}

	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Shared repos.
	sessionRepo := &store.SessionRepo{}
	ingestRepo := &store.IngestEventRepo{}

	// Wire the event bus and healing engine.
	b := bus.New()
	eng := healing.NewEngine(healing.NewAnalyzer(), healing.NewPlanner(), b, healing.EngineConfig{
		MaxAttempts:    cfg.HealingMaxAttempts,
		MinConfidence:  cfg.HealingMinConfidence,
		TimeoutMinutes: cfg.SessionTimeoutMinutes,
	})
	eng.Store = &store.SessionMirror{DB: db, Repo: sessionRepo}

	// Wire the autonomy gate. CI failures route into the healing engine;
	// other triggers have no automated handler yet and fall back to approval.
	gate := autonomy.NewGate(b, cfg.ConfidenceThreshold)
	gate.Register(domain.TriggerCIFailure, eng.HandleCIFailure)

	// Wire the ingest pool.
	pool := ingest.NewPool(event.NewClassifier(), gate, b, ingest.PoolConfig{
		Workers:     cfg.WorkerCount,
		MaxInFlight: cfg.MaxInFlight,
	})
	pool.Sink = &store.IngestLog{DB: db, Repo: ingestRepo}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	// Periodic retention sweep: drop terminal sessions past the retention
	// window from both the in-memory arena and the store.
	retention := time.Duration(cfg.SessionRetentionDays) * 24 * time.Hour
	sweepDone := make(chan struct{})
	go retentionSweep(ctx, db, sessionRepo, eng, retention, sweepDone)

	// Wire IPC handler.
	handler := &ipc.Handler{
		Pool:        pool,
		Healing:     eng,
		DB:          db,
		SessionRepo: sessionRepo,
		IngestRepo:  ingestRepo,
	}

	srv := ipc.NewServer(handler, cfg.ListenAddr)

	// Graceful shutdown on interrupt.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("shutting down...")

		pool.Stop()
		cancel()
		<-sweepDone

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	log.Printf("recovery core listening on %s", cfg.ListenAddr)

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		fatal(fmt.Sprintf("server error: %v", err))
	}
}

// retentionSweep prunes expired terminal sessions once an hour until ctx is
// cancelled, then closes done.
func retentionSweep(ctx context.Context, db *sql.DB, repo *store.SessionRepo, eng *healing.Engine, retention time.Duration, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := eng.CleanupExpired(retention)
			cutoff := time.Now().Add(-retention).Unix()
			deleted, err := repo.DeleteOlderThan(ctx, db, cutoff)
			if err != nil {
				log.Printf("retention sweep: %v", err)
				continue
			}
			if removed > 0 || deleted > 0 {
				log.Printf("retention sweep: evicted %d live sessions, deleted %d stored sessions", removed, deleted)
			}
		}
	}
}

// discoverConfig looks for config.yaml next to the executable, then in the cwd.
func discoverConfig() string {
	// Next to executable.
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	// Current working directory.
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

func fatal(msg string) {
	fmt.Fprintf(os.Stderr, "ERROR: %s\n", msg)
	os.Exit(1)
}
