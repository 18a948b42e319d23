// Package main implements the tally worker, which claims chunks from the
// shared store, counts their words and publishes the partial tables until
// the coordinator sets the termination flag.
//
// HTTP API (only when WORKER_LISTEN is set):
//
//	/health  - Liveness check
//	/info    - Worker counters and store operation stats
//
// Configuration:
//   - WORKER_ID: identifier used in logs (default: worker-<random>)
//   - WORKER_LISTEN: info server address (default: disabled)
//   - REDIS_*, POLL_INTERVAL, LEASE_TTL, LOG_LEVEL: see internal/config
//
// Example usage:
//
//	WORKER_ID=worker-1 REDIS_HOST=localhost WORKER_LISTEN=:8081 ./worker
//
// SIGINT and SIGTERM stop the worker after the chunk in progress.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/tally/internal/cluster"
	"github.com/dreamware/tally/internal/config"
	"github.com/dreamware/tally/internal/logger"
	"github.com/dreamware/tally/internal/storage"
	"github.com/dreamware/tally/internal/worker"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	cfg, err := config.Load()
	if err != nil {
		logFatal("config: %v", err)
	}

	id := workerID(cfg)
	lg := logger.New(cfg.LogLevel).Named(id)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisStore, err := storage.Dial(ctx, cfg.RedisOptions(), lg)
	if err != nil {
		logFatal("%v", err)
	}
	store := storage.NewCountingStore(redisStore)

	w := worker.New(id, store, worker.Options{
		PollInterval: cfg.PollInterval,
		LeaseTTL:     cfg.LeaseTTL,
	}, lg)

	var srv *http.Server
	if cfg.WorkerListen != "" {
		srv = &http.Server{
			Addr:              cfg.WorkerListen,
			Handler:           newMux(w, store),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			lg.Info("info server listening on %s", cfg.WorkerListen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logFatal("listen: %v", err)
			}
		}()
	}

	runErr := w.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			lg.Warn("info server shutdown: %v", err)
		}
		cancel()
	}
	if err := store.Close(); err != nil {
		lg.Warn("closing store: %v", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logFatal("worker: %v", runErr)
	}
	stats := w.Stats()
	lg.Info("worker stopped: %d processed, %d failed, %d dropped", stats.Processed, stats.Failed, stats.Dropped)
}

// workerID returns the configured id or generates one.
func workerID(cfg config.Config) string {
	if cfg.WorkerID != "" {
		return cfg.WorkerID
	}
	return "worker-" + uuid.New().String()[:8]
}

func newMux(w *worker.Worker, store *storage.CountingStore) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/info", func(rw http.ResponseWriter, r *http.Request) {
		handleInfo(w, store, rw, r)
	})
	return mux
}

// handleInfo reports the worker's counters.
func handleInfo(w *worker.Worker, store *storage.CountingStore, rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := w.Stats()
	info := cluster.WorkerInfo{
		WorkerID:  w.ID,
		Processed: stats.Processed,
		Failed:    stats.Failed,
		Dropped:   stats.Dropped,
		Store:     store.Stats(),
	}

	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(info)
}
