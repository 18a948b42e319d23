// Package main implements the tally coordinator, which runs one word-count
// job: it resets the shared store, splits the input file into chunks, waits
// for the workers to process them and writes the combined counts as JSON.
//
// HTTP API (only when COORDINATOR_LISTEN is set):
//
//	/health  - Liveness check
//	/status  - Current job as cluster.JobStatus
//
// Configuration comes from the environment (see internal/config); the flags
// below override the matching variables.
//
// Example usage:
//
//	REDIS_HOST=localhost COORDINATOR_LISTEN=:8080 \
//	./coordinator -input input/input.txt -output output/results.json
//
// The process exits with status 1 when the input cannot be read, produces no
// chunks, is not fully processed before the timeout or the results cannot be
// written.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dreamware/tally/internal/config"
	"github.com/dreamware/tally/internal/coordinator"
	"github.com/dreamware/tally/internal/logger"
	"github.com/dreamware/tally/internal/storage"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

// jobParams are the per-run settings that may come from flags.
type jobParams struct {
	Input     string
	Output    string
	ChunkSize int
	Timeout   time.Duration
	Partial   bool // Write partial results after a timeout
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logFatal("config: %v", err)
	}
	params, err := parseFlags(os.Args[1:], cfg)
	if err != nil {
		logFatal("flags: %v", err)
	}

	lg := logger.New(cfg.LogLevel).Named("coordinator")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Dial(ctx, cfg.RedisOptions(), lg)
	if err != nil {
		logFatal("%v", err)
	}

	c := coordinator.New(store, coordinator.Options{
		ChunkSize:    params.ChunkSize,
		Timeout:      params.Timeout,
		PollInterval: cfg.PollInterval,
		LeaseTTL:     cfg.LeaseTTL,
	}, lg)

	var srv *http.Server
	if cfg.CoordinatorListen != "" {
		srv = &http.Server{
			Addr:              cfg.CoordinatorListen,
			Handler:           newMux(c),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			lg.Info("status server listening on %s", cfg.CoordinatorListen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logFatal("listen: %v", err)
			}
		}()
	}

	runErr := runJob(ctx, c, params, lg)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			lg.Warn("status server shutdown: %v", err)
		}
		cancel()
	}
	if err := store.Close(); err != nil {
		lg.Warn("closing store: %v", err)
	}

	if runErr != nil {
		logFatal("job failed: %v", runErr)
	}
	lg.Info("coordinator stopped")
}

// parseFlags applies command-line overrides on top of cfg.
func parseFlags(args []string, cfg config.Config) (jobParams, error) {
	p := jobParams{}
	fs := flag.NewFlagSet("coordinator", flag.ContinueOnError)
	fs.StringVar(&p.Input, "input", cfg.InputFile, "input text file")
	fs.StringVar(&p.Output, "output", cfg.OutputFile, "results JSON file")
	fs.IntVar(&p.ChunkSize, "chunk-size", cfg.ChunkSize, "lines per chunk")
	fs.DurationVar(&p.Timeout, "timeout", cfg.JobTimeout, "time to wait for all chunks")
	fs.BoolVar(&p.Partial, "partial", false, "write partial results when the job times out")
	if err := fs.Parse(args); err != nil {
		return jobParams{}, err
	}

	if p.ChunkSize < 1 {
		return jobParams{}, fmt.Errorf("chunk-size must be positive, got %d", p.ChunkSize)
	}
	if p.Timeout <= 0 {
		return jobParams{}, fmt.Errorf("timeout must be positive, got %s", p.Timeout)
	}
	return p, nil
}

// runJob runs the job and writes its results. After a timeout the partial
// results are written when requested, but the timeout is still returned.
func runJob(ctx context.Context, c *coordinator.Coordinator, p jobParams, lg *logger.Logger) error {
	start := time.Now()

	results, err := c.Run(ctx, p.Input)
	if errors.Is(err, coordinator.ErrAggregationTimeout) && p.Partial {
		partial, perr := c.PartialResults(ctx)
		if perr != nil {
			return fmt.Errorf("%w (partial results unavailable: %v)", err, perr)
		}
		if werr := writeResults(p.Output, partial); werr != nil {
			return fmt.Errorf("%w (writing partial results: %v)", err, werr)
		}
		lg.Warn("wrote partial results for %d words to %s", len(partial), p.Output)
		return err
	}
	if err != nil {
		return err
	}

	if err := writeResults(p.Output, results); err != nil {
		return err
	}
	lg.Info("wrote %d words to %s in %s", len(results), p.Output, time.Since(start).Round(time.Millisecond))
	return nil
}

// writeResults stores results as indented JSON, creating the parent
// directory if needed. Keys are written in sorted order.
func writeResults(path string, results map[string]int) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}

func newMux(c *coordinator.Coordinator) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		handleStatus(c, w, r)
	})
	return mux
}

// handleStatus reports the current job.
func handleStatus(c *coordinator.Coordinator, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(c.Status())
}
