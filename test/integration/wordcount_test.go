package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/tally/internal/cluster"
	"github.com/dreamware/tally/internal/wordcount"
)

// TestSystem runs the coordinator and worker binaries against one Redis
// server.
type TestSystem struct {
	t           *testing.T
	redis       *miniredis.Miniredis
	workers     []*exec.Cmd
	workerAddrs []string
	httpClient  *http.Client
}

// NewTestSystem creates a system with n workers.
func NewTestSystem(t *testing.T, n int) *TestSystem {
	ts := &TestSystem{
		t:          t,
		redis:      miniredis.RunT(t),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
	for i := 0; i < n; i++ {
		ts.workerAddrs = append(ts.workerAddrs, fmt.Sprintf("127.0.0.1:1809%d", i+1))
	}
	return ts
}

func (ts *TestSystem) env(extra ...string) []string {
	host, port, _ := net.SplitHostPort(ts.redis.Addr())
	return append(os.Environ(), append([]string{
		"REDIS_HOST=" + host,
		"REDIS_PORT=" + port,
		"CONNECT_ATTEMPTS=3",
		"CONNECT_DELAY=100ms",
		"POLL_INTERVAL=50ms",
		"LOG_LEVEL=WARN",
	}, extra...)...)
}

// StartWorkers launches the worker processes and waits for their info
// servers.
func (ts *TestSystem) StartWorkers() error {
	for i, addr := range ts.workerAddrs {
		w := exec.Command(binPath("worker"))
		w.Env = ts.env(
			fmt.Sprintf("WORKER_ID=w%d", i+1),
			"WORKER_LISTEN="+addr,
		)
		w.Stdout = os.Stdout
		w.Stderr = os.Stderr
		if err := w.Start(); err != nil {
			return fmt.Errorf("failed to start worker %d: %w", i+1, err)
		}
		ts.workers = append(ts.workers, w)

		if err := ts.waitForService("http://" + addr + "/health"); err != nil {
			return fmt.Errorf("worker %d failed to start: %w", i+1, err)
		}
	}
	return nil
}

// RunCoordinator runs the coordinator to completion.
func (ts *TestSystem) RunCoordinator(args ...string) error {
	c := exec.Command(binPath("coordinator"), args...)
	c.Env = ts.env("JOB_TIMEOUT=20s")
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}

// Stop kills any worker still running.
func (ts *TestSystem) Stop() {
	for _, w := range ts.workers {
		if w.Process != nil && w.ProcessState == nil {
			_ = w.Process.Kill()
			_ = w.Wait()
		}
	}
}

// WaitWorkers waits for every worker to exit on its own.
func (ts *TestSystem) WaitWorkers(timeout time.Duration) error {
	done := make(chan error, len(ts.workers))
	for _, w := range ts.workers {
		go func(w *exec.Cmd) { done <- w.Wait() }(w)
	}

	deadline := time.After(timeout)
	for range ts.workers {
		select {
		case err := <-done:
			if err != nil {
				return err
			}
		case <-deadline:
			return fmt.Errorf("workers still running after %s", timeout)
		}
	}
	return nil
}

// Info reads a worker's /info endpoint.
func (ts *TestSystem) Info(addr string) (cluster.WorkerInfo, error) {
	var info cluster.WorkerInfo
	resp, err := ts.httpClient.Get("http://" + addr + "/info")
	if err != nil {
		return info, err
	}
	defer resp.Body.Close()
	err = json.NewDecoder(resp.Body).Decode(&info)
	return info, err
}

// waitForService waits for an HTTP service to become available
func (ts *TestSystem) waitForService(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %s", url)
		default:
			resp, err := ts.httpClient.Get(url)
			if err == nil && resp.StatusCode == http.StatusOK {
				resp.Body.Close()
				return nil
			}
			if resp != nil {
				resp.Body.Close()
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// binPath locates a built binary, in TALLY_BIN or the repository's bin/.
func binPath(name string) string {
	dir := os.Getenv("TALLY_BIN")
	if dir == "" {
		dir = filepath.Join("..", "..", "bin")
	}
	return filepath.Join(dir, name)
}

func requireBinaries(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	for _, name := range []string{"coordinator", "worker"} {
		if _, err := os.Stat(binPath(name)); os.IsNotExist(err) {
			t.Skipf("Skipping integration test: %s not found (go build -o bin/ ./cmd/...)", binPath(name))
		}
	}
}

func TestWordCountJob(t *testing.T) {
	requireBinaries(t)

	lines := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		lines = append(lines, fmt.Sprintf("line %d of the input, the %d-th line", i, i%7))
	}
	dir := t.TempDir()
	input := filepath.Join(dir, "input.txt")
	output := filepath.Join(dir, "output", "results.json")
	require.NoError(t, os.WriteFile(input, []byte(strings.Join(lines, "\n")), 0o644))

	ts := NewTestSystem(t, 2)
	defer ts.Stop()
	require.NoError(t, ts.StartWorkers())

	require.NoError(t, ts.RunCoordinator("-input", input, "-output", output, "-chunk-size", "25"))

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var results map[string]int
	require.NoError(t, json.Unmarshal(data, &results))
	assert.Equal(t, wordcount.Count(lines), results)

	flag, err := ts.redis.Get(cluster.TerminationFlag)
	require.NoError(t, err)
	assert.Equal(t, "true", flag)

	assert.NoError(t, ts.WaitWorkers(10*time.Second), "workers exit after the termination flag")

	completed, err := ts.redis.SMembers(cluster.CompletedSet)
	require.NoError(t, err)
	assert.Len(t, completed, 8)
}

func TestWorkerInfoWhileIdle(t *testing.T) {
	requireBinaries(t)

	ts := NewTestSystem(t, 1)
	defer ts.Stop()
	require.NoError(t, ts.StartWorkers())

	var info cluster.WorkerInfo
	require.Eventually(t, func() bool {
		var err error
		info, err = ts.Info(ts.workerAddrs[0])
		return err == nil && info.Store.Pops > 0
	}, 5*time.Second, 100*time.Millisecond, "idle worker still polls the store")

	assert.Equal(t, "w1", info.WorkerID)
	assert.Zero(t, info.Processed)
}

func TestCoordinatorEmptyInputFails(t *testing.T) {
	requireBinaries(t)

	input := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(input, nil, 0o644))

	ts := NewTestSystem(t, 0)
	err := ts.RunCoordinator("-input", input, "-output", filepath.Join(t.TempDir(), "results.json"))

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode())
	assert.Empty(t, ts.redis.Keys(), "empty input leaves the store untouched")
}
