// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/dreamware/tally/internal/storage"
)

// Config holds the settings shared by the coordinator and worker binaries.
// Not every field is used by both.
type Config struct {
	RedisHost       string
	RedisPort       int
	RedisPassword   string
	RedisDB         int
	ConnectAttempts int
	ConnectDelay    time.Duration

	PollInterval time.Duration
	LeaseTTL     time.Duration // 0 disables leases and reclaim
	LogLevel     string

	ChunkSize  int
	JobTimeout time.Duration
	InputFile  string
	OutputFile string

	CoordinatorListen string // empty disables the status server
	WorkerID          string // empty means generate one
	WorkerListen      string // empty disables the info server
}

// Load reads the configuration from the environment, applying defaults for
// variables that are unset or empty. Malformed values are errors.
func Load() (Config, error) {
	cfg := Config{
		RedisHost:         getenv("REDIS_HOST", "redis"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		LogLevel:          getenv("LOG_LEVEL", "INFO"),
		InputFile:         getenv("INPUT_FILE", "input/input.txt"),
		OutputFile:        getenv("OUTPUT_FILE", "output/results.json"),
		CoordinatorListen: os.Getenv("COORDINATOR_LISTEN"),
		WorkerID:          os.Getenv("WORKER_ID"),
		WorkerListen:      os.Getenv("WORKER_LISTEN"),
	}

	var err error
	if cfg.RedisPort, err = getInt("REDIS_PORT", 6379); err != nil {
		return Config{}, err
	}
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.ConnectAttempts, err = getInt("CONNECT_ATTEMPTS", 5); err != nil {
		return Config{}, err
	}
	if cfg.ConnectDelay, err = getDuration("CONNECT_DELAY", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = getDuration("POLL_INTERVAL", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.LeaseTTL, err = getDuration("LEASE_TTL", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ChunkSize, err = getInt("CHUNK_SIZE", 1000); err != nil {
		return Config{}, err
	}
	if cfg.JobTimeout, err = getDuration("JOB_TIMEOUT", 60*time.Second); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch {
	case c.RedisPort <= 0 || c.RedisPort > 65535:
		return fmt.Errorf("REDIS_PORT out of range: %d", c.RedisPort)
	case c.ConnectAttempts < 1:
		return fmt.Errorf("CONNECT_ATTEMPTS must be at least 1, got %d", c.ConnectAttempts)
	case c.PollInterval <= 0:
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	case c.LeaseTTL < 0:
		return fmt.Errorf("LEASE_TTL must not be negative, got %s", c.LeaseTTL)
	case c.ChunkSize < 1:
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	case c.JobTimeout <= 0:
		return fmt.Errorf("JOB_TIMEOUT must be positive, got %s", c.JobTimeout)
	}
	return nil
}

// RedisAddr returns host:port of the store.
func (c Config) RedisAddr() string {
	return net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}

// RedisOptions converts the connection settings for storage.Dial.
func (c Config) RedisOptions() storage.RedisOptions {
	return storage.RedisOptions{
		Addr:            c.RedisAddr(),
		Password:        c.RedisPassword,
		DB:              c.RedisDB,
		ConnectAttempts: c.ConnectAttempts,
		ConnectDelay:    c.ConnectDelay,
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", k, v, err)
	}
	return n, nil
}

func getDuration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", k, v, err)
	}
	return d, nil
}
