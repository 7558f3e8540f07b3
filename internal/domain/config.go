package domain

import (
	"log/slog"
	"time"
)

// StorageConfig controls the badger-backed State Store instance.
type StorageConfig struct {
	DataDir       string        `json:"data_dir" yaml:"data_dir"`
	SyncWrites    bool          `json:"sync_writes" yaml:"sync_writes"`
	GCInterval    time.Duration `json:"gc_interval" yaml:"gc_interval"`
	CacheTTL      time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// QueueConfig controls the badger-backed Job Queue instance.
type QueueConfig struct {
	DataDir          string        `json:"data_dir" yaml:"data_dir"`
	MaxAttempts      int           `json:"max_attempts" yaml:"max_attempts"`
	BaseBackoff      time.Duration `json:"base_backoff" yaml:"base_backoff"`
	MaxBackoff       time.Duration `json:"max_backoff" yaml:"max_backoff"`
	ClaimTTL         time.Duration `json:"claim_ttl" yaml:"claim_ttl"`
	ReaperInterval   time.Duration `json:"reaper_interval" yaml:"reaper_interval"`
}

// EngineConfig controls the DAG scheduler's worker pool and node execution
// limits.
type EngineConfig struct {
	WorkerCount       int           `json:"worker_count" yaml:"worker_count"`
	MaxConcurrentRuns int           `json:"max_concurrent_runs" yaml:"max_concurrent_runs"`
	DefaultNodeTimeout time.Duration `json:"default_node_timeout" yaml:"default_node_timeout"`
}

// EventBusConfig controls the in-process pub/sub Event Bus.
type EventBusConfig struct {
	SubscriberBuffer int `json:"subscriber_buffer" yaml:"subscriber_buffer"`
}

// Config is the top-level configuration for an engine instance, mirroring
// the teacher's nested-sub-config Config struct.
type Config struct {
	NodeID  string          `json:"node_id" yaml:"node_id"`
	Storage StorageConfig   `json:"storage" yaml:"storage"`
	Queue   QueueConfig     `json:"queue" yaml:"queue"`
	Engine  EngineConfig    `json:"engine" yaml:"engine"`
	Events  EventBusConfig  `json:"events" yaml:"events"`
	Logger  *slog.Logger    `json:"-" yaml:"-"`
}

func (c *Config) Validate() error {
	if c.NodeID == "" {
		return NewValidationError("node_id", "cannot be empty")
	}
	if c.Storage.DataDir == "" {
		return NewValidationError("storage.data_dir", "cannot be empty")
	}
	if c.Queue.DataDir == "" {
		return NewValidationError("queue.data_dir", "cannot be empty")
	}
	if c.Engine.WorkerCount <= 0 {
		return NewValidationError("engine.worker_count", "must be positive")
	}
	if c.Queue.MaxAttempts <= 0 {
		return NewValidationError("queue.max_attempts", "must be positive")
	}
	return nil
}

func (c *Config) WithEngineSettings(workerCount int, nodeTimeout time.Duration, maxAttempts int) *Config {
	c.Engine.WorkerCount = workerCount
	c.Engine.DefaultNodeTimeout = nodeTimeout
	c.Queue.MaxAttempts = maxAttempts
	return c
}

func (c *Config) WithDataDir(dir string) *Config {
	c.Storage.DataDir = dir + "/store"
	c.Queue.DataDir = dir + "/queue"
	return c
}
