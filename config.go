package wireflow

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wireflow-run/wireflow/internal/domain"
)

// Config is the top-level configuration for an engine instance.
type Config = domain.Config

// StorageConfig controls the badger-backed State Store instance.
type StorageConfig = domain.StorageConfig

// QueueConfig controls the badger-backed Job Queue instance.
type QueueConfig = domain.QueueConfig

// EngineConfig controls the DAG scheduler's worker pool and node execution limits.
type EngineConfig = domain.EngineConfig

// EventBusConfig controls the in-process pub/sub Event Bus.
type EventBusConfig = domain.EventBusConfig

func DefaultConfig() *Config {
	return domain.DefaultConfig()
}

// LoadConfigFile reads a YAML configuration document from path, applying
// it over DefaultConfig so unset fields keep their defaults. Config
// *loading* is a convenience for host programs; the struct definition and
// its defaults live in this module.
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, domain.NewDiscoveryError("config", "parse_yaml", err)
	}
	return cfg, nil
}
