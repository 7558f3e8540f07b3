package domain

import "time"

func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		DataDir:    "./data/store",
		SyncWrites: false,
		GCInterval: 5 * time.Minute,
		CacheTTL:   10 * time.Minute,
	}
}

func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		DataDir:        "./data/queue",
		MaxAttempts:    5,
		BaseBackoff:    500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		ClaimTTL:       2 * time.Minute,
		ReaperInterval: 15 * time.Second,
	}
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		WorkerCount:        8,
		MaxConcurrentRuns:  64,
		DefaultNodeTimeout: 30 * time.Second,
	}
}

func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		SubscriberBuffer: 64,
	}
}

func DefaultConfig() *Config {
	return &Config{
		NodeID:  "node-1",
		Storage: DefaultStorageConfig(),
		Queue:   DefaultQueueConfig(),
		Engine:  DefaultEngineConfig(),
		Events:  DefaultEventBusConfig(),
	}
}
