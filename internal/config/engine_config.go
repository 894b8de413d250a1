package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// EngineConfig holds durability engine configuration
type EngineConfig struct {
	// ============ SCHEDULING ============
	Enabled          bool `json:"enabled"`
	SyncInterval     int  `json:"sync_interval"`      // seconds between reconciler passes
	BackupEvery      int  `json:"backup_every"`       // run a backup every N reconciler ticks
	RestoreOnStartup bool `json:"restore_on_startup"` // rehydrate an empty local store on cold start
	CatalogOnStartup bool `json:"catalog_on_startup"` // pull the product catalog once online

	// ============ QUEUE / RETRY ============
	BatchSize      int `json:"batch_size"`       // max entries per reconciler pass
	MaxAttempts    int `json:"max_attempts"`     // consecutive failures before dead-letter
	BackoffBaseSec int `json:"backoff_base_sec"` // first retry delay, doubled per attempt
	BackoffCapSec  int `json:"backoff_cap_sec"`  // upper bound for the retry delay
	MaxErrors      int `json:"max_errors"`       // bounded operator-visible error list

	// ============ CONNECTIVITY ============
	ProbeTimeoutSec int `json:"probe_timeout_sec"` // remote ping deadline
	ProbeCacheSec   int `json:"probe_cache_sec"`   // reachability cache TTL

	// ============ SNAPSHOTS ============
	SnapshotRetentionDays int `json:"snapshot_retention_days"` // prune snapshots older than this
}

// LoadEngineConfig loads engine configuration from file or environment
func LoadEngineConfig() *EngineConfig {
	// Try to load from file first
	if configPath := os.Getenv("ENGINE_CONFIG_PATH"); configPath != "" {
		if cfg, err := loadEngineConfigFromFile(configPath); err == nil {
			return cfg
		}
	}

	// Otherwise use defaults
	return getDefaultEngineConfig()
}

// loadEngineConfigFromFile loads engine config from JSON file
func loadEngineConfigFromFile(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg EngineConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// getDefaultEngineConfig returns default engine configuration
func getDefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Enabled:          getBoolEnv("ENGINE_ENABLED", true),
		SyncInterval:     getIntEnv("ENGINE_SYNC_INTERVAL", 180),
		BackupEvery:      getIntEnv("ENGINE_BACKUP_EVERY", 10),
		RestoreOnStartup: getBoolEnv("ENGINE_RESTORE_ON_STARTUP", true),
		CatalogOnStartup: getBoolEnv("ENGINE_CATALOG_ON_STARTUP", true),

		BatchSize:      getIntEnv("ENGINE_BATCH_SIZE", 200),
		MaxAttempts:    getIntEnv("ENGINE_MAX_ATTEMPTS", 8),
		BackoffBaseSec: getIntEnv("ENGINE_BACKOFF_BASE", 30),
		BackoffCapSec:  getIntEnv("ENGINE_BACKOFF_CAP", 3600),
		MaxErrors:      getIntEnv("ENGINE_MAX_ERRORS", 50),

		ProbeTimeoutSec: getIntEnv("ENGINE_PROBE_TIMEOUT", 3),
		ProbeCacheSec:   getIntEnv("ENGINE_PROBE_CACHE", 5),

		SnapshotRetentionDays: getIntEnv("ENGINE_SNAPSHOT_RETENTION", 14),
	}
}

// Helper functions for environment variables

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
