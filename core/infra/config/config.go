package config

import (
	"os"
	"strings"
)

const (
	defaultNATSURL         = "nats://localhost:4222"
	defaultRedisURL        = "redis://localhost:6379"
	defaultInventoryConfig = "config/inventory.yaml"
	defaultLocalAssetDir   = "data/assets"
	defaultRepoBackend     = BackendRedis
	defaultMetricsAddr     = ":9102"

	envNATSURL             = "NATS_URL"
	envRedisURL            = "REDIS_URL"
	envInventoryConfigPath = "GRIDSTORE_INVENTORY_CONFIG"
	envLocalAssetDir       = "GRIDSTORE_LOCAL_ASSET_DIR"
	envRepoBackend         = "GRIDSTORE_REPO_BACKEND"
	envMetricsAddr         = "GRIDSTORE_METRICS_ADDR"

	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds runtime configuration for the inventory service and its CLI.
type Config struct {
	NatsURL             string
	RedisURL            string
	InventoryConfigPath string
	LocalAssetDir       string
	RepoBackend         string
	MetricsAddr         string
}

// Load returns configuration using environment variables with sane defaults.
func Load() *Config {
	backend := strings.ToLower(envOr(envRepoBackend, defaultRepoBackend))
	if backend != BackendMemory {
		backend = BackendRedis
	}
	return &Config{
		NatsURL:             envOr(envNATSURL, defaultNATSURL),
		RedisURL:            envOr(envRedisURL, defaultRedisURL),
		InventoryConfigPath: envOr(envInventoryConfigPath, defaultInventoryConfig),
		LocalAssetDir:       envOr(envLocalAssetDir, defaultLocalAssetDir),
		RepoBackend:         backend,
		MetricsAddr:         envOr(envMetricsAddr, defaultMetricsAddr),
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
