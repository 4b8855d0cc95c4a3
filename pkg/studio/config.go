package studio

import (
	"github.com/MENT2022/studio/internal/app/config"
	"github.com/MENT2022/studio/internal/app/normalize"
	"github.com/MENT2022/studio/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// BrokerConfig is the default MQTT connection.
	BrokerConfig = config.BrokerConfig
	// WindowConfig sizes the live sample window.
	WindowConfig = config.WindowConfig
	// NormalizerConfig overrides the identity and field map keys.
	NormalizerConfig = normalize.Config
	// PersistenceConfig selects and configures the reading store.
	PersistenceConfig = config.PersistenceConfig
	// Policy bounds the persistence queue and worker.
	Policy = ports.Policy
	// TimescaleConfig configures the TimescaleDB store.
	TimescaleConfig = config.TimescaleConfig
	// RedisConfig configures the Redis store.
	RedisConfig = config.RedisConfig
	// MemoryConfig configures the in-process store.
	MemoryConfig = config.MemoryConfig
	// APIConfig configures the HTTP API listener.
	APIConfig = config.APIConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// LogConfig selects log level and format.
	LogConfig = config.LogConfig
)

const (
	BackendMemory    = config.BackendMemory
	BackendTimescale = config.BackendTimescale
	BackendRedis     = config.BackendRedis
	BackendNone      = config.BackendNone
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig decodes YAML held in memory.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}
