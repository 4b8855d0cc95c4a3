package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MENT2022/studio/internal/app/normalize"
	"github.com/MENT2022/studio/internal/app/session"
	"github.com/MENT2022/studio/internal/ports"
)

// Environment variables that override secrets from the file.
const (
	EnvBrokerUsername = "STUDIO_BROKER_USERNAME"
	EnvBrokerPassword = "STUDIO_BROKER_PASSWORD"
	EnvTimescaleConn  = "STUDIO_TIMESCALE_CONN"
	EnvRedisPassword  = "STUDIO_REDIS_PASSWORD"
)

const (
	BackendMemory    = "memory"
	BackendTimescale = "timescale"
	BackendRedis     = "redis"
	BackendNone      = "none"
)

type Config struct {
	Broker      BrokerConfig      `yaml:"broker"`
	Window      WindowConfig      `yaml:"window"`
	Normalizer  normalize.Config  `yaml:"normalizer"`
	Persistence PersistenceConfig `yaml:"persistence"`
	API         APIConfig         `yaml:"api"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

// BrokerConfig is the default connection used by auto-connect and as the
// base for API connect requests.
type BrokerConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	ClientID          string        `yaml:"client_id"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	Topic             string        `yaml:"topic"`
	QoS               byte          `yaml:"qos"`
	KeepAlive         time.Duration `yaml:"keepalive"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	SubscribeTimeout  time.Duration `yaml:"subscribe_timeout"`
	AutoConnect       bool          `yaml:"auto_connect"`
}

type WindowConfig struct {
	Capacity int `yaml:"capacity"`
}

type PersistenceConfig struct {
	Backend   string          `yaml:"backend"`
	Policy    ports.Policy    `yaml:"policy"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Redis     RedisConfig     `yaml:"redis"`
	Memory    MemoryConfig    `yaml:"memory"`
}

type TimescaleConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
	Bootstrap  bool   `yaml:"bootstrap"`
	Hypertable bool   `yaml:"hypertable"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	Retention time.Duration `yaml:"retention"`
}

type MemoryConfig struct {
	Capacity int `yaml:"capacity"`
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes, defaults, applies environment overrides and validates.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Broker.ApplyDefaults()

	if c.Window.Capacity == 0 {
		c.Window.Capacity = 200
	}

	p := &c.Persistence
	if p.Backend == "" {
		p.Backend = BackendMemory
	}
	if p.Policy.MaxQueueLen == 0 {
		p.Policy.MaxQueueLen = 10_000
	}
	if p.Policy.MaxBatchSize == 0 {
		p.Policy.MaxBatchSize = 256
	}
	if p.Policy.IdleSleep == 0 {
		p.Policy.IdleSleep = 50 * time.Millisecond
	}
	if p.Policy.AppendTimeout == 0 {
		p.Policy.AppendTimeout = 5 * time.Second
	}
	if p.Timescale.Table == "" {
		p.Timescale.Table = "readings"
	}
	if p.Redis.Addr == "" {
		p.Redis.Addr = "localhost:6379"
	}
	if p.Redis.KeyPrefix == "" {
		p.Redis.KeyPrefix = "studio:"
	}
	if p.Memory.Capacity == 0 {
		p.Memory.Capacity = 10_000
	}

	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "tint"
	}
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvBrokerUsername); ok {
		c.Broker.Username = v
	}
	if v, ok := os.LookupEnv(EnvBrokerPassword); ok {
		c.Broker.Password = v
	}
	if v, ok := os.LookupEnv(EnvTimescaleConn); ok {
		c.Persistence.Timescale.ConnString = v
	}
	if v, ok := os.LookupEnv(EnvRedisPassword); ok {
		c.Persistence.Redis.Password = v
	}
}

func (c *Config) validate() error {
	var errs []error

	if err := c.Broker.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("broker config: %w", err))
	}
	if c.Window.Capacity < 0 {
		errs = append(errs, errors.New("window.capacity must not be negative"))
	}

	switch c.Persistence.Backend {
	case BackendMemory, BackendNone:
	case BackendTimescale:
		if c.Persistence.Timescale.ConnString == "" {
			errs = append(errs, errors.New("persistence.timescale.conn_string is required"))
		}
	case BackendRedis:
		if c.Persistence.Redis.Retention < 0 {
			errs = append(errs, errors.New("persistence.redis.retention must not be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("persistence.backend %q is not one of memory, timescale, redis, none", c.Persistence.Backend))
	}
	if c.Persistence.Policy.MaxQueueLen < 0 || c.Persistence.Policy.MaxBatchSize < 0 {
		errs = append(errs, errors.New("persistence.policy sizes must not be negative"))
	}

	if c.API.Addr == "" {
		errs = append(errs, errors.New("api.addr is required"))
	}
	if c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics.addr is required"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "tint", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of tint, json", c.Log.Format))
	}

	return errors.Join(errs...)
}

func (b *BrokerConfig) ApplyDefaults() {
	if b.KeepAlive <= 0 {
		b.KeepAlive = 30 * time.Second
	}
	if b.ReconnectInterval <= 0 {
		b.ReconnectInterval = 5 * time.Second
	}
	if b.ConnectTimeout <= 0 {
		b.ConnectTimeout = 10 * time.Second
	}
	if b.SubscribeTimeout <= 0 {
		b.SubscribeTimeout = 10 * time.Second
	}
}

// Validate only insists on an endpoint and topic when the connection is
// opened at startup; otherwise they may come with each connect request.
func (b *BrokerConfig) Validate() error {
	if b.AutoConnect {
		if b.Endpoint == "" {
			return errors.New("endpoint is required with auto_connect")
		}
		if b.Topic == "" {
			return errors.New("topic is required with auto_connect")
		}
	}
	if b.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", b.QoS)
	}
	return nil
}

// Params converts the broker section into connect parameters.
func (b BrokerConfig) Params() session.Params {
	return session.Params{
		OpenParams: ports.OpenParams{
			Endpoint:          b.Endpoint,
			ClientID:          b.ClientID,
			Credentials:       ports.Credentials{Username: b.Username, Password: b.Password},
			KeepAlive:         b.KeepAlive,
			ReconnectInterval: b.ReconnectInterval,
			ConnectTimeout:    b.ConnectTimeout,
		},
		Topic: b.Topic,
		QoS:   b.QoS,
	}
}
