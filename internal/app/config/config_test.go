package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	data := `
broker:
  endpoint: tcp://localhost:1883
  topic: plant/+/telemetry
  qos: 1
  auto_connect: true
persistence:
  policy:
    max_queue_len: 1000
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Persistence.Policy.MaxQueueLen != 1000 {
		t.Fatalf("expected MaxQueueLen 1000, got %d", cfg.Persistence.Policy.MaxQueueLen)
	}
	if cfg.Persistence.Policy.IdleSleep != 50*time.Millisecond {
		t.Fatalf("expected IdleSleep default 50ms, got %s", cfg.Persistence.Policy.IdleSleep)
	}
	if cfg.Persistence.Backend != BackendMemory {
		t.Fatalf("expected default backend memory, got %s", cfg.Persistence.Backend)
	}
	if cfg.Window.Capacity != 200 {
		t.Fatalf("expected window capacity 200, got %d", cfg.Window.Capacity)
	}
	if cfg.Metrics.Addr != ":9100" || cfg.API.Addr != ":8080" {
		t.Fatalf("unexpected listener defaults: metrics=%s api=%s", cfg.Metrics.Addr, cfg.API.Addr)
	}
	if cfg.Broker.KeepAlive != 30*time.Second {
		t.Fatalf("expected keepalive default 30s, got %s", cfg.Broker.KeepAlive)
	}

	p := cfg.Broker.Params()
	if p.Endpoint != "tcp://localhost:1883" || p.Topic != "plant/+/telemetry" || p.QoS != 1 {
		t.Fatalf("unexpected params %+v", p)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("params from config should validate: %v", err)
	}
}

func TestParseDurationsAndNormalizerKeys(t *testing.T) {
	cfg, err := Parse([]byte(`
broker:
  keepalive: 10s
  connect_timeout: 1500ms
normalizer:
  identity_keys: [unit]
  field_map_keys: [channels]
persistence:
  backend: redis
  redis:
    addr: cache:6379
    retention: 24h
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Broker.KeepAlive != 10*time.Second || cfg.Broker.ConnectTimeout != 1500*time.Millisecond {
		t.Fatalf("durations not decoded: %+v", cfg.Broker)
	}
	if len(cfg.Normalizer.IdentityKeys) != 1 || cfg.Normalizer.IdentityKeys[0] != "unit" {
		t.Fatalf("identity keys not decoded: %+v", cfg.Normalizer)
	}
	if cfg.Persistence.Redis.Retention != 24*time.Hour || cfg.Persistence.Redis.KeyPrefix != "studio:" {
		t.Fatalf("unexpected redis config %+v", cfg.Persistence.Redis)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvBrokerPassword, "s3cret")
	t.Setenv(EnvTimescaleConn, "postgres://env@db/studio")

	cfg, err := Parse([]byte(`
broker:
  password: from-file
persistence:
  backend: timescale
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Broker.Password != "s3cret" {
		t.Fatalf("expected env password, got %q", cfg.Broker.Password)
	}
	if cfg.Persistence.Timescale.ConnString != "postgres://env@db/studio" {
		t.Fatalf("expected env conn string, got %q", cfg.Persistence.Timescale.ConnString)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	_, err := Parse([]byte(`
broker:
  auto_connect: true
  qos: 1
persistence:
  backend: cassandra
log:
  level: loud
`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"endpoint is required", "cassandra", "loud"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestTimescaleRequiresConnString(t *testing.T) {
	if _, err := Parse([]byte("persistence:\n  backend: timescale\n")); err == nil {
		t.Fatalf("expected error without conn_string")
	}
}
