package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Courier/internal/backend"
	"github.com/shaiso/Courier/internal/pool"
	"github.com/shaiso/Courier/internal/tracker"
	"github.com/shaiso/Courier/internal/worker"
)

const sampleYAML = `
engine:
  port: "9090"
  workers: 4
  task_timeout: 45s
policy:
  max_retries_per_backend: 3
  base_delay: 2s
pool:
  checkout_wait: 1s
  lease_ttl: 10m
resources:
  - id: acc-1
    scope: accounts
    value: user1
  - id: acc-2
    scope: accounts
    value: user2
backends:
  - name: browser
    kind: browser
    priority: 1
    max_concurrency: 2
    max_batch_size: 50
    resource_scope: accounts
    endpoint: http://sessions:7000
  - name: api
    kind: api
    priority: 2
    max_concurrency: 8
    max_batch_size: 500
    supports_partial: true
    endpoint: http://provider:8000
    timeout: 10s
  - name: mixed
    kind: hybrid
    priority: 3
    max_concurrency: 4
    max_batch_size: 100
    candidates: [browser, api]
recurring:
  - name: nightly
    schedule: "0 3 * * *"
    target: content-1
    quantity: 100
    backends: [api]
`

// --- Parse Tests ---

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Engine.Port != "9090" || cfg.Engine.Workers != 4 {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Engine.TaskTimeout != 45*time.Second {
		t.Errorf("task_timeout = %v, want 45s", cfg.Engine.TaskTimeout)
	}
	if cfg.Engine.QueueCapacity != defaultQueueCapacity {
		t.Errorf("queue_capacity default = %d", cfg.Engine.QueueCapacity)
	}
	if cfg.Policy.MaxRetriesPerBackend != 3 || cfg.Policy.BaseDelay != 2*time.Second {
		t.Errorf("policy = %+v", cfg.Policy)
	}
	if len(cfg.Backends) != 3 {
		t.Fatalf("backends = %d, want 3", len(cfg.Backends))
	}

	api := cfg.Backends[1]
	if api.Name != "api" || api.Kind != backend.KindAPI || !api.SupportsPartial || api.Timeout != 10*time.Second {
		t.Errorf("api backend = %+v", api)
	}
	if got := cfg.Backends[2].Candidates; len(got) != 2 || got[0] != "browser" {
		t.Errorf("hybrid candidates = %v", got)
	}

	pc := cfg.PoolManagerConfig()
	if len(pc.Resources) != 2 || pc.LeaseTTL != 10*time.Minute {
		t.Errorf("pool config = %+v", pc)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := &Config{Engine: EngineConfig{Port: "9090", DatabaseURL: "postgresql://file"}}
	env := map[string]string{
		"DB_URL":      "postgresql://env",
		"REDIS_URL":   "redis://localhost:6379/0",
		"ENGINE_PORT": "",
	}
	cfg.applyEnv(func(k string) string { return env[k] })

	if cfg.Engine.DatabaseURL != "postgresql://env" {
		t.Errorf("DatabaseURL = %q", cfg.Engine.DatabaseURL)
	}
	if cfg.Engine.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %q", cfg.Engine.RedisURL)
	}
	// пустая переменная не затирает значение из файла
	if cfg.Engine.Port != "9090" {
		t.Errorf("Port = %q", cfg.Engine.Port)
	}
}

// --- Validate Tests ---

func validConfig() *Config {
	cfg := &Config{
		Backends: []BackendConfig{
			{
				Descriptor: backend.Descriptor{Name: "api", Kind: backend.KindAPI, MaxConcurrency: 1, MaxBatchSize: 10},
				Endpoint:   "http://provider",
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func TestApplyDefaults_LeaseOutlivesTaskTimeout(t *testing.T) {
	cfg := validConfig()
	if cfg.Pool.LeaseTTL != defaultLeaseTTL {
		t.Errorf("lease_ttl = %v, want %v", cfg.Pool.LeaseTTL, defaultLeaseTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"no backends", func(c *Config) { c.Backends = nil }, "at least one backend"},
		{"duplicate backend", func(c *Config) {
			c.Backends = append(c.Backends, c.Backends[0])
		}, "duplicate name api"},
		{"unknown kind", func(c *Config) { c.Backends[0].Kind = "carrier-pigeon" }, "unknown kind"},
		{"api without endpoint", func(c *Config) { c.Backends[0].Endpoint = "" }, "endpoint is required"},
		{"browser without scope", func(c *Config) {
			c.Backends = append(c.Backends, BackendConfig{
				Descriptor: backend.Descriptor{Name: "browser", Kind: backend.KindBrowser},
				Endpoint:   "http://sessions",
			})
		}, "resource_scope is required"},
		{"scope without resources", func(c *Config) {
			c.Backends[0].ResourceScope = "accounts"
		}, "no resources in scope accounts"},
		{"hybrid unknown candidate", func(c *Config) {
			c.Backends = append(c.Backends, BackendConfig{
				Descriptor: backend.Descriptor{Name: "mixed", Kind: backend.KindHybrid},
				Candidates: []string{"api", "ghost"},
			})
		}, "unknown candidate ghost"},
		{"hybrid of hybrid", func(c *Config) {
			c.Backends = append(c.Backends,
				BackendConfig{Descriptor: backend.Descriptor{Name: "h1", Kind: backend.KindHybrid}, Candidates: []string{"api"}},
				BackendConfig{Descriptor: backend.Descriptor{Name: "h2", Kind: backend.KindHybrid}, Candidates: []string{"h1"}},
			)
		}, "candidate h1 is a hybrid"},
		{"duplicate resource", func(c *Config) {
			c.Resources = []pool.Resource{{ID: "r", Scope: "s"}, {ID: "r", Scope: "s"}}
		}, "duplicate id r"},
		{"bad schedule", func(c *Config) {
			c.Recurring = []RecurringConfig{{Name: "n", Schedule: "every day", Target: "t", Quantity: 1}}
		}, "invalid schedule"},
		{"recurring without target", func(c *Config) {
			c.Recurring = []RecurringConfig{{Name: "n", Schedule: "@hourly", Quantity: 1}}
		}, "target is required"},
		{"recurring unknown backend", func(c *Config) {
			c.Recurring = []RecurringConfig{{Name: "n", Schedule: "@hourly", Target: "t", Quantity: 1, Backends: []string{"ghost"}}}
		}, "unknown backend ghost"},
		{"lease shorter than task timeout", func(c *Config) {
			c.Pool.LeaseTTL = 30 * time.Second
			c.Engine.TaskTimeout = 2 * time.Minute
		}, "must exceed engine.task_timeout"},
		{"lease equal to task timeout", func(c *Config) {
			c.Pool.LeaseTTL = time.Minute
			c.Engine.TaskTimeout = time.Minute
		}, "must exceed engine.task_timeout"},
		{"recurring bad priority", func(c *Config) {
			c.Recurring = []RecurringConfig{{Name: "n", Schedule: "@hourly", Target: "t", Quantity: 1, Priority: "urgent"}}
		}, "unknown priority"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

// --- BuildRegistry Tests ---

func testDeps(t *testing.T) BackendDeps {
	t.Helper()
	mgr, err := pool.New(pool.Config{})
	if err != nil {
		t.Fatal(err)
	}
	return BackendDeps{
		Slots:  worker.NewSlots(),
		Leaser: mgr,
		Stats:  tracker.New(tracker.Config{}),
	}
}

func TestBuildRegistry(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	reg, err := BuildRegistry(cfg.Backends, testDeps(t))
	if err != nil {
		t.Fatalf("BuildRegistry: %v", err)
	}

	names := reg.Names()
	want := []string{"browser", "api", "mixed"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %s, want %s", i, names[i], want[i])
		}
	}

	b, err := reg.Get("mixed")
	if err != nil {
		t.Fatal(err)
	}
	if b.Descriptor().Kind != backend.KindHybrid {
		t.Errorf("mixed kind = %s", b.Descriptor().Kind)
	}
}

func TestBuildRegistry_UnknownCandidate(t *testing.T) {
	cfgs := []BackendConfig{{
		Descriptor: backend.Descriptor{Name: "mixed", Kind: backend.KindHybrid, MaxConcurrency: 1, MaxBatchSize: 1},
		Candidates: []string{"ghost"},
	}}
	if _, err := BuildRegistry(cfgs, testDeps(t)); err == nil {
		t.Fatal("expected error for unknown candidate")
	}
}
