package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shaiso/Courier/internal/backend"
	"github.com/shaiso/Courier/internal/policy"
	"github.com/shaiso/Courier/internal/pool"
	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	defaultPort            = "8080"
	defaultWorkers         = 16
	defaultQueueCapacity   = 1024
	defaultTaskTimeout     = 2 * time.Minute
	defaultPollInterval    = 5 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultReapInterval    = 30 * time.Second
	defaultLeaseTTL        = 5 * time.Minute
	defaultSchedulerTick   = 30 * time.Second
	defaultNotifyBuffer    = 256
)

// Config — конфигурация courier-engine.
type Config struct {
	Engine    EngineConfig      `yaml:"engine"`
	Policy    policy.Config     `yaml:"policy"`
	Pool      PoolConfig        `yaml:"pool"`
	Backends  []BackendConfig   `yaml:"backends"`
	Resources []pool.Resource   `yaml:"resources"`
	Recurring []RecurringConfig `yaml:"recurring"`
}

// EngineConfig — процесс движка и подключения к инфраструктуре.
type EngineConfig struct {
	Port string `yaml:"port"`

	// Пустые URL — компонент не используется (для БД — хранилище в памяти).
	DatabaseURL string `yaml:"database_url"`
	RabbitMQURL string `yaml:"rabbitmq_url"`
	RedisURL    string `yaml:"redis_url"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Workers         int           `yaml:"workers"`
	QueueCapacity   int           `yaml:"queue_capacity"`
	TaskTimeout     time.Duration `yaml:"task_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	SchedulerTick   time.Duration `yaml:"scheduler_tick"`
	NotifyBuffer    int           `yaml:"notify_buffer"`
}

// PoolConfig — настройки пула ресурсов.
type PoolConfig struct {
	CheckoutWait   time.Duration `yaml:"checkout_wait"`
	LeaseTTL       time.Duration `yaml:"lease_ttl"`
	DegradeAfter   int           `yaml:"degrade_after"`
	BlacklistAfter int           `yaml:"blacklist_after"`
	Cooldown       time.Duration `yaml:"cooldown"`
	ReapInterval   time.Duration `yaml:"reap_interval"`
}

// BackendConfig — описание backend'а в конфигурации.
type BackendConfig struct {
	backend.Descriptor `yaml:",inline"`

	// Endpoint — базовый URL (api, cloud) или URL сервиса сессий (browser).
	Endpoint string `yaml:"endpoint"`

	// Timeout — таймаут HTTP-запроса к backend'у.
	Timeout time.Duration `yaml:"timeout"`

	// PollInterval — интервал опроса заданий (cloud).
	PollInterval time.Duration `yaml:"poll_interval"`

	// Candidates — имена конкретных backend'ов (hybrid).
	Candidates []string `yaml:"candidates"`
}

// RecurringConfig — повторяющийся заказ по расписанию cron.
type RecurringConfig struct {
	Name     string   `yaml:"name"`
	Schedule string   `yaml:"schedule"`
	Target   string   `yaml:"target"`
	Quantity int      `yaml:"quantity"`
	Backends []string `yaml:"backends"`
	Priority string   `yaml:"priority"`

	// Disabled — расписание загружено, но заказы не создаются.
	Disabled bool `yaml:"disabled"`
}

// Load читает конфигурацию.
//
// Путь берётся из аргумента, затем из COURIER_CONFIG. Без файла используются
// значения по умолчанию. Переменные окружения DB_URL, RABBITMQ_URL, REDIS_URL,
// ENGINE_PORT, LOG_LEVEL и LOG_FORMAT переопределяют значения из файла.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("COURIER_CONFIG")
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse разбирает конфигурацию из YAML без чтения окружения.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	overrides := []struct {
		env string
		dst *string
	}{
		{"DB_URL", &c.Engine.DatabaseURL},
		{"RABBITMQ_URL", &c.Engine.RabbitMQURL},
		{"REDIS_URL", &c.Engine.RedisURL},
		{"ENGINE_PORT", &c.Engine.Port},
		{"LOG_LEVEL", &c.Engine.LogLevel},
		{"LOG_FORMAT", &c.Engine.LogFormat},
	}
	for _, o := range overrides {
		if v := getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

func (c *Config) applyDefaults() {
	e := &c.Engine
	if e.Port == "" {
		e.Port = defaultPort
	}
	if e.LogLevel == "" {
		e.LogLevel = "INFO"
	}
	if e.LogFormat == "" {
		e.LogFormat = "json"
	}
	if e.Workers <= 0 {
		e.Workers = defaultWorkers
	}
	if e.QueueCapacity <= 0 {
		e.QueueCapacity = defaultQueueCapacity
	}
	if e.TaskTimeout <= 0 {
		e.TaskTimeout = defaultTaskTimeout
	}
	if e.PollInterval <= 0 {
		e.PollInterval = defaultPollInterval
	}
	if e.ShutdownTimeout <= 0 {
		e.ShutdownTimeout = defaultShutdownTimeout
	}
	if e.SchedulerTick <= 0 {
		e.SchedulerTick = defaultSchedulerTick
	}
	if e.NotifyBuffer <= 0 {
		e.NotifyBuffer = defaultNotifyBuffer
	}
	if c.Pool.ReapInterval <= 0 {
		c.Pool.ReapInterval = defaultReapInterval
	}
	if c.Pool.LeaseTTL <= 0 {
		c.Pool.LeaseTTL = defaultLeaseTTL
	}
}

// PoolManagerConfig возвращает pool.Config для менеджера ресурсов.
func (c *Config) PoolManagerConfig() pool.Config {
	return pool.Config{
		Resources:      c.Resources,
		CheckoutWait:   c.Pool.CheckoutWait,
		LeaseTTL:       c.Pool.LeaseTTL,
		DegradeAfter:   c.Pool.DegradeAfter,
		BlacklistAfter: c.Pool.BlacklistAfter,
		Cooldown:       c.Pool.Cooldown,
	}
}
