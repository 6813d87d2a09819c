package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/annel0/slime-worlds/internal/slime"
)

// Config корневая структура конфигурации приложения.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
	API       APIServerConfig `yaml:"api"`
	Events    EventsConfig    `yaml:"events"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`

	// Свойства новых миров по умолчанию
	Worlds slime.Properties `yaml:"worlds"`
}

// ServerConfig - admin REST и метрики хоста миров
type ServerConfig struct {
	AdminAddr   string `yaml:"admin_addr" env:"SLIME_ADMIN_ADDR"`
	MetricsAddr string `yaml:"metrics_addr" env:"SLIME_METRICS_ADDR"`
}

// APIServerConfig - удалённый API хранилища миров (cmd/worldapi)
type APIServerConfig struct {
	Addr        string        `yaml:"addr" env:"SLIME_API_ADDR"`
	TokenSecret string        `yaml:"token_secret" env:"SLIME_API_TOKEN_SECRET"`
	TokenTTL    time.Duration `yaml:"token_ttl" env:"SLIME_API_TOKEN_TTL"`
}

// EventsConfig - публикация событий жизненного цикла миров в NATS
type EventsConfig struct {
	NATSURL string `yaml:"nats_url" env:"SLIME_EVENTS_NATS_URL"`
	Subject string `yaml:"subject" env:"SLIME_EVENTS_SUBJECT"`
	Source  string `yaml:"source" env:"SLIME_EVENTS_SOURCE"`

	// Вебхук получает те же события POST-запросом
	WebhookURL    string `yaml:"webhook_url" env:"SLIME_EVENTS_WEBHOOK_URL"`
	WebhookSecret string `yaml:"webhook_secret" env:"SLIME_EVENTS_WEBHOOK_SECRET"`
}

// CacheConfig - горячий кеш байтов миров в Redis перед основным хранилищем.
// Каждый узел держит свой Redis; запись на одном узле рассылает инвалидацию по NATS.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled" env:"SLIME_CACHE_ENABLED"`
	RedisAddr     string        `yaml:"redis_addr" env:"SLIME_CACHE_REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" env:"SLIME_CACHE_REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"SLIME_CACHE_REDIS_DB"`
	KeyPrefix     string        `yaml:"key_prefix" env:"SLIME_CACHE_KEY_PREFIX"`
	TTL           time.Duration `yaml:"ttl" env:"SLIME_CACHE_TTL"`

	// пусто - инвалидация только локальная
	NATSURL string `yaml:"nats_url" env:"SLIME_CACHE_NATS_URL"`
	Subject string `yaml:"subject" env:"SLIME_CACHE_SUBJECT"`
	NodeID  string `yaml:"node_id" env:"SLIME_CACHE_NODE_ID"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" env:"SLIME_TELEMETRY_ENABLED"`
	ServiceName string `yaml:"service_name" env:"SLIME_TELEMETRY_SERVICE"`
	// host:port OTLP коллектора; пусто - localhost:4318 или OTEL_EXPORTER_OTLP_ENDPOINT
	Endpoint string `yaml:"endpoint" env:"SLIME_TELEMETRY_ENDPOINT"`
	Insecure bool   `yaml:"insecure" env:"SLIME_TELEMETRY_INSECURE"`
}

type LoggingConfig struct {
	Level string `yaml:"level" env:"SLIME_LOG_LEVEL"`
	Dir   string `yaml:"dir" env:"SLIME_LOG_DIR"`
}

// Default возвращает конфигурацию по умолчанию.
// Хранилище не задано: если его не выставит ни файл, ни ENV, Load выберет файловое в ./worlds.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			AdminAddr:   ":8090",
			MetricsAddr: ":2112",
		},
		API: APIServerConfig{
			Addr:     ":8091",
			TokenTTL: 30 * 24 * time.Hour,
		},
		Events: EventsConfig{
			Subject: "worlds",
			Source:  "slime-worlds",
		},
		Cache: CacheConfig{
			KeyPrefix: "slime:cache:",
			TTL:       10 * time.Minute,
			Subject:   "worlds.cache.invalidate",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "slime-worlds",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Worlds: slime.DefaultProperties(),
	}
}

// Load читает YAML файл конфигурации поверх Default и применяет переменные окружения.
// Если path == "", путь берётся из SLIME_CONFIG; если и он пуст - используются только дефолты и ENV.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("SLIME_CONFIG")
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	applyStorageDefault(cfg)
	return cfg, nil
}

func applyStorageDefault(cfg *Config) {
	if cfg.Storage.Type == "" && cfg.Storage.populated() == nil {
		cfg.Storage = StorageConfig{
			Type: BackendFile,
			File: FileConfig{Path: "worlds"},
		}
	}
}

// Parse разбирает YAML из памяти (используется CLI для --to конфигураций и тестами)
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyStorageDefault(cfg)
	return cfg, nil
}
