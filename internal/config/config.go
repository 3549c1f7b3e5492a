package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации отладчика.
type Config struct {
	Playback  PlaybackConfig  `yaml:"playback"`
	Recording RecordingConfig `yaml:"recording"`
	Storage   StorageConfig   `yaml:"storage"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Sim       SimConfig       `yaml:"sim"`
	LogLevel  string          `yaml:"log_level"`
}

type PlaybackConfig struct {
	Rate   float64 `yaml:"rate"`
	TickHz int     `yaml:"tick_hz"`
}

type RecordingConfig struct {
	AutoRecord bool     `yaml:"auto_record"`
	Channels   []string `yaml:"channels"`
}

type StorageConfig struct {
	Path        string `yaml:"path"`
	Compression bool   `yaml:"compression"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"` // пустой URL: in-memory шина
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Capacity  int    `yaml:"capacity"`
}

type ServerConfig struct {
	RESTPort    int     `yaml:"rest_port"`
	MetricsPort int     `yaml:"metrics_port"`
	RateLimit   float64 `yaml:"rate_limit"` // изменяющих запросов в секунду, 0 без лимита
	RateBurst   int     `yaml:"rate_burst"`
}

type AuthConfig struct {
	JWTSecret string           `yaml:"jwt_secret"` // base64, пустой секрет отключает авторизацию
	Operators []OperatorConfig `yaml:"operators"`
}

// OperatorConfig учётная запись для входа через /api/auth/login
type OperatorConfig struct {
	Name         string `yaml:"name"`
	PasswordHash string `yaml:"password_hash"` // bcrypt
	ReadOnly     bool   `yaml:"read_only"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

type SimConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Seed       int64   `yaml:"seed"`
	Actors     int     `yaml:"actors"`
	ChurnEvery float64 `yaml:"churn_every_seconds"`
}

// DefaultChannels каналы захвата, включаемые на время записи
var DefaultChannels = []string{"Object", "Frame", "Animation", "PoseSearch"}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Playback: PlaybackConfig{Rate: 1.0, TickHz: 60},
		Recording: RecordingConfig{
			AutoRecord: true,
			Channels:   append([]string(nil), DefaultChannels...),
		},
		Storage:   StorageConfig{Path: "data", Compression: true},
		EventBus:  EventBusConfig{Stream: "REWIND", Retention: 24, Capacity: 256},
		Telemetry: TelemetryConfig{ServiceName: "rewindd"},
		Sim:       SimConfig{Enabled: true, Seed: 42, Actors: 2, ChurnEvery: 5},
		LogLevel:  "info",
	}
}

// applyDefaults заполняет незаданные поля значениями по умолчанию
func (c *Config) applyDefaults() {
	def := Default()
	if c.Playback.Rate <= 0 {
		c.Playback.Rate = def.Playback.Rate
	}
	if c.Playback.TickHz <= 0 {
		c.Playback.TickHz = def.Playback.TickHz
	}
	if len(c.Recording.Channels) == 0 {
		c.Recording.Channels = def.Recording.Channels
	}
	if c.Storage.Path == "" {
		c.Storage.Path = def.Storage.Path
	}
	if c.EventBus.Stream == "" {
		c.EventBus.Stream = def.EventBus.Stream
	}
	if c.EventBus.Retention <= 0 {
		c.EventBus.Retention = def.EventBus.Retention
	}
	if c.EventBus.Capacity <= 0 {
		c.EventBus.Capacity = def.EventBus.Capacity
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = def.Telemetry.ServiceName
	}
	if c.Sim.Actors <= 0 {
		c.Sim.Actors = def.Sim.Actors
	}
	if c.Sim.ChurnEvery < 0 {
		c.Sim.ChurnEvery = 0
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

// TickInterval возвращает период тика
func (p PlaybackConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(p.TickHz)
}

// RetentionDuration возвращает срок хранения стрима
func (e EventBusConfig) RetentionDuration() time.Duration {
	return time.Duration(e.Retention) * time.Hour
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "REWIND_REST_PORT", 8090)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "REWIND_METRICS_PORT", 2113)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV REWIND_CONFIG, иначе возвращает дефолты.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("REWIND_CONFIG")
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}
