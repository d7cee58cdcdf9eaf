package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервера.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	EventBus EventBusConfig `yaml:"eventbus"`
	Auth     AuthConfig     `yaml:"auth"`
	World    WorldConfig    `yaml:"world"`
}

type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr"`  // адрес игрового слушателя, напр. :7777
	Transport   string `yaml:"transport"`    // tcp | kcp
	FrameCodec  string `yaml:"frame_codec"`  // json | json+zstd
	RESTPort    int    `yaml:"rest_port"`    // порт административного REST API
	MetricsPort int    `yaml:"metrics_port"` // порт Prometheus метрик
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`       // user:pass@tcp(host:port)/dbname; пусто = Badger
	DataPath string `yaml:"data_path"` // каталог Badger в standalone-режиме
	MongoURI string `yaml:"mongo_uri"` // репозиторий пользователей в MongoDB (опционально)
}

type RedisConfig struct {
	Addr       string `yaml:"addr"` // пусто = кэш чанков отключён
	TTLMinutes int    `yaml:"ttl_minutes"`
}

type EventBusConfig struct {
	URL    string `yaml:"url"` // пусто = шина в памяти
	Stream string `yaml:"stream"`
}

type AuthConfig struct {
	Secret        string   `yaml:"secret"`       // секрет подписи токенов сессий
	Policy        string   `yaml:"policy"`       // public | invite_only | closed
	InviteCodes   []string `yaml:"invite_codes"` // коды для invite_only
	TokenTTLHours int      `yaml:"token_ttl_hours"`
	AdminPassword string   `yaml:"admin_password"` // пароль администратора при первом запуске
}

type WorldConfig struct {
	TickMs         int    `yaml:"tick_ms"`         // интервал тика, мс
	RenderDistance int    `yaml:"render_distance"` // радиус желаемых чанков
	Generator      string `yaml:"generator"`       // flat | noise
	Seed           int64  `yaml:"seed"`
	SendTimeoutSec int    `yaml:"send_timeout_sec"` // таймаут отправки снапшота
}

// GetListenAddr возвращает адрес слушателя с fallback значениями.
func (s *ServerConfig) GetListenAddr() string {
	if s.ListenAddr != "" {
		return s.ListenAddr
	}
	if v := os.Getenv("MMO_LISTEN_ADDR"); v != "" {
		return v
	}
	return ":7777"
}

// GetTransport возвращает транспорт слушателя.
func (s *ServerConfig) GetTransport() string {
	if s.Transport != "" {
		return s.Transport
	}
	return "tcp"
}

// GetFrameCodec возвращает кодек кадров.
func (s *ServerConfig) GetFrameCodec() string {
	if s.FrameCodec != "" {
		return s.FrameCodec
	}
	return "json"
}

// GetRESTPort возвращает порт REST API с поддержкой fallback значений.
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "MMO_REST_PORT", 8088)
}

// GetMetricsPort возвращает порт Prometheus метрик с fallback значениями.
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "MMO_METRICS_PORT", 2112)
}

// GetTickMs возвращает интервал тика.
func (w *WorldConfig) GetTickMs() int {
	if w.TickMs > 0 {
		return w.TickMs
	}
	return 500
}

// GetRenderDistance возвращает радиус желаемых чанков.
func (w *WorldConfig) GetRenderDistance() int {
	if w.RenderDistance > 0 {
		return w.RenderDistance
	}
	return 3
}

// GetSendTimeout возвращает таймаут отправки снапшота в секундах.
func (w *WorldConfig) GetSendTimeout() int {
	if w.SendTimeoutSec > 0 {
		return w.SendTimeoutSec
	}
	return 3
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
// Если path == "", пытается прочитать из ENV MMO_CONFIG или возвращает nil, nil.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MMO_CONFIG")
		if path == "" {
			return nil, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
