package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/annel0/mmo-physics/internal/logging"
	"github.com/annel0/mmo-physics/internal/physics"
)

// Config корневая структура конфигурации сервера
type Config struct {
	Physics   PhysicsConfig   `yaml:"physics"`
	World     WorldConfig     `yaml:"world"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Maria     MariaConfig     `yaml:"maria"`
	NATS      NATSConfig      `yaml:"nats"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
}

// PhysicsConfig - параметры симуляции. Нулевые значения означают значения по умолчанию,
// кроме gravity: его можно явно задать нулём.
type PhysicsConfig struct {
	TickMillis     int      `yaml:"tick_ms"`
	Gravity        *float64 `yaml:"gravity"`
	DampingXZ      float64  `yaml:"damping_xz"`
	DampingY       float64  `yaml:"damping_y"`
	ContactEpsilon float64  `yaml:"contact_epsilon"`
	CellWidth      float64  `yaml:"cell_width"`
	MaxForce       float64  `yaml:"max_force"`
	CommandQueue   int      `yaml:"command_queue"`
}

type WorldConfig struct {
	Seed            int64 `yaml:"seed"`
	PreloadRadius   int   `yaml:"preload_radius"`
	AutosaveSeconds int   `yaml:"autosave_seconds"`
}

type StorageConfig struct {
	DataPath string `yaml:"data_path"`
	InMemory bool   `yaml:"in_memory"`
}

type RedisConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	KeyPrefix  string `yaml:"key_prefix"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type MongoConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type MariaConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NATSConfig - пересылка событий шины во внешний NATS
type NATSConfig struct {
	Enabled       bool     `yaml:"enabled"`
	URL           string   `yaml:"url"`
	SubjectPrefix string   `yaml:"subject_prefix"`
	Types         []string `yaml:"types"` // пусто - все типы
}

type ServerConfig struct {
	RESTPort    int    `yaml:"rest_port"`
	MetricsPort int    `yaml:"metrics_port"`
	GinMode     string `yaml:"gin_mode"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type LoggingConfig struct {
	Level      string            `yaml:"level"`
	FileLevel  string            `yaml:"file_level"`
	Dir        string            `yaml:"dir"`
	JSON       bool              `yaml:"json"`
	Components map[string]string `yaml:"components"` // например, sim: trace
}

// AuthConfig - операторы отладочного API. Без операторов изменяющие маршруты выключены.
type AuthConfig struct {
	Secret          string           `yaml:"secret"` // base64, >= 32 байт; пусто - случайный при старте
	TokenTTLMinutes int              `yaml:"token_ttl_minutes"`
	Operators       []OperatorConfig `yaml:"operators"`
}

type OperatorConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"` // bcrypt
	Admin        bool   `yaml:"admin"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Physics: PhysicsConfig{CommandQueue: 1024},
		World: WorldConfig{
			Seed:            1,
			PreloadRadius:   2,
			AutosaveSeconds: 60,
		},
		Storage: StorageConfig{DataPath: "data"},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			KeyPrefix:  "physics:snap:",
			TTLSeconds: 86400,
		},
		Mongo: MongoConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "physics",
			Collection: "snapshots",
		},
		Maria:  MariaConfig{Host: "localhost", Port: 3306, Database: "physics"},
		NATS:   NATSConfig{URL: "nats://localhost:4222", SubjectPrefix: "physics.events"},
		Server: ServerConfig{GinMode: "release"},
		Telemetry: TelemetryConfig{
			ServiceName: "mmo-physics",
			SampleRatio: 1,
		},
		Logging: LoggingConfig{Level: "info", FileLevel: "debug"},
		Auth:    AuthConfig{TokenTTLMinutes: 60},
	}
}

// Params переводит секцию physics в physics.Params поверх значений по умолчанию
func (p PhysicsConfig) Params() physics.Params {
	params := physics.DefaultParams()
	if p.TickMillis > 0 {
		params.TickDuration = time.Duration(p.TickMillis) * time.Millisecond
	}
	if p.Gravity != nil {
		params.Gravity = *p.Gravity
	}
	if p.DampingXZ > 0 {
		params.Damping.X = p.DampingXZ
		params.Damping.Z = p.DampingXZ
	}
	if p.DampingY > 0 {
		params.Damping.Y = p.DampingY
	}
	if p.ContactEpsilon > 0 {
		params.ContactEpsilon = p.ContactEpsilon
	}
	if p.CellWidth > 0 {
		params.CellWidth = p.CellWidth
	}
	if p.MaxForce > 0 {
		params.MaxForce = p.MaxForce
	}
	return params.Normalize()
}

// AutosaveInterval возвращает период автосохранения, 0 - выключено
func (w WorldConfig) AutosaveInterval() time.Duration {
	if w.AutosaveSeconds <= 0 {
		return 0
	}
	return time.Duration(w.AutosaveSeconds) * time.Second
}

// TokenTTL возвращает время жизни токенов операторов
func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLMinutes) * time.Minute
}

// TTL возвращает время жизни снимков в Redis
func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "PHYSICS_REST_PORT", 8088)
}

// GetMetricsPort возвращает порт отдельного Prometheus listener; 0 - метрики только на REST порту
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "PHYSICS_METRICS_PORT", 0)
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

// LoggingOptions переводит секцию logging в параметры логгеров
func (l LoggingConfig) LoggingOptions() (logging.Options, error) {
	console, err := logging.ParseLevel(l.Level)
	if err != nil {
		return logging.Options{}, err
	}
	file, err := logging.ParseLevel(l.FileLevel)
	if err != nil {
		return logging.Options{}, err
	}
	opts := logging.Options{ConsoleLevel: console, FileLevel: file, Dir: l.Dir, JSON: l.JSON}
	if len(l.Components) > 0 {
		opts.Components = make(map[string]logging.LogLevel, len(l.Components))
		for name, level := range l.Components {
			lvl, err := logging.ParseLevel(level)
			if err != nil {
				return logging.Options{}, fmt.Errorf("components.%s: %w", name, err)
			}
			opts.Components[name] = lvl
		}
	}
	return opts, nil
}

func (c *Config) snapshotBackends() int {
	n := 0
	for _, on := range []bool{c.Redis.Enabled, c.Mongo.Enabled, c.Maria.Enabled} {
		if on {
			n++
		}
	}
	return n
}

// Validate проверяет согласованность конфигурации
func (c *Config) Validate() error {
	if c.Physics.TickMillis < 0 {
		return fmt.Errorf("physics.tick_ms: отрицательное значение %d", c.Physics.TickMillis)
	}
	if c.Physics.Gravity != nil && *c.Physics.Gravity < 0 {
		return fmt.Errorf("physics.gravity: отрицательное значение %g", *c.Physics.Gravity)
	}
	if c.Physics.CellWidth < 0 {
		return fmt.Errorf("physics.cell_width: отрицательное значение %g", c.Physics.CellWidth)
	}
	if c.Physics.CommandQueue <= 0 {
		return fmt.Errorf("physics.command_queue должен быть > 0")
	}
	if c.World.PreloadRadius < 0 {
		return fmt.Errorf("world.preload_radius: отрицательное значение %d", c.World.PreloadRadius)
	}
	if !c.Storage.InMemory && c.Storage.DataPath == "" {
		return fmt.Errorf("storage.data_path обязателен без in_memory")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr обязателен при redis.enabled")
	}
	if c.Mongo.Enabled && c.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri обязателен при mongo.enabled")
	}
	if c.Maria.Enabled && c.Maria.Username == "" {
		return fmt.Errorf("maria.username обязателен при maria.enabled")
	}
	if n := c.snapshotBackends(); n > 1 {
		return fmt.Errorf("хранилище снимков: включено %d из redis/mongo/maria, допустимо одно", n)
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url обязателен при nats.enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio вне [0,1]: %g", c.Telemetry.SampleRatio)
	}
	for i, op := range c.Auth.Operators {
		if op.Username == "" || op.PasswordHash == "" {
			return fmt.Errorf("auth.operators[%d]: нужны username и password_hash", i)
		}
	}
	if _, err := c.Logging.LoggingOptions(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", берёт путь из ENV PHYSICS_CONFIG; без него возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("PHYSICS_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
