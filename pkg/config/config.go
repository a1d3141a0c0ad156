// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Search, Backend, Indexes, Federation, Cache, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Search     SearchConfig     `yaml:"search"`
	Fields     FieldsConfig     `yaml:"fields"`
	Backend    BackendConfig    `yaml:"backend"`
	Indexes    []IndexConfig    `yaml:"indexes"`
	Federation FederationConfig `yaml:"federation"`
	Cache      CacheConfig      `yaml:"cache"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Auth       AuthConfig       `yaml:"auth"`
}

// ServerConfig holds HTTP and rpc server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	RPCPort         int           `yaml:"rpcPort"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	RateLimit       int           `yaml:"rateLimit"` // per client IP per minute, zero disables
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// SQLiteConfig points at the embedded SQLite database used by sql searchers
// configured with the sqlite driver.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	CacheInvalidate string `yaml:"cacheInvalidate"`
	QueryEvents     string `yaml:"queryEvents"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// SearchConfig controls query execution limits and timeouts.
type SearchConfig struct {
	DefaultMaxResults     int           `yaml:"defaultMaxResults"`
	MaxResults            int           `yaml:"maxResults"`
	TimeoutPerSearcher    time.Duration `yaml:"timeoutPerSearcher"`
	MaxConcurrentSearches int           `yaml:"maxConcurrentSearches"`
}

// FieldsConfig locates the field registry resource.
type FieldsConfig struct {
	Path string `yaml:"path"`
}

// BackendConfig controls rendering of conditions into backend query syntax
// and the HTTP full-text backend connection.
type BackendConfig struct {
	Mode          string        `yaml:"mode"`
	JoinedIndexes []string      `yaml:"joinedIndexes"`
	JoinTemplate  string        `yaml:"joinTemplate"`
	KeyField      string        `yaml:"keyField"`
	UnlimitedRows int           `yaml:"unlimitedRows"`
	BaseURL       string        `yaml:"baseUrl"`
	Timeout       time.Duration `yaml:"timeout"`
}

// IndexConfig binds an index id to the searcher that serves it.
type IndexConfig struct {
	ID   string          `yaml:"id"`
	Kind string          `yaml:"kind"`
	SQL  SQLIndexConfig  `yaml:"sql"`
	HTTP HTTPIndexConfig `yaml:"http"`
	Seed string          `yaml:"seed"`
}

// SQLIndexConfig describes a table-backed index.
type SQLIndexConfig struct {
	Driver    string `yaml:"driver"`
	Table     string `yaml:"table"`
	KeyColumn string `yaml:"keyColumn"`
}

// HTTPIndexConfig overrides the backend connection for one index.
type HTTPIndexConfig struct {
	BaseURL string `yaml:"baseUrl"`
	Core    string `yaml:"core"`
}

// FederationConfig lists remote hosts and per-host fault tolerance.
type FederationConfig struct {
	Hosts            map[string]string `yaml:"hosts"`
	Timeout          time.Duration     `yaml:"timeout"`
	RetryAttempts    int               `yaml:"retryAttempts"`
	FailureThreshold int               `yaml:"failureThreshold"`
	ResetTimeout     time.Duration     `yaml:"resetTimeout"`
}

// CacheConfig controls the two-level result cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	LRUSize int           `yaml:"lruSize"`
	TTL     time.Duration `yaml:"ttl"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sampleRate"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// AuthConfig guards administrative endpoints with API keys kept in the
// named SQL database.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that YAML decoding cannot express.
func (c *Config) Validate() error {
	switch c.Backend.Mode {
	case "explicit", "default":
	default:
		return fmt.Errorf("backend.mode must be explicit or default, got %q", c.Backend.Mode)
	}
	seen := make(map[string]struct{}, len(c.Indexes))
	for _, idx := range c.Indexes {
		if idx.ID == "" {
			return fmt.Errorf("index without id")
		}
		if _, dup := seen[idx.ID]; dup {
			return fmt.Errorf("index %q configured twice", idx.ID)
		}
		seen[idx.ID] = struct{}{}
		switch idx.Kind {
		case "memory", "http":
		case "sql":
			if idx.SQL.Table == "" {
				return fmt.Errorf("index %q: sql.table is required", idx.ID)
			}
			if idx.SQL.Driver != "postgres" && idx.SQL.Driver != "sqlite" {
				return fmt.Errorf("index %q: sql.driver must be postgres or sqlite", idx.ID)
			}
		default:
			return fmt.Errorf("index %q: unknown kind %q", idx.ID, idx.Kind)
		}
	}
	if c.Auth.Enabled && c.Auth.Driver != "postgres" && c.Auth.Driver != "sqlite" {
		return fmt.Errorf("auth.driver must be postgres or sqlite")
	}
	if c.Search.MaxResults > 0 && c.Search.DefaultMaxResults > c.Search.MaxResults {
		return fmt.Errorf("search.defaultMaxResults exceeds search.maxResults")
	}
	return nil
}

// defaultConfig returns a Config with defaults suitable for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			RPCPort:         9400,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  20 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "federatedquery",
			User:            "federatedquery",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		SQLite: SQLiteConfig{
			Path:         "data/indexes.db",
			MaxOpenConns: 1,
		},
		Kafka: KafkaConfig{
			Enabled:       true,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "federatedquery-group",
			Topics: KafkaTopics{
				CacheInvalidate: "cache-invalidate",
				QueryEvents:     "query-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Search: SearchConfig{
			DefaultMaxResults:     100,
			MaxResults:            10000,
			TimeoutPerSearcher:    10 * time.Second,
			MaxConcurrentSearches: 8,
		},
		Fields: FieldsConfig{
			Path: "configs/fields.yaml",
		},
		Backend: BackendConfig{
			Mode:          "default",
			JoinTemplate:  "{!join from=%s to=%s fromIndex=%s}",
			KeyField:      "id",
			UnlimitedRows: 1000000,
			BaseURL:       "http://localhost:8983/solr",
			Timeout:       10 * time.Second,
		},
		Federation: FederationConfig{
			Timeout:          5 * time.Second,
			RetryAttempts:    2,
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			LRUSize: 512,
			TTL:     60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Auth: AuthConfig{
			Driver: "sqlite",
		},
	}
}

// applyEnvOverrides reads FQ_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FQ_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FQ_SERVER_RPC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.RPCPort = port
		}
	}
	if v := os.Getenv("FQ_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("FQ_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("FQ_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("FQ_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("FQ_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("FQ_SQLITE_PATH"); v != "" {
		cfg.SQLite.Path = v
	}
	if v := os.Getenv("FQ_KAFKA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = b
		}
	}
	if v := os.Getenv("FQ_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("FQ_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FQ_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FQ_FIELDS_PATH"); v != "" {
		cfg.Fields.Path = v
	}
	if v := os.Getenv("FQ_BACKEND_MODE"); v != "" {
		cfg.Backend.Mode = v
	}
	if v := os.Getenv("FQ_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("FQ_CACHE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Cache.Enabled = enabled
		}
	}
	if v := os.Getenv("FQ_AUTH_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.Enabled = enabled
		}
	}
	if v := os.Getenv("FQ_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FQ_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
