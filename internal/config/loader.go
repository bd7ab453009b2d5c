package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/bulkorders/internal/db"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. ORDERS_SERVER_PORT.
const EnvPrefix = "ORDERS"

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"`
	URL        string `mapstructure:"url"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	DBName     string `mapstructure:"dbname"`
	SSLMode    string `mapstructure:"sslmode"`
	SQLitePath string `mapstructure:"sqlite_path"`
	MaxConns   int32  `mapstructure:"max_conns"`
	MinConns   int32  `mapstructure:"min_conns"`
	Migrate    bool   `mapstructure:"migrate"`
}

// Postgres converts the settings into a pool configuration.
func (d DatabaseConfig) Postgres() db.Config {
	return db.Config{
		URL:      d.URL,
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		DBName:   d.DBName,
		SSLMode:  d.SSLMode,
		MaxConns: d.MaxConns,
		MinConns: d.MinConns,
	}
}

type IngestionConfig struct {
	MaxRows       int    `mapstructure:"max_rows"`
	MaxFileSize   int64  `mapstructure:"max_file_size"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
	Actor         string `mapstructure:"actor"`
}

type RetentionConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	RowTTL        time.Duration `mapstructure:"row_ttl"`
	EmptyBatchTTL time.Duration `mapstructure:"empty_batch_ttl"`
	Interval      time.Duration `mapstructure:"interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 2*time.Minute)
	v.SetDefault("server.idle_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.dbname", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)
	v.SetDefault("database.sqlite_path", "bulkorders.db")
	v.SetDefault("database.max_conns", dbDefaults.MaxConns)
	v.SetDefault("database.min_conns", dbDefaults.MinConns)
	v.SetDefault("database.migrate", true)

	v.SetDefault("ingestion.max_rows", 500)
	v.SetDefault("ingestion.max_file_size", 10<<20)
	v.SetDefault("ingestion.max_concurrent", 4)
	v.SetDefault("ingestion.actor", "system:bulk-import")

	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.row_ttl", 720*time.Hour)
	v.SetDefault("retention.empty_batch_ttl", 4320*time.Hour)
	v.SetDefault("retention.interval", 24*time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Load reads defaults, then config.yaml from configPath if present, then
// ORDERS_* environment variables, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath == "" {
		configPath = "."
	}
	v.AddConfigPath(configPath)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "server.shutdown_timeout must be positive")
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.MaxConns <= 0 {
			errs = append(errs, "database.max_conns must be positive")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, fmt.Sprintf("database.max_conns (%d) must be >= database.min_conns (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			errs = append(errs, "database.sqlite_path is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be %s or %s", c.Database.Driver, DriverPostgres, DriverSQLite))
	}

	if c.Ingestion.MaxRows <= 0 {
		errs = append(errs, "ingestion.max_rows must be positive")
	}
	if c.Ingestion.MaxFileSize <= 0 {
		errs = append(errs, "ingestion.max_file_size must be positive")
	}
	if c.Ingestion.MaxConcurrent <= 0 {
		errs = append(errs, "ingestion.max_concurrent must be positive")
	}

	if c.Retention.Enabled {
		if c.Retention.Interval <= 0 {
			errs = append(errs, "retention.interval must be positive")
		}
		if c.Retention.RowTTL <= 0 {
			errs = append(errs, "retention.row_ttl must be positive")
		}
		if c.Retention.EmptyBatchTTL <= 0 {
			errs = append(errs, "retention.empty_batch_ttl must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
