package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/akave-ai/clockwork/internal/policy"
)

// EnvPrefix is stripped from environment variables; "__" separates nested
// keys, e.g. CLOCKWORK_STORAGE__DRIVER=sqlite.
const EnvPrefix = "CLOCKWORK_"

type Config struct {
	Primary       Primary              `koanf:"primary" validate:"required"`
	Server        ServerConfig         `koanf:"server" validate:"required"`
	Clockwork     ClockworkConfig      `koanf:"clockwork" validate:"required"`
	Storage       StorageConfig        `koanf:"storage" validate:"required"`
	Database      DatabaseConfig       `koanf:"database"`
	Auth          AuthConfig           `koanf:"auth"`
	NewRelic      NewRelicConfig       `koanf:"newrelic"`
	Observability *ObservabilityConfig `koanf:"observability"`
}

type Primary struct {
	Env string `koanf:"env" validate:"required,oneof=development test staging production"`
}

type ServerConfig struct {
	Port               string   `koanf:"port" validate:"required"`
	ReadTimeout        int      `koanf:"read_timeout" validate:"required,min=1"`
	WriteTimeout       int      `koanf:"write_timeout" validate:"required,min=1"`
	IdleTimeout        int      `koanf:"idle_timeout" validate:"required,min=1"`
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

type ClockworkConfig struct {
	Enable        bool                `koanf:"enable"`
	APIPath       string              `koanf:"api_path" validate:"required,startswith=/"`
	SlowThreshold float64             `koanf:"slow_threshold" validate:"min=0"`
	DataSources   []string            `koanf:"data_sources"`
	ServerTiming  int                 `koanf:"server_timing" validate:"min=0"`
	Collect       policy.CollectRules `koanf:"collect"`
	Record        policy.RecordRules  `koanf:"record"`
}

type StorageConfig struct {
	Driver     string       `koanf:"driver" validate:"required,oneof=files sqlite sql s3"`
	Format     string       `koanf:"format" validate:"oneof=json cbor"`
	Compress   bool         `koanf:"compress"`
	Expiration int          `koanf:"expiration" validate:"min=0"`
	Files      FilesConfig  `koanf:"files"`
	SQLite     SQLiteConfig `koanf:"sqlite"`
	S3         S3Config     `koanf:"s3"`
}

type FilesConfig struct {
	Path string `koanf:"path"`
}

type SQLiteConfig struct {
	Path     string `koanf:"path"`
	PoolSize int    `koanf:"pool_size" validate:"min=0"`
}

type S3Config struct {
	Endpoint  string `koanf:"endpoint"`
	Region    string `koanf:"region"`
	Bucket    string `koanf:"bucket"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Prefix    string `koanf:"prefix"`
}

type DatabaseConfig struct {
	Host            string `koanf:"host"`
	Port            int    `koanf:"port"`
	User            string `koanf:"user"`
	Password        string `koanf:"password"`
	Name            string `koanf:"name"`
	SSLMode         string `koanf:"ssl_mode"`
	MaxOpenConns    int    `koanf:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int    `koanf:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime int    `koanf:"conn_max_lifetime" validate:"min=0"`
	ConnMaxIdleTime int    `koanf:"conn_max_idle_time" validate:"min=0"`
	LogLevel        string `koanf:"log_level"`
}

type AuthConfig struct {
	Enable       bool   `koanf:"enable"`
	PasswordHash string `koanf:"password_hash"`
	SigningKey   string `koanf:"signing_key"`
	TokenTTL     int    `koanf:"token_ttl" validate:"min=0"`
}

type NewRelicConfig struct {
	Enable     bool   `koanf:"enable"`
	AppName    string `koanf:"app_name"`
	LicenseKey string `koanf:"license_key"`
}

// Default returns the configuration used for every key the environment
// does not set.
func Default() *Config {
	return &Config{
		Primary: Primary{Env: "development"},
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  60,
		},
		Clockwork: ClockworkConfig{
			Enable:        true,
			APIPath:       "/__clockwork",
			SlowThreshold: 0,
			DataSources:   []string{"runtime"},
			ServerTiming:  10,
		},
		Storage: StorageConfig{
			Driver:     "files",
			Format:     "json",
			Expiration: 7 * 24 * 60,
			Files:      FilesConfig{Path: "storage/clockwork"},
			SQLite:     SQLiteConfig{Path: "storage/clockwork.sqlite", PoolSize: 4},
			S3:         S3Config{Region: "us-east-1", Prefix: "clockwork"},
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 3600,
			ConnMaxIdleTime: 300,
			LogLevel:        "warn",
		},
		Auth: AuthConfig{TokenTTL: 60},
	}
}

// LoadConfig reads an optional .env file, then CLOCKWORK_* environment
// variables on top of Default, and validates the result. An empty envFile
// loads ./.env when it exists.
func LoadConfig(envFile string) (*Config, error) {
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}

	k := koanf.New(".")
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("could not load env variables: %w", err)
	}

	mainConfig := Default()
	if err := k.Unmarshal("", mainConfig); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}

	// in config struct Observability is a pointer so a missing section can be detected
	if mainConfig.Observability == nil {
		mainConfig.Observability = DefaultObservabilityConfig()
	}
	mainConfig.Observability.ServiceName = "clockwork"
	mainConfig.Observability.Environment = mainConfig.Primary.Env

	if err := mainConfig.Validate(); err != nil {
		return nil, err
	}
	return mainConfig, nil
}

func loadDotEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("could not load %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("could not load .env: %w", err)
	}
	return nil
}

// Validate checks struct tags and the cross-field requirements of the
// selected storage driver and authenticator.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Storage.Driver {
	case "files":
		if c.Storage.Files.Path == "" {
			return errors.New("invalid config: storage.files.path is required")
		}
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return errors.New("invalid config: storage.sqlite.path is required")
		}
	case "sql":
		if c.Database.Host == "" || c.Database.Name == "" || c.Database.User == "" {
			return errors.New("invalid config: database host, name and user are required for sql storage")
		}
	case "s3":
		if c.Storage.S3.Endpoint == "" || c.Storage.S3.Bucket == "" {
			return errors.New("invalid config: storage.s3.endpoint and bucket are required")
		}
	}

	if c.Auth.Enable && (c.Auth.PasswordHash == "" || c.Auth.SigningKey == "") {
		return errors.New("invalid config: auth.password_hash and auth.signing_key are required when auth is enabled")
	}
	if c.NewRelic.Enable && c.NewRelic.LicenseKey == "" {
		return errors.New("invalid config: newrelic.license_key is required when newrelic is enabled")
	}
	if c.Observability != nil {
		return c.Observability.Validate()
	}
	return nil
}
