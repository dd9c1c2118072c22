// Package config loads objgraph.yaml with environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conduit-lang/objgraph/internal/auth"
)

// EnvPrefix prefixes environment overrides, e.g. OBJGRAPH_SERVER_PORT
const EnvPrefix = "OBJGRAPH"

// DriverMemory keeps every entity in process
const DriverMemory = "memory"

// Config represents the objgraph configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Serialization SerializationConfig `mapstructure:"serialization"`
	Schema        SchemaConfig        `mapstructure:"schema"`
	Log           LogConfig           `mapstructure:"log"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	APIPrefix       string        `mapstructure:"api_prefix"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// Address returns host:port
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects the store
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

// AuthConfig configures credentials and policies
type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	Users      []auth.User   `mapstructure:"users"`
	PolicyFile string        `mapstructure:"policy_file"`
}

// RedisConfig enables the commit publisher when Addr is set
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// SerializationConfig tunes response encoding
type SerializationConfig struct {
	Parallelism int `mapstructure:"parallelism"`
}

// SchemaConfig points at a YAML schema. Empty serves the diary model.
type SchemaConfig struct {
	File string `mapstructure:"file"`
}

// LogConfig configures zap
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

var knownDrivers = []string{DriverMemory, "pgx", "postgres", "sqlite3"}

// Load reads the config file at path, or objgraph.yaml from the working
// directory when path is empty. Only a missing default file is tolerated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("objgraph")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.api_prefix", "")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.max_body_bytes", 8<<20)
	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.url", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.policy_file", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "objgraph:commits")
	v.SetDefault("serialization.parallelism", 4)
	v.SetDefault("schema.file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Server.APIPrefix != "" {
		if !strings.HasPrefix(cfg.Server.APIPrefix, "/") {
			return fmt.Errorf("server.api_prefix must start with '/', got: %s", cfg.Server.APIPrefix)
		}
		if strings.HasSuffix(cfg.Server.APIPrefix, "/") {
			return fmt.Errorf("server.api_prefix must not end with '/', got: %s", cfg.Server.APIPrefix)
		}
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}

	known := false
	for _, d := range knownDrivers {
		known = known || d == cfg.Database.Driver
	}
	if !known {
		return fmt.Errorf("database.driver must be one of %s, got: %s", strings.Join(knownDrivers, ", "), cfg.Database.Driver)
	}
	if cfg.Database.Driver != DriverMemory && cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required for driver %s", cfg.Database.Driver)
	}

	if cfg.Serialization.Parallelism < 1 {
		return fmt.Errorf("serialization.parallelism must be positive, got: %d", cfg.Serialization.Parallelism)
	}
	if cfg.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive, got: %s", cfg.Auth.TokenTTL)
	}
	for i, u := range cfg.Auth.Users {
		if u.Name == "" || u.PasswordHash == "" {
			return fmt.Errorf("auth.users[%d] needs name and password_hash", i)
		}
	}
	return nil
}
