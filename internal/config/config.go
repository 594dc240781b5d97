// Package config provides Viper-based configuration loading for the duel server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Engine kinds accepted by EngineConfig.Kind.
const (
	EngineChess  = "chess"
	EngineScript = "script"
)

// ServerConfig holds the HTTP/websocket listener settings.
type ServerConfig struct {
	// Host is the bind address for the HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP listener. The PORT environment
	// variable overrides it.
	Port int `mapstructure:"port"`
	// ShutdownTimeout bounds graceful shutdown of in-flight requests.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GatewayConfig holds per-connection websocket settings.
type GatewayConfig struct {
	// ReadTimeout is how long a connection may stay silent (no frame and no
	// pong) before it is dropped.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-frame write deadline.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PingInterval is the heartbeat period. It must be shorter than ReadTimeout.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// SendBuffer is the number of outbound frames queued per connection
	// before the connection is considered stalled and closed.
	SendBuffer int `mapstructure:"send_buffer"`
	// MaxMessageBytes caps inbound frame size.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes"`
	// AllowedOrigins lists accepted Origin headers; "*" or empty accepts all.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// HealthConfig holds gRPC health service settings.
type HealthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	GRPCHost string `mapstructure:"grpc_host"`
	GRPCPort int    `mapstructure:"grpc_port"`
}

// Addr returns the "host:port" gRPC address.
func (h HealthConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.GRPCHost, h.GRPCPort)
}

// EngineConfig selects the rules every room plays.
type EngineConfig struct {
	// Kind is "chess" or "script".
	Kind string `mapstructure:"kind"`
	// ScriptDir holds YAML game definitions for the script engine.
	ScriptDir string `mapstructure:"script_dir"`
	// Game is the definition id to load when Kind is "script".
	Game string `mapstructure:"game"`
	// InstructionLimit overrides a definition's Lua instruction budget when > 0.
	InstructionLimit int `mapstructure:"instruction_limit"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// ArchiveConfig controls persistence of concluded games.
type ArchiveConfig struct {
	// Enabled turns on the archive; the database section is only validated
	// and used when it is set.
	Enabled bool `mapstructure:"enabled"`
	// Buffer is the number of records queued before new ones are dropped.
	Buffer int `mapstructure:"buffer"`
	// WriteTimeout bounds a single insert.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Health   HealthConfig   `mapstructure:"health"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Database DatabaseConfig `mapstructure:"database"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateGateway(c.Gateway); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Health.Enabled {
		if err := validateHealth(c.Health); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := validateEngine(c.Engine); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Archive.Enabled {
		if err := validateArchive(c.Archive); err != nil {
			errs = append(errs, err.Error())
		}
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be 1-65535, got %d", name, port)
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if err := validatePort("server.port", s.Port); err != nil {
		errs = append(errs, err.Error())
	}
	if s.ShutdownTimeout <= 0 {
		errs = append(errs, "server.shutdown_timeout must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateGateway(g GatewayConfig) error {
	var errs []string
	if g.ReadTimeout <= 0 {
		errs = append(errs, "gateway.read_timeout must be positive")
	}
	if g.WriteTimeout <= 0 {
		errs = append(errs, "gateway.write_timeout must be positive")
	}
	if g.PingInterval <= 0 {
		errs = append(errs, "gateway.ping_interval must be positive")
	} else if g.PingInterval >= g.ReadTimeout {
		errs = append(errs, "gateway.ping_interval must be shorter than gateway.read_timeout")
	}
	if g.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("gateway.send_buffer must be >= 1, got %d", g.SendBuffer))
	}
	if g.MaxMessageBytes < 1 {
		errs = append(errs, fmt.Sprintf("gateway.max_message_bytes must be >= 1, got %d", g.MaxMessageBytes))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateHealth(h HealthConfig) error {
	var errs []string
	if h.GRPCHost == "" {
		errs = append(errs, "health.grpc_host must not be empty")
	}
	if err := validatePort("health.grpc_port", h.GRPCPort); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateEngine(e EngineConfig) error {
	switch e.Kind {
	case EngineChess:
	case EngineScript:
		var errs []string
		if e.ScriptDir == "" {
			errs = append(errs, "engine.script_dir must not be empty for the script engine")
		}
		if e.Game == "" {
			errs = append(errs, "engine.game must not be empty for the script engine")
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
	default:
		return fmt.Errorf("engine.kind must be one of [chess, script], got %q", e.Kind)
	}
	if e.InstructionLimit < 0 {
		return fmt.Errorf("engine.instruction_limit must be >= 0, got %d", e.InstructionLimit)
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if err := validatePort("database.port", d.Port); err != nil {
		errs = append(errs, err.Error())
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateArchive(a ArchiveConfig) error {
	var errs []string
	if a.Buffer < 1 {
		errs = append(errs, fmt.Sprintf("archive.buffer must be >= 1, got %d", a.Buffer))
	}
	if a.WriteTimeout <= 0 {
		errs = append(errs, "archive.write_timeout must be positive")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path skips the file and uses
// defaults plus environment.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	return LoadFromViper(v)
}

// New returns a Viper instance with defaults and environment bindings
// applied but no config file read.
//
// Postcondition: DUEL_-prefixed variables override any key ("." becomes
// "_"), and the bare PORT variable overrides server.port.
func New() *viper.Viper {
	v := viper.New()

	// Environment variable overrides with DUEL_ prefix
	v.SetEnvPrefix("DUEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// BindEnv with explicit names bypasses the prefix.
	_ = v.BindEnv("server.port", "DUEL_SERVER_PORT", "PORT")

	setDefaults(v)
	return v
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("gateway.read_timeout", "60s")
	v.SetDefault("gateway.write_timeout", "10s")
	v.SetDefault("gateway.ping_interval", "25s")
	v.SetDefault("gateway.send_buffer", 64)
	v.SetDefault("gateway.max_message_bytes", 4096)
	v.SetDefault("gateway.allowed_origins", []string{"*"})

	v.SetDefault("health.enabled", true)
	v.SetDefault("health.grpc_host", "0.0.0.0")
	v.SetDefault("health.grpc_port", 50051)

	v.SetDefault("engine.kind", EngineChess)
	v.SetDefault("engine.script_dir", "content/games")
	v.SetDefault("engine.game", "tictactoe")
	v.SetDefault("engine.instruction_limit", 0)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "duel")
	v.SetDefault("database.password", "duel")
	v.SetDefault("database.name", "duel")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.buffer", 256)
	v.SetDefault("archive.write_timeout", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
