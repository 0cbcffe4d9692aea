// Package config provides Viper-based configuration loading for the simulation server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP and websocket listener settings.
type ServerConfig struct {
	// Host is the bind address for the HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP listener.
	Port int `mapstructure:"port"`
	// ReadTimeout bounds reading a request, and a viewer's silence between frames.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-frame write deadline for viewers.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// OutboundQueue is the per-viewer outbound frame capacity.
	OutboundQueue int `mapstructure:"outbound_queue"`
	// AllowedOrigins restricts websocket origins; empty accepts any.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// SimulationConfig holds motion and move-policy settings.
type SimulationConfig struct {
	// TickInterval is the period of the progression tick.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// Speed is the distance an NPC covers per tick, in world units.
	Speed float64 `mapstructure:"speed"`
	// ArrivalEpsilon is the distance at which a waypoint counts as reached.
	ArrivalEpsilon float64 `mapstructure:"arrival_epsilon"`
	// MoveTimeout is the hard ceiling on one move, measured from its start.
	MoveTimeout time.Duration `mapstructure:"move_timeout"`
	// RetryFromFailed lets Blocked and TimedOut NPCs accept new moves.
	RetryFromFailed bool `mapstructure:"retry_from_failed"`
	// SimplifyPaths collapses collinear waypoints.
	SimplifyPaths bool `mapstructure:"simplify_paths"`
}

// ContentConfig locates the static content loaded at startup.
type ContentConfig struct {
	MapFile    string `mapstructure:"map_file"`
	RosterFile string `mapstructure:"roster_file"`
}

// AdminConfig holds administrative access and health settings.
type AdminConfig struct {
	// TokenHash is the bcrypt hash of the admin token; empty disables the check.
	TokenHash string `mapstructure:"token_hash"`
	// HealthHost is the bind address for the gRPC health service.
	HealthHost string `mapstructure:"health_host"`
	// HealthPort is the TCP port for the gRPC health service; 0 disables it.
	HealthPort int `mapstructure:"health_port"`
}

// HealthAddr returns the "host:port" gRPC health address.
func (a AdminConfig) HealthAddr() string {
	return fmt.Sprintf("%s:%d", a.HealthHost, a.HealthPort)
}

// EventsConfig holds the NATS event mirror settings.
type EventsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// URL is the NATS server to publish to. When empty and Embedded is set,
	// an in-process server is started.
	URL          string `mapstructure:"url"`
	Embedded     bool   `mapstructure:"embedded"`
	EmbeddedPort int    `mapstructure:"embedded_port"`
	// Subject is the prefix; each event goes to "<subject>.<npc_id>".
	Subject string `mapstructure:"subject"`
}

// DatabaseConfig holds PostgreSQL connection settings for the move journal.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// JournalBuffer is the number of journal entries held before new ones are dropped.
	JournalBuffer int `mapstructure:"journal_buffer"`
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

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Content    ContentConfig    `mapstructure:"content"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Events     EventsConfig     `mapstructure:"events"`
	Database   DatabaseConfig   `mapstructure:"database"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	for _, err := range []error{
		validateServer(c.Server),
		validateLogging(c.Logging),
		validateSimulation(c.Simulation),
		validateContent(c.Content),
		validateAdmin(c.Admin),
		validateEvents(c.Events),
		validateDatabase(c.Database),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func joinErrs(errs []string) error {
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", s.Port))
	}
	if s.ReadTimeout < 0 {
		errs = append(errs, "server.read_timeout must not be negative")
	}
	if s.WriteTimeout < 0 {
		errs = append(errs, "server.write_timeout must not be negative")
	}
	if s.OutboundQueue < 1 {
		errs = append(errs, fmt.Sprintf("server.outbound_queue must be >= 1, got %d", s.OutboundQueue))
	}
	return joinErrs(errs)
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

func validateSimulation(s SimulationConfig) error {
	var errs []string
	if s.TickInterval <= 0 {
		errs = append(errs, "simulation.tick_interval must be > 0")
	}
	if s.Speed <= 0 {
		errs = append(errs, fmt.Sprintf("simulation.speed must be > 0, got %v", s.Speed))
	}
	if s.ArrivalEpsilon < 0 {
		errs = append(errs, fmt.Sprintf("simulation.arrival_epsilon must be >= 0, got %v", s.ArrivalEpsilon))
	}
	if s.MoveTimeout <= 0 {
		errs = append(errs, "simulation.move_timeout must be > 0")
	}
	return joinErrs(errs)
}

func validateContent(c ContentConfig) error {
	var errs []string
	if c.MapFile == "" {
		errs = append(errs, "content.map_file must not be empty")
	}
	if c.RosterFile == "" {
		errs = append(errs, "content.roster_file must not be empty")
	}
	return joinErrs(errs)
}

func validateAdmin(a AdminConfig) error {
	if a.HealthPort < 0 || a.HealthPort > 65535 {
		return fmt.Errorf("admin.health_port must be 0-65535, got %d", a.HealthPort)
	}
	return nil
}

func validateEvents(e EventsConfig) error {
	if !e.Enabled {
		return nil
	}
	var errs []string
	if e.URL == "" && !e.Embedded {
		errs = append(errs, "events.url must be set unless events.embedded is true")
	}
	if e.Embedded && (e.EmbeddedPort < 1 || e.EmbeddedPort > 65535) {
		errs = append(errs, fmt.Sprintf("events.embedded_port must be 1-65535, got %d", e.EmbeddedPort))
	}
	if e.Subject == "" || strings.ContainsAny(e.Subject, " *>") {
		errs = append(errs, fmt.Sprintf("events.subject must be a literal NATS subject, got %q", e.Subject))
	}
	return joinErrs(errs)
}

func validateDatabase(d DatabaseConfig) error {
	if !d.Enabled {
		return nil
	}
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
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
	if d.JournalBuffer < 1 {
		errs = append(errs, fmt.Sprintf("database.journal_buffer must be >= 1, got %d", d.JournalBuffer))
	}
	return joinErrs(errs)
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromViper(v)
}

// NewViper returns a Viper instance carrying the defaults and the SIMVERSE_
// environment overrides, with no config file attached.
func NewViper() *viper.Viper {
	v := viper.New()

	// Environment variable overrides with SIMVERSE_ prefix
	v.SetEnvPrefix("SIMVERSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.outbound_queue", 256)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("simulation.tick_interval", "50ms")
	v.SetDefault("simulation.speed", 8.0)
	v.SetDefault("simulation.arrival_epsilon", 1.0)
	v.SetDefault("simulation.move_timeout", "30s")
	v.SetDefault("simulation.retry_from_failed", false)
	v.SetDefault("simulation.simplify_paths", true)

	v.SetDefault("content.map_file", "content/maps/farm.yaml")
	v.SetDefault("content.roster_file", "content/npcs/roster.yaml")

	v.SetDefault("admin.health_host", "127.0.0.1")
	v.SetDefault("admin.health_port", 0)

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.embedded", false)
	v.SetDefault("events.embedded_port", 4222)
	v.SetDefault("events.subject", "simverse.events")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "simverse")
	v.SetDefault("database.password", "simverse")
	v.SetDefault("database.name", "simverse")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.journal_buffer", 1024)
}
