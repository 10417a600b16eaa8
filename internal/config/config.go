// Package config provides Viper-based configuration loading for the relay server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// BindHost is the fixed listen address: the relay always binds all interfaces.
const BindHost = "0.0.0.0"

// DefaultPort is used when neither the config file nor PORT / RELAY_SERVER_PORT set one.
const DefaultPort = 8080

// ServerConfig holds listener settings.
type ServerConfig struct {
	// Port is the TCP port for the HTTP/websocket listener.
	Port int `mapstructure:"port"`
	// ReadHeaderTimeout bounds how long the HTTP server waits for request headers.
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	// ShutdownTimeout bounds graceful shutdown of the HTTP server.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", BindHost, s.Port)
}

// SessionConfig holds per-connection transport settings.
type SessionConfig struct {
	// OutboundQueue is the capacity of each connection's ordered delivery queue.
	OutboundQueue int `mapstructure:"outbound_queue"`
	// WriteWait is the deadline applied to every frame write.
	WriteWait time.Duration `mapstructure:"write_wait"`
	// PongWait is the read deadline; it is extended on every pong or inbound frame.
	PongWait time.Duration `mapstructure:"pong_wait"`
	// PingPeriod is the interval between server pings. Must be less than PongWait.
	PingPeriod time.Duration `mapstructure:"ping_period"`
	// MaxMessageBytes limits the size of a single inbound frame.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes"`
}

// RoomsConfig holds room registry settings.
type RoomsConfig struct {
	LobbyID       string `mapstructure:"lobby_id"`
	LobbyCapacity int    `mapstructure:"lobby_capacity"`
	ChatCapacity  int    `mapstructure:"chat_capacity"`
	GameCapacity  int    `mapstructure:"game_capacity"`
	MaxCapacity   int    `mapstructure:"max_capacity"`
	// EmptyRoomGrace is how long a created-but-never-joined room may stay empty.
	EmptyRoomGrace time.Duration `mapstructure:"empty_room_grace"`
	// ReapInterval is how often the reaper scans for abandoned rooms.
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

// StaticIdentity is a development profile served for a fixed token.
type StaticIdentity struct {
	ID       string `mapstructure:"id"`
	Username string `mapstructure:"username"`
	Email    string `mapstructure:"email"`
}

// IdentityConfig holds identity provider settings.
type IdentityConfig struct {
	// Endpoint is the profile URL queried with the client's bearer token.
	Endpoint string `mapstructure:"endpoint"`
	// Timeout bounds a single lookup.
	Timeout time.Duration `mapstructure:"timeout"`
	// StaticTokens, when non-empty, replaces the HTTP provider.
	StaticTokens map[string]StaticIdentity `mapstructure:"static_tokens"`
}

// GamesConfig holds game kind settings.
type GamesConfig struct {
	// Catalogue is an optional YAML file describing additional game kinds.
	Catalogue string `mapstructure:"catalogue"`
	// DefaultKind is used when create_room names no game_type.
	DefaultKind string `mapstructure:"default_kind"`
	// InstructionLimit caps Lua opcodes per scripted game action.
	InstructionLimit int `mapstructure:"instruction_limit"`
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
	Session  SessionConfig  `mapstructure:"session"`
	Rooms    RoomsConfig    `mapstructure:"rooms"`
	Identity IdentityConfig `mapstructure:"identity"`
	Games    GamesConfig    `mapstructure:"games"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	for _, fn := range []func() error{
		func() error { return validateServer(c.Server) },
		func() error { return validateSession(c.Session) },
		func() error { return validateRooms(c.Rooms) },
		func() error { return validateIdentity(c.Identity) },
		func() error { return validateGames(c.Games) },
		func() error { return validateLogging(c.Logging) },
	} {
		if err := fn(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", s.Port))
	}
	if s.ReadHeaderTimeout < 0 {
		errs = append(errs, "server.read_header_timeout must not be negative")
	}
	if s.ShutdownTimeout < 0 {
		errs = append(errs, "server.shutdown_timeout must not be negative")
	}
	return joinErrs(errs)
}

func validateSession(s SessionConfig) error {
	var errs []string
	if s.OutboundQueue < 1 {
		errs = append(errs, fmt.Sprintf("session.outbound_queue must be >= 1, got %d", s.OutboundQueue))
	}
	if s.WriteWait <= 0 {
		errs = append(errs, "session.write_wait must be positive")
	}
	if s.PongWait <= 0 {
		errs = append(errs, "session.pong_wait must be positive")
	}
	if s.PingPeriod <= 0 || s.PingPeriod >= s.PongWait {
		errs = append(errs, fmt.Sprintf("session.ping_period must be positive and less than session.pong_wait (%s), got %s", s.PongWait, s.PingPeriod))
	}
	if s.MaxMessageBytes < 1 {
		errs = append(errs, fmt.Sprintf("session.max_message_bytes must be >= 1, got %d", s.MaxMessageBytes))
	}
	return joinErrs(errs)
}

func validateRooms(r RoomsConfig) error {
	var errs []string
	if r.LobbyID == "" {
		errs = append(errs, "rooms.lobby_id must not be empty")
	}
	if r.MaxCapacity < 1 {
		errs = append(errs, fmt.Sprintf("rooms.max_capacity must be >= 1, got %d", r.MaxCapacity))
	}
	for name, v := range map[string]int{
		"rooms.lobby_capacity": r.LobbyCapacity,
		"rooms.chat_capacity":  r.ChatCapacity,
		"rooms.game_capacity":  r.GameCapacity,
	} {
		if v < 1 || v > r.MaxCapacity {
			errs = append(errs, fmt.Sprintf("%s must be 1-%d, got %d", name, r.MaxCapacity, v))
		}
	}
	if r.EmptyRoomGrace < 0 {
		errs = append(errs, "rooms.empty_room_grace must not be negative")
	}
	if r.ReapInterval <= 0 {
		errs = append(errs, "rooms.reap_interval must be positive")
	}
	return joinErrs(errs)
}

func validateIdentity(i IdentityConfig) error {
	if len(i.StaticTokens) > 0 {
		for token, id := range i.StaticTokens {
			if id.ID == "" {
				return fmt.Errorf("identity.static_tokens[%s].id must not be empty", token)
			}
		}
		return nil
	}
	var errs []string
	if i.Endpoint == "" {
		errs = append(errs, "identity.endpoint must not be empty")
	}
	if i.Timeout <= 0 {
		errs = append(errs, "identity.timeout must be positive")
	}
	return joinErrs(errs)
}

func validateGames(g GamesConfig) error {
	if g.DefaultKind == "" {
		return errors.New("games.default_kind must not be empty")
	}
	if g.InstructionLimit < 0 {
		return fmt.Errorf("games.instruction_limit must be >= 0, got %d", g.InstructionLimit)
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

func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, "; "))
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path loads defaults and
// environment only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// NewViper returns a Viper instance with defaults and environment bindings applied.
//
// Environment overrides use the RELAY_ prefix ("rooms.lobby_id" → RELAY_ROOMS_LOBBY_ID).
// The listen port is additionally bound to the bare PORT variable.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("server.port", "RELAY_SERVER_PORT", "PORT")
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
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("session.outbound_queue", 256)
	v.SetDefault("session.write_wait", "10s")
	v.SetDefault("session.pong_wait", "60s")
	v.SetDefault("session.ping_period", "54s")
	v.SetDefault("session.max_message_bytes", 64*1024)

	v.SetDefault("rooms.lobby_id", "lobby")
	v.SetDefault("rooms.lobby_capacity", 100)
	v.SetDefault("rooms.chat_capacity", 50)
	v.SetDefault("rooms.game_capacity", 4)
	v.SetDefault("rooms.max_capacity", 1000)
	v.SetDefault("rooms.empty_room_grace", "1m")
	v.SetDefault("rooms.reap_interval", "30s")

	v.SetDefault("identity.endpoint", "https://api.yumana.my.id/me")
	v.SetDefault("identity.timeout", "5s")

	v.SetDefault("games.catalogue", "")
	v.SetDefault("games.default_kind", "card_game")
	v.SetDefault("games.instruction_limit", 100_000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
