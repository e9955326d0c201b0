// Package config loads tracksync configuration from the environment and an
// optional YAML file, and maps it onto the component configs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/tracksync/go/internal/sync/engine"
	"github.com/mcdev12/tracksync/go/internal/sync/roomstore"
	"github.com/mcdev12/tracksync/go/internal/sync/transport/natstransport"
	"github.com/mcdev12/tracksync/go/internal/sync/transport/wstransport"
	"github.com/mcdev12/tracksync/go/internal/tracker/classify"
	"github.com/mcdev12/tracksync/go/internal/tracker/normalize"
	"github.com/mcdev12/tracksync/go/internal/viewer"
)

// Transport kinds
const (
	TransportWebSocket = "websocket"
	TransportNATS      = "nats"
	TransportMemory    = "memory"
)

// Store kinds
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config is the full process configuration
type Config struct {
	ConfigFile       string `env:"TRACKSYNC_CONFIG" yaml:"-"`
	LogLevel         string `env:"TRACKSYNC_LOG_LEVEL" envDefault:"info" yaml:"log_level"`
	MetricsNamespace string `env:"TRACKSYNC_METRICS_NAMESPACE" envDefault:"tracksync" yaml:"metrics_namespace"`

	Room      RoomConfig      `yaml:"room"`
	Transport TransportConfig `yaml:"transport"`
	Store     StoreConfig     `yaml:"store"`
	Viewer    ViewerConfig    `yaml:"viewer"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Display   DisplayConfig   `yaml:"display"`
}

// RoomConfig names the room to join at startup
type RoomConfig struct {
	// Fragment is a shareable "#v1:<roomId>" link fragment
	Fragment string `env:"TRACKSYNC_ROOM_FRAGMENT" yaml:"fragment"`
	ID       string `env:"TRACKSYNC_ROOM_ID" yaml:"id"`
}

// TransportConfig selects and configures the host transport
type TransportConfig struct {
	Kind            string        `env:"TRACKSYNC_TRANSPORT" envDefault:"websocket" yaml:"kind"`
	RelayURL        string        `env:"TRACKSYNC_RELAY_URL" envDefault:"ws://localhost:9000/relay" yaml:"relay_url"`
	HeartbeatPeriod time.Duration `env:"TRACKSYNC_RELAY_HEARTBEAT" envDefault:"5s" yaml:"heartbeat_period"`
	NATSURL         string        `env:"TRACKSYNC_NATS_URL" envDefault:"nats://127.0.0.1:4222" yaml:"nats_url"`
	NATSStream      string        `env:"TRACKSYNC_NATS_STREAM" envDefault:"TRACKER_STATE" yaml:"nats_stream"`
	NATSPrefix      string        `env:"TRACKSYNC_NATS_SUBJECT_PREFIX" envDefault:"tracker.rooms" yaml:"nats_subject_prefix"`
}

// StoreConfig selects where the last room id is kept
type StoreConfig struct {
	Kind string `env:"TRACKSYNC_STORE" envDefault:"file" yaml:"kind"`
	// Path defaults to tracksync.yaml or tracksync.db depending on Kind
	Path string `env:"TRACKSYNC_STORE_PATH" yaml:"path"`
}

// ViewerConfig configures the local viewer server
type ViewerConfig struct {
	Addr           string   `env:"TRACKSYNC_VIEWER_ADDR" envDefault:":8090" yaml:"addr"`
	AllowedOrigins []string `env:"TRACKSYNC_VIEWER_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*" yaml:"allowed_origins"`
}

// ReconnectConfig configures the reconnection policy
type ReconnectConfig struct {
	Strategy   string        `env:"TRACKSYNC_RECONNECT_STRATEGY" envDefault:"backoff" yaml:"strategy"`
	MaxRetries int           `env:"TRACKSYNC_MAX_RETRIES" envDefault:"5" yaml:"max_retries"`
	BaseDelay  time.Duration `env:"TRACKSYNC_RETRY_BASE_DELAY" envDefault:"3s" yaml:"base_delay"`
	Timeout    time.Duration `env:"TRACKSYNC_RECONNECT_TIMEOUT" envDefault:"10s" yaml:"timeout"`
}

// DisplayConfig configures how host state is normalized for display
type DisplayConfig struct {
	Order        string `env:"TRACKSYNC_ORDER_POLICY" envDefault:"host" yaml:"order"`
	HealthyBadge bool   `env:"TRACKSYNC_HEALTHY_BADGE" envDefault:"false" yaml:"healthy_badge"`
	IconPrefix   string `env:"TRACKSYNC_ICON_PREFIX" envDefault:"fa-" yaml:"icon_prefix"`
}

// LoadDotEnv loads a .env file into the process environment if one exists
func LoadDotEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load reads the environment, then overlays the YAML file named by
// TRACKSYNC_CONFIG when set. Keys present in the file win over the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if cfg.ConfigFile != "" {
		if err := overlayFile(&cfg, cfg.ConfigFile); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Validate checks cross-field constraints
func (c Config) Validate() error {
	switch c.Transport.Kind {
	case TransportWebSocket, TransportNATS, TransportMemory:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport.Kind)
	}
	switch c.Store.Kind {
	case StoreFile, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store.Kind)
	}
	if c.Reconnect.MaxRetries < 1 || c.Reconnect.MaxRetries > engine.MaxRetryLimit {
		return fmt.Errorf("max retries must be between 1 and %d, got %d", engine.MaxRetryLimit, c.Reconnect.MaxRetries)
	}
	if c.Reconnect.BaseDelay <= 0 || c.Reconnect.Timeout <= 0 {
		return errors.New("reconnect delays must be positive")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, err := c.EngineConfig(); err != nil {
		return err
	}
	return nil
}

// Level returns the configured zerolog level
func (c Config) Level() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	if level == zerolog.NoLevel {
		return zerolog.InfoLevel, nil
	}
	return level, nil
}

// StartupFragment returns the fragment to resume from. An explicit fragment
// wins; a bare room id is turned into one.
func (c Config) StartupFragment() string {
	if c.Room.Fragment != "" {
		return c.Room.Fragment
	}
	if id := strings.TrimSpace(c.Room.ID); id != "" {
		return roomstore.FormatFragment(id)
	}
	return ""
}

// StorePath returns the store location, filling in the per-kind default
func (c Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	switch c.Store.Kind {
	case StoreSQLite:
		return "tracksync.db"
	default:
		return "tracksync.yaml"
	}
}

// EngineConfig maps the reconnect and display settings onto engine.Config
func (c Config) EngineConfig() (engine.Config, error) {
	strategy, err := engine.ParseReconnectStrategy(c.Reconnect.Strategy)
	if err != nil {
		return engine.Config{}, err
	}
	order, err := normalize.ParseOrderPolicy(c.Display.Order)
	if err != nil {
		return engine.Config{}, err
	}

	cfg := engine.DefaultConfig()
	cfg.Reconnect = engine.ReconnectConfig{
		Strategy:   strategy,
		MaxRetries: c.Reconnect.MaxRetries,
		BaseDelay:  c.Reconnect.BaseDelay,
		Timeout:    c.Reconnect.Timeout,
	}
	cfg.Normalize = normalize.Config{
		Order: order,
		Classify: classify.Config{
			HealthyBadge: c.Display.HealthyBadge,
			IconPrefix:   c.Display.IconPrefix,
		},
	}
	return cfg, nil
}

// WebSocketConfig maps the relay settings onto wstransport.Config
func (c Config) WebSocketConfig() wstransport.Config {
	cfg := wstransport.DefaultConfig()
	cfg.BaseURL = c.Transport.RelayURL
	cfg.HeartbeatPeriod = c.Transport.HeartbeatPeriod
	return cfg
}

// NATSConfig maps the NATS settings onto natstransport.Config
func (c Config) NATSConfig() natstransport.Config {
	cfg := natstransport.DefaultConfig()
	cfg.URL = c.Transport.NATSURL
	cfg.StreamName = c.Transport.NATSStream
	cfg.SubjectPrefix = c.Transport.NATSPrefix
	return cfg
}

// ViewerServiceConfig maps the viewer settings onto viewer.Config
func (c Config) ViewerServiceConfig() viewer.Config {
	cfg := viewer.DefaultConfig()
	cfg.Addr = c.Viewer.Addr
	if len(c.Viewer.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = c.Viewer.AllowedOrigins
	}
	return cfg
}
