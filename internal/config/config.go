package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults for every tunable of the synchronization core.
const (
	DefaultPort                 = "8080"
	DefaultDBPath               = "devicesync.db"
	DefaultTransportMode        = "auto"
	DefaultPollingInterval      = 1500 * time.Millisecond
	DefaultDebounce             = 300 * time.Millisecond
	DefaultLargeJump            = 50.0
	DefaultMaxRetries           = 5
	DefaultBaseRetryDelay       = 1000 * time.Millisecond
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectBaseDelay   = 1000 * time.Millisecond
	DefaultReconnectMaxDelay    = 30000 * time.Millisecond
	DefaultSuppressionWindow    = 200 * time.Millisecond
	DefaultSettleWindow         = 500 * time.Millisecond
	DefaultEpsilon              = 2.0

	envPrefix = "DEVICESYNC"
)

// Transport modes.
const (
	TransportAuto = "auto"
	TransportPush = "push"
	TransportPoll = "poll"
)

// Backend types.
const (
	BackendHomeAssistant = "homeassistant"
	BackendHue           = "hue"
)

var (
	errUnknownTransport = errors.New("transport.mode must be one of auto, push, poll")
	errUnknownBackend   = errors.New("backend.type must be one of homeassistant, hue")
)

type Config struct {
	Port      string          `mapstructure:"port"`
	LogLevel  string          `mapstructure:"log_level"`
	DB        DBConfig        `mapstructure:"db"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Transport TransportConfig `mapstructure:"transport"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Devices   []DeviceConfig  `mapstructure:"devices"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

// BackendConfig points at the remote backend. Token and user are read as
// opaque strings; they are never stored or managed by this service.
type BackendConfig struct {
	Type    string `mapstructure:"type"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	HueHost string `mapstructure:"hue_host"`
	HueUser string `mapstructure:"hue_user"`
}

type TransportConfig struct {
	Mode                 string        `mapstructure:"mode"`
	PollingInterval      time.Duration `mapstructure:"polling_interval"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `mapstructure:"reconnect_max_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
}

type ExecutorConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	BaseRetryDelay time.Duration `mapstructure:"base_retry_delay"`
}

type SyncConfig struct {
	Debounce          time.Duration `mapstructure:"debounce"`
	LargeJump         float64       `mapstructure:"large_jump"`
	SuppressionWindow time.Duration `mapstructure:"suppression_window"`
	SettleWindow      time.Duration `mapstructure:"settle_window"`
	Epsilon           float64       `mapstructure:"epsilon"`
}

// DeviceConfig maps a UI device id onto a backend entity. ToRemote and
// FromRemote are optional govaluate formulas over x.
type DeviceConfig struct {
	ID         string `mapstructure:"id"`
	EntityID   string `mapstructure:"entity_id"`
	ToRemote   string `mapstructure:"to_remote"`
	FromRemote string `mapstructure:"from_remote"`
}

// Default returns a configuration with every default applied and no devices.
func Default() *Config {
	return &Config{
		Port:     DefaultPort,
		LogLevel: "info",
		DB:       DBConfig{Path: DefaultDBPath},
		Backend:  BackendConfig{Type: BackendHomeAssistant},
		Transport: TransportConfig{
			Mode:                 DefaultTransportMode,
			PollingInterval:      DefaultPollingInterval,
			ReconnectBaseDelay:   DefaultReconnectBaseDelay,
			ReconnectMaxDelay:    DefaultReconnectMaxDelay,
			MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		},
		Executor: ExecutorConfig{
			MaxRetries:     DefaultMaxRetries,
			BaseRetryDelay: DefaultBaseRetryDelay,
		},
		Sync: SyncConfig{
			Debounce:          DefaultDebounce,
			LargeJump:         DefaultLargeJump,
			SuppressionWindow: DefaultSuppressionWindow,
			SettleWindow:      DefaultSettleWindow,
			Epsilon:           DefaultEpsilon,
		},
	}
}

// Load reads configuration from dir/config.yml (if present) and from
// DEVICESYNC_* environment variables, on top of the defaults.
func Load(dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("port", d.Port)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("db.path", d.DB.Path)
	v.SetDefault("backend.type", d.Backend.Type)
	v.SetDefault("backend.url", "")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.hue_host", "")
	v.SetDefault("backend.hue_user", "")
	v.SetDefault("transport.mode", d.Transport.Mode)
	v.SetDefault("transport.polling_interval", d.Transport.PollingInterval)
	v.SetDefault("transport.reconnect_base_delay", d.Transport.ReconnectBaseDelay)
	v.SetDefault("transport.reconnect_max_delay", d.Transport.ReconnectMaxDelay)
	v.SetDefault("transport.max_reconnect_attempts", d.Transport.MaxReconnectAttempts)
	v.SetDefault("executor.max_retries", d.Executor.MaxRetries)
	v.SetDefault("executor.base_retry_delay", d.Executor.BaseRetryDelay)
	v.SetDefault("sync.debounce", d.Sync.Debounce)
	v.SetDefault("sync.large_jump", d.Sync.LargeJump)
	v.SetDefault("sync.suppression_window", d.Sync.SuppressionWindow)
	v.SetDefault("sync.settle_window", d.Sync.SettleWindow)
	v.SetDefault("sync.epsilon", d.Sync.Epsilon)
}

// Validate checks enumerations and the device mapping.
func (c *Config) Validate() error {
	switch c.Transport.Mode {
	case TransportAuto, TransportPush, TransportPoll:
	default:
		return fmt.Errorf("%w: got %q", errUnknownTransport, c.Transport.Mode)
	}
	switch c.Backend.Type {
	case BackendHomeAssistant, BackendHue:
	default:
		return fmt.Errorf("%w: got %q", errUnknownBackend, c.Backend.Type)
	}
	if c.Executor.MaxRetries < 1 {
		return fmt.Errorf("executor.max_retries must be >= 1, got %d", c.Executor.MaxRetries)
	}
	seen := make(map[string]struct{}, len(c.Devices))
	for i, d := range c.Devices {
		if d.ID == "" || d.EntityID == "" {
			return fmt.Errorf("devices[%d]: id and entity_id are required", i)
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("devices[%d]: duplicate id %q", i, d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}
