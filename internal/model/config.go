package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Transport kinds accepted in realtime.transport.
const (
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
)

// envKeyReplacer maps nested keys to environment variable names.
var envKeyReplacer = strings.NewReplacer(".", "_")

// validate reports fields by their config key rather than the Go name.
var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
	})
	return v
}()

// ServerConfig locates the REST API and the real-time endpoint.
type ServerConfig struct {
	// BaseURL is the root of the REST API (e.g., https://board.example.com/api).
	BaseURL string `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`

	// SocketURL is the real-time endpoint. When empty it is derived from
	// BaseURL by swapping the scheme to ws/wss and appending /ws.
	SocketURL string `mapstructure:"socket_url" yaml:"socket_url" validate:"omitempty,url"`
}

// RealtimeConfig holds the connection and reconnection policy.
type RealtimeConfig struct {
	Transport string `mapstructure:"transport" yaml:"transport" validate:"oneof=websocket redis"`

	// RedisURL is used when Transport is "redis".
	RedisURL string `mapstructure:"redis_url" yaml:"redis_url" validate:"required_if=Transport redis,omitempty,url"`

	// ReconnectBaseDelayMs is the unit of the linear backoff: attempt n
	// waits n * ReconnectBaseDelayMs.
	ReconnectBaseDelayMs int `mapstructure:"reconnect_base_delay_ms" yaml:"reconnect_base_delay_ms" validate:"gt=0"`

	MaxReconnectAttempts int `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts" validate:"gte=0"`

	// ResyncIntervalSec is how often the REST list is refetched while the
	// socket is down.
	ResyncIntervalSec int `mapstructure:"resync_interval_sec" yaml:"resync_interval_sec" validate:"gte=0"`
}

// ReconnectBaseDelay returns the backoff unit as a duration.
func (c RealtimeConfig) ReconnectBaseDelay() time.Duration {
	return time.Duration(c.ReconnectBaseDelayMs) * time.Millisecond
}

// StorageConfig locates the local database.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// LogConfig controls logrus output.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error"`

	// File receives log output while the terminal UI owns stdout.
	File string `mapstructure:"file" yaml:"file"`
}

// DisplayConfig holds UI/rendering preferences.
type DisplayConfig struct {
	Theme string `mapstructure:"theme" yaml:"theme"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Realtime RealtimeConfig `mapstructure:"realtime" yaml:"realtime"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Display  DisplayConfig  `mapstructure:"display" yaml:"display"`
}

// configDir returns ~/.config/teamboard, or "." when the home directory
// cannot be resolved.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "teamboard")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/teamboard/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	dir := configDir()
	return &AppConfig{
		Server: ServerConfig{
			BaseURL: "http://localhost:8080/api",
		},
		Realtime: RealtimeConfig{
			Transport:            TransportWebSocket,
			ReconnectBaseDelayMs: 1000,
			MaxReconnectAttempts: 5,
			ResyncIntervalSec:    60,
		},
		Storage: StorageConfig{
			DBPath: filepath.Join(dir, "teamboard.db"),
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join(dir, "teamboard.log"),
		},
		Display: DisplayConfig{
			Theme: "default",
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
// Environment variables prefixed with TEAMBOARD_ override file values
// (e.g., TEAMBOARD_SERVER_BASE_URL).
func LoadConfig(path string) (*AppConfig, error) {
	def := defaultAppConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("teamboard")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("server.base_url", def.Server.BaseURL)
	v.SetDefault("server.socket_url", "")
	v.SetDefault("realtime.transport", def.Realtime.Transport)
	v.SetDefault("realtime.redis_url", "")
	v.SetDefault("realtime.reconnect_base_delay_ms", def.Realtime.ReconnectBaseDelayMs)
	v.SetDefault("realtime.max_reconnect_attempts", def.Realtime.MaxReconnectAttempts)
	v.SetDefault("realtime.resync_interval_sec", def.Realtime.ResyncIntervalSec)
	v.SetDefault("storage.db_path", def.Storage.DBPath)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.file", def.Log.File)
	v.SetDefault("display.theme", def.Display.Theme)

	if err := v.ReadInConfig(); err != nil {
		_, isPathErr := err.(*os.PathError)
		_, isNotFound := err.(viper.ConfigFileNotFoundError)
		if !isPathErr && !isNotFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects settings the client cannot run with.
func (c *AppConfig) Validate() error {
	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	key := fe.Namespace()
	if _, rest, ok := strings.Cut(key, "."); ok {
		key = rest
	}
	switch fe.Tag() {
	case "required", "required_if":
		return key + " is required"
	case "url":
		return key + " must be a URL"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", key, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", key, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must not be below %s", key, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", key, fe.Tag())
	}
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("server", cfg.Server)
	v.Set("realtime", cfg.Realtime)
	v.Set("storage", cfg.Storage)
	v.Set("log", cfg.Log)
	v.Set("display", cfg.Display)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
