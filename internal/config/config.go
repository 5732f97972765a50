// Package config loads mediasync settings from defaults, a YAML file and
// MEDIASYNC_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables that override config keys.
// Nesting uses a double underscore: MEDIASYNC_SERVER__BASE_URL sets
// server.base_url.
const EnvPrefix = "MEDIASYNC_"

type Config struct {
	DataDir  string         `koanf:"data_dir" validate:"required"`
	LogLevel string         `koanf:"log_level" validate:"oneof=debug info warn error"`
	Server   ServerConfig   `koanf:"server"`
	Storage  StorageConfig  `koanf:"storage"`
	HTTP     HTTPConfig     `koanf:"http"`
	Telegram TelegramConfig `koanf:"telegram"`
	Sound    SoundConfig    `koanf:"sound"`
	Desktop  DesktopConfig  `koanf:"desktop"`
}

// ServerConfig points at the remote file store. Timeouts are in seconds.
type ServerConfig struct {
	BaseURL       string `koanf:"base_url" validate:"omitempty,url"`
	UploadTimeout int    `koanf:"upload_timeout" validate:"gte=1"`
	DeleteTimeout int    `koanf:"delete_timeout" validate:"gte=1"`
	ListTimeout   int    `koanf:"list_timeout" validate:"gte=1"`
}

func (s ServerConfig) Upload() time.Duration { return time.Duration(s.UploadTimeout) * time.Second }
func (s ServerConfig) Delete() time.Duration { return time.Duration(s.DeleteTimeout) * time.Second }
func (s ServerConfig) List() time.Duration   { return time.Duration(s.ListTimeout) * time.Second }

type StorageConfig struct {
	Backend string `koanf:"backend" validate:"oneof=file bolt badger memory"`
}

// HTTPConfig controls the local API served by `mediasync serve`.
type HTTPConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Listen    string `koanf:"listen" validate:"required_if=Enabled true"`
	RateLimit int    `koanf:"rate_limit" validate:"gte=0"`
}

type TelegramConfig struct {
	Token    string `koanf:"token"`
	ChatID   int64  `koanf:"chat_id" validate:"required_with=Token"`
	Endpoint string `koanf:"endpoint"`
}

type SoundConfig struct {
	Player string `koanf:"player"`
}

type DesktopConfig struct {
	Command string `koanf:"command"`
}

// DefaultPath is ~/.mediasync/config.yaml.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.yaml")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".mediasync")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:  defaultDataDir(),
		LogLevel: "info",
		Server: ServerConfig{
			UploadTimeout: 60,
			DeleteTimeout: 10,
			ListTimeout:   30,
		},
		Storage: StorageConfig{Backend: "file"},
		HTTP: HTTPConfig{
			Listen:    "127.0.0.1:7777",
			RateLimit: 60,
		},
	}
}

// Load reads path, writing the defaults there first if it does not exist,
// then applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	k, err := loadFile(path, true)
	if err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	// Kept from earlier releases.
	if tok := os.Getenv("TELEGRAM_BOT_TOKEN"); tok != "" && k.String("telegram.token") == "" {
		if err := k.Set("telegram.token", tok); err != nil {
			return nil, fmt.Errorf("apply TELEGRAM_BOT_TOKEN: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile layers defaults and the YAML file, without the environment.
func loadFile(path string, writeMissing bool) (*koanf.Koanf, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	} else if os.IsNotExist(err) && writeMissing {
		if err := Save(path, Default()); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	return k, nil
}

// envKey maps MEDIASYNC_SERVER__BASE_URL to server.base_url.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes cfg to path as YAML. The write is atomic.
func Save(path string, cfg *Config) error {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data, err := k.Marshal(yaml.Parser())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
