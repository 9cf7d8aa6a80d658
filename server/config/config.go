// Package config loads server configuration from a YAML or JSON file and
// overlays WIKI_* environment variables.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/asadovsky/wikiffiti/server/logoot"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StorePebble = "pebble"
	StoreRedis  = "redis"
)

// Config is the top-level server configuration.
type Config struct {
	Addr     string  `json:"addr" yaml:"addr"`
	LogLevel string  `json:"logLevel" yaml:"logLevel"`
	Bias     float64 `json:"bias" yaml:"bias"`
	Store    Store   `json:"store" yaml:"store"`
}

// Store selects and configures the edit log backend.
type Store struct {
	Kind          string `json:"kind" yaml:"kind"`
	Dir           string `json:"dir" yaml:"dir"`
	RedisAddr     string `json:"redisAddr" yaml:"redisAddr"`
	RedisPassword string `json:"redisPassword" yaml:"redisPassword"`
	RedisDB       int    `json:"redisDB" yaml:"redisDB"`
	KeyPrefix     string `json:"keyPrefix" yaml:"keyPrefix"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Addr:     "localhost:4000",
		LogLevel: "info",
		Bias:     logoot.DefaultBias,
		Store: Store{
			Kind:      StoreMemory,
			Dir:       "data",
			RedisAddr: "localhost:6379",
			KeyPrefix: "wikiffiti",
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension), on top of
// the defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to read config")
	}
	switch filepath.Ext(path) {
	case ".json":
		err = json.Unmarshal(b, &cfg)
	default:
		err = yaml.Unmarshal(b, &cfg)
	}
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to parse config %s", path)
	}
	return cfg, nil
}

// FromEnv overlays WIKI_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("WIKI_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("WIKI_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WIKI_BIAS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Bias = f
		}
	}
	if v := os.Getenv("WIKI_STORE"); v != "" {
		cfg.Store.Kind = v
	}
	if v := os.Getenv("WIKI_STORE_DIR"); v != "" {
		cfg.Store.Dir = v
	}
	if v := os.Getenv("WIKI_REDIS_ADDR"); v != "" {
		cfg.Store.RedisAddr = v
	}
	if v := os.Getenv("WIKI_REDIS_PASSWORD"); v != "" {
		cfg.Store.RedisPassword = v
	}
	if v := os.Getenv("WIKI_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.RedisDB = n
		}
	}
	if v := os.Getenv("WIKI_KEY_PREFIX"); v != "" {
		cfg.Store.KeyPrefix = v
	}
}

// Validate checks cfg for values the server cannot run with.
func (cfg Config) Validate() error {
	if cfg.Addr == "" {
		return errors.New("config: addr is required")
	}
	if !(cfg.Bias > 0) {
		return errors.Wrapf(logoot.ErrBias, "config: bias %v", cfg.Bias)
	}
	switch cfg.Store.Kind {
	case StoreMemory:
	case StorePebble:
		if cfg.Store.Dir == "" {
			return errors.New("config: store.dir is required for pebble")
		}
	case StoreRedis:
		if cfg.Store.RedisAddr == "" {
			return errors.New("config: store.redisAddr is required for redis")
		}
	default:
		return errors.Errorf("config: unknown store kind %q", cfg.Store.Kind)
	}
	return nil
}
