package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asadovsky/wikiffiti/server/logoot"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "localhost:4000", cfg.Addr)
	assert.Equal(t, logoot.DefaultBias, cfg.Bias)
	assert.Equal(t, StoreMemory, cfg.Store.Kind)
	require.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	file := filepath.Join(t.TempDir(), "wiki.yaml")
	data := []byte("addr: \":9000\"\nbias: 40\nstore:\n  kind: pebble\n  dir: /tmp/wiki\n")
	require.NoError(t, os.WriteFile(file, data, 0644))

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 40.0, cfg.Bias)
	assert.Equal(t, StorePebble, cfg.Store.Kind)
	assert.Equal(t, "/tmp/wiki", cfg.Store.Dir)
	// Unset fields keep their defaults.
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "wikiffiti", cfg.Store.KeyPrefix)
}

func TestLoadJSON(t *testing.T) {
	file := filepath.Join(t.TempDir(), "wiki.json")
	data := []byte(`{"logLevel":"debug","store":{"kind":"redis","redisAddr":"redis:6379","redisDB":2}}`)
	require.NoError(t, os.WriteFile(file, data, 0644))

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, StoreRedis, cfg.Store.Kind)
	assert.Equal(t, "redis:6379", cfg.Store.RedisAddr)
	assert.Equal(t, 2, cfg.Store.RedisDB)
}

func TestLoadErrors(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(file, []byte("{"), 0644))
	_, err = Load(file)
	assert.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("WIKI_ADDR", ":7000")
	t.Setenv("WIKI_BIAS", "12.5")
	t.Setenv("WIKI_STORE", "redis")
	t.Setenv("WIKI_REDIS_DB", "3")

	cfg := Default()
	FromEnv(&cfg)
	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, 12.5, cfg.Bias)
	assert.Equal(t, StoreRedis, cfg.Store.Kind)
	assert.Equal(t, 3, cfg.Store.RedisDB)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Bias = 0
	assert.ErrorIs(t, cfg.Validate(), logoot.ErrBias)

	cfg = Default()
	cfg.Store.Kind = "etcd"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Store.Kind = StorePebble
	cfg.Store.Dir = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Addr = ""
	assert.Error(t, cfg.Validate())
}
