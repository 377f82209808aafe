package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"submitline/internal/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Callbacks.Enabled)
	assert.Equal(t, 2, cfg.Callbacks.DeferredWorkers)
	assert.Equal(t, 5*time.Second, cfg.Store.BusyTimeout)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	assert.Equal(t, "submitline.events", cfg.Notify.Redis.Stream)
	assert.False(t, cfg.Legacy.Enabled)
	assert.Equal(t, int64(6_000_000), cfg.Callbacks.Limits.CompressedPackage)
	assert.Equal(t, int64(15_000_000), cfg.Callbacks.Limits.Preview)
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
legacy:
  enabled: true
notify:
  webhooks:
    - url: http://example.org/hook
`))
	require.NoError(t, err)
	assert.True(t, cfg.Legacy.Enabled)
	assert.True(t, cfg.Callbacks.Enabled)
	require.Len(t, cfg.Notify.Webhooks, 1)
	assert.Equal(t, "http://example.org/hook", cfg.Notify.Webhooks[0].URL)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"server:\n  base_path: v0\n":                   "config.server.base_path must start with /",
		"server:\n  base_path: \"\"\n":                 "config.server.base_path is required",
		"notify:\n  webhooks:\n    - secret: x\n":      "config.notify.webhooks[0].url is required",
		"notify:\n  redis:\n    addr: x\n    stream: \"\"\n": "config.notify.redis.stream is required when addr is set",
		"callbacks:\n  deferred_workers: -1\n":         "config.callbacks.deferred_workers must not be negative",
		"callbacks:\n  limits:\n    preview: -1\n":    "config.callbacks.limits must not be negative",
	}
	for doc, msg := range cases {
		_, err := config.FromYAML([]byte(doc))
		require.Error(t, err, doc)
		assert.Equal(t, msg, err.Error())
	}
	_, err := config.FromYAML([]byte("store: ["))
	assert.ErrorContains(t, err, "invalid config yaml")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	_, err := config.Load(dir)
	assert.ErrorContains(t, err, "sl init")
	cfg, err := config.LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "submitline.yml"), []byte(config.GenerateDefault()), 0o644))
	cfg, err = config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	cfg, err = config.FromFile(config.Path(dir))
	require.NoError(t, err)
	assert.True(t, cfg.Notify.Log)
}
