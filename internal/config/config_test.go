package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8710", cfg.Server.Addr)
	assert.Equal(t, "containers.json", cfg.Library.Path)
	assert.Equal(t, 50*time.Millisecond, cfg.Matcher.PollInterval)
	assert.Equal(t, 3, cfg.Matcher.DefaultMaxDepth)
	assert.Equal(t, 10, cfg.Matcher.DefaultMaxChildren)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Cache.DefaultTTL)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Empty(t, cfg.Browser.DebugURL, "static fetching is the default")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		v := viper.New()
		SetDefaults(v)
		var cfg Config
		require.NoError(t, v.Unmarshal(&cfg))
		return &cfg
	}

	t.Run("empty library path", func(t *testing.T) {
		cfg := base()
		cfg.Library.Path = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-positive poll interval", func(t *testing.T) {
		cfg := base()
		cfg.Matcher.PollInterval = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("enabled cache needs a ttl", func(t *testing.T) {
		cfg := base()
		cfg.Cache.DefaultTTL = 0
		assert.Error(t, cfg.Validate())

		cfg.Cache.Enabled = false
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoadOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("server.addr", ":9999")
	v.Set("matcher.default_max_depth", 5)
	v.Set("browser.debug_url", "http://127.0.0.1:9222")

	require.NoError(t, Load(v))
	cfg := Get()
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Matcher.DefaultMaxDepth)
	assert.Equal(t, "http://127.0.0.1:9222", cfg.Browser.DebugURL)
}
