package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/api/v2", cfg.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.FreshFor)
	assert.Equal(t, 5*time.Minute, cfg.ExpireAfter)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 300*time.Millisecond, cfg.SearchDebounce)
	assert.Equal(t, 512, cfg.MaxCacheEntries)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DF_BASE_URL", "https://df.example.com/api/v2")
	t.Setenv("DF_API_KEY", "abc123")
	t.Setenv("DF_CACHE_FRESH_FOR", "10s")
	t.Setenv("DF_FETCH_MAX_RETRIES", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://df.example.com/api/v2", cfg.BaseURL)
	assert.Equal(t, "abc123", cfg.APIKey)
	assert.Equal(t, 10*time.Second, cfg.FreshFor)
	assert.Equal(t, 5, cfg.MaxRetries)
}

func TestValidate(t *testing.T) {
	valid := Config{
		BaseURL:         "http://localhost:8080/api/v2",
		FreshFor:        time.Second,
		ExpireAfter:     time.Minute,
		MaxRetries:      1,
		MaxCacheEntries: 16,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative base url", func(c *Config) { c.BaseURL = "df.example.com" }},
		{"zero fresh window", func(c *Config) { c.FreshFor = 0 }},
		{"expiry shorter than fresh", func(c *Config) { c.ExpireAfter = c.FreshFor / 2 }},
		{"zero retries", func(c *Config) { c.MaxRetries = 0 }},
		{"zero cache bound", func(c *Config) { c.MaxCacheEntries = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
