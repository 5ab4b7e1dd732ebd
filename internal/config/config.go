// Package config loads the data layer's settings from DF_* environment
// variables.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable of the data layer. Zero-configuration works
// against a local instance; production deployments set DF_BASE_URL and
// credentials.
type Config struct {
	// BaseURL is the API root, e.g. "https://df.example.com/api/v2".
	BaseURL string `env:"DF_BASE_URL" envDefault:"http://localhost:8080/api/v2"`

	// APIKey is sent as X-DreamFactory-API-Key on every request.
	APIKey string `env:"DF_API_KEY"`

	// SessionToken is sent as X-DreamFactory-Session-Token. Opaque; how it
	// is obtained is the surrounding application's concern.
	SessionToken string `env:"DF_SESSION_TOKEN"`

	// FreshFor is how long a cache entry is served without revalidation.
	FreshFor time.Duration `env:"DF_CACHE_FRESH_FOR" envDefault:"30s"`

	// ExpireAfter is how long a stale entry remains servable before eviction.
	ExpireAfter time.Duration `env:"DF_CACHE_EXPIRE_AFTER" envDefault:"5m"`

	// MaxCacheEntries bounds the cache; least recently used entries drop first.
	MaxCacheEntries int `env:"DF_CACHE_MAX_ENTRIES" envDefault:"512"`

	// MaxRetries bounds fetch attempts per request.
	MaxRetries int `env:"DF_FETCH_MAX_RETRIES" envDefault:"3"`

	// RetryBaseDelay is the initial backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration `env:"DF_FETCH_RETRY_BASE" envDefault:"100ms"`

	// RetryMaxDelay caps the backoff delay.
	RetryMaxDelay time.Duration `env:"DF_FETCH_RETRY_MAX" envDefault:"5s"`

	// SearchDebounce is the settle window for table search input.
	SearchDebounce time.Duration `env:"DF_SEARCH_DEBOUNCE" envDefault:"300ms"`

	// RequestTimeout is the per-request HTTP timeout.
	RequestTimeout time.Duration `env:"DF_REQUEST_TIMEOUT" envDefault:"30s"`
}

// Load reads configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the layer relies on.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("DF_BASE_URL %q is not an absolute URL", c.BaseURL)
	}
	if c.FreshFor <= 0 {
		return fmt.Errorf("DF_CACHE_FRESH_FOR must be positive, got %s", c.FreshFor)
	}
	if c.ExpireAfter < c.FreshFor {
		return fmt.Errorf("DF_CACHE_EXPIRE_AFTER (%s) must not be shorter than DF_CACHE_FRESH_FOR (%s)",
			c.ExpireAfter, c.FreshFor)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("DF_FETCH_MAX_RETRIES must be at least 1, got %d", c.MaxRetries)
	}
	if c.MaxCacheEntries < 1 {
		return fmt.Errorf("DF_CACHE_MAX_ENTRIES must be at least 1, got %d", c.MaxCacheEntries)
	}
	return nil
}
