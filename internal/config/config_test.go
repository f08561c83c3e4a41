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

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Empty(t, cfg.Redis.URL)
	assert.Equal(t, 2*time.Second, cfg.Redis.OpTimeout)
	assert.Equal(t, "localhost:9000", cfg.Storage.Endpoint)
	assert.False(t, cfg.Storage.UseSSL)
	assert.Equal(t, "us-east-1", cfg.Storage.Region)
	assert.Equal(t, 5*time.Minute, cfg.Cache.HomepageInterval)
	assert.Equal(t, 10*time.Minute, cfg.Cache.PopularInterval)
	assert.Equal(t, 3, cfg.Cache.WarmBatchSize)
	assert.Equal(t, int64(10*1024*1024), cfg.Image.MaxUploadBytes)
	assert.Equal(t, int64(40_000_000), cfg.Image.MaxPixels)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("CACHE_SEARCH_TTL", "1d")
	t.Setenv("WARM_BATCH_SIZE", "8")
	t.Setenv("WARM_POPULAR_CATEGORIES", "shoes, hats,,bags")
	t.Setenv("S3_USE_SSL", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
	assert.Equal(t, 24*time.Hour, cfg.Cache.SearchTTL)
	assert.Equal(t, 8, cfg.Cache.WarmBatchSize)
	assert.Equal(t, []string{"shoes", "hats", "bags"}, cfg.Cache.PopularCategories)
	assert.True(t, cfg.Storage.UseSSL)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad duration", "CACHE_DEFAULT_TTL", "soon"},
		{"bad int", "WARM_BATCH_SIZE", "three"},
		{"bad rate", "WARM_RATE", "fast"},
		{"bad kv timeout", "KV_OP_TIMEOUT", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}
