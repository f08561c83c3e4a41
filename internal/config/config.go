package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/xhit/go-str2duration/v2"
)

type RedisConfig struct {
	// URL is a redis:// connection string. Empty selects the in-process store.
	URL       string
	Prefix    string
	OpTimeout time.Duration
}

type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	PublicBaseURL   string
	UseSSL          bool
	OpTimeout       time.Duration
}

type CacheConfig struct {
	DefaultTTL          time.Duration
	ProductTTL          time.Duration
	CategoryTTL         time.Duration
	SearchTTL           time.Duration
	HomepageTTL         time.Duration
	StaleThreshold      time.Duration
	StatsRetention      int
	WarmBatchSize       int
	WarmRate            float64
	HomepageInterval    time.Duration
	PopularInterval     time.Duration
	PopularCategories   []string
	PopularPerPass      int
	MaintenanceInterval time.Duration
	MemoryMaxBytes      int64
}

type ImageConfig struct {
	MaxUploadBytes int64
	MaxPixels      int64
	CacheControl   string
	Concurrency    int
	EmitPNG        bool
}

type ServerConfig struct {
	Addr       string
	// PublicURL is the externally visible base of this server. In-process
	// object URLs are built from it.
	PublicURL  string
	CatalogURL string
	CatalogKey string
	LogLevel   string

	// AdminAllowList holds CIDRs or addresses allowed on /cache routes.
	// Empty allows everyone.
	AdminAllowList []string
}

type Config struct {
	Server  ServerConfig
	Redis   RedisConfig
	Storage StorageConfig
	Cache   CacheConfig
	Image   ImageConfig
}

// Load reads the full configuration from the environment.
func Load() (*Config, error) {
	var err error
	cfg := &Config{
		Server:  GetServerConfig(),
		Storage: *GetStorageConfig(),
	}
	if cfg.Redis, err = GetRedisConfig(); err != nil {
		return nil, err
	}
	if cfg.Cache, err = GetCacheConfig(); err != nil {
		return nil, err
	}
	if cfg.Image, err = GetImageConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func GetServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           getEnv("HTTP_ADDR", ":8080"),
		PublicURL:      getEnv("PUBLIC_URL", "http://localhost:8080"),
		CatalogURL:     getEnv("CATALOG_URL", "http://localhost:54321"),
		CatalogKey:     getEnv("CATALOG_KEY", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AdminAllowList: splitList(getEnv("ADMIN_ALLOW_LIST", "")),
	}
}

func GetRedisConfig() (RedisConfig, error) {
	timeout, err := getDuration("KV_OP_TIMEOUT", "2s")
	if err != nil {
		return RedisConfig{}, err
	}
	return RedisConfig{
		URL:       getEnv("REDIS_URL", ""),
		Prefix:    getEnv("CACHE_PREFIX", ""),
		OpTimeout: timeout,
	}, nil
}

func GetStorageConfig() *StorageConfig {
	timeout, err := getDuration("S3_OP_TIMEOUT", "10s")
	if err != nil {
		log.Printf("invalid S3_OP_TIMEOUT, using 10s: %v", err)
		timeout = 10 * time.Second
	}
	return &StorageConfig{
		Endpoint:        getEnv("S3_ENDPOINT", "localhost:9000"),
		AccessKeyID:     getEnv("S3_ACCESS_KEY", "minioadmin"),
		SecretAccessKey: getEnv("S3_SECRET_KEY", "minioadmin"),
		Bucket:          getEnv("S3_BUCKET", "product-images"),
		Region:          getEnv("S3_REGION", "us-east-1"),
		PublicBaseURL:   getEnv("S3_PUBLIC_URL", ""),
		UseSSL:          getEnv("S3_USE_SSL", "false") == "true",
		OpTimeout:       timeout,
	}
}

func GetCacheConfig() (CacheConfig, error) {
	var (
		cfg CacheConfig
		err error
	)
	durations := []struct {
		dst *time.Duration
		key string
		def string
	}{
		{&cfg.DefaultTTL, "CACHE_DEFAULT_TTL", "5m"},
		{&cfg.ProductTTL, "CACHE_PRODUCT_TTL", "10m"},
		{&cfg.CategoryTTL, "CACHE_CATEGORY_TTL", "30m"},
		{&cfg.SearchTTL, "CACHE_SEARCH_TTL", "2m"},
		{&cfg.HomepageTTL, "CACHE_HOMEPAGE_TTL", "5m"},
		{&cfg.StaleThreshold, "CACHE_STALE_THRESHOLD", "60s"},
		{&cfg.HomepageInterval, "WARM_HOMEPAGE_INTERVAL", "5m"},
		{&cfg.PopularInterval, "WARM_POPULAR_INTERVAL", "10m"},
		{&cfg.MaintenanceInterval, "MAINTENANCE_INTERVAL", "1h"},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.key, d.def); err != nil {
			return CacheConfig{}, err
		}
	}

	if cfg.WarmBatchSize, err = getInt("WARM_BATCH_SIZE", 3); err != nil {
		return CacheConfig{}, err
	}
	if cfg.PopularPerPass, err = getInt("WARM_POPULAR_PER_PASS", 5); err != nil {
		return CacheConfig{}, err
	}
	if cfg.StatsRetention, err = getInt("CACHE_STATS_RETENTION", 24); err != nil {
		return CacheConfig{}, err
	}
	maxBytes, err := getInt("MEMORY_CACHE_MAX_BYTES", 100*1024*1024)
	if err != nil {
		return CacheConfig{}, err
	}
	cfg.MemoryMaxBytes = int64(maxBytes)

	rate, err := strconv.ParseFloat(getEnv("WARM_RATE", "10"), 64)
	if err != nil {
		return CacheConfig{}, errors.Wrap(err, "invalid WARM_RATE")
	}
	cfg.WarmRate = rate
	cfg.PopularCategories = splitList(getEnv("WARM_POPULAR_CATEGORIES", ""))
	return cfg, nil
}

func GetImageConfig() (ImageConfig, error) {
	maxBytes, err := getInt("IMAGE_MAX_UPLOAD_BYTES", 10*1024*1024)
	if err != nil {
		return ImageConfig{}, err
	}
	maxPixels, err := getInt("IMAGE_MAX_PIXELS", 40_000_000)
	if err != nil {
		return ImageConfig{}, err
	}
	concurrency, err := getInt("IMAGE_CONCURRENCY", 3)
	if err != nil {
		return ImageConfig{}, err
	}
	return ImageConfig{
		MaxUploadBytes: int64(maxBytes),
		MaxPixels:      int64(maxPixels),
		CacheControl:   getEnv("IMAGE_CACHE_CONTROL", "public, max-age=31536000, immutable"),
		Concurrency:    concurrency,
		EmitPNG:        getEnv("IMAGE_EMIT_PNG", "false") == "true",
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key, defaultValue string) (time.Duration, error) {
	raw := getEnv(key, defaultValue)
	d, err := str2duration.ParseDuration(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s %q", key, raw)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s %q", key, raw)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
