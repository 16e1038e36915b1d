package infra

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Durable store backends selectable through DURABLE_STORE.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreNone     = "none"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv        string
	LogLevel      string
	Port          string
	PublicBaseURL string

	DurableStore  string
	DatabaseURL   string
	SQLitePath    string
	RunMigrations bool

	RedisURL   string
	LocatorTTL time.Duration

	StorageDir     string
	StorageBaseURL string
	GeoIPDBPath    string
	CORSOrigins    []string
	TrustProxy     bool

	ReplicateToken       string
	ReplicateBaseURL     string
	TextModel            string
	TextModelVersion     string
	ImageModel           string
	ImageModelVersion    string
	ProviderWebhooks     bool
	ProviderPollInterval time.Duration
	ProviderPollRetries  int
	SyntheticDelay       time.Duration
	FallbackAssetBaseURL string
	WebhookSigningSecret string
	AutomationSecret     string
	RateLimitPerWindow   int
	RateLimitWindow      time.Duration
	CacheRetention       time.Duration
	CacheSweepInterval   time.Duration
	HeartbeatInterval    time.Duration
	StoreTimeout         time.Duration
	WebhookTimeout       time.Duration
	DriveTimeout         time.Duration
	DownloadTimeout      time.Duration
	ShutdownTimeout      time.Duration
	HTTPReadTimeout      time.Duration
	HTTPWriteTimeout     time.Duration
	HTTPIdleTimeout      time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	publicBase := strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/")

	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		Port:          port,
		PublicBaseURL: publicBase,

		DurableStore:  strings.ToLower(os.Getenv("DURABLE_STORE")),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SQLitePath:    getEnv("SQLITE_PATH", "vidgen.db"),
		RunMigrations: getEnvBool("RUN_MIGRATIONS", true),

		RedisURL:   os.Getenv("REDIS_URL"),
		LocatorTTL: getEnvDuration("LOCATOR_TTL", 7*24*time.Hour),

		StorageDir:     getEnv("STORAGE_DIR", "./storage"),
		StorageBaseURL: strings.TrimRight(getEnv("STORAGE_BASE_URL", publicBase+"/static"), "/"),
		GeoIPDBPath:    os.Getenv("GEOIP_DB_PATH"),
		CORSOrigins:    getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		TrustProxy:     getEnvBool("TRUST_PROXY_HEADERS", false),

		ReplicateToken:       os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateBaseURL:     getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		TextModel:            getEnv("REPLICATE_T2V_MODEL", "stability-ai/stable-video-diffusion"),
		TextModelVersion:     getEnv("REPLICATE_T2V_VERSION", "3f0457e4619daac51203dedb472816fd4af51f3149fa7a9e0b5ffcf1b8172438"),
		ImageModel:           getEnv("REPLICATE_I2V_MODEL", "stability-ai/stable-video-diffusion-img2vid"),
		ImageModelVersion:    getEnv("REPLICATE_I2V_VERSION", "3f0457e4619daac51203dedb472816fd4af51f3149fa7a9e0b5ffcf1b8172438"),
		ProviderWebhooks:     getEnvBool("PROVIDER_WEBHOOKS", false),
		ProviderPollInterval: getEnvDuration("PROVIDER_POLL_INTERVAL", 2*time.Second),
		ProviderPollRetries:  getEnvInt("PROVIDER_POLL_RETRIES", 3),
		SyntheticDelay:       getEnvDuration("SYNTHETIC_DELAY", 3*time.Second),
		FallbackAssetBaseURL: getEnv("FALLBACK_ASSET_BASE_URL", "https://cdn.example.com/videos"),
		WebhookSigningSecret: os.Getenv("WEBHOOK_SIGNING_SECRET"),
		AutomationSecret:     os.Getenv("AUTOMATION_WEBHOOK_SECRET"),
		RateLimitPerWindow:   getEnvInt("RATE_LIMIT_PER_WINDOW", 10),
		RateLimitWindow:      getEnvDuration("RATE_LIMIT_WINDOW", 24*time.Hour),
		CacheRetention:       getEnvDuration("CACHE_RETENTION", 6*time.Hour),
		CacheSweepInterval:   getEnvDuration("CACHE_SWEEP_INTERVAL", 10*time.Minute),
		HeartbeatInterval:    getEnvDuration("HEARTBEAT_INTERVAL", 15*time.Second),
		StoreTimeout:         getEnvDuration("STORE_TIMEOUT", 5*time.Second),
		WebhookTimeout:       getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		DriveTimeout:         getEnvDuration("DRIVE_TIMEOUT", 15*time.Minute),
		DownloadTimeout:      getEnvDuration("DOWNLOAD_TIMEOUT", 2*time.Minute),
		ShutdownTimeout:      getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		HTTPReadTimeout:      time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:     time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:      time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DurableStore == "" {
		cfg.DurableStore = StoreSQLite
		if cfg.DatabaseURL != "" {
			cfg.DurableStore = StorePostgres
		}
	}

	switch cfg.DurableStore {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when DURABLE_STORE=%s", StorePostgres)
		}
	case StoreSQLite, StoreNone:
	default:
		return nil, fmt.Errorf("DURABLE_STORE must be one of %s, %s, %s", StorePostgres, StoreSQLite, StoreNone)
	}

	if _, err := url.ParseRequestURI(cfg.PublicBaseURL); err != nil {
		return nil, fmt.Errorf("PUBLIC_BASE_URL is invalid: %w", err)
	}
	if cfg.ProviderWebhooks && !strings.HasPrefix(cfg.PublicBaseURL, "https://") {
		return nil, fmt.Errorf("PROVIDER_WEBHOOKS requires an https PUBLIC_BASE_URL")
	}
	if cfg.HeartbeatInterval <= 0 || cfg.CacheSweepInterval <= 0 {
		return nil, fmt.Errorf("HEARTBEAT_INTERVAL and CACHE_SWEEP_INTERVAL must be positive")
	}
	if cfg.CacheRetention <= cfg.DriveTimeout {
		return nil, fmt.Errorf("CACHE_RETENTION (%s) must exceed DRIVE_TIMEOUT (%s)", cfg.CacheRetention, cfg.DriveTimeout)
	}

	return cfg, nil
}

// ProviderWebhookURL is the callback registered with the provider, or empty
// when provider webhooks are disabled.
func (c *Config) ProviderWebhookURL() string {
	if !c.ProviderWebhooks {
		return ""
	}
	return c.PublicBaseURL + "/v1/webhooks/provider"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("15s") or bare seconds ("15").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
