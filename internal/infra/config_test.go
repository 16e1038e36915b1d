package infra

import (
	"testing"
	"time"
)

func clearStoreEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"DURABLE_STORE", "DATABASE_URL", "PORT", "PUBLIC_BASE_URL", "STORAGE_BASE_URL", "PROVIDER_WEBHOOKS", "TRUST_PROXY_HEADERS", "CACHE_RETENTION", "DRIVE_TIMEOUT"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearStoreEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DurableStore != StoreSQLite {
		t.Fatalf("DurableStore = %q, want %q", cfg.DurableStore, StoreSQLite)
	}
	if cfg.StorageBaseURL != "http://localhost:8080/static" {
		t.Fatalf("StorageBaseURL = %q", cfg.StorageBaseURL)
	}
	if cfg.RateLimitPerWindow != 10 || cfg.RateLimitWindow != 24*time.Hour {
		t.Fatalf("rate limit = %d per %s", cfg.RateLimitPerWindow, cfg.RateLimitWindow)
	}
	if cfg.CacheRetention != 6*time.Hour || cfg.CacheSweepInterval != 10*time.Minute || cfg.HeartbeatInterval != 15*time.Second {
		t.Fatalf("unexpected cache/heartbeat defaults: %+v", cfg)
	}
	if cfg.ProviderWebhookURL() != "" {
		t.Fatalf("provider webhook should be disabled by default")
	}
	if cfg.TrustProxy {
		t.Fatalf("proxy headers should not be trusted by default")
	}
}

func TestLoadConfigSelectsPostgresWhenDatabaseURLSet(t *testing.T) {
	clearStoreEnv(t)
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("PORT", "1919")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DurableStore != StorePostgres {
		t.Fatalf("DurableStore = %q", cfg.DurableStore)
	}
	if cfg.StorageBaseURL != "http://localhost:1919/static" {
		t.Fatalf("StorageBaseURL = %q", cfg.StorageBaseURL)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "postgres without url", env: map[string]string{"DURABLE_STORE": "postgres"}},
		{name: "unknown store", env: map[string]string{"DURABLE_STORE": "mysql"}},
		{name: "provider webhooks over http", env: map[string]string{"PROVIDER_WEBHOOKS": "true", "PUBLIC_BASE_URL": "http://localhost:8080"}},
		{name: "cache retention shorter than drive", env: map[string]string{"CACHE_RETENTION": "10m", "DRIVE_TIMEOUT": "15m"}},
		{name: "cache retention equal to drive", env: map[string]string{"CACHE_RETENTION": "15m", "DRIVE_TIMEOUT": "15m"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearStoreEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadConfigParsesDurationsAndLists(t *testing.T) {
	clearStoreEnv(t)
	t.Setenv("RATE_LIMIT_WINDOW", "90s")
	t.Setenv("HEARTBEAT_INTERVAL", "5")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example.com, ,https://b.example.com ")
	t.Setenv("PROVIDER_WEBHOOKS", "true")
	t.Setenv("PUBLIC_BASE_URL", "https://api.example.com/")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.RateLimitWindow != 90*time.Second || cfg.HeartbeatInterval != 5*time.Second {
		t.Fatalf("durations = %s, %s", cfg.RateLimitWindow, cfg.HeartbeatInterval)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example.com" {
		t.Fatalf("CORSOrigins = %#v", cfg.CORSOrigins)
	}
	if got := cfg.ProviderWebhookURL(); got != "https://api.example.com/v1/webhooks/provider" {
		t.Fatalf("ProviderWebhookURL() = %q", got)
	}
}
