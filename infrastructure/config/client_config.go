package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AuthMode selects how the ClientConfig's TokenProvider authenticates.
type AuthMode string

const (
	AuthModeDefault           AuthMode = "default"
	AuthModeClientCredentials AuthMode = "client_credentials"
)

// ClientConfig is the typed configuration record consumed by the core
// client: one environment, one set of credentials, one cache root.
type ClientConfig struct {
	BaseURL      string
	AuthMode     AuthMode
	ClientID     string
	ClientSecret string
	TenantID     string
	VerifySSL    bool
	Timeout      time.Duration

	CacheDir             string
	UseLabelCache        bool
	LabelCacheExpiry     time.Duration
	UseCacheFirst        bool
	Language             string
	MetadataSyncInterval time.Duration
	MaxMemoryCacheSize   int
}

// Load builds a ClientConfig from environment variables, optionally
// reading a .env file first via godotenv (missing files are not an
// error — most deployments set real environment variables instead).
func Load(envFile string) (*ClientConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	cacheDir := GetEnv("D365FO_CACHE_DIR", defaultCacheDir(GetEnv("D365FO_BASE_URL", "")))

	cfg := &ClientConfig{
		BaseURL:              strings.ToLower(strings.TrimRight(GetEnv("D365FO_BASE_URL", ""), "/")),
		AuthMode:             AuthMode(GetEnv("D365FO_AUTH_MODE", string(AuthModeDefault))),
		ClientID:             GetEnv("D365FO_CLIENT_ID", ""),
		ClientSecret:         GetEnv("D365FO_CLIENT_SECRET", ""),
		TenantID:             GetEnv("D365FO_TENANT_ID", ""),
		VerifySSL:            GetEnvBool("D365FO_VERIFY_SSL", true),
		Timeout:              time.Duration(GetEnvInt("D365FO_TIMEOUT_SECONDS", 60)) * time.Second,
		CacheDir:             cacheDir,
		UseLabelCache:        GetEnvBool("D365FO_USE_LABEL_CACHE", true),
		LabelCacheExpiry:     time.Duration(GetEnvInt("D365FO_LABEL_CACHE_EXPIRY_MINUTES", 60)) * time.Minute,
		UseCacheFirst:        GetEnvBool("D365FO_USE_CACHE_FIRST", true),
		Language:             GetEnv("D365FO_LANGUAGE", "en-US"),
		MetadataSyncInterval: time.Duration(GetEnvInt("D365FO_METADATA_SYNC_INTERVAL_MINUTES", 60)) * time.Minute,
		MaxMemoryCacheSize:   GetEnvInt("D365FO_MAX_MEMORY_CACHE_SIZE", 1000),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants spec.md §6.4 requires before the
// config is handed to a client.
func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	switch c.AuthMode {
	case AuthModeDefault:
		// no extra fields required
	case AuthModeClientCredentials:
		if c.ClientID == "" || c.ClientSecret == "" || c.TenantID == "" {
			return fmt.Errorf("auth_mode=client_credentials requires client_id, client_secret, and tenant_id")
		}
	default:
		return fmt.Errorf("unknown auth_mode %q", c.AuthMode)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	if c.MaxMemoryCacheSize <= 0 {
		return fmt.Errorf("max_memory_cache_size must be positive")
	}
	return nil
}

func defaultCacheDir(baseURL string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	host := "default"
	if baseURL != "" {
		if u := strings.TrimPrefix(strings.TrimPrefix(baseURL, "https://"), "http://"); u != "" {
			host = strings.SplitN(u, "/", 2)[0]
		}
	}
	return filepath.Join(home, ".d365fo-client-go", host)
}
