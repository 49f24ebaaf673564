// Package profile persists named client configurations so the CLI and
// MCP entry points can switch between environments without
// re-specifying every flag each run.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mafzaal/d365fo-client-go/infrastructure/config"
)

// Profile is a named, persisted ClientConfig.
type Profile struct {
	Name                 string           `json:"name"`
	BaseURL              string           `json:"base_url"`
	AuthMode             config.AuthMode  `json:"auth_mode"`
	ClientID             string           `json:"client_id,omitempty"`
	ClientSecret         string           `json:"client_secret,omitempty"`
	TenantID             string           `json:"tenant_id,omitempty"`
	VerifySSL            bool             `json:"verify_ssl"`
	TimeoutSeconds       int              `json:"timeout_seconds"`
	CacheDir             string           `json:"cache_dir,omitempty"`
	UseLabelCache        bool             `json:"use_label_cache"`
	LabelCacheExpiryMins int              `json:"label_cache_expiry_minutes"`
	UseCacheFirst        bool             `json:"use_cache_first"`
	Language             string           `json:"language"`
	SyncIntervalMinutes  int              `json:"metadata_sync_interval_minutes"`
	MaxMemoryCacheSize   int              `json:"max_memory_cache_size"`
}

// ToClientConfig converts a stored Profile into the typed record the
// core consumes, deriving cache_dir the same way config.Load does when
// the profile didn't pin one explicitly.
func (p Profile) ToClientConfig() *config.ClientConfig {
	cacheDir := p.CacheDir
	if cacheDir == "" {
		cacheDir = defaultCacheDirFor(p.BaseURL)
	}
	return &config.ClientConfig{
		BaseURL:              p.BaseURL,
		AuthMode:             p.AuthMode,
		ClientID:             p.ClientID,
		ClientSecret:         p.ClientSecret,
		TenantID:             p.TenantID,
		VerifySSL:            p.VerifySSL,
		Timeout:              time.Duration(p.TimeoutSeconds) * time.Second,
		CacheDir:             cacheDir,
		UseLabelCache:        p.UseLabelCache,
		LabelCacheExpiry:     time.Duration(p.LabelCacheExpiryMins) * time.Minute,
		UseCacheFirst:        p.UseCacheFirst,
		Language:             p.Language,
		MetadataSyncInterval: time.Duration(p.SyncIntervalMinutes) * time.Minute,
		MaxMemoryCacheSize:   p.MaxMemoryCacheSize,
	}
}

func defaultCacheDirFor(baseURL string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	host := "default"
	if baseURL != "" {
		trimmed := strings.TrimPrefix(strings.TrimPrefix(baseURL, "https://"), "http://")
		if trimmed != "" {
			host = strings.SplitN(trimmed, "/", 2)[0]
		}
	}
	return filepath.Join(home, ".d365fo-client-go", host)
}

// Store persists Profiles as one JSON file per profile under dir,
// plus a default.txt pointer naming the active default profile.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// DefaultDir resolves the profile directory: $D365FO_CONFIG_DIR/profiles
// if set, otherwise $XDG_CONFIG_HOME/d365fo-client/profiles, otherwise
// ~/.config/d365fo-client/profiles.
func DefaultDir() string {
	if dir := os.Getenv("D365FO_CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, "profiles")
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "d365fo-client", "profiles")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "d365fo-client", "profiles")
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *Store) Save(p Profile) error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if err := os.WriteFile(s.path(p.Name), raw, 0o600); err != nil {
		return fmt.Errorf("write profile %s: %w", p.Name, err)
	}
	return nil
}

func (s *Store) Load(name string) (Profile, error) {
	raw, err := os.ReadFile(s.path(name))
	if err != nil {
		return Profile{}, fmt.Errorf("read profile %s: %w", name, err)
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile %s: %w", name, err)
	}
	return p, nil
}

func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	return names, nil
}

func (s *Store) Delete(name string) error {
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete profile %s: %w", name, err)
	}
	return nil
}

func (s *Store) defaultPointerPath() string {
	return filepath.Join(s.dir, "default.txt")
}

func (s *Store) Default() (string, bool) {
	raw, err := os.ReadFile(s.defaultPointerPath())
	if err != nil {
		return "", false
	}
	name := strings.TrimSpace(string(raw))
	if name == "" {
		return "", false
	}
	return name, true
}

func (s *Store) SetDefault(name string) error {
	if _, err := s.Load(name); err != nil {
		return err
	}
	return os.WriteFile(s.defaultPointerPath(), []byte(name), 0o600)
}

// Registry resolves profile names to ClientConfigs, falling back to
// the store's default profile when name is empty.
type Registry struct {
	store *Store
}

func NewRegistry(store *Store) *Registry {
	return &Registry{store: store}
}

func (r *Registry) Resolve(name string) (*config.ClientConfig, error) {
	if name == "" {
		def, ok := r.store.Default()
		if !ok {
			return nil, fmt.Errorf("no profile specified and no default profile is set")
		}
		name = def
	}
	p, err := r.store.Load(name)
	if err != nil {
		return nil, err
	}
	return p.ToClientConfig(), nil
}
