package ingest

import (
	"embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/david/bid-finder/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed config/sources.yaml
var sourcesYAML embed.FS

const defaultSourceTimeout = 20 * time.Second

// FetchConfig defines HTTP fetching configuration for a source.
type FetchConfig struct {
	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty"` // Default: 20
	RateLimitRPS   float64 `yaml:"rate_limit_rps,omitempty"`  // Default: 1.0
	Burst          int     `yaml:"burst,omitempty"`
	MaxRetries     int     `yaml:"max_retries,omitempty"` // Default: 0, single attempt
	UserAgent      string  `yaml:"user_agent,omitempty"`
	Engine         string  `yaml:"engine,omitempty"` // "http" (default) or "colly"
}

// Timeout is the per-attempt deadline for one adapter call.
func (c FetchConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return defaultSourceTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SourceConfig defines a single solicitation source.
type SourceConfig struct {
	ID          models.PlatformID `yaml:"id"`
	Name        string            `yaml:"name"`
	BaseURL     string            `yaml:"base_url,omitempty"`
	APIKey      string            `yaml:"api_key,omitempty"`
	Disabled    bool              `yaml:"disabled,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Fetch       FetchConfig       `yaml:"fetch,omitempty"`
}

type sourcesFile struct {
	Sources []SourceConfig `yaml:"sources"`
}

// LoadSourceConfigs reads sources.yaml from path, or the embedded copy when
// path is empty. ${VAR} references are expanded from the environment.
func LoadSourceConfigs(path string) ([]SourceConfig, error) {
	var (
		data []byte
		err  error
	)
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = sourcesYAML.ReadFile("config/sources.yaml")
	}
	if err != nil {
		return nil, fmt.Errorf("reading sources config: %w", err)
	}
	return parseSourceConfigs(data)
}

func parseSourceConfigs(data []byte) ([]SourceConfig, error) {
	expanded := os.ExpandEnv(string(data))

	var file sourcesFile
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return nil, fmt.Errorf("parsing sources config: %w", err)
	}
	for i := range file.Sources {
		file.Sources[i].BaseURL = strings.TrimSpace(file.Sources[i].BaseURL)
		file.Sources[i].APIKey = strings.TrimSpace(file.Sources[i].APIKey)
	}
	return file.Sources, nil
}

// adapterFactory builds an adapter from its config and a fetcher.
type adapterFactory func(cfg SourceConfig, fetcher Fetcher) Adapter

// adapterFactories is the dispatch table. Adding a platform means writing its
// adapter and adding one line here.
var adapterFactories = map[models.PlatformID]adapterFactory{
	models.PlatformSAM:       func(cfg SourceConfig, f Fetcher) Adapter { return NewSAMAdapter(cfg, f) },
	models.PlatformFPDS:      func(cfg SourceConfig, f Fetcher) Adapter { return NewFPDSAdapter(cfg, f) },
	models.PlatformLocalBids: func(cfg SourceConfig, f Fetcher) Adapter { return NewLocalBidsAdapter(cfg, f) },
}

// KnownPlatform reports whether id has an adapter in the dispatch table.
func KnownPlatform(id models.PlatformID) bool {
	_, ok := adapterFactories[id]
	return ok
}

// DefaultFetcher is the production fetcher for a source: SSRF-safe client
// behind the source's rate limit.
func DefaultFetcher(cfg SourceConfig) Fetcher {
	var base Fetcher
	switch strings.ToLower(cfg.Fetch.Engine) {
	case "colly":
		f := NewCollyFetcher(cfg.Fetch.Timeout())
		if cfg.Fetch.UserAgent != "" {
			f.UserAgent = cfg.Fetch.UserAgent
		}
		base = f
	default:
		f := NewHTTPFetcher(cfg.Fetch.Timeout())
		if cfg.Fetch.UserAgent != "" {
			f.UserAgent = cfg.Fetch.UserAgent
		}
		base = f
	}
	return NewRateLimitedFetcher(base, cfg.Fetch.RateLimitRPS, cfg.Fetch.Burst)
}

type registryEntry struct {
	config  SourceConfig
	adapter Adapter
}

// PlatformInfo describes a registered platform for listings.
type PlatformInfo struct {
	ID          models.PlatformID `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Enabled     bool              `json:"enabled"`
	Configured  bool              `json:"configured"`
}

// Registry maps platform ids to adapters. It is populated once at startup and
// read concurrently afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[models.PlatformID]registryEntry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[models.PlatformID]registryEntry)}
}

// BuildRegistry instantiates an adapter for every configured source through
// the dispatch table. A config id without an adapter is an error so typos fail
// at startup. fetcherFor may be nil, in which case DefaultFetcher is used.
func BuildRegistry(configs []SourceConfig, fetcherFor func(SourceConfig) Fetcher) (*Registry, error) {
	if fetcherFor == nil {
		fetcherFor = DefaultFetcher
	}
	seen := make(map[models.PlatformID]bool, len(configs))
	for _, cfg := range configs {
		if !KnownPlatform(cfg.ID) {
			return nil, fmt.Errorf("unknown platform id in sources config: %q", cfg.ID)
		}
		if seen[cfg.ID] {
			return nil, fmt.Errorf("platform %q configured twice", cfg.ID)
		}
		seen[cfg.ID] = true
	}

	reg := NewRegistry()
	for _, cfg := range configs {
		reg.Register(cfg, adapterFactories[cfg.ID](cfg, fetcherFor(cfg)))
	}
	return reg, nil
}

// Register adds or replaces the adapter for cfg.ID.
func (r *Registry) Register(cfg SourceConfig, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[cfg.ID] = registryEntry{config: cfg, adapter: adapter}
}

// Resolve returns the adapter for id. Unknown and disabled ids get a no-op
// adapter and ok=false.
func (r *Registry) Resolve(id models.PlatformID) (adapter Adapter, cfg SourceConfig, ok bool) {
	r.mu.RLock()
	entry, found := r.entries[id]
	r.mu.RUnlock()

	if !found || entry.config.Disabled || entry.adapter == nil {
		return noopAdapter, SourceConfig{ID: id}, false
	}
	return entry.adapter, entry.config, true
}

// IDs lists the enabled platforms in stable order.
func (r *Registry) IDs() []models.PlatformID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]models.PlatformID, 0, len(r.entries))
	for id, entry := range r.entries {
		if !entry.config.Disabled {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) Platforms() []PlatformInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PlatformInfo, 0, len(r.entries))
	for id, entry := range r.entries {
		out = append(out, PlatformInfo{
			ID:          id,
			Name:        entry.config.Name,
			Description: entry.config.Description,
			Enabled:     !entry.config.Disabled,
			Configured:  isConfigured(entry.config),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// isConfigured mirrors each adapter's own "not configured" check.
func isConfigured(cfg SourceConfig) bool {
	switch cfg.ID {
	case models.PlatformSAM:
		return cfg.APIKey != ""
	case models.PlatformLocalBids:
		return cfg.BaseURL != ""
	default:
		return true
	}
}
