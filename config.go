package overlayfs

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values. See [Config] for field descriptions.
const (
	DefaultCopyBufferSize = 32 * 1024
	DefaultCacheTTL       = time.Second
	DefaultCacheEntries   = defaultCacheEntries
)

// Config carries runtime configuration for an overlay instance. It exists
// for callers (the overlayctl CLI in particular) that prefer declarative
// configuration over functional options.
type Config struct {
	DeletionLogPath string        // Location of the deletion log on the writable layer (default "/.deleted")
	CopyBufferSize  int           // Buffer size for copy-on-write content copies (default 32KB)
	CacheEnabled    bool          // Whether merged-stat caching is on (default off)
	CacheTTL        time.Duration // Positive stat cache TTL (default 1s)
	NegativeTTL     time.Duration // Negative cache TTL (default CacheTTL/2)
	CacheEntries    int           // Stat cache capacity (default 1000)
}

// DefaultConfig returns the configuration an unconfigured overlay runs with.
func DefaultConfig() Config {
	return Config{
		DeletionLogPath: DefaultDeletionLogPath,
		CopyBufferSize:  DefaultCopyBufferSize,
		CacheTTL:        DefaultCacheTTL,
		NegativeTTL:     DefaultCacheTTL / 2,
		CacheEntries:    DefaultCacheEntries,
	}
}

// duration accepts the human-readable forms time.ParseDuration accepts
// ("5s", "1m30s") in YAML documents.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = duration(parsed)
	return nil
}

// ConfigOverride uses pointer fields to distinguish between unset and zero
// values when loading partial configuration files.
type ConfigOverride struct {
	DeletionLogPath *string   `yaml:"deletion_log_path,omitempty"`
	CopyBufferSize  *int      `yaml:"copy_buffer_size,omitempty"`
	CacheEnabled    *bool     `yaml:"cache_enabled,omitempty"`
	CacheTTL        *duration `yaml:"cache_ttl,omitempty"`
	NegativeTTL     *duration `yaml:"negative_ttl,omitempty"`
	CacheEntries    *int      `yaml:"cache_entries,omitempty"`
}

// Apply overlays the set fields of o onto c.
func (o *ConfigOverride) Apply(c *Config) {
	if o.DeletionLogPath != nil {
		c.DeletionLogPath = *o.DeletionLogPath
	}
	if o.CopyBufferSize != nil {
		c.CopyBufferSize = *o.CopyBufferSize
	}
	if o.CacheEnabled != nil {
		c.CacheEnabled = *o.CacheEnabled
	}
	if o.CacheTTL != nil {
		c.CacheTTL = time.Duration(*o.CacheTTL)
	}
	if o.NegativeTTL != nil {
		c.NegativeTTL = time.Duration(*o.NegativeTTL)
	}
	if o.CacheEntries != nil {
		c.CacheEntries = *o.CacheEntries
	}
}

// LoadConfig reads a YAML configuration file and overlays it onto the
// defaults. A missing path argument yields the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	var override ConfigOverride
	if err := yaml.Unmarshal(data, &override); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	override.Apply(&cfg)
	return cfg, nil
}

// Options translates the configuration into functional options for New.
func (c Config) Options() []Option {
	opts := []Option{
		WithDeletionLogPath(c.DeletionLogPath),
		WithCopyBufferSize(c.CopyBufferSize),
	}
	if c.CacheEnabled {
		opts = append(opts, WithCacheConfig(c.CacheTTL, c.NegativeTTL, c.CacheEntries))
	}
	return opts
}
