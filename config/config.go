// Package config provides loading and parsing of compleconta.yaml
// configuration files.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pythseq/compleconta"
	"github.com/pythseq/compleconta/lca"
	"github.com/pythseq/compleconta/search"
	"github.com/pythseq/compleconta/worker"
)

// FileName is the configuration file name looked up by Load and LoadFromDir.
const FileName = "compleconta.yaml"

// altFileName is accepted when FileName is absent.
const altFileName = "compleconta.yml"

// ErrNotFound is wrapped by LoadFromDir when no configuration file exists
// in the directory or any parent.
var ErrNotFound = errors.New("configuration file not found")

// Config represents a compleconta.yaml configuration file.
type Config struct {
	// TaxonomyDir holds names.dmp and nodes.dmp.
	TaxonomyDir string `yaml:"taxonomy_dir"`

	// DatabaseDir holds one <family>.fa search database per marker family.
	DatabaseDir string `yaml:"database_dir"`

	Consensus *ConsensusConfig `yaml:"consensus,omitempty"`
	Search    *SearchConfig    `yaml:"search,omitempty"`
	Cache     *CacheConfig     `yaml:"cache,omitempty"`
	Log       *LogConfig       `yaml:"log,omitempty"`
}

// ConsensusConfig holds the consensus parameters. Unset fields take the
// lca package defaults.
type ConsensusConfig struct {
	RankFloor         *int     `yaml:"rank_floor,omitempty"`
	MajorityThreshold *float64 `yaml:"majority_threshold,omitempty"`
}

// SearchConfig configures the candidate search.
type SearchConfig struct {
	// Binary is the blastp executable.
	// Default: "blastp"
	Binary string `yaml:"binary,omitempty"`

	ExtraArgs []string `yaml:"extra_args,omitempty"`

	// Concurrency is the number of families searched at once.
	// Default: 5
	Concurrency int `yaml:"concurrency,omitempty"`

	// Timeout bounds one family search.
	// Format: Go duration string (e.g., "10m")
	// Default: no timeout
	Timeout string `yaml:"timeout,omitempty"`

	// HitFilter is a CEL expression over tabular rows.
	HitFilter string `yaml:"hit_filter,omitempty"`

	ScratchDir string `yaml:"scratch_dir,omitempty"`
}

// CacheConfig configures the Redis candidate cache. The cache is disabled
// when RedisURL is empty.
type CacheConfig struct {
	RedisURL string `yaml:"redis_url,omitempty"`

	// TTL is the lifetime of cached entries.
	// Format: Go duration string (e.g., "168h")
	// Default: 168h
	TTL string `yaml:"ttl,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level,omitempty"`

	// Format is text or json.
	// Default: text
	Format string `yaml:"format,omitempty"`
}

const defaultCacheTTL = 7 * 24 * time.Hour

// Default returns an empty configuration; every getter yields its default.
func Default() *Config {
	return &Config{}
}

// GetConsensus returns the consensus parameters with defaults applied.
func (c *Config) GetConsensus() lca.Config {
	cfg := lca.DefaultConfig()
	if c == nil || c.Consensus == nil {
		return cfg
	}
	if c.Consensus.RankFloor != nil {
		cfg.RankFloor = *c.Consensus.RankFloor
	}
	if c.Consensus.MajorityThreshold != nil {
		cfg.MajorityThreshold = *c.Consensus.MajorityThreshold
	}
	return cfg
}

// GetBinary returns the search binary or the default value.
func (s *SearchConfig) GetBinary() string {
	if s == nil || s.Binary == "" {
		return search.DefaultBinary
	}
	return s.Binary
}

// GetConcurrency returns the configured concurrency or the default value.
func (s *SearchConfig) GetConcurrency() int {
	if s == nil || s.Concurrency <= 0 {
		return worker.DefaultConcurrency
	}
	return s.Concurrency
}

// GetTimeout parses the timeout string and returns a duration.
// Returns zero (no timeout) if not set or invalid.
func (s *SearchConfig) GetTimeout() time.Duration {
	if s == nil || s.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// BlastConfig assembles the search provider configuration. The hit filter
// is compiled here, so an invalid expression is reported as a
// configuration error.
func (s *SearchConfig) BlastConfig() (search.BlastConfig, error) {
	cfg := search.BlastConfig{
		Binary:      s.GetBinary(),
		Concurrency: s.GetConcurrency(),
		Timeout:     s.GetTimeout(),
	}
	if s == nil {
		return cfg, nil
	}
	cfg.ExtraArgs = s.ExtraArgs
	cfg.ScratchDir = s.ScratchDir
	if s.HitFilter != "" {
		f, err := search.NewHitFilter(s.HitFilter)
		if err != nil {
			return cfg, err
		}
		cfg.HitFilter = f
	}
	return cfg, nil
}

// Enabled reports whether a Redis cache is configured.
func (c *CacheConfig) Enabled() bool {
	return c != nil && c.RedisURL != ""
}

// GetTTL parses the TTL string and returns a duration.
// Returns the default value if not set or invalid.
func (c *CacheConfig) GetTTL() time.Duration {
	if c == nil || c.TTL == "" {
		return defaultCacheTTL
	}
	d, err := time.ParseDuration(c.TTL)
	if err != nil {
		return defaultCacheTTL
	}
	return d
}

// GetLevel returns the slog level, info by default.
func (l *LogConfig) GetLevel() slog.Level {
	if l == nil {
		return slog.LevelInfo
	}
	level, err := parseLevel(l.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// GetFormat returns "text" or "json".
func (l *LogConfig) GetFormat() string {
	if l == nil || l.Format == "" {
		return "text"
	}
	return strings.ToLower(l.Format)
}

func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

// Validate reports every invalid setting as a single configuration error.
func (c *Config) Validate() error {
	var errs []error

	if err := c.GetConsensus().Validate(); err != nil {
		errs = append(errs, err)
	}
	if s := c.Search; s != nil {
		if s.Concurrency < 0 {
			errs = append(errs, fmt.Errorf("search.concurrency must not be negative, got %d", s.Concurrency))
		}
		if s.Timeout != "" {
			if d, err := time.ParseDuration(s.Timeout); err != nil || d < 0 {
				errs = append(errs, fmt.Errorf("search.timeout %q is not a valid duration", s.Timeout))
			}
		}
		if s.HitFilter != "" {
			if _, err := search.NewHitFilter(s.HitFilter); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if cc := c.Cache; cc != nil && cc.TTL != "" {
		if d, err := time.ParseDuration(cc.TTL); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("cache.ttl %q is not a valid duration", cc.TTL))
		}
	}
	if l := c.Log; l != nil {
		if _, err := parseLevel(l.Level); err != nil {
			errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", l.Level))
		}
		if f := l.GetFormat(); f != "text" && f != "json" {
			errs = append(errs, fmt.Errorf("log.format %q is not text or json", l.Format))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return compleconta.NewConfigurationError("config.Validate",
		fmt.Errorf("%w: %w", compleconta.ErrInvalidConfig, errors.Join(errs...)))
}

// Load reads and parses a compleconta.yaml file from the given path.
// If the path is a directory, it looks for compleconta.yaml or
// compleconta.yml in that directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, compleconta.NewConfigurationError("config.Load", fmt.Errorf("failed to stat path: %w", err))
	}

	configPath := path
	if info.IsDir() {
		configPath, err = findInDir(path)
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, compleconta.NewConfigurationError("config.Load", fmt.Errorf("failed to read config file: %w", err))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, compleconta.NewConfigurationError("config.Load",
			fmt.Errorf("failed to parse %s: %w", configPath, err)).
			WithContext(map[string]any{"path": configPath})
	}

	cfg.resolvePaths(filepath.Dir(configPath))
	return &cfg, nil
}

func findInDir(dir string) (string, error) {
	for _, name := range []string{FileName, altFileName} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", compleconta.NewConfigurationError("config.Load",
		fmt.Errorf("no %s or %s found in %s", FileName, altFileName, dir))
}

// resolvePaths makes relative directories relative to the config file.
func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.TaxonomyDir = abs(c.TaxonomyDir)
	c.DatabaseDir = abs(c.DatabaseDir)
	if c.Search != nil {
		c.Search.ScratchDir = abs(c.Search.ScratchDir)
	}
}

// LoadFromDir searches for compleconta.yaml starting from the given
// directory and walking up to parent directories until found or root is
// reached.
func LoadFromDir(dir string) (*Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, compleconta.NewConfigurationError("config.LoadFromDir", fmt.Errorf("failed to get absolute path: %w", err))
	}

	for {
		if p, err := findInDir(absDir); err == nil {
			return Load(p)
		}

		parent := filepath.Dir(absDir)
		if parent == absDir {
			return nil, compleconta.NewConfigurationError("config.LoadFromDir",
				fmt.Errorf("%w: no %s in %s or parent directories", ErrNotFound, FileName, dir))
		}
		absDir = parent
	}
}
