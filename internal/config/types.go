package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rosalind/webcache/policy"
)

// Duration accepts both a Go duration string ("30s") and a bare integer
// number of seconds when decoded from TOML.
type Duration time.Duration

// UnmarshalText lets viper decode "30s", "5m", or a plain integer-seconds
// literal into a Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue returns the underlying time.Duration.
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig holds the process-wide settings shared by every group: the
// demo webserver's listen address, FileStore/MemoryStore bounds, the
// default CachePolicy new entries inherit, upstream retry tuning, and
// logging.
type GlobalConfig struct {
	ListenAddress      string   `mapstructure:"ListenAddress"`
	LogLevel           string   `mapstructure:"LogLevel"`
	LogFilePath        string   `mapstructure:"LogFilePath"`
	LogMaxSize         int      `mapstructure:"LogMaxSize"`
	LogMaxBackups      int      `mapstructure:"LogMaxBackups"`
	LogCompress        bool     `mapstructure:"LogCompress"`
	StoragePath        string   `mapstructure:"StoragePath"`
	MaxMemoryCacheSize int64    `mapstructure:"MaxMemoryCacheSize"`
	MaxMemoryEntries   int      `mapstructure:"MaxMemoryEntries"`
	DefaultCachePolicy string   `mapstructure:"DefaultCachePolicy"`
	UpstreamTimeout    Duration `mapstructure:"UpstreamTimeout"`
	MaxRetries         int      `mapstructure:"MaxRetries"`
	InitialBackoff     Duration `mapstructure:"InitialBackoff"`
	SweepInterval      Duration `mapstructure:"SweepInterval"`
}

// DefaultPolicy decodes DefaultCachePolicy using the same wire encoding
// FileStore sidecars and LayeredCache.Change accept (keep/update/decimal
// seconds).
func (g GlobalConfig) DefaultPolicy() policy.Policy {
	return policy.Parse(g.DefaultCachePolicy)
}

// GroupConfig routes a URL prefix into its own FileStore subdirectory with
// its own inherited policy, mirroring spec.md §3's Group concept. The
// subdirectory itself is derived from Prefix by FileStore.AddGroup, not
// configured here — the same add_group(prefix, tag) contract the runtime
// calls on startup.
type GroupConfig struct {
	Prefix string `mapstructure:"Prefix"`
	Policy string `mapstructure:"Policy"`
}

// ResolvedPolicy decodes Policy using the CachePolicy wire encoding. An
// empty value decodes to Default, meaning "inherit GlobalConfig's policy".
func (g GroupConfig) ResolvedPolicy() policy.Policy {
	if strings.TrimSpace(g.Policy) == "" {
		return policy.Default()
	}
	return policy.Parse(g.Policy)
}

// Config is the TOML file's decoded shape.
type Config struct {
	Global GlobalConfig  `mapstructure:",squash"`
	Groups []GroupConfig `mapstructure:"Group"`
}

// GroupByPrefix returns the first configured group (in declaration order)
// whose Prefix matches url, or (zero value, false) when none does. This
// mirrors filestore's groupRegistry.Resolve, which routes by the same
// first-insertion-match rule (spec.md §3) — callers that want a more
// specific prefix to win ties must list it before the broader one.
func (c *Config) GroupByPrefix(url string) (GroupConfig, bool) {
	for _, g := range c.Groups {
		if g.Prefix == "" || !strings.HasPrefix(url, g.Prefix) {
			continue
		}
		return g, true
	}
	return GroupConfig{}, false
}
