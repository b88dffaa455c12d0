package config

import (
	"errors"
	"strings"
)

// Validate checks field ranges and non-emptiness beyond what decoding
// already guarantees, returning a FieldError a CLI can report directly.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	g := c.Global
	if strings.TrimSpace(g.ListenAddress) == "" {
		return newFieldError("Global.ListenAddress", "must not be empty")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "must not be empty")
	}
	if g.MaxMemoryCacheSize <= 0 {
		return newFieldError("Global.MaxMemoryCacheSize", "must be greater than 0")
	}
	if g.MaxMemoryEntries < 0 {
		return newFieldError("Global.MaxMemoryEntries", "must not be negative")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "must not be negative")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "must be greater than 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "must be greater than 0")
	}
	if g.SweepInterval.DurationValue() <= 0 {
		return newFieldError("Global.SweepInterval", "must be greater than 0")
	}

	seenPrefixes := map[string]struct{}{}
	for i := range c.Groups {
		group := &c.Groups[i]
		if group.Prefix == "" {
			return newFieldError("Group[].Prefix", "must not be empty")
		}
		if _, exists := seenPrefixes[group.Prefix]; exists {
			return newFieldError(groupField(group.Prefix, "Prefix"), "duplicate")
		}
		seenPrefixes[group.Prefix] = struct{}{}
	}

	return nil
}
