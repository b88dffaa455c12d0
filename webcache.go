// Package webcache is the embeddable entry point described in SPEC_FULL.md:
// a Memory | File | HTTP LayeredCache chain wired from a GlobalConfig, with
// group routing applied to the FileStore tier. cmd/webcached wraps this
// package with a CLI and a demo webserver; any other Go program can import
// it directly.
package webcache

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rosalind/webcache/fetcher"
	"github.com/rosalind/webcache/filestore"
	"github.com/rosalind/webcache/internal/config"
	"github.com/rosalind/webcache/layered"
	"github.com/rosalind/webcache/memstore"
	"github.com/rosalind/webcache/policy"
	"github.com/rosalind/webcache/receiver"
	"github.com/rosalind/webcache/resource"
)

// Cache is a ready-to-use Memory | File | HTTP LayeredCache, plus the
// MemoryStore's background worker that Close shuts down.
type Cache struct {
	chain   *layered.Cache
	mem     *memstore.Store
	file    *filestore.Store
	fetcher *fetcher.Fetcher
	cfg     *config.Config
}

// Open builds the three-tier chain from cfg: MemoryStore backed by
// FileStore backed by a Fetcher against the network. FileStore groups are
// registered from cfg.Groups in declaration order, and both FileStore's
// routing and resolvePolicy's lookup resolve ties the same way: the first
// matching Prefix wins, so a more specific Prefix must be listed before a
// broader one to take precedence.
func Open(cfg *config.Config, log *logrus.Entry) (*Cache, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	mem := memstore.New(cfg.Global.MaxMemoryCacheSize, cfg.Global.MaxMemoryEntries)

	file, err := filestore.New(cfg.Global.StoragePath, filestore.WithLogger(log))
	if err != nil {
		mem.Close()
		return nil, fmt.Errorf("opening file store: %w", err)
	}
	for _, g := range cfg.Groups {
		file.AddGroup(g.Prefix, map[string]any{"policy": g.ResolvedPolicy()})
	}

	client := fetcher.NewClient(cfg.Global.UpstreamTimeout.DurationValue())
	fetch := fetcher.New(client, fetcher.WithRetry(cfg.Global.MaxRetries, cfg.Global.InitialBackoff.DurationValue()))

	fileTier := layered.New(file, layered.WithLogger(log)).Connect(fetch)
	memTier := layered.New(mem, layered.WithLogger(log)).Connect(fileTier)

	return &Cache{chain: memTier, mem: mem, file: file, fetcher: fetch, cfg: cfg}, nil
}

// Close releases the MemoryStore's background worker. The FileStore and
// Fetcher own no goroutines and need no teardown.
func (c *Cache) Close() {
	c.mem.Close()
}

// resolvePolicy applies cfg's per-group override, falling back to the
// global default, when the caller passes policy.Default().
func (c *Cache) resolvePolicy(url string, pol policy.Policy) policy.Policy {
	if !pol.IsDefault() {
		return pol
	}
	if g, ok := c.cfg.GroupByPrefix(url); ok && !g.ResolvedPolicy().IsDefault() {
		return g.ResolvedPolicy()
	}
	return c.cfg.Global.DefaultPolicy()
}

// Fetch streams url starting at offset to recv, trying MemoryStore, then
// FileStore, then the network, according to pol.
func (c *Cache) Fetch(ctx context.Context, url string, offset int64, hasLength bool, length int64, pol policy.Policy, prog *receiver.Progress, recv receiver.Receiver) {
	c.chain.Fetch(ctx, url, offset, hasLength, length, c.resolvePolicy(url, pol), prog, recv)
}

// FetchBytes is Fetch buffered into a single byte slice, for callers who
// don't need incremental delivery.
func (c *Cache) FetchBytes(ctx context.Context, url string, offset int64, hasLength bool, length int64, pol policy.Policy, prog *receiver.Progress) (resource.Info, []byte, bool) {
	return c.chain.FetchBytes(ctx, url, offset, hasLength, length, c.resolvePolicy(url, pol), prog)
}

// Peek reports cached metadata and length for url without touching the
// network, checking MemoryStore then FileStore.
func (c *Cache) Peek(url string) (resource.StorageInfo, int64, bool) {
	return c.chain.Peek(url)
}

// Prefetch warms the cache for url without delivering bytes to the caller,
// resuming from whatever the tiers already hold. It runs synchronously and
// calls completion before returning.
func (c *Cache) Prefetch(ctx context.Context, url string, pol policy.Policy, prog *receiver.Progress, completion layered.PrefetchCompletion) {
	c.chain.Prefetch(ctx, url, c.resolvePolicy(url, pol), prog, completion)
}

// Store inserts data directly into the cache's top tier without touching
// the network.
func (c *Cache) Store(url string, info resource.Info, pol policy.Policy, data []byte) {
	c.chain.Store(url, info, c.resolvePolicy(url, pol), data)
}

// Change rewrites url's CachePolicy in every tier that holds it.
func (c *Cache) Change(url string, pol policy.Policy) {
	c.chain.Change(url, pol)
}

// Remove deletes url from every tier.
func (c *Cache) Remove(url string) {
	c.chain.Remove(url)
}

// RemoveExpired sweeps every tier for entries whose CachePolicy has
// expired.
func (c *Cache) RemoveExpired() {
	c.chain.RemoveExpired()
}

// RemoveAll empties every tier. Failures are logged by the underlying
// tiers and not surfaced here, matching SPEC_FULL.md's remove_all
// semantics: a library caller never has to handle a partial wipe.
func (c *Cache) RemoveAll() {
	if err := c.chain.RemoveAll(); err != nil {
		logrus.WithError(err).Warn("webcache: remove_all encountered an error")
	}
}

// RemoveGroup deletes a FileStore group's subtree, registered earlier
// either from cfg.Groups or a later AddGroup call.
func (c *Cache) RemoveGroup(prefix string) error {
	return c.file.RemoveGroup(prefix)
}

// AddGroup registers (or replaces) a FileStore group at runtime, beyond
// whatever cfg.Groups configured at Open time.
func (c *Cache) AddGroup(prefix string, pol policy.Policy) {
	c.file.AddGroup(prefix, map[string]any{"policy": pol})
}
