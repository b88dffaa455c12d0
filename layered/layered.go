// Package layered implements the LayeredCache orchestrator from spec.md
// §4.5: a composite that pairs one Store with one optional Source, tries
// one before the other according to a CachePolicy, and fans mutation calls
// out across both. Both the store and the source may themselves be another
// Cache, letting callers build arbitrary chains such as Memory | File | HTTP.
package layered

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rosalind/webcache/policy"
	"github.com/rosalind/webcache/receiver"
	"github.com/rosalind/webcache/resource"
)

// Source is the narrowest capability: something that can stream a byte
// range to a Receiver. The Fetcher implements exactly this.
type Source interface {
	Fetch(ctx context.Context, url string, offset int64, hasLength bool, length int64, prog *receiver.Progress, recv receiver.Receiver)
}

// Store adds a cheap metadata peek to Source. MemoryStore, FileStore, and
// Cache itself all implement this.
type Store interface {
	Source
	Peek(url string) (resource.StorageInfo, int64, bool)
}

// MutableStore is a Store that can also be written, mutated, and swept.
// MemoryStore and FileStore implement this; a Cache implements it too, so
// nested caches fan mutations down the chain.
type MutableStore interface {
	Store
	NewStoreReceiver(url string, pol policy.Policy, prog *receiver.Progress) receiver.Receiver
	// Put synchronously inserts (url, info, data), unconditionally — unlike
	// NewStoreReceiver's BufferSink path for MemoryStore, which rejects an
	// insert whose Info.HasLength is false.
	Put(url string, info resource.StorageInfo, data []byte)
	Change(url string, pol policy.Policy)
	Remove(url string)
	RemoveExpired()
	RemoveAll() error
}

// PrefetchCompletion reports the outcome of a Prefetch call.
type PrefetchCompletion func(success bool, err error)

// Cache is the LayeredCache orchestrator.
type Cache struct {
	store  Store
	source Source
	log    *logrus.Entry
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithLogger attaches a logger used for remove_all diagnostics (spec.md §4.5
// logs rather than raises removeAll failures).
func WithLogger(log *logrus.Entry) Option {
	return func(c *Cache) { c.log = log }
}

// New constructs a Cache over store, with no source connected yet.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{store: store, log: logrus.NewEntry(logrus.StandardLogger())}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect attaches next as this cache's source, building a chain: if a
// source is already connected and is itself a Cache, next is spliced onto
// the end of that chain; otherwise a new Cache is interposed so the
// existing source keeps serving as a store ahead of next. This
// is the non-operator stand-in for the fluent `Store | Source` composition
// spec.md describes — Go has no operator overloading, so Connect chains by
// method call instead (layered.New(mem).Connect(layered.New(file).Connect(http))).
func (c *Cache) Connect(next Source) *Cache {
	switch {
	case c.source == nil:
		c.source = next
	case isCache(c.source):
		c.source.(*Cache).Connect(next)
	default:
		if st, ok := c.source.(Store); ok {
			c.source = &Cache{store: st, source: next, log: c.log}
		} else {
			// The existing source has no Peek; it can only ever be terminal
			// (e.g. a bare Fetcher), so there is nothing to chain in front
			// of next — replace it outright.
			c.source = next
		}
	}
	return c
}

func isCache(s Source) bool {
	_, ok := s.(*Cache)
	return ok
}

// Fetch implements spec.md §4.5: policy == update tries the Source first
// and falls back to the Store; any other policy tries the Store first and
// falls back to the Source. Falling back to the Source additionally tees
// delivered bytes into the Store, if mutable, so served responses persist.
func (c *Cache) Fetch(ctx context.Context, url string, offset int64, hasLength bool, length int64, pol policy.Policy, prog *receiver.Progress, recv receiver.Receiver) {
	if prog == nil {
		prog = receiver.NewProgress()
	}

	primaryIsSource := pol.IsUpdate()

	runPrimary := func(target receiver.Receiver) {
		if primaryIsSource {
			c.runSource(ctx, url, offset, hasLength, length, pol, prog, target)
		} else {
			c.runStore(ctx, url, offset, hasLength, length, prog, target)
		}
	}
	runFallback := func(target receiver.Receiver) {
		if primaryIsSource {
			c.runStore(ctx, url, offset, hasLength, length, prog, target)
		} else {
			c.runSource(ctx, url, offset, hasLength, length, pol, prog, target)
		}
	}

	filter := receiver.NewFilter(recv, nil, func(success bool, err error, p *receiver.Progress) bool {
		if !success && err == nil && (p == nil || !p.Cancelled()) {
			runFallback(recv)
			return true
		}
		return false
	})
	runPrimary(filter)
}

// FetchBytes is the buffering convenience form of Fetch: it accumulates
// the whole delivered range in memory and returns it directly, or
// (zero, nil, false) on a miss, cancellation, or overflow.
func (c *Cache) FetchBytes(ctx context.Context, url string, offset int64, hasLength bool, length int64, pol policy.Policy, prog *receiver.Progress) (resource.Info, []byte, bool) {
	var (
		info resource.Info
		data []byte
		ok   bool
	)
	sink := receiver.NewBufferSink(maxBufferBytes, true, func(buf *receiver.BufferSink) {
		if buf.Dropped() {
			return
		}
		info, data, ok = buf.Info(), buf.Data(), true
	})
	c.Fetch(ctx, url, offset, hasLength, length, pol, prog, sink)
	return info, data, ok
}

// maxBufferBytes is FetchBytes's buffer ceiling: large enough that no
// realistic single resource trips it, while still bounding a pathological
// response.
const maxBufferBytes = 1 << 34 // 16 GiB

func (c *Cache) runStore(ctx context.Context, url string, offset int64, hasLength bool, length int64, prog *receiver.Progress, recv receiver.Receiver) {
	if c.store == nil {
		recv.OnInited(nil, prog)
		recv.OnAborted(nil)
		return
	}
	c.store.Fetch(ctx, url, offset, hasLength, length, prog, recv)
}

func (c *Cache) runSource(ctx context.Context, url string, offset int64, hasLength bool, length int64, pol policy.Policy, prog *receiver.Progress, recv receiver.Receiver) {
	target := recv
	if mut, ok := c.store.(MutableStore); ok {
		target = receiver.NewFilter(recv, mut.NewStoreReceiver(url, pol, prog), nil)
	}
	if c.source == nil {
		target.OnInited(nil, prog)
		target.OnAborted(nil)
		return
	}
	c.source.Fetch(ctx, url, offset, hasLength, length, prog, target)
}

// Peek delegates to the inner Store, falling through to the Source when it
// is itself a Store (e.g. a nested Cache).
func (c *Cache) Peek(url string) (resource.StorageInfo, int64, bool) {
	if c.store != nil {
		if info, n, ok := c.store.Peek(url); ok {
			return info, n, ok
		}
	}
	if st, ok := c.source.(Store); ok {
		return st.Peek(url)
	}
	return resource.StorageInfo{}, 0, false
}

// Prefetch warms the Store without delivering bytes to a caller. An update
// policy always re-fetches from the Source; otherwise a resume offset is
// computed from what is already present (rewinding 4 KiB to cover a
// possibly-truncated tail) and only the missing suffix is fetched.
func (c *Cache) Prefetch(ctx context.Context, url string, pol policy.Policy, prog *receiver.Progress, completion PrefetchCompletion) {
	if prog == nil {
		prog = receiver.NewProgress()
	}

	if pol.IsUpdate() {
		c.prefetchFromSource(ctx, url, 0, false, 0, pol, prog, completion)
		return
	}

	info, currentLength, ok := c.Peek(url)
	if ok && info.HasLength && currentLength == info.TotalLength {
		prog.AddCompleted(currentLength)
		if completion != nil {
			completion(true, nil)
		}
		return
	}

	if !ok || !info.HasLength {
		c.prefetchFromSource(ctx, url, 0, false, 0, pol, prog, completion)
		return
	}

	offset := currentLength - prefetchResumeMargin
	if offset < 0 {
		offset = 0
	}
	length := info.TotalLength - offset
	c.prefetchFromSource(ctx, url, offset, true, length, pol, prog, completion)
}

// prefetchResumeMargin rewinds a resumed prefetch by 4 KiB to cover a tail
// that may have been truncated by a prior interrupted write.
const prefetchResumeMargin = 4096

func (c *Cache) prefetchFromSource(ctx context.Context, url string, offset int64, hasLength bool, length int64, pol policy.Policy, prog *receiver.Progress, completion PrefetchCompletion) {
	c.runSource(ctx, url, offset, hasLength, length, pol, prog, &completionReceiver{onDone: completion})
}

// Store directly inserts (info, data) under url into the inner Store,
// bypassing any Source, for callers that already hold the bytes. It routes
// through the inner Store's Put rather than its NewStoreReceiver so an
// Info with HasLength false — a legitimate "total length unknown" insert —
// is not silently dropped by a partial-rejecting BufferSink.
func (c *Cache) Store(url string, info resource.Info, pol policy.Policy, data []byte) {
	mut, ok := c.store.(MutableStore)
	if !ok {
		return
	}
	mut.Put(url, resource.StorageInfo{Info: info, Policy: pol}, data)
}

// Put implements MutableStore so a Cache nested as another Cache's store
// keeps forwarding synchronous inserts down the chain.
func (c *Cache) Put(url string, info resource.StorageInfo, data []byte) {
	mut, ok := c.store.(MutableStore)
	if !ok {
		return
	}
	mut.Put(url, info, data)
}

// Change, Remove, and RemoveExpired fan out to both the inner Store and the
// Source, whichever are mutable.
func (c *Cache) Change(url string, pol policy.Policy) {
	if mut, ok := c.store.(MutableStore); ok {
		mut.Change(url, pol)
	}
	if mut, ok := c.source.(MutableStore); ok {
		mut.Change(url, pol)
	}
}

func (c *Cache) Remove(url string) {
	if mut, ok := c.store.(MutableStore); ok {
		mut.Remove(url)
	}
	if mut, ok := c.source.(MutableStore); ok {
		mut.Remove(url)
	}
}

func (c *Cache) RemoveExpired() {
	if mut, ok := c.store.(MutableStore); ok {
		mut.RemoveExpired()
	}
	if mut, ok := c.source.(MutableStore); ok {
		mut.RemoveExpired()
	}
}

// RemoveAll fans out to both tiers, logging any failure. It returns the
// first error encountered so Cache itself satisfies MutableStore for
// nested chains; the webcache façade discards it, since spec.md §4.5 says
// remove_all failures are logged, never raised to the library caller.
func (c *Cache) RemoveAll() error {
	var firstErr error
	if mut, ok := c.store.(MutableStore); ok {
		if err := mut.RemoveAll(); err != nil {
			c.log.WithError(err).Warn("layered: store remove_all failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if mut, ok := c.source.(MutableStore); ok {
		if err := mut.RemoveAll(); err != nil {
			c.log.WithError(err).Warn("layered: source remove_all failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// NewStoreReceiver lets a Cache itself act as a MutableStore for nested
// chains: writing to a composite cache means writing to its own inner
// store. If that store isn't mutable, writes are silently discarded.
func (c *Cache) NewStoreReceiver(url string, pol policy.Policy, prog *receiver.Progress) receiver.Receiver {
	if mut, ok := c.store.(MutableStore); ok {
		return mut.NewStoreReceiver(url, pol, prog)
	}
	return discardReceiver{}
}

// discardReceiver implements Receiver by ignoring every call.
type discardReceiver struct{}

func (discardReceiver) OnInited(any, *receiver.Progress)       {}
func (discardReceiver) OnStarted(resource.Info, int64, *int64) {}
func (discardReceiver) OnData([]byte)                          {}
func (discardReceiver) OnFinished()                            {}
func (discardReceiver) OnAborted(error)                        {}

// completionReceiver discards delivered bytes and reports only the
// terminal outcome, for Prefetch and any other caller that only cares
// whether a fetch populated the Store.
type completionReceiver struct {
	onDone func(success bool, err error)
	done   bool
}

func (r *completionReceiver) OnInited(any, *receiver.Progress)        {}
func (r *completionReceiver) OnStarted(resource.Info, int64, *int64)  {}
func (r *completionReceiver) OnData([]byte)                           {}
func (r *completionReceiver) OnFinished()                             { r.finish(true, nil) }
func (r *completionReceiver) OnAborted(err error)                     { r.finish(false, err) }

func (r *completionReceiver) finish(success bool, err error) {
	if r.done {
		return
	}
	r.done = true
	if r.onDone != nil {
		r.onDone(success, err)
	}
}
