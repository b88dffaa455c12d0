// Package memstore implements a cost-bounded, keyed in-memory blob cache
// with approximate least-recently-used eviction. Every operation is
// serialized on a single command queue per spec.md §4.2/§5, so callers may
// invoke freely from any goroutine.
package memstore

import (
	"container/list"
	"context"

	"github.com/rosalind/webcache/cacheerr"
	"github.com/rosalind/webcache/policy"
	"github.com/rosalind/webcache/receiver"
	"github.com/rosalind/webcache/resource"
)

// DefaultCostLimit is the default total-cost bound (128 MiB) per spec.md §6.
const DefaultCostLimit int64 = 128 * 1024 * 1024

type entry struct {
	url     string
	storage resource.StorageInfo
	data    []byte
}

func (e entry) cost() int64 { return int64(len(e.data)) }

// Store is the bounded in-memory blob cache. Construct with New.
type Store struct {
	costLimit  int64
	countLimit int // 0 means unlimited

	cmds chan func()
	done chan struct{}

	index map[string]*list.Element // url -> element; order.Front() is least recently used
	order *list.List
	cost  int64
}

// New constructs a MemoryStore bounded by costLimit total payload bytes and
// an optional countLimit (0 = unlimited entry count). It starts the
// store's single serialized worker goroutine.
func New(costLimit int64, countLimit int) *Store {
	if costLimit <= 0 {
		costLimit = DefaultCostLimit
	}
	s := &Store{
		costLimit:  costLimit,
		countLimit: countLimit,
		cmds:       make(chan func()),
		done:       make(chan struct{}),
		index:      make(map[string]*list.Element),
		order:      list.New(),
	}
	go s.run()
	return s
}

func (s *Store) run() {
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case <-s.done:
			return
		}
	}
}

// Close stops the store's worker. The store must not be used afterward.
func (s *Store) Close() {
	close(s.done)
}

func (s *Store) enqueue(fn func()) {
	done := make(chan struct{})
	s.cmds <- func() {
		fn()
		close(done)
	}
	<-done
}

// Fetch looks up url and streams the requested slice to recv. hasLength
// false means "to the end of the blob". A miss or an expired entry
// (deleted as a side effect) drives OnInited then OnAborted(nil). A range
// that exceeds the stored blob aborts with cacheerr.ErrRangeInvalid.
func (s *Store) Fetch(ctx context.Context, url string, offset int64, hasLength bool, length int64, prog *receiver.Progress, recv receiver.Receiver) {
	recv.OnInited(nil, prog)

	var (
		info    resource.StorageInfo
		data    []byte
		ok      bool
		invalid bool
	)

	s.enqueue(func() {
		el, found := s.index[url]
		if !found {
			return
		}
		e := el.Value.(entry)
		if e.storage.Policy.IsExpired() {
			s.removeLocked(url)
			return
		}
		s.order.MoveToBack(el)

		start := offset
		n := length
		if !hasLength {
			n = int64(len(e.data)) - start
		}
		if start < 0 || n < 0 || start+n > int64(len(e.data)) {
			invalid = true
			return
		}
		info = e.storage
		data = e.data[start : start+n]
		ok = true
	})

	if invalid {
		recv.OnAborted(cacheerr.ErrRangeInvalid)
		return
	}
	if !ok {
		recv.OnAborted(nil)
		return
	}

	segLen := int64(len(data))
	if prog.Total() <= 0 {
		prog.SetTotal(segLen)
	}
	recv.OnStarted(info.Info, offset, receiver.Int64Ptr(segLen))
	if segLen > 0 {
		recv.OnData(data)
	}
	prog.SetCompleted(segLen)
	recv.OnFinished()
}

// Peek returns the stored metadata and byte count for url, or (zero value,
// 0, false) when absent.
func (s *Store) Peek(url string) (resource.StorageInfo, int64, bool) {
	var (
		info resource.StorageInfo
		n    int64
		ok   bool
	)
	s.enqueue(func() {
		el, found := s.index[url]
		if !found {
			return
		}
		e := el.Value.(entry)
		if e.storage.Policy.IsExpired() {
			s.removeLocked(url)
			return
		}
		info, n, ok = e.storage, int64(len(e.data)), true
	})
	return info, n, ok
}

// Store synchronously inserts (url, info, data). If info.Policy is
// expired, the entry is removed instead.
func (s *Store) Store(url string, info resource.StorageInfo, data []byte) {
	s.enqueue(func() {
		if info.Policy.IsExpired() {
			s.removeLocked(url)
			return
		}
		s.putLocked(url, info, data)
	})
}

// Put is the same unconditional synchronous insert as Store, exposed under
// the name layered.MutableStore requires so Cache.Store can bypass the
// partial-rejecting BufferSink NewStoreReceiver builds.
func (s *Store) Put(url string, info resource.StorageInfo, data []byte) {
	s.Store(url, info, data)
}

// NewStoreReceiver returns a BufferSink sized at 1/4 of the store's total
// cost limit, whose completion inserts (url, info, data) into the store
// iff progress was not cancelled and the buffer survived intact.
func (s *Store) NewStoreReceiver(url string, pol policy.Policy, prog *receiver.Progress) receiver.Receiver {
	return receiver.NewBufferSink(s.costLimit/4, false, func(buf *receiver.BufferSink) {
		if prog != nil && prog.Cancelled() {
			return
		}
		data := buf.Data()
		if data == nil {
			return
		}
		info := resource.StorageInfo{Info: buf.Info(), Policy: pol}
		s.Store(url, info, data)
	})
}

// Change mutates the stored StorageInfo's policy in place. An expired
// policy removes the entry instead, matching FileStore's change semantics.
func (s *Store) Change(url string, pol policy.Policy) {
	s.enqueue(func() {
		el, found := s.index[url]
		if !found {
			return
		}
		if pol.IsExpired() {
			s.removeLocked(url)
			return
		}
		e := el.Value.(entry)
		e.storage.Policy = pol
		el.Value = e
	})
}

// Remove deletes url if present.
func (s *Store) Remove(url string) {
	s.enqueue(func() { s.removeLocked(url) })
}

// RemoveExpired sweeps every entry whose policy has lapsed.
func (s *Store) RemoveExpired() {
	s.enqueue(func() {
		var expired []string
		for url, el := range s.index {
			if el.Value.(entry).storage.Policy.IsExpired() {
				expired = append(expired, url)
			}
		}
		for _, url := range expired {
			s.removeLocked(url)
		}
	})
}

// RemoveAll clears the store. The error return is always nil; it exists so
// Store satisfies the same MutableStore shape as filestore.Store, whose
// RemoveAll can fail on the underlying filesystem.
func (s *Store) RemoveAll() error {
	s.enqueue(func() {
		s.index = make(map[string]*list.Element)
		s.order.Init()
		s.cost = 0
	})
	return nil
}

// TotalCost reports the current sum of stored payload bytes. Exposed for
// the universal-invariant tests (spec.md §8 invariant 2).
func (s *Store) TotalCost() int64 {
	var cost int64
	s.enqueue(func() { cost = s.cost })
	return cost
}

func (s *Store) putLocked(url string, info resource.StorageInfo, data []byte) {
	s.removeLocked(url)
	e := entry{url: url, storage: info, data: data}
	el := s.order.PushBack(e)
	s.index[url] = el
	s.cost += e.cost()
	s.evictLocked()
}

func (s *Store) removeLocked(url string) {
	el, ok := s.index[url]
	if !ok {
		return
	}
	e := el.Value.(entry)
	s.cost -= e.cost()
	s.order.Remove(el)
	delete(s.index, url)
}

// evictLocked removes least-recently-used entries (front of order) until
// both bounds are satisfied. Ordering is approximate LRU, as licensed by
// spec.md §9's open question on eviction precision.
func (s *Store) evictLocked() {
	for s.cost > s.costLimit || (s.countLimit > 0 && len(s.index) > s.countLimit) {
		front := s.order.Front()
		if front == nil {
			break
		}
		e := front.Value.(entry)
		s.cost -= e.cost()
		s.order.Remove(front)
		delete(s.index, e.url)
	}
}
