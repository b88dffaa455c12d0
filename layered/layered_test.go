package layered

import (
	"context"
	"sync"
	"testing"

	"github.com/rosalind/webcache/policy"
	"github.com/rosalind/webcache/receiver"
	"github.com/rosalind/webcache/resource"
)

// stubStore is a minimal in-memory MutableStore used to drive LayeredCache
// tests without pulling in memstore/filestore.
type stubStore struct {
	mu         sync.Mutex
	entries    map[string]stubEntry
	fetchCalls []string
}

type stubEntry struct {
	info resource.StorageInfo
	data []byte
}

func newStubStore() *stubStore { return &stubStore{entries: map[string]stubEntry{}} }

func (s *stubStore) Fetch(ctx context.Context, url string, offset int64, hasLength bool, length int64, prog *receiver.Progress, recv receiver.Receiver) {
	recv.OnInited(nil, prog)

	s.mu.Lock()
	s.fetchCalls = append(s.fetchCalls, url)
	e, ok := s.entries[url]
	s.mu.Unlock()

	if !ok {
		recv.OnAborted(nil)
		return
	}
	n := length
	if !hasLength {
		n = int64(len(e.data)) - offset
	}
	if offset < 0 || n < 0 || offset+n > int64(len(e.data)) {
		recv.OnAborted(nil)
		return
	}
	recv.OnStarted(e.info.Info, offset, receiver.Int64Ptr(n))
	if n > 0 {
		recv.OnData(e.data[offset : offset+n])
	}
	recv.OnFinished()
}

func (s *stubStore) Peek(url string) (resource.StorageInfo, int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[url]
	if !ok {
		return resource.StorageInfo{}, 0, false
	}
	return e.info, int64(len(e.data)), true
}

func (s *stubStore) put(url string, info resource.StorageInfo, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[url] = stubEntry{info: info, data: data}
}

func (s *stubStore) NewStoreReceiver(url string, pol policy.Policy, prog *receiver.Progress) receiver.Receiver {
	return &stubWriter{store: s, url: url, pol: pol}
}

func (s *stubStore) Put(url string, info resource.StorageInfo, data []byte) {
	s.put(url, info, data)
}

func (s *stubStore) Change(url string, pol policy.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[url]; ok {
		e.info.Policy = pol
		s.entries[url] = e
	}
}

func (s *stubStore) Remove(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, url)
}

func (s *stubStore) RemoveExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for url, e := range s.entries {
		if e.info.Policy.IsExpired() {
			delete(s.entries, url)
		}
	}
}

func (s *stubStore) RemoveAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = map[string]stubEntry{}
	return nil
}

type stubWriter struct {
	store *stubStore
	url   string
	pol   policy.Policy
	info  resource.Info
	data  []byte
}

func (w *stubWriter) OnInited(any, *receiver.Progress)                    {}
func (w *stubWriter) OnStarted(info resource.Info, offset int64, l *int64) { w.info = info }
func (w *stubWriter) OnData(chunk []byte)                                 { w.data = append(w.data, chunk...) }
func (w *stubWriter) OnFinished() {
	w.store.put(w.url, resource.StorageInfo{Info: w.info, Policy: w.pol}, w.data)
}
func (w *stubWriter) OnAborted(error) {}

// stubSource is a read-only Source (stands in for Fetcher) that records
// what it was asked to fetch.
type stubSource struct {
	mu      sync.Mutex
	data    map[string][]byte
	info    map[string]resource.Info
	missing map[string]bool

	lastOffset    int64
	lastHasLength bool
	lastLength    int64
	fetchCalls    []string
}

func newStubSource() *stubSource {
	return &stubSource{data: map[string][]byte{}, info: map[string]resource.Info{}, missing: map[string]bool{}}
}

func (s *stubSource) Fetch(ctx context.Context, url string, offset int64, hasLength bool, length int64, prog *receiver.Progress, recv receiver.Receiver) {
	recv.OnInited(nil, prog)

	s.mu.Lock()
	s.fetchCalls = append(s.fetchCalls, url)
	s.lastOffset, s.lastHasLength, s.lastLength = offset, hasLength, length
	miss := s.missing[url]
	body := s.data[url]
	info := s.info[url]
	s.mu.Unlock()

	if miss {
		recv.OnAborted(nil)
		return
	}
	n := length
	if !hasLength {
		n = int64(len(body)) - offset
	}
	recv.OnStarted(info, offset, receiver.Int64Ptr(n))
	if n > 0 {
		recv.OnData(body[offset : offset+n])
	}
	recv.OnFinished()
}

type capture struct {
	chunks   [][]byte
	aborted  bool
	abortErr error
	finished bool
}

func (c *capture) OnInited(any, *receiver.Progress)               {}
func (c *capture) OnStarted(resource.Info, int64, *int64)         {}
func (c *capture) OnData(chunk []byte)                            { c.chunks = append(c.chunks, chunk) }
func (c *capture) OnFinished()                                    { c.finished = true }
func (c *capture) OnAborted(err error)                            { c.aborted, c.abortErr = true, err }

func (c *capture) bytes() []byte {
	var out []byte
	for _, ch := range c.chunks {
		out = append(out, ch...)
	}
	return out
}

func TestFetchTriesStoreThenSourceOnMiss(t *testing.T) {
	store := newStubStore()
	source := newStubSource()
	source.data["u"] = []byte("from source")
	source.info["u"] = resource.New()

	c := New(store).Connect(source)

	rec := &capture{}
	c.Fetch(context.Background(), "u", 0, false, 0, policy.Keep(), receiver.NewProgress(), rec)

	if string(rec.bytes()) != "from source" {
		t.Fatalf("unexpected body: %q", rec.bytes())
	}
	if len(store.fetchCalls) != 1 || len(source.fetchCalls) != 1 {
		t.Fatalf("expected exactly one store miss then one source fetch, got store=%v source=%v", store.fetchCalls, source.fetchCalls)
	}

	if _, _, ok := store.Peek("u"); !ok {
		t.Fatalf("expected the source's response to be teed into the store")
	}
}

func TestFetchUpdatePolicyTriesSourceFirst(t *testing.T) {
	store := newStubStore()
	store.put("u", resource.StorageInfo{Info: resource.New(), Policy: policy.Keep()}, []byte("stale"))
	source := newStubSource()
	source.data["u"] = []byte("fresh")
	source.info["u"] = resource.New()

	c := New(store).Connect(source)

	rec := &capture{}
	c.Fetch(context.Background(), "u", 0, false, 0, policy.Update(), receiver.NewProgress(), rec)

	if string(rec.bytes()) != "fresh" {
		t.Fatalf("update policy should prefer the source, got %q", rec.bytes())
	}
	if len(store.fetchCalls) != 0 {
		t.Fatalf("store should not be consulted when the source succeeds under an update policy")
	}
}

func TestFetchMissEverywhereAbortsWithNilError(t *testing.T) {
	c := New(newStubStore()).Connect(newStubSource())

	rec := &capture{}
	c.Fetch(context.Background(), "nope", 0, false, 0, policy.Keep(), receiver.NewProgress(), rec)

	if !rec.aborted || rec.abortErr != nil {
		t.Fatalf("expected a nil-error abort on a double miss, got aborted=%v err=%v", rec.aborted, rec.abortErr)
	}
}

func TestPeekFallsThroughToSourceStore(t *testing.T) {
	store := newStubStore()
	sourceStore := newStubStore()
	sourceStore.put("u", resource.StorageInfo{Info: resource.New(), Policy: policy.Keep()}, []byte("data"))

	c := New(store).Connect(sourceStore)

	info, n, ok := c.Peek("u")
	if !ok || n != 4 {
		t.Fatalf("expected Peek to fall through to the source store, got info=%+v n=%d ok=%v", info, n, ok)
	}
}

func TestStoreAcceptsInfoWithUnknownLength(t *testing.T) {
	store := newStubStore()
	c := New(store)

	info := resource.New()
	info.HasLength = false
	c.Store("u", info, policy.Keep(), []byte("hello"))

	stored, n, ok := c.Peek("u")
	if !ok || n != 5 {
		t.Fatalf("expected an unsized Info to be stored via Put, got stored=%+v n=%d ok=%v", stored, n, ok)
	}
}

func TestPrefetchAlreadyCompleteSkipsSource(t *testing.T) {
	store := newStubStore()
	info := resource.New()
	info.HasLength = true
	info.TotalLength = 4
	store.put("u", resource.StorageInfo{Info: info, Policy: policy.Keep()}, []byte("data"))
	source := newStubSource()

	c := New(store).Connect(source)
	prog := receiver.NewProgress()

	var success bool
	var gotErr error
	c.Prefetch(context.Background(), "u", policy.Keep(), prog, func(s bool, err error) { success, gotErr = s, err })

	if !success || gotErr != nil {
		t.Fatalf("expected prefetch to report success without consulting the source, got success=%v err=%v", success, gotErr)
	}
	if len(source.fetchCalls) != 0 {
		t.Fatalf("expected no source fetch for an already-complete entry")
	}
	if prog.Completed() != 4 {
		t.Fatalf("expected progress to be marked complete, got %d", prog.Completed())
	}
}

func TestPrefetchResumesWithMarginFromCurrentLength(t *testing.T) {
	store := newStubStore()
	info := resource.New()
	info.HasLength = true
	info.TotalLength = 10000
	store.put("u", resource.StorageInfo{Info: info, Policy: policy.Keep()}, make([]byte, 5000))

	source := newStubSource()
	source.data["u"] = make([]byte, 10000)
	source.info["u"] = resource.New()

	c := New(store).Connect(source)

	var success bool
	c.Prefetch(context.Background(), "u", policy.Keep(), receiver.NewProgress(), func(s bool, err error) { success = s })

	if !success {
		t.Fatalf("expected prefetch to succeed")
	}
	if source.lastOffset != 5000-4096 || !source.lastHasLength || source.lastLength != 10000-(5000-4096) {
		t.Fatalf("unexpected resume range: offset=%d hasLength=%v length=%d", source.lastOffset, source.lastHasLength, source.lastLength)
	}
}

func TestRemoveFansOutToBothTiers(t *testing.T) {
	store := newStubStore()
	store.put("u", resource.StorageInfo{Info: resource.New(), Policy: policy.Keep()}, []byte("x"))
	source := newStubStore()
	source.put("u", resource.StorageInfo{Info: resource.New(), Policy: policy.Keep()}, []byte("y"))

	c := New(store).Connect(source)

	c.Remove("u")
	if _, _, ok := store.Peek("u"); ok {
		t.Fatalf("expected Remove to fan out to the store")
	}
	if _, _, ok := source.Peek("u"); ok {
		t.Fatalf("expected Remove to fan out to the source")
	}
}

func TestConnectChainsThroughNestedCache(t *testing.T) {
	top := newStubStore()
	mid := newStubStore()
	bottom := newStubSource()
	bottom.data["u"] = []byte("bottom")
	bottom.info["u"] = resource.New()

	c := New(top).Connect(mid).Connect(bottom)

	rec := &capture{}
	c.Fetch(context.Background(), "u", 0, false, 0, policy.Keep(), receiver.NewProgress(), rec)

	if string(rec.bytes()) != "bottom" {
		t.Fatalf("expected Connect to chain top -> mid -> bottom, got %q", rec.bytes())
	}
	if len(top.fetchCalls) != 1 || len(mid.fetchCalls) != 1 || len(bottom.fetchCalls) != 1 {
		t.Fatalf("expected every tier to be tried exactly once: top=%v mid=%v bottom=%v", top.fetchCalls, mid.fetchCalls, bottom.fetchCalls)
	}
}
