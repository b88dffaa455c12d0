// Package filestore implements the sidecar-metadata, disk-resident blob
// cache described by spec.md §4.3: payloads are plain files named by the
// MD5 hash of their URL (optionally routed into a Group subdirectory), with
// a StorageInfo sidecar carried as an extended attribute where supported
// and a sibling ".meta" file otherwise.
package filestore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rosalind/webcache/policy"
	"github.com/rosalind/webcache/receiver"
	"github.com/rosalind/webcache/resource"
)

const (
	readChunkSize = 64 * 1024

	writeQueueDepth   = 4
	writeQueueTimeout = time.Second
)

// Store is the disk-resident blob cache. Construct with New.
type Store struct {
	basePath string
	adapter  Adapter
	groups   *groupRegistry
	log      *logrus.Entry
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger attaches a logger to the Store. No Store operation currently
// writes to it; sweep and decode failures are handled silently.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Store) { s.log = log }
}

// New constructs a FileStore rooted at basePath, creating it if necessary,
// and probes the filesystem to pick between the xattr and sibling-file
// sidecar implementations.
func New(basePath string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	s := &Store{
		basePath: basePath,
		adapter:  newFSAdapter(basePath),
		groups:   newGroupRegistry(basePath),
		log:      logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Fetch streams the requested byte range of url to recv. hasLength false
// means "to the end of the blob". A miss, an expired sidecar, or a partial
// range not yet available all drive OnInited then OnAborted(nil) — FileStore
// never distinguishes these cases from the caller's perspective, so a
// LayeredCache can fall through to its Source uniformly.
func (s *Store) Fetch(ctx context.Context, url string, offset int64, hasLength bool, length int64, prog *receiver.Progress, recv receiver.Receiver) {
	recv.OnInited(nil, prog)

	rp := s.resolve(url)
	result, err := s.adapter.OpenInput(rp.payload, offset, hasLength, length)
	if err != nil {
		recv.OnAborted(err)
		return
	}
	if !result.Found {
		recv.OnAborted(nil)
		return
	}

	if prog != nil && prog.Total() <= 0 && result.Info.HasLength {
		prog.SetTotal(result.Info.TotalLength)
	}

	if result.Null {
		recv.OnStarted(result.Info.Info, offset, receiver.Int64Ptr(0))
		recv.OnFinished()
		return
	}
	defer result.Reader.Close()

	recv.OnStarted(result.Info.Info, offset, receiver.Int64Ptr(result.SegmentLength))

	buf := make([]byte, readChunkSize)
	var sent int64
	for sent < result.SegmentLength {
		if prog != nil && prog.Cancelled() {
			recv.OnAborted(nil)
			return
		}
		select {
		case <-ctx.Done():
			recv.OnAborted(nil)
			return
		default:
		}

		want := int64(len(buf))
		if remaining := result.SegmentLength - sent; remaining < want {
			want = remaining
		}
		n, rerr := result.Reader.Read(buf[:want])
		if n > 0 {
			recv.OnData(buf[:n])
			sent += int64(n)
			if prog != nil {
				prog.AddCompleted(int64(n))
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			recv.OnAborted(rerr)
			return
		}
	}
	recv.OnFinished()
}

// Peek returns the stored metadata and payload size for url, without
// opening the payload for reading.
func (s *Store) Peek(url string) (resource.StorageInfo, int64, bool) {
	rp := s.resolve(url)
	info, found, err := s.adapter.Meta(rp.payload)
	if err != nil || !found {
		return resource.StorageInfo{}, 0, false
	}
	stat, err := os.Stat(rp.payload)
	if err != nil {
		return resource.StorageInfo{}, 0, false
	}
	return info, stat.Size(), true
}

// NewStoreReceiver returns a Receiver that streams a fetched body directly
// to disk under url's resolved path. The sidecar is written when the output
// is opened at OnStarted; a failed, aborted, or cancelled write removes both
// payload and sidecar.
func (s *Store) NewStoreReceiver(url string, pol policy.Policy, prog *receiver.Progress) receiver.Receiver {
	return &fileWriter{store: s, url: url, pol: pol, prog: prog}
}

// Put synchronously writes (info, data) to disk under url, driving the same
// fileWriter receiver NewStoreReceiver returns. Unlike MemoryStore's
// BufferSink, fileWriter never rejects a HasLength-false insert, so this is
// a direct pass-through rather than a capability FileStore lacked.
func (s *Store) Put(url string, info resource.StorageInfo, data []byte) {
	recv := s.NewStoreReceiver(url, info.Policy, nil)
	total := int64(len(data))
	recv.OnInited(nil, nil)
	recv.OnStarted(info.Info, 0, &total)
	recv.OnData(data)
	recv.OnFinished()
}

// Change mutates the stored sidecar's policy in place. An expired policy
// removes the entry instead. A missing entry is a no-op.
func (s *Store) Change(url string, pol policy.Policy) {
	rp := s.resolve(url)
	info, found, err := s.adapter.Meta(rp.payload)
	if err != nil || !found {
		return
	}
	if pol.IsExpired() {
		_ = s.adapter.Remove(rp.payload)
		return
	}
	info.Policy = pol
	_ = s.adapter.SaveMeta(rp.payload, info)
}

// Remove deletes url's payload and sidecar, if present.
func (s *Store) Remove(url string) {
	rp := s.resolve(url)
	_ = s.adapter.Remove(rp.payload)
}

// RemoveAll deletes every payload and sidecar under the store's base path,
// including every group subdirectory.
func (s *Store) RemoveAll() error {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, ent := range entries {
		if err := os.RemoveAll(filepath.Join(s.basePath, ent.Name())); err != nil {
			return err
		}
	}
	return nil
}

// RemoveExpired sweeps every directory the store knows about (its base
// path plus every group root) and removes entries whose sidecar policy has
// lapsed. Entries are visited via Meta, which itself deletes expired and
// decode-broken sidecars as a side effect.
func (s *Store) RemoveExpired() {
	roots := []string{s.basePath}
	s.groups.mu.RLock()
	for _, g := range s.groups.groups {
		roots = append(roots, g.root)
	}
	s.groups.mu.RUnlock()

	for _, root := range roots {
		s.sweepDir(root)
	}
}

func (s *Store) sweepDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if len(name) >= 5 && name[len(name)-5:] == ".meta" {
			continue
		}
		path := filepath.Join(dir, name)
		if _, found, err := s.adapter.Meta(path); err != nil || !found {
			continue
		}
	}
}

// AddGroup routes every URL with the given prefix into its own subdirectory
// tagged with arbitrary metadata (the reserved "policy" key sets the
// default CachePolicy for writes under the prefix). Re-adding an existing
// prefix replaces its tag.
func (s *Store) AddGroup(prefix string, tag map[string]any) {
	s.groups.Add(prefix, tag)
}

// RemoveGroup un-routes prefix and recursively deletes its subdirectory.
func (s *Store) RemoveGroup(prefix string) error {
	root, found := s.groups.Remove(prefix)
	if !found {
		return nil
	}
	return os.RemoveAll(root)
}

// fileWriter is the Receiver returned by NewStoreReceiver. It opens the
// destination file on OnStarted and hands each chunk to a single drain
// goroutine over a depth-4 buffered channel, which both bounds how far
// ahead of disk the producer can run and preserves write order — mirroring
// the bounded-queue back-pressure spec.md §7 calls for on the write path.
type fileWriter struct {
	store *Store
	url   string
	pol   policy.Policy
	prog  *receiver.Progress

	path    string
	file    io.WriteCloser
	queue   chan []byte
	werr    chan error
	aborted bool
}

func (w *fileWriter) OnInited(raw any, progress *receiver.Progress) {}

func (w *fileWriter) OnStarted(info resource.Info, offset int64, length *int64) {
	rp := w.store.resolve(w.url)
	w.path = rp.payload

	effective := w.pol
	if gp, ok := groupPolicy(rp.tag); ok {
		effective = policy.ResolveDefault(w.pol, gp)
	}
	meta := resource.StorageInfo{Info: info, Policy: effective}

	f, ok, err := w.store.adapter.OpenOutput(w.path, meta, offset)
	if err != nil || !ok {
		w.aborted = true
		return
	}
	w.file = f
	w.queue = make(chan []byte, writeQueueDepth)
	w.werr = make(chan error, 1)
	go w.drain()
}

func (w *fileWriter) drain() {
	var firstErr error
	for chunk := range w.queue {
		if firstErr != nil {
			continue
		}
		if _, err := w.file.Write(chunk); err != nil {
			firstErr = err
		}
	}
	w.werr <- firstErr
}

func (w *fileWriter) OnData(chunk []byte) {
	if w.file == nil || w.aborted {
		return
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	select {
	case w.queue <- cp:
	case <-time.After(writeQueueTimeout):
		w.aborted = true
		close(w.queue)
		<-w.werr
	}
}

func (w *fileWriter) OnFinished() {
	if w.file == nil {
		return
	}
	if !w.aborted {
		close(w.queue)
		if err := <-w.werr; err != nil {
			w.aborted = true
		}
	}
	w.file.Close()
	if w.aborted || (w.prog != nil && w.prog.Cancelled()) {
		_ = w.store.adapter.Remove(w.path)
	}
}

func (w *fileWriter) OnAborted(err error) {
	if w.file == nil {
		return
	}
	if !w.aborted {
		close(w.queue)
		<-w.werr
	}
	w.file.Close()
	_ = w.store.adapter.Remove(w.path)
}
