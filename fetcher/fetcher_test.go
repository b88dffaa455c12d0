package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rosalind/webcache/cacheerr"
	"github.com/rosalind/webcache/receiver"
	"github.com/rosalind/webcache/resource"
)

type capture struct {
	info     resource.Info
	offset   int64
	length   *int64
	chunks   [][]byte
	aborted  bool
	abortErr error
	finished bool
}

func (c *capture) OnInited(any, *receiver.Progress) {}
func (c *capture) OnStarted(info resource.Info, offset int64, length *int64) {
	c.info, c.offset, c.length = info, offset, length
}
func (c *capture) OnData(chunk []byte) { c.chunks = append(c.chunks, append([]byte(nil), chunk...)) }
func (c *capture) OnFinished()         { c.finished = true }
func (c *capture) OnAborted(err error) { c.aborted = true; c.abortErr = err }

func (c *capture) bytes() []byte {
	var out []byte
	for _, chunk := range c.chunks {
		out = append(out, chunk...)
	}
	return out
}

func TestFetchFullBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("ETag", `"abc"`)
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	f := New(nil)
	c := &capture{}
	f.Fetch(context.Background(), srv.URL, 0, false, 0, receiver.NewProgress(), c)

	if c.aborted {
		t.Fatalf("unexpected abort: %v", c.abortErr)
	}
	if string(c.bytes()) != "hello world" {
		t.Fatalf("unexpected body: %q", c.bytes())
	}
	if !c.finished {
		t.Fatalf("expected OnFinished")
	}
	if c.info.MIMEType != "text/plain" || !c.info.HasEncoding || c.info.TextEncoding != "utf-8" {
		t.Fatalf("unexpected info: %+v", c.info)
	}
	if c.info.Headers["ETag"] != `"abc"` {
		t.Fatalf("expected whitelisted ETag header to propagate, got %+v", c.info.Headers)
	}
}

func TestFetchPartialRange(t *testing.T) {
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.Header().Set("Content-Range", "bytes 3-6/11")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("lo w"))
	}))
	defer srv.Close()

	f := New(nil)
	c := &capture{}
	f.Fetch(context.Background(), srv.URL, 3, true, 4, receiver.NewProgress(), c)

	if gotRange != "bytes=3-6" {
		t.Fatalf("unexpected Range header sent: %q", gotRange)
	}
	if string(c.bytes()) != "lo w" {
		t.Fatalf("unexpected body: %q", c.bytes())
	}
	if c.offset != 3 || c.length == nil || *c.length != 4 {
		t.Fatalf("unexpected offset/length: %d %v", c.offset, c.length)
	}
	if !c.info.HasLength || c.info.TotalLength != 11 {
		t.Fatalf("expected total length parsed from Content-Range, got %+v", c.info)
	}
}

func TestFetchNoContentIsEmptyFinish(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f := New(nil)
	c := &capture{}
	f.Fetch(context.Background(), srv.URL, 0, false, 0, receiver.NewProgress(), c)

	if c.aborted {
		t.Fatalf("unexpected abort: %v", c.abortErr)
	}
	if len(c.bytes()) != 0 || !c.finished {
		t.Fatalf("expected an empty, finished stream, got bytes=%q finished=%v", c.bytes(), c.finished)
	}
}

func TestFetchNotFoundAbortsWithNilError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(nil)
	c := &capture{}
	f.Fetch(context.Background(), srv.URL, 0, false, 0, receiver.NewProgress(), c)

	if !c.aborted || c.abortErr != nil {
		t.Fatalf("expected a nil-error abort for 404, got aborted=%v err=%v", c.aborted, c.abortErr)
	}
}

func TestFetchServerErrorIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := New(nil)
	c := &capture{}
	f.Fetch(context.Background(), srv.URL, 0, false, 0, receiver.NewProgress(), c)

	te, ok := c.abortErr.(*cacheerr.TransportError)
	if !c.aborted || !ok || te.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected a TransportError for 503, got aborted=%v err=%v", c.aborted, c.abortErr)
	}
}

func TestFetchRetriesTransientServerErrors(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(nil, WithRetry(2, time.Microsecond))
	c := &capture{}
	f.Fetch(context.Background(), srv.URL, 0, false, 0, receiver.NewProgress(), c)

	if c.aborted {
		t.Fatalf("expected the third attempt to succeed, got abort: %v", c.abortErr)
	}
	if string(c.bytes()) != "ok" {
		t.Fatalf("unexpected body: %q", c.bytes())
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected exactly 3 attempts (1 + 2 retries), got %d", got)
	}
}

func TestFetchGivesUpAfterExhaustingRetries(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := New(nil, WithRetry(1, time.Microsecond))
	c := &capture{}
	f.Fetch(context.Background(), srv.URL, 0, false, 0, receiver.NewProgress(), c)

	te, ok := c.abortErr.(*cacheerr.TransportError)
	if !c.aborted || !ok || te.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected a TransportError after exhausting retries, got aborted=%v err=%v", c.aborted, c.abortErr)
	}
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Fatalf("expected exactly 2 attempts (1 + 1 retry), got %d", got)
	}
}

func TestFetchAlreadyCancelledAbortsWithoutRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	prog := receiver.NewProgress()
	prog.Cancel()

	f := New(nil)
	c := &capture{}
	f.Fetch(context.Background(), srv.URL, 0, false, 0, prog, c)

	if !c.aborted || c.abortErr != nil {
		t.Fatalf("expected a nil-error abort for a pre-cancelled fetch, got aborted=%v err=%v", c.aborted, c.abortErr)
	}
	if called {
		t.Fatalf("expected no request to reach the server for a pre-cancelled fetch")
	}
}
