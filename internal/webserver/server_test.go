package webserver

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/rosalind/webcache/policy"
	"github.com/rosalind/webcache/receiver"
	"github.com/rosalind/webcache/resource"
)

// stubCache is an in-memory Cache double: it serves whatever byte slice was
// registered for a URL, and nothing else.
type stubCache struct {
	entries map[string][]byte
	infos   map[string]resource.Info
	sweeps  int
}

func newStubCache() *stubCache {
	return &stubCache{entries: map[string][]byte{}, infos: map[string]resource.Info{}}
}

func (s *stubCache) put(url string, info resource.Info, data []byte) {
	s.entries[url] = data
	s.infos[url] = info
}

func (s *stubCache) FetchBytes(ctx context.Context, url string, offset int64, hasLength bool, length int64, pol policy.Policy, prog *receiver.Progress) (resource.Info, []byte, bool) {
	data, ok := s.entries[url]
	if !ok {
		return resource.Info{}, nil, false
	}
	end := int64(len(data))
	if hasLength && offset+length < end {
		end = offset + length
	}
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	return s.infos[url], data[offset:end], true
}

func (s *stubCache) Peek(url string) (resource.StorageInfo, int64, bool) {
	data, ok := s.entries[url]
	if !ok {
		return resource.StorageInfo{}, 0, false
	}
	return resource.StorageInfo{Info: s.infos[url]}, int64(len(data)), true
}

func (s *stubCache) RemoveExpired() { s.sweeps++ }

func newTestApp(t *testing.T, cache Cache) (*fiber.App, *Stats) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	stats := &Stats{}
	app, err := New(Options{Cache: cache, Logger: logger, Stats: stats})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return app, stats
}

func TestFetchServesFullBodyAndHeaders(t *testing.T) {
	cache := newStubCache()
	cache.put("https://example.com/a.txt", resource.Info{MIMEType: "text/plain", HasLength: true, TotalLength: 5}, []byte("hello"))

	app, stats := newTestApp(t, cache)
	req := httptest.NewRequest("GET", "/fetch?url=https://example.com/a.txt", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello" {
		t.Fatalf("unexpected body: %q", body)
	}
	if resp.Header.Get("Content-Type") != "text/plain" {
		t.Fatalf("expected Content-Type to propagate, got %q", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}
	if stats.snapshot().FetchTotal != 1 {
		t.Fatalf("expected one fetch recorded, got %+v", stats.snapshot())
	}
}

func TestFetchHonorsRangeHeader(t *testing.T) {
	cache := newStubCache()
	cache.put("https://example.com/a.txt", resource.Info{MIMEType: "text/plain", HasLength: true, TotalLength: 11}, []byte("hello world"))

	app, _ := newTestApp(t, cache)
	req := httptest.NewRequest("GET", "/fetch?url=https://example.com/a.txt", nil)
	req.Header.Set("Range", "bytes=6-10")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusPartialContent {
		t.Fatalf("expected 206, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "world" {
		t.Fatalf("unexpected body: %q", body)
	}
	if resp.Header.Get("Content-Range") != "bytes 6-10/11" {
		t.Fatalf("unexpected Content-Range: %q", resp.Header.Get("Content-Range"))
	}
}

func TestFetchReturns416WhenRangeExceedsKnownLength(t *testing.T) {
	cache := newStubCache()
	cache.put("https://example.com/a.txt", resource.Info{MIMEType: "text/plain", HasLength: true, TotalLength: 11}, []byte("hello world"))

	app, _ := newTestApp(t, cache)
	req := httptest.NewRequest("GET", "/fetch?url=https://example.com/a.txt", nil)
	req.Header.Set("Range", "bytes=100-200")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("expected 416, got %d", resp.StatusCode)
	}
}

func TestFetchReturns404WhenMissing(t *testing.T) {
	app, stats := newTestApp(t, newStubCache())
	req := httptest.NewRequest("GET", "/fetch?url=https://example.com/missing.txt", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if stats.snapshot().FetchMisses != 1 {
		t.Fatalf("expected a recorded miss, got %+v", stats.snapshot())
	}
}

func TestFetchRequiresURLParam(t *testing.T) {
	app, _ := newTestApp(t, newStubCache())
	req := httptest.NewRequest("GET", "/fetch", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHealthzReportsStats(t *testing.T) {
	cache := newStubCache()
	cache.put("https://example.com/a.txt", resource.Info{MIMEType: "text/plain"}, []byte("x"))
	app, stats := newTestApp(t, cache)
	stats.RecordSweep()

	req := httptest.NewRequest("GET", "/fetch?url=https://example.com/a.txt", nil)
	if _, err := app.Test(req); err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/healthz", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"fetch_total":1`) || !strings.Contains(string(body), `"sweep_runs":1`) {
		t.Fatalf("expected healthz to report counters, got %s", body)
	}
}
