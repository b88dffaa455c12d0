// Package fetcher implements the HTTP-backed Source from spec.md §4.4: it
// translates a byte-range request into a GET carrying a Range header,
// classifies the response (200/204/206/404/other), and streams the body to
// a Receiver exactly like MemoryStore and FileStore do.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rosalind/webcache/cacheerr"
	"github.com/rosalind/webcache/receiver"
	"github.com/rosalind/webcache/resource"
)

const streamChunkSize = 64 * 1024

// Fetcher is the Source side of a LayeredCache.
type Fetcher struct {
	client         *http.Client
	whitelist      *resource.Whitelist
	maxRetries     int
	initialBackoff time.Duration
	sleep          func(time.Duration)
}

// Option configures a Fetcher at construction time.
type Option func(*Fetcher)

// WithWhitelist overrides which response headers are preserved into
// resource.Info.Headers. Defaults to resource.DefaultWhitelist.
func WithWhitelist(wl *resource.Whitelist) Option {
	return func(f *Fetcher) { f.whitelist = wl }
}

// WithRetry retries a request up to maxRetries times, doubling the delay
// from initialBackoff each time, whenever the origin never answered or
// answered with a 5xx status — both classified transient. A response that
// already started streaming to the caller is never retried.
func WithRetry(maxRetries int, initialBackoff time.Duration) Option {
	return func(f *Fetcher) {
		f.maxRetries = maxRetries
		f.initialBackoff = initialBackoff
	}
}

// New constructs a Fetcher. A nil client uses NewClient(0).
func New(client *http.Client, opts ...Option) *Fetcher {
	if client == nil {
		client = NewClient(0)
	}
	f := &Fetcher{client: client, whitelist: resource.DefaultWhitelist, sleep: time.Sleep}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch issues a GET for url, requesting offset.. (or offset..offset+length)
// via a Range header when either is non-zero, and streams the response to
// recv. A 404 drives OnAborted(nil); any status other than 200, 204, 206,
// or 404 drives OnAborted(*cacheerr.TransportError).
func (f *Fetcher) Fetch(ctx context.Context, url string, offset int64, hasLength bool, length int64, prog *receiver.Progress, recv receiver.Receiver) {
	recv.OnInited(nil, prog)

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if prog != nil {
		prog.OnCancel(cancel)
	}

	buildReq := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		// identity only, not "gzip, identity": every downstream offset/length
		// calculation (Range requests, FileStore seek-and-limit, resumed
		// writes) operates on raw byte positions in the decoded resource, and
		// a gzip-encoded response would desynchronize those positions from
		// what Content-Range reports.
		req.Header.Set("Accept-Encoding", "identity")
		if offset > 0 || hasLength {
			req.Header.Set("Range", rangeHeaderValue(offset, hasLength, length))
		}
		return req, nil
	}

	resp, err := f.doWithRetry(reqCtx, buildReq)
	if err != nil {
		if reqCtx.Err() != nil {
			recv.OnAborted(nil)
			return
		}
		recv.OnAborted(err)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		recv.OnAborted(nil)
	case http.StatusNoContent:
		recv.OnStarted(infoFromHeader(resp.Header, f.whitelist), offset, receiver.Int64Ptr(0))
		recv.OnFinished()
	case http.StatusOK:
		f.deliverFull(reqCtx, resp, prog, recv)
	case http.StatusPartialContent:
		f.deliverPartial(reqCtx, resp, prog, recv)
	default:
		recv.OnAborted(&cacheerr.TransportError{Status: resp.StatusCode, Message: resp.Status, URL: url})
	}
}

// doWithRetry issues the request built by buildReq, retrying up to
// f.maxRetries times with doubling backoff when the attempt failed
// outright or came back with a 5xx status. A non-retryable response
// (including a 2xx/3xx/4xx) is returned on the first attempt regardless
// of status, since only the origin's own transient failures are retried.
func (f *Fetcher) doWithRetry(ctx context.Context, buildReq func() (*http.Request, error)) (*http.Response, error) {
	backoff := f.initialBackoff
	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		req, err := buildReq()
		if err != nil {
			return nil, err
		}
		resp, err := f.client.Do(req)
		if err == nil && !isRetryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, err
			}
		} else {
			lastErr = &cacheerr.TransportError{Status: resp.StatusCode, Message: resp.Status, URL: req.URL.String()}
			resp.Body.Close()
		}
		if attempt == f.maxRetries {
			break
		}
		sleepFor(f.sleep, ctx, backoff)
		if ctx.Err() != nil {
			return nil, lastErr
		}
		backoff *= 2
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("fetcher: exhausted retries with no response")
	}
	return nil, lastErr
}

func sleepFor(sleep func(time.Duration), ctx context.Context, d time.Duration) {
	if sleep == nil || d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func isRetryableStatus(status int) bool {
	return status >= 500 && status <= 599
}

func (f *Fetcher) deliverFull(ctx context.Context, resp *http.Response, prog *receiver.Progress, recv receiver.Receiver) {
	info := infoFromHeader(resp.Header, f.whitelist)
	var total *int64
	if resp.ContentLength >= 0 {
		info.HasLength = true
		info.TotalLength = resp.ContentLength
		total = receiver.Int64Ptr(resp.ContentLength)
		if prog != nil && prog.Total() <= 0 {
			prog.SetTotal(resp.ContentLength)
		}
	}
	recv.OnStarted(info, 0, total)
	f.stream(ctx, resp.Body, prog, recv)
}

func (f *Fetcher) deliverPartial(ctx context.Context, resp *http.Response, prog *receiver.Progress, recv receiver.Receiver) {
	start, segLen, total, ok := parseContentRange(resp.Header.Get("Content-Range"))
	if !ok {
		recv.OnAborted(cacheerr.ErrRangeInvalid)
		return
	}
	info := infoFromHeader(resp.Header, f.whitelist)
	if total >= 0 {
		info.HasLength = true
		info.TotalLength = total
	}
	if prog != nil && prog.Total() <= 0 {
		prog.SetTotal(segLen)
	}
	recv.OnStarted(info, start, receiver.Int64Ptr(segLen))
	f.stream(ctx, resp.Body, prog, recv)
}

func (f *Fetcher) stream(ctx context.Context, body io.Reader, prog *receiver.Progress, recv receiver.Receiver) {
	buf := make([]byte, streamChunkSize)
	for {
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

		n, err := body.Read(buf)
		if n > 0 {
			recv.OnData(buf[:n])
			if prog != nil {
				prog.AddCompleted(int64(n))
			}
		}
		if err != nil {
			if err == io.EOF {
				recv.OnFinished()
				return
			}
			recv.OnAborted(err)
			return
		}
	}
}

func rangeHeaderValue(offset int64, hasLength bool, length int64) string {
	if hasLength {
		return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	}
	return fmt.Sprintf("bytes=%d-", offset)
}

// parseContentRange decodes a "bytes start-end/total" header. total is -1
// when the origin sent "*" for an unknown total.
func parseContentRange(v string) (start, segLen, total int64, ok bool) {
	v = strings.TrimSpace(strings.TrimPrefix(v, "bytes"))
	v = strings.TrimSpace(v)
	parts := strings.SplitN(v, "/", 2)
	if len(parts) != 2 {
		return 0, 0, 0, false
	}
	rangePart := strings.SplitN(parts[0], "-", 2)
	if len(rangePart) != 2 {
		return 0, 0, 0, false
	}
	s, err1 := strconv.ParseInt(rangePart[0], 10, 64)
	e, err2 := strconv.ParseInt(rangePart[1], 10, 64)
	if err1 != nil || err2 != nil || e < s {
		return 0, 0, 0, false
	}
	total = -1
	if parts[1] != "*" {
		t, err3 := strconv.ParseInt(parts[1], 10, 64)
		if err3 != nil {
			return 0, 0, 0, false
		}
		total = t
	}
	return s, e - s + 1, total, true
}

func infoFromHeader(header http.Header, wl *resource.Whitelist) resource.Info {
	info := resource.New()
	if ct := header.Get("Content-Type"); ct != "" {
		if mimeType, params, err := mime.ParseMediaType(ct); err == nil {
			info.MIMEType = mimeType
			if cs, ok := params["charset"]; ok {
				info.HasEncoding = true
				info.TextEncoding = cs
			}
		} else {
			info.MIMEType = ct
		}
	}

	if wl == nil {
		wl = resource.DefaultWhitelist
	}
	headers := map[string]string{}
	for _, name := range wl.Names() {
		if v := header.Get(name); v != "" {
			headers[name] = v
		}
	}
	if len(headers) > 0 {
		info.Headers = headers
	}
	return info
}
