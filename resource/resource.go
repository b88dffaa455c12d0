// Package resource defines the metadata value objects carried alongside
// every cached byte range: ResourceInfo (what a Receiver sees) and
// StorageInfo (what a Store persists, ResourceInfo plus a Policy).
package resource

import (
	"sync"

	"github.com/rosalind/webcache/policy"
)

// DefaultMIMEType is used whenever no MIME type was determined.
const DefaultMIMEType = "application/octet-stream"

// Info carries the metadata a caller sees for a fetched resource, distinct
// from the segment currently being delivered.
type Info struct {
	MIMEType     string
	TextEncoding string
	HasEncoding  bool
	TotalLength  int64
	HasLength    bool
	Headers      map[string]string
}

// New returns an Info with MIMEType defaulted per spec.
func New() Info {
	return Info{MIMEType: DefaultMIMEType}
}

// Equal implements structural equality over all four fields.
func (i Info) Equal(other Info) bool {
	if i.MIMEType != other.MIMEType {
		return false
	}
	if i.HasEncoding != other.HasEncoding || (i.HasEncoding && i.TextEncoding != other.TextEncoding) {
		return false
	}
	if i.HasLength != other.HasLength || (i.HasLength && i.TotalLength != other.TotalLength) {
		return false
	}
	return headersEqual(i.Headers, other.Headers)
}

func headersEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// Clone returns a deep copy safe to mutate independently.
func (i Info) Clone() Info {
	out := i
	if i.Headers != nil {
		out.Headers = make(map[string]string, len(i.Headers))
		for k, v := range i.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

// StorageInfo is ResourceInfo ∪ {Policy}: the on-disk metadata record.
type StorageInfo struct {
	Info
	Policy policy.Policy
}

// EqualIgnoringPolicy compares mime, text encoding, total length, and
// headers but deliberately ignores Policy — this is the sidecar equality
// spec.md §4.3/§9 requires for resumed partial writes: a concurrent
// change() of Policy must not invalidate an in-flight resumed write.
func (s StorageInfo) EqualIgnoringPolicy(other StorageInfo) bool {
	return s.Info.Equal(other.Info)
}

// Whitelist is the process-wide set of response header names that may be
// copied into Info.Headers. It defaults to {ETag} and is safe for
// concurrent use; the library root or a Cache constructor may extend it.
type Whitelist struct {
	mu      sync.RWMutex
	allowed map[string]struct{}
}

// NewWhitelist returns a Whitelist seeded with the default {ETag}.
func NewWhitelist() *Whitelist {
	w := &Whitelist{allowed: map[string]struct{}{"ETag": {}}}
	return w
}

// Allow adds a header name to the whitelist.
func (w *Whitelist) Allow(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.allowed[name] = struct{}{}
}

// Allowed reports whether name is whitelisted.
func (w *Whitelist) Allowed(name string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.allowed[name]
	return ok
}

// Names returns a snapshot of the whitelisted header names.
func (w *Whitelist) Names() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.allowed))
	for name := range w.allowed {
		out = append(out, name)
	}
	return out
}

// DefaultWhitelist is the process-wide whitelist used when a component is
// not constructed with an explicit one.
var DefaultWhitelist = NewWhitelist()
