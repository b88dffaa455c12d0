// Package cacheerr defines the error taxonomy shared across the cache's
// store/source implementations (spec.md §7). NotFound and Cancelled are
// deliberately signaled as a nil error to OnAborted, not as sentinel
// values — these constants cover the remaining kinds, which do carry an
// error into OnAborted.
package cacheerr

import (
	"errors"
	"fmt"
)

// ErrRangeInvalid means the requested offset+length is not representable
// from the bytes available in a Store. A partial range that is simply not
// yet on disk is not an error: FileStoreAdapter reports that case as a bare
// absence, per spec.md §4.3 step 5, the same as any other cache miss.
var ErrRangeInvalid = errors.New("webcache: requested range is invalid")

// TransportError carries an HTTP failure: a status other than 200, 204, 206,
// or 404, or a connection-level failure with no status.
type TransportError struct {
	Status  int // 0 when no HTTP status applies (connection failure)
	Message string
	URL     string
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("webcache: transport failure fetching %s: %s", e.URL, e.Message)
	}
	return fmt.Sprintf("webcache: unexpected status %d fetching %s: %s", e.Status, e.URL, e.Message)
}
