// Package receiver implements the streaming sink contract every fetch
// delivers bytes through. A Receiver is a four-phase state machine
// (init -> started -> data* -> finished|aborted); Filter and BufferSink are
// the two standard decorators built on top of it.
package receiver

import "github.com/rosalind/webcache/resource"

// Receiver is the streaming sink for any fetch. Every method below is
// one-shot per phase except OnData, which may be called zero or more times
// with ordered, non-overlapping, contiguous chunks.
type Receiver interface {
	// OnInited is always called first. raw carries an opaque backing
	// response handle (e.g. *http.Response) for decorators that need it;
	// it may be nil. progress is the handle for this fetch.
	OnInited(raw any, progress *Progress)

	// OnStarted is emitted once the segment to be delivered is known.
	// length is nil when the origin did not declare a content length;
	// offset is the byte position within the complete resource.
	OnStarted(info resource.Info, offset int64, length *int64)

	// OnData delivers one chunk of the segment.
	OnData(chunk []byte)

	// OnFinished signals a successful, complete delivery. Exactly one of
	// OnFinished/OnAborted is called after OnStarted.
	OnFinished()

	// OnAborted signals an incomplete delivery. err is nil for a cold miss
	// or a cancellation; otherwise it carries the failure.
	OnAborted(err error)
}

// Int64Ptr is a small helper for constructing the *int64 length argument.
func Int64Ptr(v int64) *int64 { return &v }
