package receiver

import "github.com/rosalind/webcache/resource"

// BufferCompletionFunc is invoked exactly once, from OnFinished or
// OnAborted, with the BufferSink itself so the caller can inspect Data()/
// Dropped() and the resulting Info.
type BufferCompletionFunc func(buf *BufferSink)

// BufferSink is a Receiver that accumulates bytes into memory, subject to a
// byte ceiling. It is the building block MemoryStore.NewStoreReceiver returns.
type BufferSink struct {
	SizeLimit     int64
	AcceptPartial bool
	Completion    BufferCompletionFunc

	info     resource.Info
	offset   int64
	data     []byte
	dropped  bool
	finished bool
}

// NewBufferSink constructs a BufferSink with the given ceiling and partial-
// acceptance policy.
func NewBufferSink(sizeLimit int64, acceptPartial bool, completion BufferCompletionFunc) *BufferSink {
	return &BufferSink{SizeLimit: sizeLimit, AcceptPartial: acceptPartial, Completion: completion}
}

func (b *BufferSink) OnInited(any, *Progress) {}

func (b *BufferSink) OnStarted(info resource.Info, offset int64, length *int64) {
	b.info = info
	b.offset = offset

	if length != nil {
		if *length > b.SizeLimit {
			b.drop()
			return
		}
		if !b.AcceptPartial {
			if !info.HasLength || *length != info.TotalLength {
				b.drop()
				return
			}
		}
	}
	b.data = make([]byte, 0, minInt64(sizeHint(length), b.SizeLimit))
}

func sizeHint(length *int64) int64 {
	if length == nil {
		return 0
	}
	return *length
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func (b *BufferSink) OnData(chunk []byte) {
	if b.dropped {
		return
	}
	if int64(len(b.data))+int64(len(chunk)) > b.SizeLimit {
		b.drop()
		return
	}
	b.data = append(b.data, chunk...)
}

func (b *BufferSink) OnFinished() {
	b.finished = true
	b.fireCompletion()
}

func (b *BufferSink) OnAborted(error) {
	b.finished = false
	b.dropped = true
	b.data = nil
	b.fireCompletion()
}

func (b *BufferSink) fireCompletion() {
	if b.Completion != nil {
		b.Completion(b)
	}
}

func (b *BufferSink) drop() {
	b.dropped = true
	b.data = nil
}

// Dropped reports whether the buffer was discarded (size-limit exceeded,
// non-partial mismatch, or an abort).
func (b *BufferSink) Dropped() bool { return b.dropped }

// Data returns the accumulated bytes, or nil if the buffer was dropped.
func (b *BufferSink) Data() []byte {
	if b.dropped {
		return nil
	}
	return b.data
}

// Info returns the ResourceInfo observed at OnStarted.
func (b *BufferSink) Info() resource.Info { return b.info }

// Offset returns the segment offset observed at OnStarted.
func (b *BufferSink) Offset() int64 { return b.offset }

// Finished reports whether OnFinished (rather than OnAborted) completed
// the sink.
func (b *BufferSink) Finished() bool { return b.finished }
