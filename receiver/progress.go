package receiver

import "sync"

// Progress is the caller-supplied handle threaded through every fetch. It
// carries total/completed byte counts and cooperative cancellation.
// Cancellation is checked, not preempted: callers poll Cancelled() between
// chunks and stop delivering further callbacks.
type Progress struct {
	mu        sync.Mutex
	total     int64
	completed int64
	cancelled bool
	onCancel  []func()
}

// NewProgress returns a fresh, non-cancelled Progress handle.
func NewProgress() *Progress { return &Progress{} }

// SetTotal records the total unit count for this fetch. Per spec.md §4.1/
// §4.2, callers set this to the segment length whenever the origin/backing
// store did not declare one up front (a negative or unset total).
func (p *Progress) SetTotal(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
}

// AddCompleted increments the completed unit count by n.
func (p *Progress) AddCompleted(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed += n
}

// SetCompleted overwrites the completed unit count.
func (p *Progress) SetCompleted(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = n
}

// Total and Completed report the current counters.
func (p *Progress) Total() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

func (p *Progress) Completed() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

// OnCancel registers a callback invoked synchronously the moment Cancel is
// called, or immediately when Cancel has already been called. The Fetcher
// uses this to abort an outstanding network request; FileStore registers no
// callback and polls Cancelled() between chunks instead.
func (p *Progress) OnCancel(fn func()) {
	p.mu.Lock()
	already := p.cancelled
	if !already {
		p.onCancel = append(p.onCancel, fn)
	}
	p.mu.Unlock()
	if already {
		fn()
	}
}

// Cancel marks the progress as cancelled and fires every registered
// callback exactly once. Calling Cancel more than once is a no-op after
// the first call.
func (p *Progress) Cancel() {
	p.mu.Lock()
	if p.cancelled {
		p.mu.Unlock()
		return
	}
	p.cancelled = true
	callbacks := p.onCancel
	p.onCancel = nil
	p.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// Cancelled reports whether Cancel has been called.
func (p *Progress) Cancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}
