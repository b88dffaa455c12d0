package receiver

import "github.com/rosalind/webcache/resource"

// CompletionFunc is invoked on every terminal transition (OnFinished or
// OnAborted). Returning true suppresses forwarding that terminal callback
// to the inner Receiver — this is how the fallthrough combinator in the
// layered package retries against a fallback Source on a cold miss instead
// of propagating the miss to the original caller.
type CompletionFunc func(success bool, err error, progress *Progress) bool

// Filter is a Receiver that delegates every call to an inner Receiver and,
// if tee is non-nil, also tees the same calls into it (used to persist a
// served response while it streams to the caller). completion, if set, is
// consulted on every terminal transition.
type Filter struct {
	Inner      Receiver
	Tee        Receiver
	Completion CompletionFunc

	progress *Progress
}

// NewFilter constructs a Filter. tee and completion may be nil.
func NewFilter(inner Receiver, tee Receiver, completion CompletionFunc) *Filter {
	return &Filter{Inner: inner, Tee: tee, Completion: completion}
}

func (f *Filter) OnInited(raw any, progress *Progress) {
	f.progress = progress
	if f.Tee != nil {
		f.Tee.OnInited(raw, progress)
	}
	f.Inner.OnInited(raw, progress)
}

func (f *Filter) OnStarted(info resource.Info, offset int64, length *int64) {
	if f.Tee != nil {
		f.Tee.OnStarted(info, offset, length)
	}
	f.Inner.OnStarted(info, offset, length)
}

func (f *Filter) OnData(chunk []byte) {
	if f.Tee != nil {
		f.Tee.OnData(chunk)
	}
	f.Inner.OnData(chunk)
}

func (f *Filter) OnFinished() {
	if f.Tee != nil {
		f.Tee.OnFinished()
	}
	if f.Completion != nil && f.Completion(true, nil, f.progress) {
		return
	}
	f.Inner.OnFinished()
}

func (f *Filter) OnAborted(err error) {
	if f.Tee != nil {
		f.Tee.OnAborted(err)
	}
	if f.Completion != nil && f.Completion(false, err, f.progress) {
		return
	}
	f.Inner.OnAborted(err)
}
