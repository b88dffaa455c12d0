package filestore

import (
	"errors"
	"io"
	"os"

	"github.com/rosalind/webcache/cacheerr"
	"github.com/rosalind/webcache/resource"
)

// Adapter owns filesystem access for FileStore. FileStore is a thin façade
// over a pluggable Adapter, per spec.md §4.3's two-layer design — the
// default implementation below talks to the local filesystem directly.
type Adapter interface {
	// Meta loads only the sidecar for path, without opening the payload.
	Meta(path string) (resource.StorageInfo, bool, error)

	// SaveMeta overwrites the sidecar for path in place, without touching
	// the payload. The payload must already exist.
	SaveMeta(path string, info resource.StorageInfo) error

	// OpenInput implements spec.md §4.3's open_input algorithm.
	OpenInput(path string, offset int64, hasLength bool, length int64) (inputResult, error)

	// OpenOutput implements spec.md §4.3's open_output algorithm.
	OpenOutput(path string, meta resource.StorageInfo, offset int64) (io.WriteCloser, bool, error)

	// Remove deletes the payload and its sidecar.
	Remove(path string) error
}

// inputResult is OpenInput's outcome: Found distinguishes a genuine miss
// (sidecar absent, or a partial range not yet available — spec.md treats
// both as "return absence") from a hit, which may be a Null (zero-length)
// stream or a real, positioned Reader limited to SegmentLength bytes.
type inputResult struct {
	Info          resource.StorageInfo
	Found         bool
	Null          bool
	Reader        io.ReadCloser
	SegmentLength int64
}

type fsAdapter struct {
	sidecar sidecarStore
}

func newFSAdapter(basePath string) *fsAdapter {
	impl := sidecarStore(xattrSidecarStore{})
	if !xattrSupported(basePath) {
		impl = fileSidecarStore{}
	}
	return &fsAdapter{sidecar: impl}
}

func (a *fsAdapter) Meta(path string) (resource.StorageInfo, bool, error) {
	info, found, err := a.sidecar.Load(path)
	if err != nil {
		// Decode/IO failure on the sidecar: remove the orphaned payload and
		// report absence, per spec.md §7 (Decode/IOFailure removes the entry).
		_ = a.Remove(path)
		return resource.StorageInfo{}, false, nil
	}
	if !found {
		return resource.StorageInfo{}, false, nil
	}
	if info.Policy.IsExpired() {
		_ = a.Remove(path)
		return resource.StorageInfo{}, false, nil
	}
	return info, true, nil
}

func (a *fsAdapter) SaveMeta(path string, info resource.StorageInfo) error {
	return a.sidecar.Save(path, info)
}

func (a *fsAdapter) OpenInput(path string, offset int64, hasLength bool, length int64) (inputResult, error) {
	info, found, err := a.Meta(path)
	if err != nil {
		return inputResult{}, err
	}
	if !found {
		return inputResult{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return inputResult{}, nil
		}
		return inputResult{}, err
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return inputResult{}, err
	}
	fileSize := stat.Size()

	// total is the authoritative final size of the resource: the length the
	// writer declared up front when it knows one, otherwise the file's
	// current size (a stream with no declared length is, once its writer
	// closes it, exactly as long as what made it to disk).
	total := fileSize
	if info.HasLength {
		total = info.TotalLength
	}

	if offset < 0 {
		f.Close()
		return inputResult{}, cacheerr.ErrRangeInvalid
	}

	end := offset + length
	if !hasLength {
		end = total
	}

	if end-offset <= 0 {
		f.Close()
		return inputResult{Info: info, Found: true, Null: true}, nil
	}

	if end > fileSize {
		switch {
		case total <= fileSize && offset < total:
			// Fully materialized resource, overshooting request: clamp to
			// the tail instead of failing.
			end = total
		case offset >= total:
			f.Close()
			return inputResult{Info: info, Found: true, Null: true}, nil
		default:
			// Within the declared total, but those bytes have not reached
			// disk yet — spec.md's "return absence" for a not-yet-available
			// range.
			f.Close()
			return inputResult{}, nil
		}
	}

	segLen := end - offset
	if segLen <= 0 {
		f.Close()
		return inputResult{Info: info, Found: true, Null: true}, nil
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return inputResult{}, err
	}

	return inputResult{
		Info:          info,
		Found:         true,
		Reader:        f,
		SegmentLength: segLen,
	}, nil
}

func (a *fsAdapter) OpenOutput(path string, meta resource.StorageInfo, offset int64) (io.WriteCloser, bool, error) {
	if offset == 0 {
		if err := os.MkdirAll(parentDir(path), 0o755); err != nil {
			return nil, false, err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, false, err
		}
		if err := a.sidecar.Save(path, meta); err != nil {
			f.Close()
			return nil, false, err
		}
		return f, true, nil
	}

	existing, found, err := a.Meta(path)
	if err != nil {
		return nil, false, err
	}
	if !found || !existing.EqualIgnoringPolicy(meta) {
		_ = a.Remove(path)
		return nil, false, nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, err
	}
	if offset > stat.Size() {
		f.Close()
		return nil, false, errRangeExceedsFile
	}
	if err := f.Truncate(offset); err != nil {
		f.Close()
		return nil, false, err
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, false, err
	}
	return f, true, nil
}

func (a *fsAdapter) Remove(path string) error {
	if err := a.sidecar.Remove(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

var errRangeExceedsFile = errors.New("filestore: resumed write offset exceeds file size")

func parentDir(path string) string {
	idx := lastSlash(path)
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

func lastSlash(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return i
		}
	}
	return -1
}
