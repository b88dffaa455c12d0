package filestore

import (
	"errors"
	"os"

	"github.com/rosalind/webcache/resource"
)

// fileSidecarStore persists StorageInfo in a sibling "<payload>.meta" file.
// It is the fallback sidecar implementation used when the backing
// filesystem does not support extended attributes (spec.md §9).
type fileSidecarStore struct{}

func sidecarPathFor(payloadPath string) string {
	return payloadPath + ".meta"
}

func (fileSidecarStore) Load(path string) (resource.StorageInfo, bool, error) {
	raw, err := os.ReadFile(sidecarPathFor(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return resource.StorageInfo{}, false, nil
		}
		return resource.StorageInfo{}, false, err
	}
	info, err := decodeSidecar(raw)
	if err != nil {
		return resource.StorageInfo{}, false, err
	}
	return info, true, nil
}

func (fileSidecarStore) Save(path string, info resource.StorageInfo) error {
	raw, err := encodeSidecar(info)
	if err != nil {
		return err
	}
	return os.WriteFile(sidecarPathFor(path), raw, 0o644)
}

func (fileSidecarStore) Remove(path string) error {
	if err := os.Remove(sidecarPathFor(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
