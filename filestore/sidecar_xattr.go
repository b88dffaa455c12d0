package filestore

import (
	"errors"
	"os"

	"github.com/pkg/xattr"

	"github.com/rosalind/webcache/resource"
)

// xattrAttrName is the extended attribute name the spec reserves for the
// StorageInfo sidecar.
const xattrAttrName = "WebCache"

// xattrSidecarStore persists StorageInfo in the "WebCache" extended
// attribute on the payload file itself — the primary implementation named
// by spec.md §3/§6.
type xattrSidecarStore struct{}

func (xattrSidecarStore) Load(path string) (resource.StorageInfo, bool, error) {
	raw, err := xattr.Get(path, xattrAttrName)
	if err != nil {
		if isMissingAttr(err) {
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

func (xattrSidecarStore) Save(path string, info resource.StorageInfo) error {
	raw, err := encodeSidecar(info)
	if err != nil {
		return err
	}
	return xattr.Set(path, xattrAttrName, raw)
}

func (xattrSidecarStore) Remove(path string) error {
	if err := xattr.Remove(path, xattrAttrName); err != nil && !isMissingAttr(err) {
		return err
	}
	return nil
}

func isMissingAttr(err error) bool {
	if errors.Is(err, os.ErrNotExist) {
		return true
	}
	var xerr *xattr.Error
	if errors.As(err, &xerr) {
		return errors.Is(xerr.Err, xattr.ENOATTR) || os.IsNotExist(xerr.Err)
	}
	return false
}

// xattrSupported probes whether extended attributes work on the
// filesystem backing dir by round-tripping a canary attribute on a
// throwaway file. Used at FileStore construction time to decide between
// the xattr and sibling-file sidecar implementations.
func xattrSupported(dir string) bool {
	probe, err := os.CreateTemp(dir, ".webcache-xattr-probe-*")
	if err != nil {
		return false
	}
	name := probe.Name()
	probe.Close()
	defer os.Remove(name)

	if err := xattr.Set(name, xattrAttrName, []byte("probe")); err != nil {
		return false
	}
	if _, err := xattr.Get(name, xattrAttrName); err != nil {
		return false
	}
	return true
}
