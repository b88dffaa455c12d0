package filestore

import (
	"path/filepath"

	"github.com/rosalind/webcache/urlhash"
)

// resolvedPath is the outcome of path derivation for a URL: the absolute
// payload file path plus the tag of whatever group matched (nil if none).
type resolvedPath struct {
	payload string
	tag     map[string]any
}

func (s *Store) resolve(url string) resolvedPath {
	root, tag := s.groups.Resolve(url)
	return resolvedPath{payload: filepath.Join(root, urlhash.Hash(url)), tag: tag}
}
