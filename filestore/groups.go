package filestore

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/rosalind/webcache/policy"
	"github.com/rosalind/webcache/urlhash"
)

// group is the resolved form of spec.md §3's Group: a URL prefix routed to
// a dedicated subdirectory with a free-form tag, whose reserved "policy"
// key supplies a default CachePolicy for writes under the prefix.
type group struct {
	prefix string
	root   string
	tag    map[string]any
}

// groupRegistry holds groups in insertion order; the first prefix match
// wins, and re-adding a prefix updates its tag in place (last write wins
// per prefix) without disturbing match order for other prefixes.
type groupRegistry struct {
	mu     sync.RWMutex
	basePath string
	groups []group
}

func newGroupRegistry(basePath string) *groupRegistry {
	return &groupRegistry{basePath: basePath}
}

// Add is idempotent on prefix: an existing prefix has its tag replaced in
// place; a new prefix is appended.
func (g *groupRegistry) Add(prefix string, tag map[string]any) {
	root := filepath.Join(g.basePath, urlhash.Hash(prefix))

	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.groups {
		if g.groups[i].prefix == prefix {
			g.groups[i].tag = tag
			return
		}
	}
	g.groups = append(g.groups, group{prefix: prefix, root: root, tag: tag})
}

// Remove deletes the group matching prefix, if any, and returns its root
// directory so the caller can recursively delete the subtree.
func (g *groupRegistry) Remove(prefix string) (root string, found bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.groups {
		if g.groups[i].prefix == prefix {
			root = g.groups[i].root
			g.groups = append(g.groups[:i], g.groups[i+1:]...)
			return root, true
		}
	}
	return "", false
}

// Resolve returns the directory a url's payload belongs under — the first
// matching group's root, or the base path when no group matches — plus the
// matched group's tag (nil when unmatched).
func (g *groupRegistry) Resolve(url string) (root string, tag map[string]any) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, grp := range g.groups {
		if strings.HasPrefix(url, grp.prefix) {
			return grp.root, grp.tag
		}
	}
	return g.basePath, nil
}

// groupPolicy reads the reserved "policy" key out of a tag (a policy.Policy
// or its wire-encoded string). It reports false when the tag is nil or the
// key is absent or of another type.
func groupPolicy(tag map[string]any) (policy.Policy, bool) {
	if tag == nil {
		return policy.Policy{}, false
	}
	raw, ok := tag["policy"]
	if !ok {
		return policy.Policy{}, false
	}
	if p, ok := raw.(policy.Policy); ok {
		return p, true
	}
	if s, ok := raw.(string); ok {
		return policy.Parse(s), true
	}
	return policy.Policy{}, false
}
