// Package urlhash derives stable, content-addressed filenames from cache
// keys. The choice of algorithm is cache-key, not security: any
// collision-resistant 128-bit-or-more hash is equivalent to MD5 here.
package urlhash

import (
	"crypto/md5" //nolint:gosec // cache-key hash, not a security boundary
	"encoding/hex"
	"strings"
)

// Hash returns the 32 uppercase hex characters of MD5(utf8(url)).
func Hash(url string) string {
	sum := md5.Sum([]byte(url)) //nolint:gosec
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
