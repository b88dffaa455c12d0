package webserver

import "net/textproto"

// hopByHopHeaders are the RFC 7230 connection-scoped headers a proxy must
// never forward verbatim. resource.Info.Headers is already a small
// whitelist the fetcher populates (see resource.DefaultWhitelist), but this
// guards against a misconfigured whitelist ever smuggling one through.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {},
}

func isHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}
