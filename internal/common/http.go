package common

import (
	"net"
	"net/http"
	"net/netip"
)

// ClientIP returns the address of the caller. Proxy headers are trusted only
// through chi's RealIP middleware, which rewrites RemoteAddr before this runs.
// An unparsable RemoteAddr is returned unchanged.
func ClientIP(r *http.Request) string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().String()
	}
	return host
}
