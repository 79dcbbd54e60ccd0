// Package policy implements the per-request gate that runs after
// authentication: client IP resolution, the per-user IP allowlist, and the
// hourly rate quota backed by the store.
package policy

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP derives the caller's address: first X-Forwarded-For hop, then
// X-Real-IP, then the socket peer. IPv6-mapped IPv4 addresses normalize to
// their dotted form so they compare equal to allowlist rows.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return normalizeIP(first)
		}
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return normalizeIP(strings.TrimSpace(rip))
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return normalizeIP(r.RemoteAddr)
	}
	return normalizeIP(host)
}

func normalizeIP(raw string) string {
	ip := net.ParseIP(raw)
	if ip == nil {
		return raw
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}
