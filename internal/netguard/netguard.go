// Package netguard validates outbound request targets before the platform
// touches them. It is shared by the engine's HTTP action, the integration
// verifier, and the sandbox fetch passthrough so the rules cannot drift.
package netguard

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

var blockedNets []*net.IPNet

func init() {
	for _, cidr := range []string{
		"127.0.0.0/8",
		"10.0.0.0/8",
		"192.168.0.0/16",
		"172.16.0.0/12",
		"169.254.0.0/16",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	} {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("netguard: bad builtin CIDR %s: %v", cidr, err))
		}
		blockedNets = append(blockedNets, n)
	}
}

// ValidateURL parses raw and rejects targets that could reach internal
// infrastructure: non-HTTP schemes, localhost aliases, loopback, link-local
// and RFC1918 addresses. It checks literal IPs before DNS resolution; when
// resolution is possible, every resolved address is checked too.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("scheme %q not allowed", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("URL has no host")
	}

	if err := CheckHost(host); err != nil {
		return nil, err
	}
	return u, nil
}

// CheckURL validates raw like ValidateURL but discards the parsed URL. It
// matches the validator hook shape used by the engine and the verifier.
func CheckURL(raw string) error {
	_, err := ValidateURL(raw)
	return err
}

// CheckHost rejects hosts naming reserved or private addresses. Hostnames
// that resolve are checked against every resolved address; unresolvable
// hostnames pass (the connection will fail on its own).
func CheckHost(host string) error {
	lowered := strings.ToLower(host)
	if lowered == "localhost" || strings.HasSuffix(lowered, ".localhost") {
		return fmt.Errorf("host %q is not allowed", host)
	}

	if ip := net.ParseIP(stripZone(host)); ip != nil {
		return checkIP(ip, host)
	}

	addrs, err := net.LookupIP(host)
	if err != nil {
		// Unresolvable now; the dial will surface the real error.
		return nil
	}
	for _, ip := range addrs {
		if err := checkIP(ip, host); err != nil {
			return err
		}
	}
	return nil
}

func checkIP(ip net.IP, host string) error {
	// Normalize IPv6-mapped IPv4 so ::ffff:127.0.0.1 hits the v4 ranges.
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, n := range blockedNets {
		if n.Contains(ip) {
			return fmt.Errorf("host %q resolves to reserved address %s", host, ip)
		}
	}
	return nil
}

func stripZone(host string) string {
	if i := strings.IndexByte(host, '%'); i >= 0 {
		return host[:i]
	}
	return host
}
