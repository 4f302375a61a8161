package bank

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// CallbackPolicy decides which callback URLs may be invoked.
type CallbackPolicy struct {
	// Development relaxes the scheme to http and admits localhost.
	Development bool
	// AllowedHosts ("host" or "host:port") is enforced outside development
	// when non-empty.
	AllowedHosts []string
}

var blockedHosts = map[string]bool{
	"localhost":                true,
	"127.0.0.1":                true,
	"0.0.0.0":                  true,
	"::1":                      true,
	"169.254.169.254":          true,
	"169.254.170.2":            true,
	"metadata.google.internal": true,
	"metadata.gcp.internal":    true,
	"metadata":                 true,
}

// ValidateCallbackURL applies the policy to raw and returns the parsed URL.
func (p CallbackPolicy) ValidateCallbackURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid callback url %q", raw)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !p.Development {
			return nil, fmt.Errorf("callback url must use https")
		}
	default:
		return nil, fmt.Errorf("callback url scheme %q not allowed", u.Scheme)
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if p.Development && (host == "localhost" || host == "127.0.0.1") {
		return u, nil
	}
	if blockedHosts[host] {
		return nil, fmt.Errorf("blocked callback host %s", host)
	}
	if ip := net.ParseIP(host); ip != nil && blockedIP(ip) {
		return nil, fmt.Errorf("blocked callback address %s", host)
	}

	if !p.Development && len(p.AllowedHosts) > 0 && !p.allowed(host, u.Port()) {
		return nil, fmt.Errorf("callback host %s not in allow-list", host)
	}
	return u, nil
}

func (p CallbackPolicy) allowed(host, port string) bool {
	hostPort := host
	if port != "" {
		hostPort = net.JoinHostPort(host, port)
	}
	for _, a := range p.AllowedHosts {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == host || a == hostPort {
			return true
		}
	}
	return false
}

// blockedIP covers loopback, link-local (incl. cloud metadata), private and
// unique-local ranges.
func blockedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsPrivate()
}
