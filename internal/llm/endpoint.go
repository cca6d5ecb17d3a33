package llm

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// ValidateBaseURL checks a client supplied endpoint before any request is
// sent to it. Plain http and local network hosts are rejected unless allowHTTP
// is set, which is meant for local model servers.
func ValidateBaseURL(raw string, allowHTTP bool) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint URL: %w", err)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !allowHTTP {
			return fmt.Errorf("http endpoints are not allowed")
		}
	default:
		return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("endpoint URL host is required")
	}
	if allowHTTP {
		return nil
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return fmt.Errorf("local hostname %q is not allowed", host)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		if addr.IsUnspecified() || addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() {
			return fmt.Errorf("local network address %q is not allowed", host)
		}
	}
	return nil
}
