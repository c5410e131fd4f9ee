package validate

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
)

// URL validation errors
var (
	ErrInvalidURL       = errors.New("invalid URL format")
	ErrDisallowedScheme = errors.New("URL scheme not allowed")
	ErrDisallowedDomain = errors.New("URL domain not allowed")
	ErrSSRFRisk         = errors.New("URL poses SSRF risk")
)

// URLConstraints defines validation constraints for URLs.
type URLConstraints struct {
	AllowedSchemes []string // e.g., []string{"https", "http"}
	AllowedDomains []string // If non-empty, only these domains are allowed
	BlockPrivate   bool     // Whether to block private/local IP addresses (SSRF protection)
	MaxLength      int      // Maximum URL length (0 = no limit)
}

// DefaultURLConstraints provides secure defaults for URL validation.
// Blocks private IPs and only allows HTTPS.
var DefaultURLConstraints = URLConstraints{
	AllowedSchemes: []string{"https"},
	BlockPrivate:   true,
	MaxLength:      2048,
}

// ServiceURLConstraints covers operator-configured backend endpoints such as
// the verification scorer. Private addresses are allowed since these services
// typically live inside the cluster.
var ServiceURLConstraints = URLConstraints{
	AllowedSchemes: []string{"https", "http"},
	BlockPrivate:   false,
	MaxLength:      2048,
}

// ServiceURL validates an operator-configured backend endpoint URL.
func ServiceURL(urlStr string) (string, error) {
	return URL(urlStr, ServiceURLConstraints)
}

// WebhookURL validates a URL supplied by an external party for callbacks.
// Uses default constraints with SSRF protection.
func WebhookURL(urlStr string) (string, error) {
	return URL(urlStr, DefaultURLConstraints)
}

// URL validates a URL against the given constraints.
// Returns the validated URL string and an error if validation fails.
func URL(urlStr string, constraints URLConstraints) (string, error) {
	urlStr = strings.TrimSpace(urlStr)
	if urlStr == "" {
		return "", ErrEmpty
	}
	if constraints.MaxLength > 0 && len(urlStr) > constraints.MaxLength {
		return "", fmt.Errorf("%w: URL exceeds %d characters", ErrStringTooLong, constraints.MaxLength)
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if len(constraints.AllowedSchemes) > 0 && !slices.Contains(constraints.AllowedSchemes, parsed.Scheme) {
		return "", fmt.Errorf("%w: got %q, allowed: %v", ErrDisallowedScheme, parsed.Scheme, constraints.AllowedSchemes)
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return "", fmt.Errorf("%w: missing hostname", ErrInvalidURL)
	}

	if len(constraints.AllowedDomains) > 0 && !domainAllowed(hostname, constraints.AllowedDomains) {
		return "", fmt.Errorf("%w: %q not in allowlist", ErrDisallowedDomain, hostname)
	}

	if constraints.BlockPrivate {
		if err := checkSSRF(hostname); err != nil {
			return "", err
		}
	}

	return urlStr, nil
}

// domainAllowed reports whether hostname matches one of the allowed domains
// exactly or as a subdomain.
func domainAllowed(hostname string, allowed []string) bool {
	for _, domain := range allowed {
		if hostname == domain || strings.HasSuffix(hostname, "."+domain) {
			return true
		}
	}
	return false
}

// checkSSRF rejects hostnames that resolve to localhost, private, or
// link-local addresses.
func checkSSRF(hostname string) error {
	lower := strings.ToLower(hostname)
	if lower == "localhost" || lower == "localhost.localdomain" {
		return fmt.Errorf("%w: localhost not allowed", ErrSSRFRisk)
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		// Unresolvable hostnames pass here; connection errors surface later.
		return nil
	}

	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("%w: private IP address %s", ErrSSRFRisk, ip.String())
		}
	}
	return nil
}

// isPrivateIP checks if an IP address is private, loopback, or link-local.
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}

	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 10: // 10.0.0.0/8
			return true
		case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31: // 172.16.0.0/12
			return true
		case ip4[0] == 192 && ip4[1] == 168: // 192.168.0.0/16
			return true
		case ip4[0] == 169 && ip4[1] == 254: // 169.254.0.0/16
			return true
		}
		return false
	}

	// fc00::/7 unique local addresses
	return len(ip) == 16 && (ip[0]&0xfe) == 0xfc
}
