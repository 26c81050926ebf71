// Package frontier turns the links found on a collected page into new queue
// entries and relationship edges.
package frontier

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
)

var (
	errUnsupportedScheme = errors.New("unsupported scheme")
	errMissingHost       = errors.New("missing host")

	domainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)
)

// Normalize canonicalises an absolute http(s) URL for queueing: the scheme and
// host are lowercased, default ports, query, fragment and trailing slashes are
// dropped.
func Normalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: %q", errUnsupportedScheme, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", errMissingHost
	}
	if port := u.Port(); port != "" && !isDefaultPort(scheme, port) {
		host = net.JoinHostPort(host, port)
	}
	path := strings.TrimRight(u.EscapedPath(), "/")
	return scheme + "://" + host + path, nil
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

// NormalizeDomain lowercases name, trims dots and spaces and strips a leading
// "www." label.
func NormalizeDomain(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Trim(name, ".")
	return strings.TrimPrefix(name, "www.")
}

// DomainOf returns the normalised domain of an absolute URL.
func DomainOf(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", errMissingHost
	}
	return NormalizeDomain(host), nil
}

// IsValidDomain reports whether name looks like a public DNS name. IP
// literals and single-label hosts are rejected.
func IsValidDomain(name string) bool {
	if name == "" || len(name) > 253 {
		return false
	}
	if net.ParseIP(name) != nil {
		return false
	}
	return domainPattern.MatchString(name)
}

// SeedURL is the URL queued for a seed domain.
func SeedURL(domain string) string {
	return "http://" + NormalizeDomain(domain)
}

// RegistrableDomain returns the eTLD+1 of name, or name itself when the
// public suffix list has no answer.
func RegistrableDomain(name string) string {
	etld1, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		return name
	}
	return etld1
}

// SameSite reports whether a and b share a registrable domain.
func SameSite(a, b string) bool {
	return RegistrableDomain(a) == RegistrableDomain(b)
}

// Classify picks the relationship type for an edge from source to target.
// A collector hint wins; otherwise domains under one registrable domain are
// subdomains and everything else is a plain link.
func Classify(source, target string, hint discovery.RelationshipType) discovery.RelationshipType {
	if hint.Valid() {
		return hint
	}
	if SameSite(source, target) {
		return discovery.RelationshipSubdomain
	}
	return discovery.RelationshipLink
}
