// Package netinfo resolves a domain's addresses, nameservers, origin ASN and
// TLS certificate.
package netinfo

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
)

// Config controls lookups.
type Config struct {
	// Resolver is the host:port of the recursive resolver to query.
	Resolver string
	Timeout  time.Duration
	// LookupASN enables Team Cymru origin lookups for the first A record.
	LookupASN bool
	CheckTLS  bool
	TLSPort   string
	// RootCAs overrides the system pool when verifying certificates.
	RootCAs *x509.CertPool
}

// Enricher fills network fields of DomainMetadata.
type Enricher struct {
	cfg    Config
	client *dns.Client
	now    func() time.Time
}

// New constructs an Enricher.
func New(cfg Config) *Enricher {
	if cfg.Resolver == "" {
		cfg.Resolver = "8.8.8.8:53"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.TLSPort == "" {
		cfg.TLSPort = "443"
	}
	return &Enricher{
		cfg:    cfg,
		client: &dns.Client{Net: "udp", Timeout: cfg.Timeout},
		now:    time.Now,
	}
}

// Name identifies the enricher in logs and metrics.
func (e *Enricher) Name() string {
	return "netinfo"
}

// Enrich runs every lookup. Fields whose lookup failed stay nil and the
// failures are joined into the returned error.
func (e *Enricher) Enrich(ctx context.Context, req discovery.CollectRequest) (discovery.DomainMetadata, error) {
	meta := discovery.DomainMetadata{DomainName: req.DomainName}
	var errs []error

	ips, err := e.lookupA(ctx, req.DomainName)
	if err != nil {
		errs = append(errs, err)
	}
	if len(ips) > 0 {
		meta.IPAddress = discovery.Ptr(ips[0])
	}

	ns, err := e.lookupNS(ctx, req.DomainName)
	if err != nil {
		errs = append(errs, err)
	}
	if len(ns) > 0 {
		meta.Nameservers = discovery.Ptr(strings.Join(ns, ","))
	}

	if e.cfg.LookupASN && len(ips) > 0 {
		origin, err := e.lookupOrigin(ctx, ips[0])
		if err != nil {
			errs = append(errs, err)
		} else {
			meta.ASN = discovery.Ptr("AS" + origin.asn)
			if origin.country != "" {
				meta.Country = discovery.Ptr(origin.country)
			}
			if origin.description != "" {
				meta.ASNDescription = discovery.Ptr(origin.description)
			}
		}
	}

	if e.cfg.CheckTLS {
		valid, expiry, err := e.checkTLS(ctx, req.DomainName)
		if err != nil {
			errs = append(errs, err)
		}
		meta.SSLValid = valid
		meta.SSLExpiry = expiry
	}
	return meta, errors.Join(errs...)
}

func (e *Enricher) query(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true
	in, _, err := e.client.ExchangeContext(ctx, m, e.cfg.Resolver)
	if err != nil {
		return nil, fmt.Errorf("dns %s %s: %w", dns.TypeToString[qtype], name, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns %s %s: %s", dns.TypeToString[qtype], name, dns.RcodeToString[in.Rcode])
	}
	return in.Answer, nil
}

func (e *Enricher) lookupA(ctx context.Context, domain string) ([]string, error) {
	answers, err := e.query(ctx, domain, dns.TypeA)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rr := range answers {
		if a, ok := rr.(*dns.A); ok {
			out = append(out, a.A.String())
		}
	}
	return out, nil
}

func (e *Enricher) lookupNS(ctx context.Context, domain string) ([]string, error) {
	answers, err := e.query(ctx, domain, dns.TypeNS)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rr := range answers {
		if ns, ok := rr.(*dns.NS); ok {
			out = append(out, strings.TrimSuffix(strings.ToLower(ns.Ns), "."))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (e *Enricher) lookupTXT(ctx context.Context, name string) (string, error) {
	answers, err := e.query(ctx, name, dns.TypeTXT)
	if err != nil {
		return "", err
	}
	for _, rr := range answers {
		if txt, ok := rr.(*dns.TXT); ok {
			return strings.Join(txt.Txt, ""), nil
		}
	}
	return "", fmt.Errorf("dns TXT %s: no records", name)
}

type origin struct {
	asn         string
	country     string
	description string
}

// lookupOrigin asks Team Cymru for the ASN announcing ip and then for that
// ASN's registered name.
func (e *Enricher) lookupOrigin(ctx context.Context, ip string) (origin, error) {
	name, err := originName(ip)
	if err != nil {
		return origin{}, err
	}
	txt, err := e.lookupTXT(ctx, name)
	if err != nil {
		return origin{}, err
	}
	// "15169 | 8.8.8.0/24 | US | arin | 1992-12-01"
	fields := splitCymru(txt)
	if len(fields) < 3 || fields[0] == "" {
		return origin{}, fmt.Errorf("parse origin %q", txt)
	}
	out := origin{
		asn:     strings.Fields(fields[0])[0],
		country: fields[2],
	}
	// "15169 | US | arin | 2000-03-30 | GOOGLE - Google LLC, US"
	if desc, err := e.lookupTXT(ctx, "AS"+out.asn+".asn.cymru.com"); err == nil {
		if parts := splitCymru(desc); len(parts) >= 5 {
			out.description = parts[4]
		}
	}
	return out, nil
}

func originName(ip string) (string, error) {
	parsed := net.ParseIP(ip).To4()
	if parsed == nil {
		return "", fmt.Errorf("origin lookup needs an IPv4 address, got %q", ip)
	}
	return fmt.Sprintf("%d.%d.%d.%d.origin.asn.cymru.com", parsed[3], parsed[2], parsed[1], parsed[0]), nil
}

func splitCymru(txt string) []string {
	parts := strings.Split(txt, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// checkTLS handshakes with domain. A certificate that fails verification is
// reported as invalid with its expiry; a failed connection leaves both nil.
func (e *Enricher) checkTLS(ctx context.Context, domain string) (*bool, *time.Time, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: e.cfg.Timeout},
		Config: &tls.Config{
			ServerName: domain,
			RootCAs:    e.cfg.RootCAs,
			MinVersion: tls.VersionTLS12,
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(domain, e.cfg.TLSPort))
	if err != nil {
		var verr *tls.CertificateVerificationError
		if errors.As(err, &verr) && len(verr.UnverifiedCertificates) > 0 {
			expiry := verr.UnverifiedCertificates[0].NotAfter
			return discovery.Ptr(false), &expiry, nil
		}
		return nil, nil, fmt.Errorf("tls dial %s: %w", domain, err)
	}
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return nil, nil, fmt.Errorf("tls dial %s: unexpected connection type %T", domain, conn)
	}
	certs := tlsConn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, nil, fmt.Errorf("tls dial %s: no peer certificates", domain)
	}
	expiry := certs[0].NotAfter
	valid := e.now().Before(expiry)
	return &valid, &expiry, nil
}
