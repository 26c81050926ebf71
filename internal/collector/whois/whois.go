// Package whois fills registration fields (registrar, creation and expiry
// dates) from a port-43 WHOIS lookup of the registrable domain.
package whois

import (
	"context"
	"fmt"
	"strings"
	"time"

	likexian "github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"github.com/weppos/publicsuffix-go/publicsuffix"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
)

// Querier runs a raw WHOIS query. *whois.Client from likexian/whois
// satisfies it.
type Querier interface {
	Whois(domain string, servers ...string) (string, error)
}

// Config controls lookups.
type Config struct {
	Timeout time.Duration
	// Server pins the WHOIS server; empty follows IANA referrals.
	Server string
}

// Enricher fills the registration fields of DomainMetadata.
type Enricher struct {
	client Querier
	cfg    Config
}

// New constructs an Enricher backed by a likexian/whois client.
func New(cfg Config) *Enricher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return NewWithClient(likexian.NewClient().SetTimeout(cfg.Timeout), cfg)
}

// NewWithClient constructs an Enricher around client.
func NewWithClient(client Querier, cfg Config) *Enricher {
	return &Enricher{client: client, cfg: cfg}
}

// Name identifies the enricher in logs and metrics.
func (e *Enricher) Name() string {
	return "whois"
}

// Enrich looks up the registrable domain. Subdomains are left alone; their
// registration data belongs to the parent row.
func (e *Enricher) Enrich(ctx context.Context, req discovery.CollectRequest) (discovery.DomainMetadata, error) {
	meta := discovery.DomainMetadata{DomainName: req.DomainName}
	if !isRegistrable(req.DomainName) {
		return meta, nil
	}

	raw, err := e.query(ctx, req.DomainName)
	if err != nil {
		return meta, err
	}
	info, err := whoisparser.Parse(raw)
	if err != nil {
		return meta, fmt.Errorf("parse whois %s: %w", req.DomainName, err)
	}
	if info.Registrar != nil && strings.TrimSpace(info.Registrar.Name) != "" {
		meta.Registrar = discovery.Ptr(strings.TrimSpace(info.Registrar.Name))
	}
	if info.Domain != nil {
		meta.CreatedDate = parseDate(info.Domain.CreatedDate)
		meta.ExpiryDate = parseDate(info.Domain.ExpirationDate)
	}
	return meta, nil
}

// query runs the blocking lookup off the caller's goroutine so ctx bounds
// the wait; the client's own timeout ends the abandoned query.
func (e *Enricher) query(ctx context.Context, domain string) (string, error) {
	type answer struct {
		raw string
		err error
	}
	done := make(chan answer, 1)
	go func() {
		var servers []string
		if e.cfg.Server != "" {
			servers = append(servers, e.cfg.Server)
		}
		raw, err := e.client.Whois(domain, servers...)
		done <- answer{raw: raw, err: err}
	}()
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("whois %s: %w", domain, ctx.Err())
	case a := <-done:
		if a.err != nil {
			return "", fmt.Errorf("whois %s: %w", domain, a.err)
		}
		return a.raw, nil
	}
}

// isRegistrable reports whether name is its own ICANN eTLD+1.
func isRegistrable(name string) bool {
	apex, err := publicsuffix.DomainFromListWithOptions(publicsuffix.DefaultList, name,
		&publicsuffix.FindOptions{IgnorePrivate: true})
	return err == nil && apex == name
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-Jan-2006",
	"2006.01.02",
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
