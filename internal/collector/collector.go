// Package collector assembles domain metadata from a page fetch plus a set of
// independent enrichers (DNS, TLS, screenshots).
package collector

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/domain-mapper/internal/collector/web"
	"github.com/JakeFAU/domain-mapper/internal/discovery"
	"github.com/JakeFAU/domain-mapper/internal/metrics"
)

// PageFetcher downloads a page and extracts its links.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (web.Page, error)
}

// Enricher adds metadata fields that do not come from the page body. A
// failing enricher may still return the fields it did collect.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, req discovery.CollectRequest) (discovery.DomainMetadata, error)
}

// Collector implements discovery.Collector.
type Collector struct {
	pages     PageFetcher
	enrichers []Enricher
	logger    *zap.Logger
}

var _ discovery.Collector = (*Collector)(nil)

// New creates a Collector.
func New(pages PageFetcher, enrichers []Enricher, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Collector{pages: pages, enrichers: enrichers, logger: logger}
}

// Collect fetches req.URL and runs every enricher concurrently. Only the page
// fetch can fail the collection; enricher failures leave their fields nil.
func (c *Collector) Collect(ctx context.Context, req discovery.CollectRequest) (discovery.CollectResult, error) {
	page, err := c.pages.Fetch(ctx, req.URL)
	if err != nil {
		var ce *discovery.CollectionError
		if errors.As(err, &ce) {
			return discovery.CollectResult{}, err
		}
		return discovery.CollectResult{}, discovery.NewCollectionError(discovery.KindPermanent, req.URL, err)
	}

	meta := pageMetadata(req.DomainName, page)
	target := req
	target.URL = page.FinalURL

	results := make([]discovery.DomainMetadata, len(c.enrichers))
	var g errgroup.Group
	for i, enricher := range c.enrichers {
		g.Go(func() error {
			found, err := enricher.Enrich(ctx, target)
			if err != nil {
				metrics.ObserveEnrichmentFailure(enricher.Name())
				c.logger.Warn("enrichment failed",
					zap.String("enricher", enricher.Name()),
					zap.String("domain", req.DomainName),
					zap.Error(err),
				)
			}
			results[i] = found
			return nil
		})
	}
	_ = g.Wait()

	for _, found := range results {
		found.DomainName = ""
		meta = meta.Merge(found)
	}

	return discovery.CollectResult{
		Metadata: meta,
		Links:    page.Links,
		FinalURL: page.FinalURL,
	}, nil
}

func pageMetadata(domain string, page web.Page) discovery.DomainMetadata {
	meta := discovery.DomainMetadata{DomainName: domain}
	meta.Title = nonEmpty(page.Title)
	meta.Description = nonEmpty(page.Description)
	meta.FaviconURL = nonEmpty(page.FaviconURL)

	category := Categorize(domain, page.Title, page.Description)
	meta.Category = &category
	tags := Tags(domain, page.Keywords, category)
	meta.Tags = &tags
	return meta
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
