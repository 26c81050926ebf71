// Package web fetches a page with colly and extracts its title, description,
// favicon, keywords and outbound links.
package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
	"github.com/JakeFAU/domain-mapper/internal/frontier"
)

// Config controls fetching and link selection.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxLinksPerPage bounds the links returned for one page; a quarter of the
	// slots (at least one) go to same-domain links, the rest to other domains.
	MaxLinksPerPage int
	// FilterLinks drops links that look like assets, tracking or boilerplate.
	FilterLinks bool
}

// Page is what one fetch produced.
type Page struct {
	RequestURL  string
	FinalURL    string
	StatusCode  int
	Title       string
	Description string
	FaviconURL  string
	Keywords    string
	Links       []discovery.Link
	// Excluded counts links rejected by the content filter.
	Excluded int
}

// Fetcher fetches pages with colly.
type Fetcher struct {
	cfg    Config
	base   *colly.Collector
	logger *zap.Logger
}

type collectorHooks interface {
	OnHTML(string, colly.HTMLCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. The transport and timeout are set once on the shared
// backend so concurrent fetches do not race on it.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxLinksPerPage <= 0 {
		cfg.MaxLinksPerPage = 50
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newSiteTransport(newHTTPTransport(), logger))
	c.SetRequestTimeout(cfg.Timeout)
	return &Fetcher{cfg: cfg, base: c, logger: logger}
}

// Fetch downloads rawURL and extracts page data. Failures are returned as
// *discovery.CollectionError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	page := Page{RequestURL: rawURL}
	var fetchErr error
	collector := f.buildCollector()
	f.configureHooks(collector, rawURL, &page, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return Page{}, classify(rawURL, err)
	}
	if page.FinalURL == "" {
		page.FinalURL = rawURL
	}
	return page, nil
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.base.Clone()
	collector.AllowURLRevisit = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	return collector
}

func (f *Fetcher) configureHooks(
	hooks collectorHooks,
	rawURL string,
	page *Page,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		page.StatusCode = r.StatusCode
		page.FinalURL = r.Request.URL.String()
	})
	hooks.OnHTML("html", func(e *colly.HTMLElement) {
		f.extract(e.DOM, e.Request.AbsoluteURL, rawURL, page)
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			*fetchErr = StatusError{Code: r.StatusCode}
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		// colly reports HTTP errors through both paths; the hook keeps the status.
		if *fetchErr != nil {
			return fmt.Errorf("response: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("visit: %w", err)
		}
		return nil
	}
}

// extract fills page from the parsed document. abs resolves hrefs against the
// final URL.
func (f *Fetcher) extract(doc *goquery.Selection, abs func(string) string, rawURL string, page *Page) {
	page.Title = strings.TrimSpace(doc.Find("title").First().Text())
	page.Description = metaContent(doc, `meta[name="description"]`, `meta[property="og:description"]`)
	page.Keywords = metaContent(doc, `meta[name="keywords"]`)
	if href, ok := doc.Find(`link[rel~="icon"]`).First().Attr("href"); ok && href != "" {
		page.FaviconURL = abs(href)
	}

	var raw []discovery.Link
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if skipHref(href) {
			return
		}
		target := abs(href)
		if target == "" {
			return
		}
		raw = append(raw, discovery.Link{URL: target, Text: strings.TrimSpace(a.Text())})
	})

	// A cross-domain redirect takes one slot of the per-page cap.
	limit := f.cfg.MaxLinksPerPage
	redirect := redirectLink(rawURL, page.FinalURL)
	if redirect != nil {
		limit--
	}
	links, excluded := f.selectLinks(rawURL, raw, limit)
	page.Excluded = excluded
	if redirect != nil {
		links = append([]discovery.Link{*redirect}, links...)
	}
	page.Links = links
}

func metaContent(doc *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if content, ok := doc.Find(sel).First().Attr("content"); ok {
			if content = strings.TrimSpace(content); content != "" {
				return content
			}
		}
	}
	return ""
}

func skipHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"mailto:", "javascript:", "tel:", "data:"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// selectLinks filters links and splits limit between same-domain and
// cross-domain links.
func (f *Fetcher) selectLinks(pageURL string, raw []discovery.Link, limit int) ([]discovery.Link, int) {
	if limit <= 0 {
		return nil, 0
	}
	pageDomain, _ := frontier.DomainOf(pageURL)
	maxInternal := limit / 4
	if maxInternal < 1 {
		maxInternal = 1
	}
	maxExternal := limit - maxInternal

	var internal, external []discovery.Link
	excluded := 0
	seen := make(map[string]struct{}, len(raw))
	for _, link := range raw {
		if f.cfg.FilterLinks {
			if skip, reason := frontier.ShouldExclude(link.URL, link.Text); skip {
				excluded++
				f.logger.Debug("link excluded", zap.String("url", link.URL), zap.String("reason", reason))
				continue
			}
		}
		normalized, err := frontier.Normalize(link.URL)
		if err != nil {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		domain, err := frontier.DomainOf(normalized)
		if err != nil {
			continue
		}
		if domain == pageDomain {
			if len(internal) < maxInternal {
				seen[normalized] = struct{}{}
				internal = append(internal, link)
			}
			continue
		}
		if !frontier.IsValidDomain(domain) {
			continue
		}
		if len(external) < maxExternal {
			seen[normalized] = struct{}{}
			external = append(external, link)
		}
	}
	return append(internal, external...), excluded
}

// redirectLink reports a cross-domain redirect as a link hint.
func redirectLink(requestURL, finalURL string) *discovery.Link {
	if finalURL == "" {
		return nil
	}
	from, err := frontier.DomainOf(requestURL)
	if err != nil {
		return nil
	}
	to, err := frontier.DomainOf(finalURL)
	if err != nil || to == from {
		return nil
	}
	return &discovery.Link{URL: finalURL, Type: discovery.RelationshipRedirect}
}

// statusIsTransient reports whether an HTTP status is worth retrying later.
func statusIsTransient(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500
}
