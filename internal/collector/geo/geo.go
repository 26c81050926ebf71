// Package geo locates a domain's first address, from a local MaxMind City
// database when one is configured and from ipinfo.io otherwise.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oschwald/geoip2-golang"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
)

const defaultIPInfoURL = "https://ipinfo.io"

// Location is what a lookup found for one address.
type Location struct {
	Country   string
	Latitude  *float64
	Longitude *float64
}

// Locator maps an address to a Location.
type Locator interface {
	Locate(ip net.IP) (Location, error)
}

// Resolver resolves host names. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Config controls lookups.
type Config struct {
	// MaxMindDB is the path of a GeoLite2/GeoIP2 City database; empty skips it.
	MaxMindDB string
	// IPInfoFallback queries ipinfo.io when MaxMind is absent or has no answer.
	IPInfoFallback bool
	IPInfoURL      string
	IPInfoToken    string
	Timeout        time.Duration
}

// Enricher fills Country, Latitude and Longitude.
type Enricher struct {
	cfg      Config
	resolver Resolver
	maxmind  Locator
	close    func() error
	http     *http.Client
}

// New opens the MaxMind database when configured.
func New(cfg Config) (*Enricher, error) {
	var (
		locator Locator
		closeFn func() error
	)
	if cfg.MaxMindDB != "" {
		reader, err := geoip2.Open(cfg.MaxMindDB)
		if err != nil {
			return nil, fmt.Errorf("open maxmind database: %w", err)
		}
		locator = maxmindLocator{reader: reader}
		closeFn = reader.Close
	}
	e := NewWithLocator(locator, net.DefaultResolver, cfg)
	e.close = closeFn
	return e, nil
}

// NewWithLocator constructs an Enricher with explicit dependencies; locator
// may be nil.
func NewWithLocator(locator Locator, resolver Resolver, cfg Config) *Enricher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.IPInfoURL == "" {
		cfg.IPInfoURL = defaultIPInfoURL
	}
	return &Enricher{
		cfg:      cfg,
		resolver: resolver,
		maxmind:  locator,
		http:     &http.Client{Timeout: cfg.Timeout},
	}
}

// Name identifies the enricher in logs and metrics.
func (e *Enricher) Name() string {
	return "geo"
}

// Close releases the MaxMind database.
func (e *Enricher) Close() error {
	if e.close == nil {
		return nil
	}
	if err := e.close(); err != nil {
		return fmt.Errorf("close maxmind database: %w", err)
	}
	return nil
}

// Enrich resolves the domain and locates its first address.
func (e *Enricher) Enrich(ctx context.Context, req discovery.CollectRequest) (discovery.DomainMetadata, error) {
	meta := discovery.DomainMetadata{DomainName: req.DomainName}
	addrs, err := e.resolver.LookupHost(ctx, req.DomainName)
	if err != nil {
		return meta, fmt.Errorf("resolve %s: %w", req.DomainName, err)
	}
	if len(addrs) == 0 {
		return meta, fmt.Errorf("resolve %s: no addresses", req.DomainName)
	}
	ip := net.ParseIP(addrs[0])
	if ip == nil {
		return meta, fmt.Errorf("resolve %s: bad address %q", req.DomainName, addrs[0])
	}
	meta.IPAddress = discovery.Ptr(ip.String())

	loc, err := e.locate(ctx, ip)
	if err != nil {
		return meta, err
	}
	if loc.Country != "" {
		meta.Country = discovery.Ptr(loc.Country)
	}
	meta.Latitude = loc.Latitude
	meta.Longitude = loc.Longitude
	return meta, nil
}

func (e *Enricher) locate(ctx context.Context, ip net.IP) (Location, error) {
	var errs []error
	if e.maxmind != nil {
		loc, err := e.maxmind.Locate(ip)
		if err == nil && loc.Latitude != nil {
			return loc, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if e.cfg.IPInfoFallback {
		loc, err := e.ipinfo(ctx, ip)
		if err == nil {
			return loc, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Location{}, fmt.Errorf("locate %s: no source configured", ip)
	}
	return Location{}, errors.Join(errs...)
}

type ipinfoResponse struct {
	Country string `json:"country"`
	Loc     string `json:"loc"`
}

func (e *Enricher) ipinfo(ctx context.Context, ip net.IP) (Location, error) {
	endpoint := strings.TrimSuffix(e.cfg.IPInfoURL, "/") + "/" + url.PathEscape(ip.String()) + "/json"
	if e.cfg.IPInfoToken != "" {
		endpoint += "?token=" + url.QueryEscape(e.cfg.IPInfoToken)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Location{}, fmt.Errorf("ipinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := e.http.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("ipinfo %s: %w", ip, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("ipinfo %s: status %d", ip, resp.StatusCode)
	}
	var body ipinfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("decode ipinfo %s: %w", ip, err)
	}
	loc := Location{Country: body.Country}
	if lat, lng, ok := parseLoc(body.Loc); ok {
		loc.Latitude, loc.Longitude = &lat, &lng
	}
	return loc, nil
}

// parseLoc splits ipinfo's "lat,lng" pair.
func parseLoc(s string) (float64, float64, bool) {
	latStr, lngStr, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return 0, 0, false
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lng, true
}

type maxmindLocator struct {
	reader *geoip2.Reader
}

func (m maxmindLocator) Locate(ip net.IP) (Location, error) {
	city, err := m.reader.City(ip)
	if err != nil {
		return Location{}, fmt.Errorf("maxmind %s: %w", ip, err)
	}
	loc := Location{Country: city.Country.IsoCode}
	// MaxMind reports 0,0 for addresses it cannot place.
	if city.Location.Latitude != 0 || city.Location.Longitude != 0 {
		lat, lng := city.Location.Latitude, city.Location.Longitude
		loc.Latitude, loc.Longitude = &lat, &lng
	}
	return loc, nil
}
