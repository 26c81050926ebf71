package discovery

import "time"

// DomainMetadata is everything collected about one domain. Every field except
// DomainName is optional; nil means "not collected this time".
type DomainMetadata struct {
	DomainName string

	Title       *string
	Description *string
	FaviconURL  *string

	CreatedDate *time.Time
	ExpiryDate  *time.Time
	Registrar   *string
	Nameservers *string

	IPAddress      *string
	ASN            *string
	ASNDescription *string

	SSLValid  *bool
	SSLExpiry *time.Time

	Country   *string
	Latitude  *float64
	Longitude *float64

	ScreenshotPath *string
	Category       *string
	Tags           *string
}

// Missing names the fields a backfill can still fill. The screenshot path is
// not included; screenshots are taken only during a crawl.
func (m DomainMetadata) Missing() []string {
	var out []string
	add := func(name string, isNil bool) {
		if isNil {
			out = append(out, name)
		}
	}
	add("title", m.Title == nil)
	add("description", m.Description == nil)
	add("favicon_url", m.FaviconURL == nil)
	add("created_date", m.CreatedDate == nil)
	add("expiry_date", m.ExpiryDate == nil)
	add("registrar", m.Registrar == nil)
	add("nameservers", m.Nameservers == nil)
	add("ip_address", m.IPAddress == nil)
	add("asn", m.ASN == nil)
	add("asn_description", m.ASNDescription == nil)
	add("ssl_valid", m.SSLValid == nil)
	add("ssl_expiry", m.SSLExpiry == nil)
	add("country", m.Country == nil)
	add("latitude", m.Latitude == nil)
	add("longitude", m.Longitude == nil)
	add("category", m.Category == nil)
	add("tags", m.Tags == nil)
	return out
}

// Domain is a persisted domain row.
type Domain struct {
	ID int64
	DomainMetadata
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Merge returns m with every field that newer sets overwritten.
func (m DomainMetadata) Merge(newer DomainMetadata) DomainMetadata {
	out := m
	if newer.DomainName != "" {
		out.DomainName = newer.DomainName
	}
	mergeField(&out.Title, newer.Title)
	mergeField(&out.Description, newer.Description)
	mergeField(&out.FaviconURL, newer.FaviconURL)
	mergeField(&out.CreatedDate, newer.CreatedDate)
	mergeField(&out.ExpiryDate, newer.ExpiryDate)
	mergeField(&out.Registrar, newer.Registrar)
	mergeField(&out.Nameservers, newer.Nameservers)
	mergeField(&out.IPAddress, newer.IPAddress)
	mergeField(&out.ASN, newer.ASN)
	mergeField(&out.ASNDescription, newer.ASNDescription)
	mergeField(&out.SSLValid, newer.SSLValid)
	mergeField(&out.SSLExpiry, newer.SSLExpiry)
	mergeField(&out.Country, newer.Country)
	mergeField(&out.Latitude, newer.Latitude)
	mergeField(&out.Longitude, newer.Longitude)
	mergeField(&out.ScreenshotPath, newer.ScreenshotPath)
	mergeField(&out.Category, newer.Category)
	mergeField(&out.Tags, newer.Tags)
	return out
}

func mergeField[T any](dst **T, src *T) {
	if src == nil {
		return
	}
	v := *src
	*dst = &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
