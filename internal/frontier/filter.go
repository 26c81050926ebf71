package frontier

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var excludedExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".svg", ".webp", ".ico",
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".txt", ".rtf",
	".zip", ".rar", ".7z", ".tar", ".gz", ".bz2",
	".mp3", ".mp4", ".avi", ".mov", ".wmv", ".flv", ".wav", ".ogg",
	".exe", ".msi", ".dmg", ".pkg", ".deb", ".rpm",
	".js", ".css", ".xml", ".json", ".csv", ".sql",
	".log", ".tmp", ".bak", ".old", ".cache",
}

var excludedPatterns = compilePatterns(
	`analytics`, `tracking`, `pixel`, `beacon`,
	`/api/`, `/rest/`, `/graphql`, `/swagger`, `/docs`,
	`/admin`, `/wp-admin`, `/phpmyadmin`, `/cpanel`,
	`/sitemap`, `/robots\.txt`, `/favicon\.ico`,
	`/cart`, `/checkout`, `/payment`, `/order`,
	`/login`, `/logout`, `/register`, `/signup`, `/profile`,
	`/search`, `/filter`, `/sort`, `/page`,
	`/contact`, `/about`, `/privacy`, `/terms`, `/help`,
)

// user-generated-content hosts whose subdomains are separate sites
var ugcHosts = compilePatterns(
	`^[^.]+\.itch\.io$`,
	`^[^.]+\.github\.io$`,
	`^[^.]+\.wordpress\.com$`,
)

var (
	trackingParams     = []string{"utm_", "fbclid", "gclid", "ref", "source", "campaign"}
	nonContentSegments = map[string]struct{}{
		"api": {}, "admin": {}, "assets": {}, "static": {}, "cdn": {},
		"images": {}, "img": {}, "css": {}, "js": {},
	}
	nonContentTexts = map[string]struct{}{
		"click here": {}, "read more": {}, "learn more": {},
		"continue": {}, "next": {}, "previous": {},
	}
)

const (
	maxURLLength    = 500
	maxPathSegments = 8
	maxQueryParams  = 10
)

func compilePatterns(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

// ShouldExclude reports whether a link is unlikely to lead to a content page,
// with a short reason for debug logging.
func ShouldExclude(rawURL, linkText string) (bool, string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true, "unparseable"
	}
	if u.Host == "" {
		return true, "no domain"
	}
	path := strings.ToLower(u.Path)
	for _, ext := range excludedExtensions {
		if strings.HasSuffix(path, ext) {
			return true, "excluded extension " + ext
		}
	}
	lower := strings.ToLower(rawURL)
	for _, re := range excludedPatterns {
		if re.MatchString(lower) {
			return true, "excluded pattern " + re.String()
		}
	}
	host := strings.ToLower(u.Hostname())
	for _, re := range ugcHosts {
		if re.MatchString(host) {
			return true, "user content host"
		}
	}
	if reason, bad := checkQuery(u.Query()); bad {
		return true, reason
	}
	if len(rawURL) > maxURLLength {
		return true, "url too long"
	}
	segments := pathSegments(u.Path)
	if len(segments) > maxPathSegments {
		return true, "too many path segments"
	}
	if len(segments) > 0 {
		if _, ok := nonContentSegments[strings.ToLower(segments[0])]; ok {
			return true, "non-content path " + segments[0]
		}
	}
	text := strings.ToLower(strings.TrimSpace(linkText))
	if len(text) < 2 {
		return true, "empty link text"
	}
	if _, ok := nonContentTexts[text]; ok {
		return true, "non-content link text"
	}
	return false, ""
}

func checkQuery(q url.Values) (string, bool) {
	if len(q) > maxQueryParams {
		return "too many query parameters", true
	}
	for key := range q {
		lk := strings.ToLower(key)
		for _, tp := range trackingParams {
			if strings.Contains(lk, tp) {
				return fmt.Sprintf("tracking parameter %s", key), true
			}
		}
	}
	return "", false
}

func pathSegments(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}
