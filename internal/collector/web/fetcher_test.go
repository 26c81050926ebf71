package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
)

const homePage = `<!doctype html>
<html>
<head>
	<title> Example Home </title>
	<meta name="description" content="A page about examples">
	<meta name="keywords" content="Examples, Testing">
	<link rel="shortcut icon" href="/favicon-32.png">
</head>
<body>
	<a href="#top">Top</a>
	<a href="/story/one">Story one</a>
	<a href="/story/two">Story two</a>
	<a href="/logo.png">Logo</a>
	<a href="mailto:someone@example.com">Mail us</a>
	<a href="javascript:void(0)">Menu</a>
	<a href="http://a.com/news">A news</a>
	<a href="http://a.com/news#latest">A news again</a>
	<a href="https://b.com">B site</a>
</body>
</html>`

func newSite(t *testing.T, userAgent *atomic.Value) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if userAgent != nil {
			userAgent.Store(r.UserAgent())
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, homePage)
	})
	mux.HandleFunc("/private", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>secret</body></html>")
	})
	mux.HandleFunc("/missing", http.NotFound)
	mux.HandleFunc("/flaky", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestFetchExtractsPageData(t *testing.T) {
	t.Parallel()

	var ua atomic.Value
	server := newSite(t, &ua)
	f := New(Config{
		UserAgent:       "domain-mapper-test",
		RespectRobots:   true,
		Timeout:         5 * time.Second,
		MaxLinksPerPage: 4,
		FilterLinks:     true,
	}, nil)

	page, err := f.Fetch(context.Background(), server.URL+"/")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, "Example Home", page.Title)
	require.Equal(t, "A page about examples", page.Description)
	require.Equal(t, "Examples, Testing", page.Keywords)
	require.Equal(t, server.URL+"/favicon-32.png", page.FaviconURL)
	require.Equal(t, "domain-mapper-test", ua.Load())
	require.Equal(t, 1, page.Excluded)

	var urls []string
	for _, link := range page.Links {
		urls = append(urls, link.URL)
	}
	require.Equal(t, []string{
		server.URL + "/story/one",
		"http://a.com/news",
		"https://b.com",
	}, urls)
}

func TestFetchClassifiesFailures(t *testing.T) {
	t.Parallel()

	server := newSite(t, nil)
	f := New(Config{RespectRobots: true, Timeout: 5 * time.Second}, nil)

	tests := []struct {
		path string
		kind discovery.ErrorKind
	}{
		{path: "/private", kind: discovery.KindPolicy},
		{path: "/missing", kind: discovery.KindPermanent},
		{path: "/flaky", kind: discovery.KindTransient},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(strings.TrimPrefix(tt.path, "/"), func(t *testing.T) {
			t.Parallel()
			_, err := f.Fetch(context.Background(), server.URL+tt.path)
			require.Error(t, err)
			var ce *discovery.CollectionError
			require.True(t, errors.As(err, &ce), "expected CollectionError, got %T", err)
			require.Equal(t, tt.kind, ce.Kind)
		})
	}
}

func TestFetchIgnoresRobotsWhenDisabled(t *testing.T) {
	t.Parallel()

	server := newSite(t, nil)
	f := New(Config{RespectRobots: false, Timeout: 5 * time.Second}, nil)

	_, err := f.Fetch(context.Background(), server.URL+"/private")
	require.NoError(t, err)
}

func TestFetchHonoursContextCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	f := New(Config{Timeout: 5 * time.Second}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, server.URL)
	var ce *discovery.CollectionError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, discovery.KindTransient, ce.Kind)
}

func TestRedirectLink(t *testing.T) {
	t.Parallel()

	link := redirectLink("http://old.com", "https://www.new.com/home")
	require.NotNil(t, link)
	require.Equal(t, discovery.RelationshipRedirect, link.Type)
	require.Equal(t, "https://www.new.com/home", link.URL)

	require.Nil(t, redirectLink("http://example.com", "https://www.example.com/"))
	require.Nil(t, redirectLink("http://example.com", ""))
}

func TestSelectLinksReservesQuarterForInternal(t *testing.T) {
	t.Parallel()

	f := New(Config{MaxLinksPerPage: 8}, nil)
	var raw []discovery.Link
	for i := 0; i < 5; i++ {
		raw = append(raw, discovery.Link{URL: fmt.Sprintf("https://example.com/p%d", i), Text: "page"})
	}
	for i := 0; i < 10; i++ {
		raw = append(raw, discovery.Link{URL: fmt.Sprintf("https://site%d.org", i), Text: "site"})
	}
	raw = append(raw, discovery.Link{URL: "http://10.0.0.1/", Text: "ip"})

	links, excluded := f.selectLinks("https://example.com", raw, 8)
	require.Zero(t, excluded)
	require.Len(t, links, 8)
	internal := 0
	for _, l := range links {
		if strings.HasPrefix(l.URL, "https://example.com") {
			internal++
		}
	}
	require.Equal(t, 2, internal)
}

func TestExtractKeepsRedirectWithinCap(t *testing.T) {
	t.Parallel()

	var body strings.Builder
	body.WriteString(`<html><head><title>Moved</title></head><body><a href="http://old.com/a">a</a><a href="http://old.com/b">b</a>`)
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&body, `<a href="https://site%d.org">site</a>`, i)
	}
	body.WriteString("</body></html>")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body.String()))
	require.NoError(t, err)

	f := New(Config{MaxLinksPerPage: 4}, nil)
	page := &Page{FinalURL: "https://www.new.com/home"}
	f.extract(doc.Selection, func(href string) string { return href }, "http://old.com", page)

	require.Len(t, page.Links, 4)
	require.Equal(t, discovery.RelationshipRedirect, page.Links[0].Type)
	require.Equal(t, "https://www.new.com/home", page.Links[0].URL)

	page = &Page{FinalURL: "http://old.com/"}
	f.extract(doc.Selection, func(href string) string { return href }, "http://old.com", page)
	require.Len(t, page.Links, 4)
	for _, link := range page.Links {
		require.NotEqual(t, discovery.RelationshipRedirect, link.Type)
	}
}

func TestSelectLinksZeroLimit(t *testing.T) {
	t.Parallel()

	f := New(Config{MaxLinksPerPage: 1}, nil)
	links, _ := f.selectLinks("https://example.com", []discovery.Link{{URL: "https://a.org"}}, 0)
	require.Empty(t, links)
}

func TestSkipHref(t *testing.T) {
	t.Parallel()

	for _, href := range []string{"", "#top", "mailto:x@y.z", "JavaScript:void(0)", "tel:123"} {
		require.True(t, skipHref(href), href)
	}
	require.False(t, skipHref("/about"))
}
