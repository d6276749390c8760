package knowledge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	html := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, body)
		}
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		html(`<html><body><h1>TSAW</h1>
			<a href="/services#top">Services</a>
			<a href="about">About</a>
			<a href="https://example.org/elsewhere">External</a>
			<a href="mailto:info@tsaw.tech">Mail</a>
			<a href="/brochure.pdf">Brochure</a>
			<a href="/missing">Missing</a>
		</body></html>`)(w, r)
	})
	mux.HandleFunc("/services", html(`<html><body><p>Drone surveying.</p><a href="/services/inspection">Inspection</a><a href="/">Home</a></body></html>`))
	mux.HandleFunc("/services/inspection", html(`<html><body><p>Inspection.</p><a href="/deep">Deep</a></body></html>`))
	mux.HandleFunc("/deep", html(`<html><body><p>Too deep.</p></body></html>`))
	mux.HandleFunc("/about", html(`<html><body><p>About TSAW.</p></body></html>`))
	mux.HandleFunc("/brochure.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func urls(pages []Page) []string {
	var out []string
	for _, p := range pages {
		out = append(out, p.URL)
	}
	sort.Strings(out)
	return out
}

func TestCrawl(t *testing.T) {
	srv := newSite(t)

	t.Run("Same host breadth first", func(t *testing.T) {
		c := NewCrawler(WithMaxDepth(2))
		pages, err := c.Crawl(context.Background(), srv.URL+"/")
		require.NoError(t, err)

		assert.Equal(t, []string{
			srv.URL + "/",
			srv.URL + "/about",
			srv.URL + "/services",
			srv.URL + "/services/inspection",
		}, urls(pages))
		assert.Equal(t, srv.URL+"/", pages[0].URL)
		assert.Contains(t, string(pages[0].HTML), "<h1>TSAW</h1>")
	})

	t.Run("Depth limit", func(t *testing.T) {
		c := NewCrawler(WithMaxDepth(0))
		pages, err := c.Crawl(context.Background(), srv.URL+"/")
		require.NoError(t, err)
		assert.Equal(t, []string{srv.URL + "/"}, urls(pages))
	})

	t.Run("Deeper crawl reaches every page", func(t *testing.T) {
		c := NewCrawler(WithMaxDepth(3))
		pages, err := c.Crawl(context.Background(), srv.URL+"/")
		require.NoError(t, err)
		assert.Contains(t, urls(pages), srv.URL+"/deep")
		assert.NotContains(t, urls(pages), srv.URL+"/brochure.pdf")
		assert.NotContains(t, urls(pages), srv.URL+"/missing")
	})

	t.Run("Page budget", func(t *testing.T) {
		c := NewCrawler(WithMaxPages(2))
		pages, err := c.Crawl(context.Background(), srv.URL+"/")
		require.NoError(t, err)
		assert.Len(t, pages, 2)
		assert.Equal(t, srv.URL+"/", pages[0].URL)
	})
}

func TestCrawlFollowsSeedRedirect(t *testing.T) {
	var canonical string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Host, "localhost:") {
			http.Redirect(w, r, canonical+r.URL.Path, http.StatusMovedPermanently)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/":
			fmt.Fprintf(w, `<html><body><a href="%s/about">About</a></body></html>`, canonical)
		case "/about":
			fmt.Fprint(w, `<html><body><p>About TSAW.</p></body></html>`)
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	canonical = "http://localhost:" + u.Port()

	pages, err := NewCrawler().Crawl(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, []string{canonical + "/", canonical + "/about"}, urls(pages))
}

func TestCrawlSeedErrors(t *testing.T) {
	srv := newSite(t)

	_, err := NewCrawler().Crawl(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch seed")

	_, err = NewCrawler().Crawl(context.Background(), "ftp://tsaw.tech")
	assert.Error(t, err)

	_, err = NewCrawler().Crawl(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestExtractLinks(t *testing.T) {
	body := []byte(`<a href="/a#x">a</a><a href="b?q=1">b</a><a href="HTTPS://WWW.TSAW.TECH/c">c</a><a href="javascript:void(0)">js</a>`)

	links, err := extractLinks("https://www.tsaw.tech/dir/page", body, "www.tsaw.tech")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://www.tsaw.tech/a",
		"https://www.tsaw.tech/dir/b?q=1",
		"https://www.tsaw.tech/c",
	}, links)
}
