package knowledge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	defaultMaxPages    = 700
	defaultMaxDepth    = 3
	defaultPageTimeout = 30 * time.Second
	maxPageBytes       = 10 << 20
	userAgent          = "site-assistant-crawler/1.0"
)

// Page is a fetched HTML document.
type Page struct {
	URL  string
	HTML []byte
}

// Crawler fetches pages breadth-first from a seed URL, following links on the
// seed's host only.
type Crawler struct {
	client   *http.Client
	maxPages int
	maxDepth int
	log      *zap.Logger
}

// CrawlerOption configures a Crawler.
type CrawlerOption func(*Crawler)

// WithMaxPages sets the page budget.
func WithMaxPages(n int) CrawlerOption {
	return func(c *Crawler) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithMaxDepth sets how many links away from the seed the crawl may go.
func WithMaxDepth(n int) CrawlerOption {
	return func(c *Crawler) {
		if n >= 0 {
			c.maxDepth = n
		}
	}
}

// WithHTTPClient replaces the client used to fetch pages.
func WithHTTPClient(client *http.Client) CrawlerOption {
	return func(c *Crawler) {
		if client != nil {
			c.client = client
		}
	}
}

// WithCrawlerLogger sets the crawler logger.
func WithCrawlerLogger(l *zap.Logger) CrawlerOption {
	return func(c *Crawler) {
		if l != nil {
			c.log = l
		}
	}
}

// NewCrawler creates a crawler with a 700 page budget and a depth of 3.
func NewCrawler(opts ...CrawlerOption) *Crawler {
	c := &Crawler{
		client:   &http.Client{Timeout: defaultPageTimeout},
		maxPages: defaultMaxPages,
		maxDepth: defaultMaxDepth,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type queued struct {
	url   string
	depth int
}

// Crawl fetches up to the page budget starting at seed. A seed that cannot be
// fetched is an error; other failing pages are skipped.
func (c *Crawler) Crawl(ctx context.Context, seed string) ([]Page, error) {
	base, err := url.Parse(seed)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid seed URL %q", seed)
	}
	base.Fragment = ""

	host := base.Hostname()
	visited := map[string]bool{base.String(): true}
	queue := []queued{{url: base.String()}}
	var pages []Page
	attempts := 0

	for len(queue) > 0 && attempts < c.maxPages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := queue[0]
		queue = queue[1:]
		attempts++

		final, body, isHTML, err := c.fetch(ctx, next.url)
		if err != nil {
			if next.depth == 0 {
				return nil, fmt.Errorf("fetch seed %s: %w", next.url, err)
			}
			c.log.Warn("Skipping page", zap.String("url", next.url), zap.Error(err))
			continue
		}
		if next.depth == 0 {
			// The site's canonical host is wherever the seed redirects to.
			host = final.Hostname()
		} else if !strings.EqualFold(final.Hostname(), host) {
			c.log.Debug("Skipping off-site redirect", zap.String("url", next.url), zap.String("location", final.String()))
			continue
		}
		final.Fragment = ""
		pageURL := final.String()
		if pageURL != next.url && visited[pageURL] {
			continue
		}
		visited[pageURL] = true
		if !isHTML {
			continue
		}
		pages = append(pages, Page{URL: pageURL, HTML: body})

		if next.depth >= c.maxDepth {
			continue
		}
		links, err := extractLinks(pageURL, body, host)
		if err != nil {
			c.log.Warn("Failed to parse links", zap.String("url", next.url), zap.Error(err))
			continue
		}
		for _, link := range links {
			if visited[link] {
				continue
			}
			visited[link] = true
			queue = append(queue, queued{url: link, depth: next.depth + 1})
		}
	}

	c.log.Info("Crawl finished", zap.String("seed", seed), zap.Int("pages", len(pages)), zap.Int("attempts", attempts))
	return pages, nil
}

// fetch returns the URL the page was finally served from, after redirects,
// and its body when it is HTML.
func (c *Crawler) fetch(ctx context.Context, pageURL string) (*url.URL, []byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, false, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, false, err
	}
	defer resp.Body.Close()

	final := *resp.Request.URL
	if resp.StatusCode >= 400 {
		return nil, nil, false, fmt.Errorf("unexpected status %s", resp.Status)
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/html" && mediaType != "application/xhtml+xml" {
		return &final, nil, false, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, nil, false, err
	}
	return &final, body, true, nil
}

func extractLinks(pageURL string, body []byte, host string) ([]string, error) {
	page, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		link := page.ResolveReference(ref)
		if link.Scheme != "http" && link.Scheme != "https" {
			return
		}
		if !strings.EqualFold(link.Hostname(), host) {
			return
		}
		link.Host = strings.ToLower(link.Host)
		link.Fragment = ""
		links = append(links, link.String())
	})
	return links, nil
}
