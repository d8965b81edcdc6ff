// Package search finds web pages for a query, extracts their text and feeds
// it to the pipeline in fixed-size word chunks.
package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Searcher returns result pages for a query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// HTMLEngine queries a search engine that serves plain HTML result pages,
// such as html.duckduckgo.com.
type HTMLEngine struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTMLEngine creates an engine querying baseURL?q=<query>.
func NewHTMLEngine(baseURL, userAgent string, timeout time.Duration, logger *zap.Logger) *HTMLEngine {
	return &HTMLEngine{
		baseURL:    baseURL,
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (e *HTMLEngine) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	u, err := url.Parse(e.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid engine url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search engine returned status %d", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}

	results := ParseResults(doc, u.Hostname(), limit)
	e.logger.Info("Search completed", zap.String("query", query), zap.Int("results", len(results)))
	return results, nil
}

// ParseResults reads DuckDuckGo-style result anchors (class result__a). When
// none are present it falls back to any absolute link with a descriptive
// title that does not point back at the engine.
func ParseResults(doc *html.Node, engineHost string, limit int) []Result {
	seen := make(map[string]bool)
	var results []Result

	add := func(r Result) {
		if limit > 0 && len(results) >= limit {
			return
		}
		if r.URL == "" || seen[r.URL] {
			return
		}
		seen[r.URL] = true
		results = append(results, r)
	}

	var snippets []string
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "a" {
			return
		}
		switch {
		case hasClass(n, "result__a"):
			add(Result{Title: nodeText(n), URL: resolveRedirect(attr(n, "href"))})
		case hasClass(n, "result__snippet"):
			snippets = append(snippets, nodeText(n))
		}
	})
	for i := range results {
		if i < len(snippets) {
			results[i].Snippet = snippets[i]
		}
	}
	if len(results) > 0 {
		return results
	}

	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "a" {
			return
		}
		link := resolveRedirect(attr(n, "href"))
		title := nodeText(n)
		u, err := url.Parse(link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || len(title) < 10 {
			return
		}
		if engineHost != "" && strings.HasSuffix(u.Hostname(), baseDomain(engineHost)) {
			return
		}
		add(Result{Title: title, URL: link})
	})
	return results
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links and makes
// protocol-relative links absolute.
func resolveRedirect(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

// baseDomain keeps the last two labels of host.
func baseDomain(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
			sb.WriteByte(' ')
		}
	})
	return strings.Join(strings.Fields(sb.String()), " ")
}
