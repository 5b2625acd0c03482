// Package fetch wraps the direct-HTTP-fetch collaborator used by the
// Search Pipeline when a page doesn't carry an abstract (spec.md §4.4),
// and by the auth queue's challenge classification path. Adapted from
// the teacher's internal/tools/research/web_search.go: plain net/http
// with a browser-like User-Agent, golang.org/x/net/html DOM parsing, body
// size capped at 1MB.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/proxy"

	"veritas/internal/logging"
)

const maxBodyBytes = 1 << 20 // 1MB, matching the teacher's web_search cap

// Result is a fetched page's extracted content.
type Result struct {
	FinalURL    string
	StatusCode  int
	Title       string
	TextContent string
	RedirectedToLogin bool
}

// Fetcher is the collaborator interface Search Pipeline depends on.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Result, error)
}

// Config controls the HTTP client, including optional SOCKS5/Tor routing
// (spec.md §4.4: "optionally Tor").
type Config struct {
	UserAgent  string
	Timeout    time.Duration
	SOCKS5Addr string // e.g. "127.0.0.1:9050" for a local Tor daemon
}

func (c Config) userAgent() string {
	if c.UserAgent != "" {
		return c.UserAgent
	}
	return "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 30 * time.Second
}

// HTTPFetcher is the production Fetcher.
type HTTPFetcher struct {
	cfg    Config
	client *http.Client
}

// NewHTTPFetcher builds a fetcher. When cfg.SOCKS5Addr is set, requests
// are routed through it (Tor's default local SOCKS5 port is 9050).
func NewHTTPFetcher(cfg Config) (*HTTPFetcher, error) {
	transport := &http.Transport{}

	if cfg.SOCKS5Addr != "" {
		dialer, err := proxy.SOCKS5("tcp", cfg.SOCKS5Addr, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("fetch: socks5 dialer: %w", err)
		}
		contextDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("fetch: socks5 dialer does not support context")
		}
		transport.DialContext = contextDialer.DialContext
	}

	return &HTTPFetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.timeout(),
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("fetch: too many redirects")
				}
				return nil
			},
		},
	}, nil
}

// Fetch retrieves rawURL and extracts its title and visible text.
// RedirectedToLogin is set when the final URL's path suggests a login
// or auth gate, giving the Search Pipeline a fast signal to route to AQ
// without waiting on the browser driver's full challenge classification.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.userAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, fmt.Errorf("fetch: timeout: %w", err)
		}
		return nil, fmt.Errorf("fetch: request failed: %w", err)
	}
	defer resp.Body.Close()
	logging.CollaboratorDebug("fetch %s -> %d in %v", rawURL, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}

	title, text := extractTitleAndText(string(body))
	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Result{
		FinalURL:          finalURL,
		StatusCode:        resp.StatusCode,
		Title:             title,
		TextContent:       text,
		RedirectedToLogin: looksLikeLoginRedirect(finalURL),
	}, nil
}

func looksLikeLoginRedirect(finalURL string) bool {
	u, err := url.Parse(finalURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, marker := range []string{"/login", "/signin", "/sign-in", "/auth", "/account/login"} {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return false
}

// extractTitleAndText walks the parsed DOM tree for the <title> and all
// visible text, the same tree-walking idiom as web_search.go's result
// extraction, applied to whole-page content instead of search result
// divs. script/style subtrees are skipped.
func extractTitleAndText(body string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return "", ""
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			}
		}
		if n.Type == html.TextNode {
			t := strings.TrimSpace(n.Data)
			if t != "" {
				sb.WriteString(t)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title, strings.TrimSpace(sb.String())
}
