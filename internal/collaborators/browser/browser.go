// Package browser wraps the Browser-SERP collaborator: a headless Chrome
// session that issues search-engine queries and classifies challenge
// pages (login walls, CAPTCHAs) for routing to the auth queue. Adapted
// from the teacher's internal/browser session manager: rod.Browser
// connection/launch handling and rod.Page DOM extraction, stripped of the
// Mangle fact-emission layer since this collaborator classifies pages
// directly rather than feeding a reasoning engine.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"veritas/internal/logging"
)

// SERPResult is one organic result from a search-engine results page.
type SERPResult struct {
	Rank  int    `json:"rank"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Snippet string `json:"snippet"`
}

// ChallengeType classifies a detected challenge page (spec.md §4.8).
type ChallengeType string

const (
	ChallengeNone     ChallengeType = ""
	ChallengeCaptcha  ChallengeType = "captcha"
	ChallengeLogin    ChallengeType = "login_wall"
	ChallengePaywall  ChallengeType = "paywall"
	ChallengeUnknown  ChallengeType = "unknown_block"
)

// Driver is the collaborator interface Search Pipeline and Fetch depend
// on for SERP queries and challenge detection.
type Driver interface {
	Search(ctx context.Context, query string, engine string) ([]SERPResult, ChallengeType, error)
	DetectChallenge(ctx context.Context, url string) (ChallengeType, error)
	Close() error
}

// Config mirrors the teacher's browser.Config shape, trimmed to what the
// SERP driver needs.
type Config struct {
	DebuggerURL         string
	Headless            bool
	ViewportWidth        int
	ViewportHeight       int
	NavigationTimeoutMs  int
}

func (c Config) viewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1920
	}
	return c.ViewportWidth
}

func (c Config) viewportHeight() int {
	if c.ViewportHeight == 0 {
		return 1080
	}
	return c.ViewportHeight
}

func (c Config) navigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// searchEngineURL templates per-engine query URLs. Engine priority for
// SERP arm ordering (spec.md §4.4: "rank ASC, engine priority") is the
// slice order callers iterate this map in; RodDriver itself is
// single-engine per call.
var searchEngineURL = map[string]string{
	"duckduckgo": "https://duckduckgo.com/html/?q=%s",
	"bing":       "https://www.bing.com/search?q=%s",
}

// RodDriver is the production Driver, a single detached Chrome instance
// shared across calls (spec.md §4.7: browser SERP is a single-slot
// exclusive resource; concurrency is enforced by the scheduler, not here).
type RodDriver struct {
	cfg        Config
	mu         sync.Mutex
	browser    *rod.Browser
	controlURL string
}

func NewRodDriver(cfg Config) *RodDriver {
	return &RodDriver{cfg: cfg}
}

func (d *RodDriver) ensureStarted(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser != nil {
		if _, err := d.browser.Version(); err == nil {
			return nil
		}
		_ = d.browser.Close()
		d.browser = nil
	}

	controlURL := d.cfg.DebuggerURL
	if controlURL == "" {
		url, err := launcher.New().Headless(d.cfg.Headless).Launch()
		if err != nil {
			return fmt.Errorf("browser: launch chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("browser: connect: %w", err)
	}
	d.browser = browser
	d.controlURL = controlURL
	logging.Collaborator("browser connected control_url=%s", controlURL)
	return nil
}

func (d *RodDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser == nil {
		return nil
	}
	err := d.browser.Close()
	d.browser = nil
	return err
}

// Search navigates to the named engine's results page for query and
// extracts organic results, or returns a non-empty ChallengeType if the
// engine served a challenge page instead (spec.md §4.4 edge case:
// redirect-to-login routes to AQ).
func (d *RodDriver) Search(ctx context.Context, query, engine string) ([]SERPResult, ChallengeType, error) {
	tmpl, ok := searchEngineURL[engine]
	if !ok {
		return nil, ChallengeNone, fmt.Errorf("browser: unknown search engine %q", engine)
	}
	if strings.TrimSpace(query) == "" {
		return nil, ChallengeNone, nil
	}

	if err := d.ensureStarted(ctx); err != nil {
		return nil, ChallengeNone, err
	}

	url := fmt.Sprintf(tmpl, queryEscape(query))
	page, err := d.openPage(ctx, url)
	if err != nil {
		return nil, ChallengeNone, err
	}
	defer page.Close()

	if ct := classifyPage(page); ct != ChallengeNone {
		return nil, ct, nil
	}

	results, err := extractResults(page)
	if err != nil {
		return nil, ChallengeNone, fmt.Errorf("browser: extract results: %w", err)
	}
	return results, ChallengeNone, nil
}

// DetectChallenge navigates to an arbitrary URL (used by Fetch when a
// direct HTTP GET is redirected to a login/verification page) and
// classifies what's there.
func (d *RodDriver) DetectChallenge(ctx context.Context, url string) (ChallengeType, error) {
	if err := d.ensureStarted(ctx); err != nil {
		return ChallengeNone, err
	}
	page, err := d.openPage(ctx, url)
	if err != nil {
		return ChallengeNone, err
	}
	defer page.Close()
	return classifyPage(page), nil
}

func (d *RodDriver) openPage(ctx context.Context, url string) (*rod.Page, error) {
	d.mu.Lock()
	browser := d.browser
	d.mu.Unlock()

	page, err := browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("browser: open page: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width: d.cfg.viewportWidth(), Height: d.cfg.viewportHeight(), DeviceScaleFactor: 1.0,
	}).Call(page); err != nil {
		logging.CollaboratorDebug("browser: viewport override failed: %v", err)
	}
	if err := page.Timeout(d.cfg.navigationTimeout()).Navigate(url); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("browser: navigate: %w", err)
	}
	if err := page.Timeout(d.cfg.navigationTimeout()).WaitStable(300 * time.Millisecond); err != nil {
		logging.CollaboratorDebug("browser: wait stable: %v", err)
	}
	return page, nil
}

var challengeMarkers = map[ChallengeType][]string{
	ChallengeCaptcha: {"captcha", "recaptcha", "hcaptcha", "are you a robot", "verify you are human"},
	ChallengeLogin:   {"sign in to continue", "log in to continue", "please log in", "please sign in"},
	ChallengePaywall: {"subscribe to continue", "subscription required", "this content is for subscribers"},
}

// classifyPage applies a lightweight keyword heuristic over title+body
// text, the same DOM-inspection idiom the teacher's honeypot detector
// uses (query elements, read text/attributes), but driving a closed
// challenge-type classification instead of feeding a Mangle engine.
func classifyPage(page *rod.Page) ChallengeType {
	info, err := page.Info()
	title := ""
	if err == nil && info != nil {
		title = strings.ToLower(info.Title)
	}
	body := ""
	if el, err := page.Element("body"); err == nil && el != nil {
		if text, err := el.Text(); err == nil {
			body = strings.ToLower(text)
		}
	}
	haystack := title + "\n" + body
	for ct, markers := range challengeMarkers {
		for _, m := range markers {
			if strings.Contains(haystack, m) {
				return ct
			}
		}
	}
	return ChallengeNone
}

func extractResults(page *rod.Page) ([]SERPResult, error) {
	elements, err := page.Elements("a[href]")
	if err != nil {
		return nil, err
	}

	var results []SERPResult
	rank := 0
	for _, el := range elements {
		href, err := el.Attribute("href")
		if err != nil || href == nil || *href == "" {
			continue
		}
		if !strings.HasPrefix(*href, "http") {
			continue
		}
		text, _ := el.Text()
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		rank++
		results = append(results, SERPResult{Rank: rank, Title: text, URL: *href})
		if rank >= 30 {
			break
		}
	}
	return results, nil
}

func queryEscape(q string) string {
	return strings.ReplaceAll(strings.TrimSpace(q), " ", "+")
}
