package research

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/BenDundee/ravana/internal/logging"
)

// BrowserConfig configures the headless browser fetcher.
type BrowserConfig struct {
	// DebuggerURL connects to an existing Chrome instead of launching one.
	DebuggerURL string
	// Bin is the Chrome binary; empty lets Rod find or download one.
	Bin      string
	Headless bool
	// StableWait is how long the DOM must be quiet before reading it.
	StableWait time.Duration
	Timeout    time.Duration
}

// DefaultBrowserConfig returns headless defaults.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless:   true,
		StableWait: 500 * time.Millisecond,
		Timeout:    45 * time.Second,
	}
}

// BrowserFetcher renders pages in headless Chrome through Rod, for sites
// whose content only appears after JavaScript runs. The browser is started
// lazily on first fetch and shared across fetches.
type BrowserFetcher struct {
	cfg        BrowserConfig
	mu         sync.Mutex
	browser    *rod.Browser
	controlURL string
}

// NewBrowserFetcher creates a fetcher; no browser is started yet.
func NewBrowserFetcher(cfg BrowserConfig) *BrowserFetcher {
	if cfg.StableWait <= 0 {
		cfg.StableWait = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &BrowserFetcher{cfg: cfg}
}

// start connects to an existing Chrome or launches a new one.
func (b *BrowserFetcher) start() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// If we already have a browser, verify it's still alive
	if b.browser != nil {
		if _, err := b.browser.Version(); err == nil {
			return b.browser, nil
		}
		logging.ResearchWarn("Stale browser connection detected, reconnecting")
		_ = b.browser.Close()
		b.browser = nil
	}

	controlURL := b.cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(b.cfg.Headless)
		if b.cfg.Bin != "" {
			l = l.Bin(b.cfg.Bin)
		}
		url, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	b.browser = browser
	b.controlURL = controlURL
	logging.Research("Browser connected")
	return browser, nil
}

// Fetch implements Fetcher.
func (b *BrowserFetcher) Fetch(ctx context.Context, url string) (Page, error) {
	if url == "" {
		return Page{}, fmt.Errorf("url is required")
	}
	browser, err := b.start()
	if err != nil {
		return Page{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return Page{}, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if err := page.WaitLoad(); err != nil {
		return Page{}, fmt.Errorf("wait load: %w", err)
	}
	if err := page.WaitStable(b.cfg.StableWait); err != nil {
		logging.ResearchDebug("Page %s never settled: %v", url, err)
	}

	content, err := page.HTML()
	if err != nil {
		return Page{}, fmt.Errorf("read html: %w", err)
	}
	out, err := ParseHTML(url, content)
	if err != nil {
		return Page{}, err
	}
	if out.Title == "" {
		if info, err := page.Info(); err == nil {
			out.Title = info.Title
		}
	}
	logging.ResearchDebug("Browser fetched %s (%d chars)", url, len(out.Text))
	return out, nil
}

// Close shuts the browser down.
func (b *BrowserFetcher) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	b.controlURL = ""
	return err
}
