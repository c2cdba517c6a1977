package scrape

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"personalens/internal/logging"
)

// BrowserSession owns one headless Chrome instance shared by the scrapers
// that need a real page (LinkedIn, Instagram).
type BrowserSession struct {
	headless bool

	mu         sync.Mutex
	browser    *rod.Browser
	controlURL string
}

// NewBrowserSession creates a lazy browser session. Chrome launches on first
// use.
func NewBrowserSession(headless bool) *BrowserSession {
	return &BrowserSession{headless: headless}
}

// Start launches Chrome and connects, reusing a healthy existing browser.
func (s *BrowserSession) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser != nil {
		if _, err := s.browser.Version(); err == nil {
			return nil
		}
		logging.BrowserDebug("Stale browser connection detected, relaunching")
		_ = s.browser.Close()
		s.browser = nil
		s.controlURL = ""
	}

	url, err := launcher.New().Headless(s.headless).Launch()
	if err != nil {
		return fmt.Errorf("launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(url).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	s.browser = browser
	s.controlURL = url
	logging.Browser("Browser session started (headless=%v)", s.headless)
	return nil
}

// OpenPage navigates a fresh page to the URL and waits for it to settle.
// The caller must close the page.
func (s *BrowserSession) OpenPage(ctx context.Context, url string, settle time.Duration) (*rod.Page, error) {
	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	browser := s.browser
	s.mu.Unlock()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	page = page.Context(ctx)

	if err := page.Navigate(url); err != nil {
		page.Close()
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		page.Close()
		return nil, fmt.Errorf("wait load %s: %w", url, err)
	}
	if settle > 0 {
		time.Sleep(settle)
	}
	return page, nil
}

// Shutdown closes the browser.
func (s *BrowserSession) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser == nil {
		return nil
	}
	err := s.browser.Close()
	s.browser = nil
	s.controlURL = ""
	logging.Browser("Browser session shut down")
	return err
}
