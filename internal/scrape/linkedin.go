package scrape

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"personalens/internal/config"
	"personalens/internal/logging"
	"personalens/internal/profile"
)

// LinkedInScraper pulls visible posts from a public LinkedIn profile page
// through a headless browser.
type LinkedInScraper struct {
	session  *BrowserSession
	maxPosts int
}

// NewLinkedInScraper creates a LinkedIn scraper sharing the given browser
// session.
func NewLinkedInScraper(session *BrowserSession, cfg config.ScrapeConfig) *LinkedInScraper {
	maxPosts := cfg.MaxPosts
	if maxPosts <= 0 {
		maxPosts = 20
	}
	return &LinkedInScraper{session: session, maxPosts: maxPosts}
}

func (s *LinkedInScraper) Platform() profile.Platform {
	return profile.PlatformLinkedIn
}

// Scrape loads the profile's recent-activity page and extracts post texts.
// A login wall comes back as an auth UnavailableError so the pipeline skips
// the platform instead of retrying.
func (s *LinkedInScraper) Scrape(ctx context.Context, subject *profile.Subject, prof profile.DiscoveredProfile) ([]profile.RawItem, error) {
	timer := logging.StartTimer(logging.CategoryScrape, "LinkedInScrape")
	defer timer.Stop()

	if prof.URL == "" {
		return nil, fmt.Errorf("no linkedin profile url for %q", subject.Key)
	}
	activityURL := strings.TrimRight(prof.URL, "/") + "/recent-activity/all/"
	logging.Scrape("Scraping linkedin %s for %q", activityURL, subject.Key)

	page, err := s.session.OpenPage(ctx, activityURL, 3*time.Second)
	if err != nil {
		return nil, profile.Unavailable("linkedin", profile.UnavailableDown, err)
	}
	defer page.Close()

	if blocked, reason := s.loginWalled(page); blocked {
		return nil, profile.Unavailable("linkedin", profile.UnavailableAuth, fmt.Errorf("login wall: %s", reason))
	}

	texts, err := extractPostTexts(page, s.maxPosts)
	if err != nil {
		return nil, profile.Unavailable("linkedin", profile.UnavailableBlocked, err)
	}

	items := make([]profile.RawItem, 0, len(texts))
	for _, text := range texts {
		items = append(items, profile.RawItem{
			SubjectKey: subject.Key,
			Platform:   profile.PlatformLinkedIn,
			ItemID:     profile.ContentItemID(text),
			Text:       text,
			URL:        prof.URL,
		})
	}
	logging.Scrape("LinkedIn scrape for %q extracted %d posts", subject.Key, len(items))
	return items, nil
}

// loginWalled detects LinkedIn's auth redirect and signup interstitials.
func (s *LinkedInScraper) loginWalled(page *rod.Page) (bool, string) {
	info, err := page.Info()
	if err == nil {
		for _, marker := range []string{"/authwall", "/login", "/signup", "/checkpoint"} {
			if strings.Contains(info.URL, marker) {
				return true, info.URL
			}
		}
	}
	return false, ""
}

// extractPostTexts pulls the text of feed post containers on the page.
func extractPostTexts(page *rod.Page, max int) ([]string, error) {
	elements, err := page.Elements("div.feed-shared-update-v2, div.update-components-text")
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}

	seen := make(map[string]bool)
	var texts []string
	for _, el := range elements {
		if len(texts) >= max {
			break
		}
		text, err := el.Text()
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if len(text) < 20 || seen[text] {
			continue
		}
		seen[text] = true
		texts = append(texts, text)
	}
	return texts, nil
}
