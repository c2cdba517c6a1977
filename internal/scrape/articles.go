package scrape

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"personalens/internal/logging"
	"personalens/internal/profile"
)

const (
	articleUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	maxArticleLength = 8000
	minParagraphLen  = 40
)

// ArticleScraper fetches article pages and extracts readable body text.
type ArticleScraper struct {
	urls   func(subjectKey string) ([]string, error)
	client *http.Client
}

// NewArticleScraper creates an article scraper. The urls function supplies
// the article links discovery found for a subject.
func NewArticleScraper(urls func(subjectKey string) ([]string, error)) *ArticleScraper {
	return &ArticleScraper{
		urls:   urls,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *ArticleScraper) Platform() profile.Platform {
	return profile.PlatformArticle
}

// Scrape fetches each discovered article and extracts its text. Individual
// article failures are logged and skipped; only a total failure errors.
func (s *ArticleScraper) Scrape(ctx context.Context, subject *profile.Subject, _ profile.DiscoveredProfile) ([]profile.RawItem, error) {
	timer := logging.StartTimer(logging.CategoryScrape, "ArticleScrape")
	defer timer.Stop()

	urls, err := s.urls(subject.Key)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, nil
	}

	var items []profile.RawItem
	var lastErr error
	for _, u := range urls {
		text, err := s.Extract(ctx, u)
		if err != nil {
			logging.ScrapeWarn("Article %s failed: %v", u, err)
			lastErr = err
			continue
		}
		if text == "" {
			continue
		}
		items = append(items, profile.RawItem{
			SubjectKey: subject.Key,
			Platform:   profile.PlatformArticle,
			ItemID:     profile.ContentItemID(u),
			Text:       text,
			URL:        u,
		})
	}
	if len(items) == 0 && lastErr != nil {
		return nil, profile.Unavailable("articles", profile.UnavailableDown, lastErr)
	}
	logging.Scrape("Article scrape for %q extracted %d/%d articles", subject.Key, len(items), len(urls))
	return items, nil
}

// Extract fetches one URL and returns its readable text.
func (s *ArticleScraper) Extract(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", articleUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse failed: %w", err)
	}

	doc.Find("script, style, nav, header, footer, aside").Remove()

	// Prefer semantic article containers, fall back to all paragraphs.
	scope := doc.Find("article")
	if scope.Length() == 0 {
		scope = doc.Selection
	}

	var paragraphs []string
	scope.Find("p").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if len(text) >= minParagraphLen {
			paragraphs = append(paragraphs, text)
		}
	})

	body := strings.Join(paragraphs, "\n\n")
	if len(body) > maxArticleLength {
		body = body[:maxArticleLength]
	}
	return body, nil
}
