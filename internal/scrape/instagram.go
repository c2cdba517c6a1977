package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"personalens/internal/config"
	"personalens/internal/logging"
	"personalens/internal/profile"
)

// InstagramScraper collects a subject's recent photos from their public
// profile grid. Images are downloaded locally so the categorization step can
// feed them to a vision model.
type InstagramScraper struct {
	session   *BrowserSession
	imageDir  string
	maxPhotos int
	client    *http.Client
}

// NewInstagramScraper creates an Instagram scraper sharing the given browser
// session. Downloaded images land under imageDir/<subject-key>/.
func NewInstagramScraper(session *BrowserSession, cfg config.ScrapeConfig, imageDir string) *InstagramScraper {
	maxPhotos := cfg.MaxPhotos
	if maxPhotos <= 0 {
		maxPhotos = 20
	}
	return &InstagramScraper{
		session:   session,
		imageDir:  imageDir,
		maxPhotos: maxPhotos,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *InstagramScraper) Platform() profile.Platform {
	return profile.PlatformInstagram
}

// Scrape loads the profile grid and downloads post images.
func (s *InstagramScraper) Scrape(ctx context.Context, subject *profile.Subject, prof profile.DiscoveredProfile) ([]profile.RawItem, error) {
	timer := logging.StartTimer(logging.CategoryScrape, "InstagramScrape")
	defer timer.Stop()

	if prof.URL == "" {
		return nil, fmt.Errorf("no instagram profile url for %q", subject.Key)
	}
	logging.Scrape("Scraping instagram %s for %q", prof.URL, subject.Key)

	page, err := s.session.OpenPage(ctx, prof.URL, 3*time.Second)
	if err != nil {
		return nil, profile.Unavailable("instagram", profile.UnavailableDown, err)
	}
	defer page.Close()

	if info, err := page.Info(); err == nil {
		if strings.Contains(info.URL, "/accounts/login") {
			return nil, profile.Unavailable("instagram", profile.UnavailableAuth, fmt.Errorf("login wall: %s", info.URL))
		}
	}

	imgs, err := page.Elements("main article img")
	if err != nil {
		return nil, profile.Unavailable("instagram", profile.UnavailableBlocked, fmt.Errorf("query images: %w", err))
	}

	dir := filepath.Join(s.imageDir, strings.ReplaceAll(subject.Key, " ", "_"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	var items []profile.RawItem
	for _, img := range imgs {
		if len(items) >= s.maxPhotos {
			break
		}
		src, err := img.Attribute("src")
		if err != nil || src == nil || *src == "" {
			continue
		}
		alt := ""
		if a, err := img.Attribute("alt"); err == nil && a != nil {
			alt = strings.TrimSpace(*a)
		}

		path, err := s.download(ctx, *src, dir)
		if err != nil {
			logging.ScrapeWarn("Instagram image download failed: %v", err)
			continue
		}

		items = append(items, profile.RawItem{
			SubjectKey: subject.Key,
			Platform:   profile.PlatformInstagram,
			ItemID:     profile.ContentItemID(*src),
			Text:       alt,
			URL:        *src,
			MediaPath:  path,
		})
	}
	logging.Scrape("Instagram scrape for %q downloaded %d photos", subject.Key, len(items))
	return items, nil
}

func (s *InstagramScraper) download(ctx context.Context, imgURL, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", imgURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d fetching image", resp.StatusCode)
	}

	path := filepath.Join(dir, uuid.NewString()+".jpg")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
