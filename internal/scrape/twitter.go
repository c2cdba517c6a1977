package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"personalens/internal/config"
	"personalens/internal/logging"
	"personalens/internal/profile"
)

// TwitterScraper pulls recent tweets through the Twitter API v2.
type TwitterScraper struct {
	bearerToken string
	baseURL     string
	maxTweets   int
	client      *http.Client
}

// NewTwitterScraper creates a Twitter scraper from configuration.
func NewTwitterScraper(cfg config.ScrapeConfig) (*TwitterScraper, error) {
	if cfg.TwitterBearerToken == "" {
		return nil, fmt.Errorf("twitter bearer token is required")
	}
	baseURL := cfg.TwitterBaseURL
	if baseURL == "" {
		baseURL = "https://api.twitter.com/2"
	}
	maxTweets := cfg.MaxTweets
	if maxTweets <= 0 {
		maxTweets = 5
	}
	return &TwitterScraper{
		bearerToken: cfg.TwitterBearerToken,
		baseURL:     baseURL,
		maxTweets:   maxTweets,
		client:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (s *TwitterScraper) Platform() profile.Platform {
	return profile.PlatformTwitter
}

// Scrape resolves the handle to a user id, then fetches the most recent
// original tweets.
func (s *TwitterScraper) Scrape(ctx context.Context, subject *profile.Subject, prof profile.DiscoveredProfile) ([]profile.RawItem, error) {
	timer := logging.StartTimer(logging.CategoryScrape, "TwitterScrape")
	defer timer.Stop()

	handle := prof.Handle
	if handle == "" {
		return nil, fmt.Errorf("no twitter handle for %q", subject.Key)
	}
	logging.Scrape("Scraping twitter @%s for %q", handle, subject.Key)

	userID, err := s.lookupUserID(ctx, handle)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	// API minimum is 5
	maxResults := s.maxTweets
	if maxResults < 5 {
		maxResults = 5
	}
	params.Set("max_results", fmt.Sprintf("%d", maxResults))
	params.Set("exclude", "retweets,replies")
	params.Set("tweet.fields", "created_at")

	var resp struct {
		Data []struct {
			ID        string    `json:"id"`
			Text      string    `json:"text"`
			CreatedAt time.Time `json:"created_at"`
		} `json:"data"`
	}
	if err := s.get(ctx, fmt.Sprintf("/users/%s/tweets?%s", userID, params.Encode()), &resp); err != nil {
		return nil, err
	}

	items := make([]profile.RawItem, 0, len(resp.Data))
	for i, tw := range resp.Data {
		if i >= s.maxTweets {
			break
		}
		items = append(items, profile.RawItem{
			SubjectKey: subject.Key,
			Platform:   profile.PlatformTwitter,
			ItemID:     tw.ID,
			Text:       tw.Text,
			URL:        fmt.Sprintf("https://x.com/%s/status/%s", handle, tw.ID),
			PostedAt:   tw.CreatedAt,
		})
	}
	logging.Scrape("Twitter scrape for %q returned %d tweets", subject.Key, len(items))
	return items, nil
}

func (s *TwitterScraper) lookupUserID(ctx context.Context, handle string) (string, error) {
	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := s.get(ctx, "/users/by/username/"+url.PathEscape(handle), &resp); err != nil {
		return "", err
	}
	if resp.Data.ID == "" {
		return "", fmt.Errorf("twitter user %q not found", handle)
	}
	return resp.Data.ID, nil
}

func (s *TwitterScraper) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.bearerToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return profile.Unavailable("twitter", profile.UnavailableDown, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return profile.Unavailable("twitter", profile.UnavailableRateLimit, fmt.Errorf("status 429"))
	case http.StatusUnauthorized, http.StatusForbidden:
		return profile.Unavailable("twitter", profile.UnavailableAuth, fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	default:
		return fmt.Errorf("twitter returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse twitter response: %w", err)
	}
	return nil
}
