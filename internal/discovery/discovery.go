// Package discovery finds candidate platform profiles and article URLs for a
// subject via a web search provider.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"personalens/internal/config"
	"personalens/internal/logging"
	"personalens/internal/profile"
)

// Result is everything discovery found for one subject.
type Result struct {
	Profiles []profile.DiscoveredProfile
	Articles []string
	// BaseImage is a reference photo of the subject, when the search
	// surfaced one.
	BaseImage string
}

// Discoverer locates platform profiles and articles for a named person.
type Discoverer interface {
	Discover(ctx context.Context, name string) (*Result, error)
}

// SerpClient implements Discoverer against a SerpAPI-compatible endpoint.
type SerpClient struct {
	apiKey   string
	baseURL  string
	topN     int
	articles int
	client   *http.Client
}

// NewSerpClient creates a search-provider client from configuration.
func NewSerpClient(cfg config.DiscoveryConfig) (*SerpClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("search provider API key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://serpapi.com/search"
	}
	topN := cfg.TopN
	if topN <= 0 {
		topN = 2
	}
	articles := cfg.Articles
	if articles <= 0 {
		articles = 5
	}
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SerpClient{
		apiKey:   cfg.APIKey,
		baseURL:  baseURL,
		topN:     topN,
		articles: articles,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// platformDomains maps result hostnames to platforms.
var platformDomains = map[string]profile.Platform{
	"twitter.com":   profile.PlatformTwitter,
	"x.com":         profile.PlatformTwitter,
	"linkedin.com":  profile.PlatformLinkedIn,
	"instagram.com": profile.PlatformInstagram,
}

// Discover runs one search per platform plus a news search and assembles the
// candidate set.
func (c *SerpClient) Discover(ctx context.Context, name string) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryDiscovery, "Discover")
	defer timer.Stop()

	logging.Discovery("Discovering profiles for %q", name)

	result := &Result{}

	queries := []struct {
		platform profile.Platform
		query    string
	}{
		{profile.PlatformTwitter, fmt.Sprintf("%s twitter", name)},
		{profile.PlatformLinkedIn, fmt.Sprintf("%s linkedin", name)},
		{profile.PlatformInstagram, fmt.Sprintf("%s instagram", name)},
	}

	for _, q := range queries {
		links, err := c.search(ctx, q.query)
		if err != nil {
			return nil, err
		}
		found := 0
		for _, link := range links {
			if found >= c.topN {
				break
			}
			p, ok := classify(link.Link)
			if !ok || p != q.platform {
				continue
			}
			result.Profiles = append(result.Profiles, profile.DiscoveredProfile{
				Platform: p,
				URL:      link.Link,
				Title:    link.Title,
				Handle:   extractHandle(p, link.Link),
			})
			if result.BaseImage == "" && link.Thumbnail != "" {
				result.BaseImage = link.Thumbnail
			}
			found++
		}
		logging.DiscoveryDebug("Query %q yielded %d/%d profile candidates", q.query, found, len(links))
	}

	articles, err := c.search(ctx, fmt.Sprintf("%s interview article", name))
	if err != nil {
		return nil, err
	}
	for _, link := range articles {
		if len(result.Articles) >= c.articles {
			break
		}
		if _, isSocial := classify(link.Link); isSocial {
			continue
		}
		result.Articles = append(result.Articles, link.Link)
	}

	logging.Discovery("Discovery for %q complete: %d profiles, %d articles",
		name, len(result.Profiles), len(result.Articles))
	return result, nil
}

type serpLink struct {
	Title     string `json:"title"`
	Link      string `json:"link"`
	Thumbnail string `json:"thumbnail"`
}

type serpResponse struct {
	OrganicResults []serpLink `json:"organic_results"`
	Error          string     `json:"error"`
}

func (c *SerpClient) search(ctx context.Context, query string) ([]serpLink, error) {
	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", query)
	params.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, profile.Unavailable("search", profile.UnavailableDown, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, profile.Unavailable("search", profile.UnavailableRateLimit, fmt.Errorf("status 429"))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, profile.Unavailable("search", profile.UnavailableAuth, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("search returned status %d: %s", resp.StatusCode, string(body))
	}

	var sr serpResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	if sr.Error != "" {
		return nil, fmt.Errorf("search error: %s", sr.Error)
	}
	return sr.OrganicResults, nil
}

func classify(rawURL string) (profile.Platform, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	p, ok := platformDomains[host]
	return p, ok
}

// extractHandle pulls the profile handle from a platform URL, e.g.
// https://x.com/getpeid -> getpeid, https://linkedin.com/in/carlpei -> carlpei.
func extractHandle(p profile.Platform, rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) == 0 || segs[0] == "" {
		return ""
	}
	if p == profile.PlatformLinkedIn {
		if len(segs) >= 2 && segs[0] == "in" {
			return segs[1]
		}
		return ""
	}
	return segs[0]
}
