package pipeline

import (
	"context"
	"fmt"
	"strings"

	"personalens/internal/discovery"
	"personalens/internal/logging"
	"personalens/internal/profile"
)

// Discover registers a subject and records their discovered platform
// profiles and article URLs. Running it again for the same name refreshes
// the candidate set without disturbing pipeline progress.
func (t *Tracker) Discover(ctx context.Context, d discovery.Discoverer, name string) (*profile.Subject, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("empty subject name")
	}

	// Search first so a failed lookup leaves no half-registered subject.
	res, err := d.Discover(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("discovery failed for %q: %w", profile.NormalizeName(name), err)
	}

	sub, err := t.store.UpsertSubject(name)
	if err != nil {
		return nil, err
	}

	profiles := res.Profiles
	for _, u := range res.Articles {
		profiles = append(profiles, profile.DiscoveredProfile{
			Platform: profile.PlatformArticle,
			URL:      u,
		})
	}
	if err := t.store.SaveDiscoveredProfiles(sub.Key, profiles); err != nil {
		return nil, err
	}

	// A manually set base image wins over the search thumbnail.
	if res.BaseImage != "" && sub.BaseImage == "" {
		if err := t.store.SetBaseImage(sub.Key, res.BaseImage); err != nil {
			return nil, err
		}
	}

	rec := &profile.StageRecord{
		SubjectKey: sub.Key,
		Stage:      profile.StageDiscovered,
		Detail:     fmt.Sprintf("%d profiles, %d articles", len(res.Profiles), len(res.Articles)),
	}
	if err := t.store.SaveStageRecord(rec); err != nil {
		return nil, err
	}

	logging.Discovery("Subject %q discovered with %d profiles", sub.Key, len(res.Profiles))
	return t.store.GetSubject(sub.Key)
}

// ArticleURLs returns the article links discovery stored for a subject. The
// article scraper uses this as its source.
func (t *Tracker) ArticleURLs(key string) ([]string, error) {
	profiles, err := t.store.GetDiscoveredProfiles(key)
	if err != nil {
		return nil, err
	}
	var urls []string
	for _, p := range profiles {
		if p.Platform == profile.PlatformArticle {
			urls = append(urls, p.URL)
		}
	}
	return urls, nil
}
