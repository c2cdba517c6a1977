package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"personalens/internal/logging"
	"personalens/internal/profile"
	"personalens/internal/scrape"
)

// ScrapeOptions tune the scrape stage.
type ScrapeOptions struct {
	// PerPlatformTimeout bounds each platform's scrape.
	PerPlatformTimeout time.Duration
	// RetryDelay is the pause before the single retry of a retryable
	// platform failure.
	RetryDelay time.Duration
}

// Scrape runs every platform scraper concurrently and advances the subject
// to SCRAPED. A platform with no discovered profile is skipped; a failed
// platform degrades the run but does not abort it. Only a run in which every
// platform fails refuses to advance.
func (t *Tracker) Scrape(ctx context.Context, scrapers []scrape.Scraper, key string, opts ScrapeOptions) error {
	if opts.PerPlatformTimeout <= 0 {
		opts.PerPlatformTimeout = 2 * time.Minute
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}

	return t.Advance(ctx, key, profile.StageScraped, func(ctx context.Context, sub *profile.Subject) (*profile.StageRecord, error) {
		profiles, err := t.store.GetDiscoveredProfiles(sub.Key)
		if err != nil {
			return nil, err
		}
		byPlatform := make(map[profile.Platform]profile.DiscoveredProfile)
		for _, p := range profiles {
			if _, seen := byPlatform[p.Platform]; !seen {
				byPlatform[p.Platform] = p
			}
		}

		var mu sync.Mutex
		outcomes := make(map[profile.Platform]profile.PlatformOutcome)
		errs := make(map[profile.Platform]error)
		saved := make(map[profile.Platform]int)

		g, gctx := errgroup.WithContext(ctx)
		for _, sc := range scrapers {
			sc := sc
			platform := sc.Platform()

			prof, ok := byPlatform[platform]
			if !ok && platform != profile.PlatformArticle {
				mu.Lock()
				outcomes[platform] = profile.OutcomeSkipped
				mu.Unlock()
				logging.Scrape("No %s profile for %q, skipping", platform, sub.Key)
				continue
			}

			g.Go(func() error {
				items, err := t.scrapePlatform(gctx, sc, sub, prof, opts)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					outcomes[platform] = profile.OutcomeFailed
					errs[platform] = err
					logging.ScrapeWarn("Platform %s failed for %q: %v", platform, sub.Key, err)
					return nil
				}
				n, saveErr := t.store.SaveRawItems(sub.Key, items)
				if saveErr != nil {
					return saveErr
				}
				saved[platform] = n
				if len(items) == 0 {
					outcomes[platform] = profile.OutcomePartial
				} else {
					outcomes[platform] = profile.OutcomeOK
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		rec := &profile.StageRecord{
			Outcomes: outcomes,
			Detail:   scrapeDetail(saved, errs),
		}

		attempted, failed := 0, 0
		for _, o := range outcomes {
			if o == profile.OutcomeSkipped {
				continue
			}
			attempted++
			if o == profile.OutcomeFailed {
				failed++
			}
		}
		if attempted == 0 {
			return nil, fmt.Errorf("%w: no platforms to scrape for %q", profile.ErrNotReady, sub.Key)
		}
		if failed == attempted {
			return nil, &totalScrapeFailure{rec: rec, errs: errs}
		}
		if failed > 0 {
			var completed, failedPlatforms []profile.Platform
			for p, o := range outcomes {
				switch o {
				case profile.OutcomeOK, profile.OutcomePartial:
					completed = append(completed, p)
				case profile.OutcomeFailed:
					failedPlatforms = append(failedPlatforms, p)
				}
			}
			// Record first so the degraded outcome is persisted even
			// though the transition still happens.
			return rec, &profile.PartialFailure{Completed: completed, Failed: failedPlatforms, Errs: errs}
		}
		return rec, nil
	})
}

// scrapePlatform runs one scraper with a timeout, retrying once when the
// failure is a retryable provider outage.
func (t *Tracker) scrapePlatform(ctx context.Context, sc scrape.Scraper, sub *profile.Subject, prof profile.DiscoveredProfile, opts ScrapeOptions) ([]profile.RawItem, error) {
	run := func() ([]profile.RawItem, error) {
		sctx, cancel := context.WithTimeout(ctx, opts.PerPlatformTimeout)
		defer cancel()
		return sc.Scrape(sctx, sub, prof)
	}

	items, err := run()
	if err == nil {
		return items, nil
	}

	// A per-platform deadline is a provider timeout, not a caller cancel.
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = profile.Unavailable(string(sc.Platform()), profile.UnavailableTimeout, err)
	}

	var unavail *profile.UnavailableError
	if errors.As(err, &unavail) && unavail.Retryable() && ctx.Err() == nil {
		logging.Scrape("Retrying %s for %q after %v: %v", sc.Platform(), sub.Key, opts.RetryDelay, err)
		select {
		case <-time.After(opts.RetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return run()
	}
	return nil, err
}

// totalScrapeFailure aborts the stage when every attempted platform failed.
type totalScrapeFailure struct {
	rec  *profile.StageRecord
	errs map[profile.Platform]error
}

func (e *totalScrapeFailure) Error() string {
	return fmt.Sprintf("all platforms failed: %v", e.errs)
}

func scrapeDetail(saved map[profile.Platform]int, errs map[profile.Platform]error) string {
	detail := ""
	for p, n := range saved {
		detail += fmt.Sprintf("%s:%d ", p, n)
	}
	for p, err := range errs {
		detail += fmt.Sprintf("%s:error(%v) ", p, err)
	}
	return detail
}
