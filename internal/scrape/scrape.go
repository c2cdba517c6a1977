// Package scrape collects raw content from a subject's discovered platform
// profiles. Each platform has its own scraper; failures are typed so the
// pipeline can distinguish a rate limit from a login wall.
package scrape

import (
	"context"

	"personalens/internal/profile"
)

// Scraper collects raw items from one platform.
type Scraper interface {
	// Platform identifies which platform this scraper serves.
	Platform() profile.Platform

	// Scrape collects items for the subject's discovered profile on this
	// platform. Failures from the provider come back as
	// *profile.UnavailableError.
	Scrape(ctx context.Context, subject *profile.Subject, prof profile.DiscoveredProfile) ([]profile.RawItem, error)
}
