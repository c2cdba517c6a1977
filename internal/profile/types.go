// Package profile defines the core domain model for personalens: subjects,
// pipeline stages, raw scraped items, derived retrieval units, and the error
// taxonomy shared by every stage of the pipeline.
package profile

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Stage is a pipeline lifecycle state. Stages are strictly ordered and a
// subject only ever advances forward.
type Stage string

const (
	StageDiscovered  Stage = "DISCOVERED"
	StageScraped     Stage = "SCRAPED"
	StageCategorized Stage = "CATEGORIZED"
	StageReady       Stage = "READY"
)

// stageOrder maps stages to their position in the pipeline.
var stageOrder = map[Stage]int{
	StageDiscovered:  0,
	StageScraped:     1,
	StageCategorized: 2,
	StageReady:       3,
}

// Rank returns the stage's position in the pipeline order, or -1 for an
// unknown stage.
func (s Stage) Rank() int {
	r, ok := stageOrder[s]
	if !ok {
		return -1
	}
	return r
}

// Valid reports whether s is a known pipeline stage.
func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// AtLeast reports whether s has reached or passed the given stage.
func (s Stage) AtLeast(min Stage) bool {
	return s.Valid() && min.Valid() && s.Rank() >= min.Rank()
}

// Platform identifies a content source.
type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformInstagram Platform = "instagram"
	PlatformArticle   Platform = "article"
)

// Platforms lists every supported platform in scrape order.
var Platforms = []Platform{PlatformTwitter, PlatformLinkedIn, PlatformInstagram, PlatformArticle}

// Category classifies a derived unit's content.
type Category string

const (
	CategoryOpinion      Category = "opinion"
	CategoryPersonal     Category = "personal"
	CategoryProfessional Category = "professional"
	CategoryOther        Category = "other"
	// CategoryVisual marks the single synthetic unit summarizing a
	// subject's visual presence. It is never produced by text
	// classification.
	CategoryVisual Category = "visual"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryOpinion, CategoryPersonal, CategoryProfessional, CategoryOther, CategoryVisual:
		return true
	}
	return false
}

// NormalizeName canonicalizes a subject name into its storage key: lowercase,
// leading/trailing whitespace stripped, interior runs of whitespace collapsed
// to single spaces. "Carl Pei", "carl pei" and "  Carl   PEI " all map to the
// same subject.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Subject is a person tracked by the pipeline.
type Subject struct {
	Key         string    `json:"key"` // normalized name, primary identity
	DisplayName string    `json:"display_name"`
	Stage       Stage     `json:"stage"`
	Degraded    bool      `json:"degraded"` // some platform failed during the last scrape
	BaseImage   string    `json:"base_image,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DiscoveredProfile is a candidate platform profile found for a subject.
type DiscoveredProfile struct {
	Platform Platform `json:"platform"`
	URL      string   `json:"url"`
	Title    string   `json:"title,omitempty"`
	Handle   string   `json:"handle,omitempty"`
}

// RawItem is a single piece of scraped content before categorization. Items
// are identified by (subject_key, platform, item_id); re-scraping the same
// item is a no-op.
type RawItem struct {
	ID         int64     `json:"id"`
	SubjectKey string    `json:"subject_key"`
	Platform   Platform  `json:"platform"`
	ItemID     string    `json:"item_id"` // platform-native id, or content hash
	Text       string    `json:"text"`
	URL        string    `json:"url,omitempty"`
	MediaPath  string    `json:"media_path,omitempty"`
	PostedAt   time.Time `json:"posted_at,omitempty"`
	ScrapedAt  time.Time `json:"scraped_at"`
}

// ContentItemID derives a stable item id from content for platforms that do
// not expose native ids.
func ContentItemID(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// DerivedUnit is a categorized, embedded retrieval unit. Each raw item yields
// exactly one unit, except Instagram media which collapses into a single
// visual-persona unit per subject.
type DerivedUnit struct {
	ID         int64     `json:"id"`
	SubjectKey string    `json:"subject_key"`
	RawItemID  int64     `json:"raw_item_id,omitempty"` // zero for the synthetic visual unit
	Platform   Platform  `json:"platform"`
	Category   Category  `json:"category"`
	Text       string    `json:"text"`
	Summary    string    `json:"summary,omitempty"`
	Engine     string    `json:"engine"` // embedding engine that produced the vector
	CreatedAt  time.Time `json:"created_at"`
}

// PlatformOutcome records how a single platform fared during a scrape run.
type PlatformOutcome string

const (
	OutcomeOK      PlatformOutcome = "ok"
	OutcomePartial PlatformOutcome = "partial"
	OutcomeFailed  PlatformOutcome = "failed"
	OutcomeSkipped PlatformOutcome = "skipped"
)

// StageRecord captures the result of one stage transition for a subject.
type StageRecord struct {
	ID         int64                        `json:"id"`
	SubjectKey string                       `json:"subject_key"`
	Stage      Stage                        `json:"stage"`
	Outcomes   map[Platform]PlatformOutcome `json:"outcomes,omitempty"`
	Detail     string                       `json:"detail,omitempty"`
	RecordedAt time.Time                    `json:"recorded_at"`
}

// Degraded reports whether any platform failed in this record.
func (r *StageRecord) Degraded() bool {
	for _, o := range r.Outcomes {
		if o == OutcomeFailed {
			return true
		}
	}
	return false
}
