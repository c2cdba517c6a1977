package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"personalens/internal/embedding"
	"personalens/internal/llm"
	"personalens/internal/logging"
	"personalens/internal/profile"
)

const categorizeSystemPrompt = `You classify social media posts and article excerpts about a specific person.
For the given text, respond with a JSON object: {"category": "...", "summary": "..."}.
category must be exactly one of: opinion, personal, professional, other.
- opinion: the person expressing a view, stance, or judgment
- personal: life outside work: family, hobbies, travel, humor
- professional: work, products, company news, industry activity
- other: anything that fits none of the above
summary is one or two sentences capturing what the text says.`

const visualPersonaPrompt = `These photos are from one person's public Instagram profile.
Describe their visual persona in a single paragraph: typical settings, style of dress,
activities, recurring aesthetics, and the overall impression their photos give.
Do not describe each photo individually.`

// maxVisionImages bounds how many photos go into the single persona call.
const maxVisionImages = 10

type classification struct {
	Category string `json:"category"`
	Summary  string `json:"summary"`
}

// Categorize classifies every pending raw item, embeds it, and distills the
// subject's Instagram media into one visual persona unit. On success the
// subject advances to CATEGORIZED. The synthetic visual unit failing while
// text units succeed degrades the run instead of aborting it.
func (t *Tracker) Categorize(ctx context.Context, client llm.Client, engine embedding.Engine, key string) error {
	return t.Advance(ctx, key, profile.StageCategorized, func(ctx context.Context, sub *profile.Subject) (*profile.StageRecord, error) {
		items, err := t.store.UncategorizedItems(sub.Key)
		if err != nil {
			return nil, err
		}

		classified, failedText := 0, 0
		for _, item := range items {
			if err := t.categorizeItem(ctx, client, engine, item); err != nil {
				logging.CategorizeDebug("Item %d (%s) failed: %v", item.ID, item.Platform, err)
				failedText++
				continue
			}
			classified++
		}

		visualErr := t.buildVisualPersona(ctx, client, engine, sub)

		rec := &profile.StageRecord{
			Detail: fmt.Sprintf("classified %d items (%d failed)", classified, failedText),
		}

		if classified == 0 && len(items) > 0 {
			return nil, fmt.Errorf("categorization failed for all %d items of %q", len(items), sub.Key)
		}
		if visualErr != nil {
			logging.Categorize("Visual persona for %q failed: %v", sub.Key, visualErr)
			rec.Outcomes = map[profile.Platform]profile.PlatformOutcome{
				profile.PlatformInstagram: profile.OutcomeFailed,
			}
			if classified == 0 && len(items) == 0 {
				return nil, visualErr
			}
			return rec, &profile.PartialFailure{
				Failed: []profile.Platform{profile.PlatformInstagram},
				Errs:   map[profile.Platform]error{profile.PlatformInstagram: visualErr},
			}
		}

		// Never reach CATEGORIZED with an empty retrieval index.
		total, err := t.store.CountDerivedUnits(sub.Key)
		if err != nil {
			return nil, err
		}
		if total == 0 {
			return nil, fmt.Errorf("%w: %q has nothing to categorize", profile.ErrNotReady, sub.Key)
		}
		return rec, nil
	})
}

func (t *Tracker) categorizeItem(ctx context.Context, client llm.Client, engine embedding.Engine, item profile.RawItem) error {
	raw, err := client.CompleteJSON(ctx, categorizeSystemPrompt, item.Text)
	if err != nil {
		return fmt.Errorf("classification call failed: %w", err)
	}

	var cls classification
	if err := json.Unmarshal([]byte(stripFences(raw)), &cls); err != nil {
		return fmt.Errorf("unparseable classification %q: %w", raw, err)
	}
	category := profile.Category(strings.ToLower(strings.TrimSpace(cls.Category)))
	if !category.Valid() || category == profile.CategoryVisual {
		category = profile.CategoryOther
	}

	// Summaries normalize length across platforms, so they are what gets
	// embedded, not the raw text.
	embedText := strings.TrimSpace(cls.Summary)
	if embedText == "" {
		embedText = item.Text
	}
	emb, err := engine.Embed(ctx, embedText)
	if err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}

	unit := &profile.DerivedUnit{
		SubjectKey: item.SubjectKey,
		RawItemID:  item.ID,
		Platform:   item.Platform,
		Category:   category,
		Text:       item.Text,
		Summary:    cls.Summary,
		Engine:     engine.Name(),
	}
	if err := t.store.SaveDerivedUnit(unit, emb); err != nil {
		return err
	}
	logging.Categorize("Item %d classified as %s", item.ID, category)
	return nil
}

// buildVisualPersona collapses the subject's Instagram photos into a single
// visual unit via one vision call. No photos means nothing to do.
func (t *Tracker) buildVisualPersona(ctx context.Context, client llm.Client, engine embedding.Engine, sub *profile.Subject) error {
	media, err := t.store.GetRawItems(sub.Key, profile.PlatformInstagram)
	if err != nil {
		return err
	}

	var images []llm.ImageData
	for _, item := range media {
		if len(images) >= maxVisionImages {
			break
		}
		if item.MediaPath == "" {
			continue
		}
		data, err := os.ReadFile(item.MediaPath)
		if err != nil {
			logging.CategorizeDebug("Cannot read %s: %v", item.MediaPath, err)
			continue
		}
		images = append(images, llm.ImageData{
			MIMEType: mimeForPath(item.MediaPath),
			Data:     data,
		})
	}
	if len(images) == 0 {
		return nil
	}

	persona, err := client.DescribeImages(ctx, visualPersonaPrompt, images)
	if err != nil {
		return fmt.Errorf("vision call failed: %w", err)
	}
	persona = strings.TrimSpace(persona)
	if persona == "" {
		return fmt.Errorf("empty visual persona")
	}

	emb, err := engine.Embed(ctx, persona)
	if err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}

	unit := &profile.DerivedUnit{
		SubjectKey: sub.Key,
		Platform:   profile.PlatformInstagram,
		Category:   profile.CategoryVisual,
		Text:       persona,
		Engine:     engine.Name(),
	}
	if err := t.store.SaveDerivedUnit(unit, emb); err != nil {
		return err
	}
	logging.Categorize("Visual persona built for %q from %d photos", sub.Key, len(images))
	return nil
}

// Finalize moves a categorized subject to READY once its retrieval index has
// at least one unit.
func (t *Tracker) Finalize(ctx context.Context, key string) error {
	return t.Advance(ctx, key, profile.StageReady, func(ctx context.Context, sub *profile.Subject) (*profile.StageRecord, error) {
		n, err := t.store.CountDerivedUnits(sub.Key)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: %q has no retrieval units", profile.ErrNotReady, sub.Key)
		}
		return &profile.StageRecord{Detail: fmt.Sprintf("%d units indexed", n)}, nil
	})
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func mimeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
