package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"personalens/internal/profile"
)

func newTestStore(t *testing.T) *ContentStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertSubjectNormalizesKey(t *testing.T) {
	s := newTestStore(t)

	a, err := s.UpsertSubject("Carl Pei")
	require.NoError(t, err)
	b, err := s.UpsertSubject("  carl   PEI ")
	require.NoError(t, err)

	assert.Equal(t, "carl pei", a.Key)
	assert.Equal(t, a.Key, b.Key)

	subs, err := s.ListSubjects()
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestGetSubjectNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSubject("nobody")
	assert.ErrorIs(t, err, profile.ErrNotFound)
}

func TestStageMonotonic(t *testing.T) {
	s := newTestStore(t)
	sub, err := s.UpsertSubject("Jane Doe")
	require.NoError(t, err)
	assert.Equal(t, profile.StageDiscovered, sub.Stage)

	require.NoError(t, s.SetSubjectStage(sub.Key, profile.StageScraped, false))
	require.NoError(t, s.SetSubjectStage(sub.Key, profile.StageCategorized, false))

	// Regression attempt is a no-op
	require.NoError(t, s.SetSubjectStage(sub.Key, profile.StageScraped, true))
	got, err := s.GetSubject(sub.Key)
	require.NoError(t, err)
	assert.Equal(t, profile.StageCategorized, got.Stage)
	assert.False(t, got.Degraded)

	// Re-running the same stage refreshes the degraded flag
	require.NoError(t, s.SetSubjectStage(sub.Key, profile.StageCategorized, true))
	got, err = s.GetSubject(sub.Key)
	require.NoError(t, err)
	assert.True(t, got.Degraded)
}

func TestUpsertDoesNotRegressStage(t *testing.T) {
	s := newTestStore(t)
	sub, err := s.UpsertSubject("Jane Doe")
	require.NoError(t, err)
	require.NoError(t, s.SetSubjectStage(sub.Key, profile.StageReady, false))

	again, err := s.UpsertSubject("Jane Doe")
	require.NoError(t, err)
	assert.Equal(t, profile.StageReady, again.Stage)
}

func TestSaveRawItemsIdempotent(t *testing.T) {
	s := newTestStore(t)
	sub, err := s.UpsertSubject("Jane Doe")
	require.NoError(t, err)

	items := []profile.RawItem{
		{Platform: profile.PlatformTwitter, ItemID: "t1", Text: "first tweet"},
		{Platform: profile.PlatformTwitter, ItemID: "t2", Text: "second tweet"},
		{Platform: profile.PlatformArticle, Text: "an article body"},
	}
	n, err := s.SaveRawItems(sub.Key, items)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Second scrape of the same content inserts nothing
	n, err = s.SaveRawItems(sub.Key, items)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	all, err := s.GetRawItems(sub.Key, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// Article item got a content-hash id
	arts, err := s.GetRawItems(sub.Key, profile.PlatformArticle)
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, profile.ContentItemID("an article body"), arts[0].ItemID)
}

func TestSameItemIDDifferentSubjects(t *testing.T) {
	s := newTestStore(t)
	a, _ := s.UpsertSubject("Jane Doe")
	b, _ := s.UpsertSubject("John Smith")

	item := []profile.RawItem{{Platform: profile.PlatformTwitter, ItemID: "t1", Text: "hello"}}
	na, err := s.SaveRawItems(a.Key, item)
	require.NoError(t, err)
	nb, err := s.SaveRawItems(b.Key, item)
	require.NoError(t, err)
	assert.Equal(t, 1, na)
	assert.Equal(t, 1, nb)
}

func TestUncategorizedItemsExcludesInstagram(t *testing.T) {
	s := newTestStore(t)
	sub, _ := s.UpsertSubject("Jane Doe")

	_, err := s.SaveRawItems(sub.Key, []profile.RawItem{
		{Platform: profile.PlatformTwitter, ItemID: "t1", Text: "tweet"},
		{Platform: profile.PlatformInstagram, ItemID: "ig1", Text: "photo caption", MediaPath: "/tmp/p.jpg"},
	})
	require.NoError(t, err)

	pending, err := s.UncategorizedItems(sub.Key)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, profile.PlatformTwitter, pending[0].Platform)

	// Categorize the tweet; nothing pending afterwards
	require.NoError(t, s.SaveDerivedUnit(&profile.DerivedUnit{
		SubjectKey: sub.Key,
		RawItemID:  pending[0].ID,
		Platform:   profile.PlatformTwitter,
		Category:   profile.CategoryOpinion,
		Text:       "tweet",
		Engine:     "test",
	}, []float32{1, 0}))

	pending, err = s.UncategorizedItems(sub.Key)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestVisualUnitSingleton(t *testing.T) {
	s := newTestStore(t)
	sub, _ := s.UpsertSubject("Jane Doe")

	for _, text := range []string{"first persona", "second persona"} {
		require.NoError(t, s.SaveDerivedUnit(&profile.DerivedUnit{
			SubjectKey: sub.Key,
			Platform:   profile.PlatformInstagram,
			Category:   profile.CategoryVisual,
			Text:       text,
			Engine:     "test",
		}, []float32{0, 1}))
	}

	units, err := s.GetDerivedUnits(sub.Key, profile.CategoryVisual)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "second persona", units[0].Text)

	summary, err := s.VisualSummary(sub.Key)
	require.NoError(t, err)
	assert.Equal(t, "second persona", summary)
}

func TestQuerySimilarScoping(t *testing.T) {
	s := newTestStore(t)
	a, _ := s.UpsertSubject("Jane Doe")
	b, _ := s.UpsertSubject("John Smith")

	saveUnit := func(key string, itemID string, text string, emb []float32) {
		items := []profile.RawItem{{Platform: profile.PlatformTwitter, ItemID: itemID, Text: text}}
		_, err := s.SaveRawItems(key, items)
		require.NoError(t, err)
		raw, err := s.GetRawItems(key, profile.PlatformTwitter)
		require.NoError(t, err)
		require.NoError(t, s.SaveDerivedUnit(&profile.DerivedUnit{
			SubjectKey: key,
			RawItemID:  raw[len(raw)-1].ID,
			Platform:   profile.PlatformTwitter,
			Category:   profile.CategoryOpinion,
			Text:       text,
			Engine:     "test",
		}, emb))
	}

	saveUnit(a.Key, "a1", "jane on design", []float32{1, 0, 0})
	saveUnit(a.Key, "a2", "jane on pricing", []float32{0.9, 0.1, 0})
	saveUnit(b.Key, "b1", "john on design", []float32{1, 0, 0})

	got, err := s.QuerySimilar(a.Key, []float32{1, 0, 0}, 10, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, u := range got {
		assert.Equal(t, a.Key, u.SubjectKey)
	}
	assert.Equal(t, "jane on design", got[0].Text)
	assert.Greater(t, got[0].Score, got[1].Score)

	// Widened retrieval sees both subjects
	all, err := s.QuerySimilar("", []float32{1, 0, 0}, 10, QueryOptions{AllSubjects: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestQuerySimilarEmptyIndex(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpsertSubject("Jane Doe")
	require.NoError(t, err)

	got, err := s.QuerySimilar("jane doe", []float32{1, 0}, 5, QueryOptions{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestQuerySimilarEnginePinning(t *testing.T) {
	s := newTestStore(t)
	sub, _ := s.UpsertSubject("Jane Doe")

	_, err := s.SaveRawItems(sub.Key, []profile.RawItem{
		{Platform: profile.PlatformTwitter, ItemID: "t1", Text: "one"},
		{Platform: profile.PlatformTwitter, ItemID: "t2", Text: "two"},
	})
	require.NoError(t, err)
	raw, err := s.GetRawItems(sub.Key, profile.PlatformTwitter)
	require.NoError(t, err)

	require.NoError(t, s.SaveDerivedUnit(&profile.DerivedUnit{
		SubjectKey: sub.Key, RawItemID: raw[0].ID, Platform: profile.PlatformTwitter,
		Category: profile.CategoryOther, Text: "one", Engine: "ollama:embeddinggemma",
	}, []float32{1, 0}))
	require.NoError(t, s.SaveDerivedUnit(&profile.DerivedUnit{
		SubjectKey: sub.Key, RawItemID: raw[1].ID, Platform: profile.PlatformTwitter,
		Category: profile.CategoryOther, Text: "two", Engine: "genai:gemini-embedding-001",
	}, []float32{1, 0}))

	got, err := s.QuerySimilar(sub.Key, []float32{1, 0}, 10, QueryOptions{Engine: "ollama:embeddinggemma"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "one", got[0].Text)
}

func TestStageRecords(t *testing.T) {
	s := newTestStore(t)
	sub, _ := s.UpsertSubject("Jane Doe")

	rec := &profile.StageRecord{
		SubjectKey: sub.Key,
		Stage:      profile.StageScraped,
		Outcomes: map[profile.Platform]profile.PlatformOutcome{
			profile.PlatformTwitter:  profile.OutcomeOK,
			profile.PlatformLinkedIn: profile.OutcomeFailed,
		},
		Detail: "linkedin login wall",
	}
	require.NoError(t, s.SaveStageRecord(rec))
	assert.NotZero(t, rec.ID)

	hist, err := s.StageHistory(sub.Key)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, profile.StageScraped, hist[0].Stage)
	assert.Equal(t, profile.OutcomeFailed, hist[0].Outcomes[profile.PlatformLinkedIn])
	assert.True(t, hist[0].Degraded())
}

func TestStageRecordRerunReplacesRecord(t *testing.T) {
	s := newTestStore(t)
	sub, _ := s.UpsertSubject("Jane Doe")

	first := &profile.StageRecord{
		SubjectKey: sub.Key,
		Stage:      profile.StageScraped,
		Outcomes: map[profile.Platform]profile.PlatformOutcome{
			profile.PlatformTwitter: profile.OutcomeFailed,
		},
		Detail: "rate limited",
	}
	require.NoError(t, s.SaveStageRecord(first))

	second := &profile.StageRecord{
		SubjectKey: sub.Key,
		Stage:      profile.StageScraped,
		Outcomes: map[profile.Platform]profile.PlatformOutcome{
			profile.PlatformTwitter: profile.OutcomeOK,
		},
	}
	require.NoError(t, s.SaveStageRecord(second))

	// One record per stage, holding the latest outcome.
	hist, err := s.StageHistory(sub.Key)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, profile.OutcomeOK, hist[0].Outcomes[profile.PlatformTwitter])
	assert.Empty(t, hist[0].Detail)
}

func TestListSubjectsOrdering(t *testing.T) {
	s := newTestStore(t)
	a, _ := s.UpsertSubject("Jane Doe")
	b, _ := s.UpsertSubject("John Smith")

	require.NoError(t, s.touchSubject(a.Key, time.Now().Add(-time.Hour)))
	require.NoError(t, s.touchSubject(b.Key, time.Now()))

	subs, err := s.ListSubjects()
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, b.Key, subs[0].Key)
}

func TestSetBaseImage(t *testing.T) {
	s := newTestStore(t)
	sub, _ := s.UpsertSubject("Jane Doe")

	require.NoError(t, s.SetBaseImage(sub.Key, "/data/images/jane.jpg"))
	got, err := s.GetSubject(sub.Key)
	require.NoError(t, err)
	assert.Equal(t, "/data/images/jane.jpg", got.BaseImage)

	assert.ErrorIs(t, s.SetBaseImage("nobody", "x.jpg"), profile.ErrNotFound)
}

func TestDiscoveredProfiles(t *testing.T) {
	s := newTestStore(t)
	sub, _ := s.UpsertSubject("Jane Doe")

	profiles := []profile.DiscoveredProfile{
		{Platform: profile.PlatformTwitter, URL: "https://x.com/jane", Handle: "jane"},
		{Platform: profile.PlatformLinkedIn, URL: "https://linkedin.com/in/jane"},
	}
	require.NoError(t, s.SaveDiscoveredProfiles(sub.Key, profiles))
	// Duplicate save is ignored
	require.NoError(t, s.SaveDiscoveredProfiles(sub.Key, profiles))

	got, err := s.GetDiscoveredProfiles(sub.Key)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
