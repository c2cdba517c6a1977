package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"personalens/internal/discovery"
	"personalens/internal/llm"
	"personalens/internal/profile"
	"personalens/internal/scrape"
	"personalens/internal/store"
)

func TestMain(m *testing.M) {
	// opencensus starts a background worker in its package init via a
	// transitive dependency; it is not a goroutine this package can stop.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func newTestTracker(t *testing.T) (*Tracker, *store.ContentStore) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewTracker(st), st
}

// fakeLLM serves classification and vision calls from canned replies keyed
// by a substring of the user prompt.
type fakeLLM struct {
	mu          sync.Mutex
	jsonReplies map[string]string
	visionReply string
	visionErr   error
	visionCalls int
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return "completion", nil
}

func (f *fakeLLM) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	return "completion", nil
}

func (f *fakeLLM) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for substr, reply := range f.jsonReplies {
		if strings.Contains(user, substr) {
			return reply, nil
		}
	}
	return `{"category":"other","summary":"uncategorized"}`, nil
}

func (f *fakeLLM) DescribeImages(ctx context.Context, prompt string, images []llm.ImageData) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visionCalls++
	if f.visionErr != nil {
		return "", f.visionErr
	}
	return f.visionReply, nil
}

func (f *fakeLLM) Model() string { return "fake-model" }

// fakeEngine embeds texts into a deterministic 3-dim space: vectors depend
// only on the text's first rune so similarity is predictable.
type fakeEngine struct{}

func (fakeEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(text) == 0 {
		return []float32{0, 0, 1}, nil
	}
	r := float32(text[0]%7) / 7
	return []float32{r, 1 - r, 0.5}, nil
}

func (e fakeEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (fakeEngine) Dimensions() int { return 3 }
func (fakeEngine) Name() string    { return "fake:test" }

// fakeScraper returns canned items, optionally failing a configured number
// of times first.
type fakeScraper struct {
	platform profile.Platform
	items    []profile.RawItem
	failWith error
	failN    int32
	calls    int32
}

func (s *fakeScraper) Platform() profile.Platform { return s.platform }

func (s *fakeScraper) Scrape(ctx context.Context, sub *profile.Subject, prof profile.DiscoveredProfile) ([]profile.RawItem, error) {
	n := atomic.AddInt32(&s.calls, 1)
	if s.failWith != nil && (s.failN == 0 || n <= s.failN) {
		return nil, s.failWith
	}
	items := make([]profile.RawItem, len(s.items))
	copy(items, s.items)
	for i := range items {
		items[i].SubjectKey = sub.Key
		items[i].Platform = s.platform
	}
	return items, nil
}

// fakeDiscoverer returns a canned search result, or fails every call.
type fakeDiscoverer struct {
	result *discovery.Result
	err    error
	calls  int32
}

func (d *fakeDiscoverer) Discover(ctx context.Context, name string) (*discovery.Result, error) {
	atomic.AddInt32(&d.calls, 1)
	if d.err != nil {
		return nil, d.err
	}
	return d.result, nil
}

func discoverProfiles(t *testing.T, st *store.ContentStore, key string, platforms ...profile.Platform) {
	t.Helper()
	var profs []profile.DiscoveredProfile
	for _, p := range platforms {
		profs = append(profs, profile.DiscoveredProfile{
			Platform: p,
			URL:      fmt.Sprintf("https://%s.example/u", p),
			Handle:   "handle",
		})
	}
	require.NoError(t, st.SaveDiscoveredProfiles(key, profs))
}

func tweet(id, text string) profile.RawItem {
	return profile.RawItem{ItemID: id, Text: text}
}

func TestDiscoverFailureRegistersNoSubject(t *testing.T) {
	tr, st := newTestTracker(t)

	d := &fakeDiscoverer{err: profile.Unavailable("serpapi", profile.UnavailableRateLimit, fmt.Errorf("429"))}
	_, err := tr.Discover(context.Background(), d, "Carl Pei")
	require.Error(t, err)

	// A failed search must not leave a half-registered subject behind.
	_, err = st.GetSubject("carl pei")
	assert.ErrorIs(t, err, profile.ErrNotFound)
}

func TestDiscoverRerunKeepsSingleStageRecord(t *testing.T) {
	tr, st := newTestTracker(t)

	d := &fakeDiscoverer{result: &discovery.Result{
		Profiles: []profile.DiscoveredProfile{
			{Platform: profile.PlatformTwitter, URL: "https://x.com/getpeid", Handle: "getpeid"},
		},
		Articles: []string{"https://example.com/founder-profile"},
	}}
	sub, err := tr.Discover(context.Background(), d, "Carl Pei")
	require.NoError(t, err)
	_, err = tr.Discover(context.Background(), d, "Carl Pei")
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&d.calls))

	hist, err := st.StageHistory(sub.Key)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, profile.StageDiscovered, hist[0].Stage)
}

func TestAdvanceRunsOnceUnderConcurrency(t *testing.T) {
	tr, st := newTestTracker(t)
	sub, err := st.UpsertSubject("Carl Pei")
	require.NoError(t, err)

	var runs int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tr.Advance(context.Background(), sub.Key, profile.StageScraped,
				func(ctx context.Context, s *profile.Subject) (*profile.StageRecord, error) {
					atomic.AddInt32(&runs, 1)
					time.Sleep(10 * time.Millisecond)
					return nil, nil
				})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), runs)
	got, err := st.GetSubject(sub.Key)
	require.NoError(t, err)
	assert.Equal(t, profile.StageScraped, got.Stage)
}

func TestAdvanceRejectsStageSkip(t *testing.T) {
	tr, st := newTestTracker(t)
	sub, err := st.UpsertSubject("Carl Pei")
	require.NoError(t, err)

	err = tr.Advance(context.Background(), sub.Key, profile.StageCategorized,
		func(ctx context.Context, s *profile.Subject) (*profile.StageRecord, error) {
			t.Fatal("fn must not run")
			return nil, nil
		})
	assert.ErrorIs(t, err, profile.ErrNotReady)
}

func TestAdvanceUnknownSubject(t *testing.T) {
	tr, _ := newTestTracker(t)
	err := tr.Advance(context.Background(), "nobody", profile.StageScraped,
		func(ctx context.Context, s *profile.Subject) (*profile.StageRecord, error) { return nil, nil })
	assert.ErrorIs(t, err, profile.ErrNotFound)
}

func TestScrapeDegradedCompletion(t *testing.T) {
	tr, st := newTestTracker(t)
	sub, _ := st.UpsertSubject("Carl Pei")
	discoverProfiles(t, st, sub.Key, profile.PlatformTwitter, profile.PlatformLinkedIn)

	scrapers := []scrape.Scraper{
		&fakeScraper{platform: profile.PlatformTwitter, items: []profile.RawItem{tweet("t1", "launch day"), tweet("t2", "specs")}},
		&fakeScraper{platform: profile.PlatformLinkedIn, failWith: profile.Unavailable("linkedin", profile.UnavailableAuth, fmt.Errorf("login wall"))},
	}
	err := tr.Scrape(context.Background(), scrapers, sub.Key, ScrapeOptions{RetryDelay: time.Millisecond})
	require.NoError(t, err)

	got, err := st.GetSubject(sub.Key)
	require.NoError(t, err)
	assert.Equal(t, profile.StageScraped, got.Stage)
	assert.True(t, got.Degraded)

	hist, err := st.StageHistory(sub.Key)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, profile.OutcomeOK, hist[0].Outcomes[profile.PlatformTwitter])
	assert.Equal(t, profile.OutcomeFailed, hist[0].Outcomes[profile.PlatformLinkedIn])

	items, err := st.GetRawItems(sub.Key, "")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestScrapeAllFailedDoesNotAdvance(t *testing.T) {
	tr, st := newTestTracker(t)
	sub, _ := st.UpsertSubject("Carl Pei")
	discoverProfiles(t, st, sub.Key, profile.PlatformTwitter)

	scrapers := []scrape.Scraper{
		&fakeScraper{platform: profile.PlatformTwitter, failWith: profile.Unavailable("twitter", profile.UnavailableAuth, fmt.Errorf("bad token"))},
	}
	err := tr.Scrape(context.Background(), scrapers, sub.Key, ScrapeOptions{RetryDelay: time.Millisecond})
	require.Error(t, err)

	got, err := st.GetSubject(sub.Key)
	require.NoError(t, err)
	assert.Equal(t, profile.StageDiscovered, got.Stage)
}

func TestScrapeSkipsPlatformWithoutProfile(t *testing.T) {
	tr, st := newTestTracker(t)
	sub, _ := st.UpsertSubject("Carl Pei")
	discoverProfiles(t, st, sub.Key, profile.PlatformTwitter)

	linkedin := &fakeScraper{platform: profile.PlatformLinkedIn, items: []profile.RawItem{tweet("x", "never scraped")}}
	scrapers := []scrape.Scraper{
		&fakeScraper{platform: profile.PlatformTwitter, items: []profile.RawItem{tweet("t1", "hello")}},
		linkedin,
	}
	err := tr.Scrape(context.Background(), scrapers, sub.Key, ScrapeOptions{RetryDelay: time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, int32(0), atomic.LoadInt32(&linkedin.calls))

	hist, _ := st.StageHistory(sub.Key)
	require.Len(t, hist, 1)
	assert.Equal(t, profile.OutcomeSkipped, hist[0].Outcomes[profile.PlatformLinkedIn])

	got, _ := st.GetSubject(sub.Key)
	assert.False(t, got.Degraded)
}

func TestScrapeRetriesRetryableOnce(t *testing.T) {
	tr, st := newTestTracker(t)
	sub, _ := st.UpsertSubject("Carl Pei")
	discoverProfiles(t, st, sub.Key, profile.PlatformTwitter)

	flaky := &fakeScraper{
		platform: profile.PlatformTwitter,
		items:    []profile.RawItem{tweet("t1", "recovered")},
		failWith: profile.Unavailable("twitter", profile.UnavailableRateLimit, fmt.Errorf("429")),
		failN:    1,
	}
	err := tr.Scrape(context.Background(), []scrape.Scraper{flaky}, sub.Key, ScrapeOptions{RetryDelay: time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&flaky.calls))
	got, _ := st.GetSubject(sub.Key)
	assert.Equal(t, profile.StageScraped, got.Stage)
	assert.False(t, got.Degraded)
}

// slowScraper blocks until its context expires.
type slowScraper struct {
	platform profile.Platform
	calls    int32
}

func (s *slowScraper) Platform() profile.Platform { return s.platform }

func (s *slowScraper) Scrape(ctx context.Context, sub *profile.Subject, prof profile.DiscoveredProfile) ([]profile.RawItem, error) {
	atomic.AddInt32(&s.calls, 1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestScrapeTimeoutRetriedOnce(t *testing.T) {
	tr, st := newTestTracker(t)
	sub, _ := st.UpsertSubject("Carl Pei")
	discoverProfiles(t, st, sub.Key, profile.PlatformTwitter)

	slow := &slowScraper{platform: profile.PlatformTwitter}
	err := tr.Scrape(context.Background(), []scrape.Scraper{slow}, sub.Key, ScrapeOptions{
		PerPlatformTimeout: 10 * time.Millisecond,
		RetryDelay:         time.Millisecond,
	})
	require.Error(t, err)

	// The platform deadline counts as a retryable outage, so one retry
	// happens before the stage fails outright.
	assert.Equal(t, int32(2), atomic.LoadInt32(&slow.calls))
	got, _ := st.GetSubject(sub.Key)
	assert.Equal(t, profile.StageDiscovered, got.Stage)
}

func TestScrapeIdempotentRerun(t *testing.T) {
	tr, st := newTestTracker(t)
	sub, _ := st.UpsertSubject("Carl Pei")
	discoverProfiles(t, st, sub.Key, profile.PlatformTwitter)

	sc := &fakeScraper{platform: profile.PlatformTwitter, items: []profile.RawItem{tweet("t1", "hello")}}
	require.NoError(t, tr.Scrape(context.Background(), []scrape.Scraper{sc}, sub.Key, ScrapeOptions{RetryDelay: time.Millisecond}))
	// Second run is a no-op: subject already SCRAPED
	require.NoError(t, tr.Scrape(context.Background(), []scrape.Scraper{sc}, sub.Key, ScrapeOptions{RetryDelay: time.Millisecond}))

	assert.Equal(t, int32(1), atomic.LoadInt32(&sc.calls))
	items, _ := st.GetRawItems(sub.Key, "")
	assert.Len(t, items, 1)
}

func TestCategorizeAndFinalize(t *testing.T) {
	tr, st := newTestTracker(t)
	sub, _ := st.UpsertSubject("Carl Pei")
	require.NoError(t, st.SetSubjectStage(sub.Key, profile.StageScraped, false))

	_, err := st.SaveRawItems(sub.Key, []profile.RawItem{
		{Platform: profile.PlatformTwitter, ItemID: "t1", Text: "android skins are bloated"},
		{Platform: profile.PlatformArticle, ItemID: "a1", Text: "profile of the founder's career"},
	})
	require.NoError(t, err)

	client := &fakeLLM{jsonReplies: map[string]string{
		"bloated": `{"category":"opinion","summary":"critical of android skins"}`,
		"career":  `{"category":"professional","summary":"career profile"}`,
	}}
	require.NoError(t, tr.Categorize(context.Background(), client, fakeEngine{}, sub.Key))

	got, _ := st.GetSubject(sub.Key)
	assert.Equal(t, profile.StageCategorized, got.Stage)

	opinions, err := st.GetDerivedUnits(sub.Key, profile.CategoryOpinion)
	require.NoError(t, err)
	require.Len(t, opinions, 1)
	assert.Equal(t, "critical of android skins", opinions[0].Summary)
	assert.Equal(t, "fake:test", opinions[0].Engine)

	require.NoError(t, tr.Finalize(context.Background(), sub.Key))
	got, _ = st.GetSubject(sub.Key)
	assert.Equal(t, profile.StageReady, got.Stage)
}

func TestCategorizeNothingToCategorize(t *testing.T) {
	tr, st := newTestTracker(t)
	sub, _ := st.UpsertSubject("Carl Pei")
	require.NoError(t, st.SetSubjectStage(sub.Key, profile.StageScraped, false))

	// No raw items and no media: the stage must refuse to advance.
	err := tr.Categorize(context.Background(), &fakeLLM{}, fakeEngine{}, sub.Key)
	require.Error(t, err)
	assert.ErrorIs(t, err, profile.ErrNotReady)

	got, _ := st.GetSubject(sub.Key)
	assert.Equal(t, profile.StageScraped, got.Stage)
	n, err := st.CountDerivedUnits(sub.Key)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCategorizeBuildsSingleVisualUnit(t *testing.T) {
	tr, st := newTestTracker(t)
	sub, _ := st.UpsertSubject("Carl Pei")
	require.NoError(t, st.SetSubjectStage(sub.Key, profile.StageScraped, false))

	dir := t.TempDir()
	img1 := filepath.Join(dir, "a.jpg")
	img2 := filepath.Join(dir, "b.png")
	require.NoError(t, writeFile(img1, []byte{1, 2}))
	require.NoError(t, writeFile(img2, []byte{3, 4}))

	_, err := st.SaveRawItems(sub.Key, []profile.RawItem{
		{Platform: profile.PlatformInstagram, ItemID: "p1", Text: "", MediaPath: img1},
		{Platform: profile.PlatformInstagram, ItemID: "p2", Text: "", MediaPath: img2},
	})
	require.NoError(t, err)

	client := &fakeLLM{visionReply: "minimalist urban aesthetic, mostly product shots"}
	require.NoError(t, tr.Categorize(context.Background(), client, fakeEngine{}, sub.Key))

	assert.Equal(t, 1, client.visionCalls)
	visual, err := st.GetDerivedUnits(sub.Key, profile.CategoryVisual)
	require.NoError(t, err)
	require.Len(t, visual, 1)
	assert.Contains(t, visual[0].Text, "minimalist")

	summary, err := st.VisualSummary(sub.Key)
	require.NoError(t, err)
	assert.NotEmpty(t, summary)
}

func TestCategorizeVisionFailureDegrades(t *testing.T) {
	tr, st := newTestTracker(t)
	sub, _ := st.UpsertSubject("Carl Pei")
	require.NoError(t, st.SetSubjectStage(sub.Key, profile.StageScraped, false))

	dir := t.TempDir()
	img := filepath.Join(dir, "a.jpg")
	require.NoError(t, writeFile(img, []byte{1}))

	_, err := st.SaveRawItems(sub.Key, []profile.RawItem{
		{Platform: profile.PlatformTwitter, ItemID: "t1", Text: "a tweet"},
		{Platform: profile.PlatformInstagram, ItemID: "p1", MediaPath: img},
	})
	require.NoError(t, err)

	client := &fakeLLM{
		jsonReplies: map[string]string{"tweet": `{"category":"personal","summary":"a tweet"}`},
		visionErr:   fmt.Errorf("vision quota exhausted"),
	}
	require.NoError(t, tr.Categorize(context.Background(), client, fakeEngine{}, sub.Key))

	got, _ := st.GetSubject(sub.Key)
	assert.Equal(t, profile.StageCategorized, got.Stage)
	assert.True(t, got.Degraded)

	visual, _ := st.GetDerivedUnits(sub.Key, profile.CategoryVisual)
	assert.Empty(t, visual)
}

func TestFinalizeRequiresUnits(t *testing.T) {
	tr, st := newTestTracker(t)
	sub, _ := st.UpsertSubject("Carl Pei")
	require.NoError(t, st.SetSubjectStage(sub.Key, profile.StageCategorized, false))

	err := tr.Finalize(context.Background(), sub.Key)
	assert.ErrorIs(t, err, profile.ErrNotReady)
}

func TestStatus(t *testing.T) {
	tr, st := newTestTracker(t)
	sub, _ := st.UpsertSubject("Carl Pei")
	discoverProfiles(t, st, sub.Key, profile.PlatformTwitter)
	_, err := st.SaveRawItems(sub.Key, []profile.RawItem{
		{Platform: profile.PlatformTwitter, ItemID: "t1", Text: "hello"},
	})
	require.NoError(t, err)

	status, err := tr.Status("Carl Pei")
	require.NoError(t, err)
	assert.Equal(t, profile.StageDiscovered, status.Subject.Stage)
	assert.Equal(t, 1, status.RawCounts[profile.PlatformTwitter])
	assert.Equal(t, 0, status.UnitCount)
	assert.Len(t, status.Profiles, 1)
}

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0644)
}
