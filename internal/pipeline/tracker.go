// Package pipeline drives subjects through the profile lifecycle:
// discovery, scraping, categorization, readiness. Stage transitions are
// serialized per subject and never move backwards.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"personalens/internal/logging"
	"personalens/internal/profile"
	"personalens/internal/store"
)

// Tracker serializes stage work per subject and records transitions.
type Tracker struct {
	store *store.ContentStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTracker creates a tracker over the content store.
func NewTracker(st *store.ContentStore) *Tracker {
	return &Tracker{
		store: st,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex guarding one (subject, stage) pair.
func (t *Tracker) lockFor(key string, stage profile.Stage) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := key + "|" + string(stage)
	l, ok := t.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.locks[id] = l
	}
	return l
}

// Advance runs fn for the subject and, on success, moves it to the target
// stage. Concurrent Advance calls for the same subject and stage run one at
// a time; the second caller re-checks the stage and becomes a no-op if the
// first already got there. fn returning a *profile.PartialFailure still
// advances, with the subject marked degraded.
func (t *Tracker) Advance(ctx context.Context, key string, target profile.Stage, fn func(ctx context.Context, sub *profile.Subject) (*profile.StageRecord, error)) error {
	key = profile.NormalizeName(key)
	lock := t.lockFor(key, target)
	lock.Lock()
	defer lock.Unlock()

	sub, err := t.store.GetSubject(key)
	if err != nil {
		return err
	}
	if sub.Stage.Rank() >= target.Rank() {
		logging.Tracker("Subject %q already at %s, skipping work for %s", key, sub.Stage, target)
		return nil
	}
	if target.Rank() != sub.Stage.Rank()+1 {
		return fmt.Errorf("%w: subject %q at %s, cannot reach %s", profile.ErrNotReady, key, sub.Stage, target)
	}

	rec, err := fn(ctx, sub)

	degraded := false
	if err != nil {
		partial, ok := err.(*profile.PartialFailure)
		if !ok {
			return err
		}
		degraded = true
		logging.Tracker("Subject %q reached %s degraded: %v", key, target, partial)
	}

	if rec != nil {
		rec.SubjectKey = key
		rec.Stage = target
		if recErr := t.store.SaveStageRecord(rec); recErr != nil {
			return recErr
		}
		if rec.Degraded() {
			degraded = true
		}
	}

	if setErr := t.store.SetSubjectStage(key, target, degraded); setErr != nil {
		return setErr
	}
	return nil
}

// Status summarizes a subject's pipeline position.
type Status struct {
	Subject   *profile.Subject              `json:"subject"`
	RawCounts map[profile.Platform]int      `json:"raw_counts"`
	UnitCount int                           `json:"unit_count"`
	History   []profile.StageRecord         `json:"history"`
	Profiles  []profile.DiscoveredProfile   `json:"profiles"`
}

// Status returns the subject plus counts and stage history.
func (t *Tracker) Status(key string) (*Status, error) {
	sub, err := t.store.GetSubject(key)
	if err != nil {
		return nil, err
	}
	counts, err := t.store.CountRawItems(sub.Key)
	if err != nil {
		return nil, err
	}
	units, err := t.store.CountDerivedUnits(sub.Key)
	if err != nil {
		return nil, err
	}
	history, err := t.store.StageHistory(sub.Key)
	if err != nil {
		return nil, err
	}
	profiles, err := t.store.GetDiscoveredProfiles(sub.Key)
	if err != nil {
		return nil, err
	}
	return &Status{
		Subject:   sub,
		RawCounts: counts,
		UnitCount: units,
		History:   history,
		Profiles:  profiles,
	}, nil
}
