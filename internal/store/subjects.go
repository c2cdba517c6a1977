package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"personalens/internal/logging"
	"personalens/internal/profile"
)

// UpsertSubject creates a subject if it does not exist, keyed by normalized
// name. Re-discovering an existing subject refreshes the display name but
// never regresses the stage.
func (s *ContentStore) UpsertSubject(displayName string) (*profile.Subject, error) {
	key := profile.NormalizeName(displayName)
	if key == "" {
		return nil, fmt.Errorf("empty subject name")
	}

	_, err := s.db.Exec(`
		INSERT INTO subjects (key, display_name, stage)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			display_name = excluded.display_name,
			updated_at = CURRENT_TIMESTAMP`,
		key, displayName, profile.StageDiscovered)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subject: %w", err)
	}

	logging.StoreDebug("Upserted subject %q", key)
	return s.GetSubject(key)
}

// GetSubject looks up a subject by name or normalized key.
func (s *ContentStore) GetSubject(name string) (*profile.Subject, error) {
	key := profile.NormalizeName(name)
	row := s.db.QueryRow(`
		SELECT key, display_name, stage, degraded, COALESCE(base_image, ''), created_at, updated_at
		FROM subjects WHERE key = ?`, key)

	var sub profile.Subject
	var degraded int
	err := row.Scan(&sub.Key, &sub.DisplayName, &sub.Stage, &degraded, &sub.BaseImage, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, profile.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subject: %w", err)
	}
	sub.Degraded = degraded != 0
	return &sub, nil
}

// ListSubjects returns all subjects, most recently updated first.
func (s *ContentStore) ListSubjects() ([]*profile.Subject, error) {
	rows, err := s.db.Query(`
		SELECT key, display_name, stage, degraded, COALESCE(base_image, ''), created_at, updated_at
		FROM subjects ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}
	defer rows.Close()

	var subs []*profile.Subject
	for rows.Next() {
		var sub profile.Subject
		var degraded int
		if err := rows.Scan(&sub.Key, &sub.DisplayName, &sub.Stage, &degraded, &sub.BaseImage, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, err
		}
		sub.Degraded = degraded != 0
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}

// SetSubjectStage advances a subject's stage. Transitions are monotonic: an
// attempt to move backwards is a no-op, not an error, so re-running an
// earlier pipeline step never loses progress.
func (s *ContentStore) SetSubjectStage(key string, stage profile.Stage, degraded bool) error {
	if !stage.Valid() {
		return fmt.Errorf("invalid stage %q", stage)
	}

	sub, err := s.GetSubject(key)
	if err != nil {
		return err
	}
	if sub.Stage.Rank() >= stage.Rank() {
		logging.TrackerDebug("Subject %q already at %s, not regressing to %s", key, sub.Stage, stage)
		// Still refresh the degraded flag when re-running the same stage.
		if sub.Stage == stage {
			_, err = s.db.Exec(`UPDATE subjects SET degraded = ?, updated_at = CURRENT_TIMESTAMP WHERE key = ?`,
				boolInt(degraded), sub.Key)
			return err
		}
		return nil
	}

	_, err = s.db.Exec(`
		UPDATE subjects SET stage = ?, degraded = ?, updated_at = CURRENT_TIMESTAMP
		WHERE key = ?`, stage, boolInt(degraded), sub.Key)
	if err != nil {
		return fmt.Errorf("failed to set stage: %w", err)
	}
	logging.Tracker("Subject %q advanced to %s (degraded=%v)", key, stage, degraded)
	return nil
}

// SetBaseImage records the subject's reference photo path.
func (s *ContentStore) SetBaseImage(key, path string) error {
	res, err := s.db.Exec(`
		UPDATE subjects SET base_image = ?, updated_at = CURRENT_TIMESTAMP
		WHERE key = ?`, path, profile.NormalizeName(key))
	if err != nil {
		return fmt.Errorf("failed to set base image: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return profile.ErrNotFound
	}
	return nil
}

// SaveDiscoveredProfiles records candidate platform profiles for a subject.
// Duplicates are ignored.
func (s *ContentStore) SaveDiscoveredProfiles(key string, profiles []profile.DiscoveredProfile) error {
	key = profile.NormalizeName(key)
	for _, p := range profiles {
		_, err := s.db.Exec(`
			INSERT OR IGNORE INTO discovered_profiles (subject_key, platform, url, title, handle)
			VALUES (?, ?, ?, ?, ?)`,
			key, p.Platform, p.URL, p.Title, p.Handle)
		if err != nil {
			return fmt.Errorf("failed to save discovered profile: %w", err)
		}
	}
	return nil
}

// GetDiscoveredProfiles returns the candidate profiles found for a subject.
func (s *ContentStore) GetDiscoveredProfiles(key string) ([]profile.DiscoveredProfile, error) {
	rows, err := s.db.Query(`
		SELECT platform, url, COALESCE(title, ''), COALESCE(handle, '')
		FROM discovered_profiles WHERE subject_key = ? ORDER BY id`,
		profile.NormalizeName(key))
	if err != nil {
		return nil, fmt.Errorf("failed to load discovered profiles: %w", err)
	}
	defer rows.Close()

	var out []profile.DiscoveredProfile
	for rows.Next() {
		var p profile.DiscoveredProfile
		if err := rows.Scan(&p.Platform, &p.URL, &p.Title, &p.Handle); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// touch is a helper for tests needing deterministic timestamps.
func (s *ContentStore) touchSubject(key string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE subjects SET updated_at = ? WHERE key = ?`, at, key)
	return err
}
