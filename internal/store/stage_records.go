package store

import (
	"encoding/json"
	"fmt"

	"personalens/internal/profile"
)

// SaveStageRecord records the result of a stage transition.
func (s *ContentStore) SaveStageRecord(rec *profile.StageRecord) error {
	var outcomes []byte
	if len(rec.Outcomes) > 0 {
		var err error
		outcomes, err = json.Marshal(rec.Outcomes)
		if err != nil {
			return fmt.Errorf("failed to encode outcomes: %w", err)
		}
	}
	// Re-running a stage refreshes its record instead of stacking duplicates.
	res, err := s.db.Exec(`
		INSERT INTO stage_records (subject_key, stage, outcomes, detail)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(subject_key, stage) DO UPDATE SET
			outcomes = excluded.outcomes,
			detail = excluded.detail,
			recorded_at = CURRENT_TIMESTAMP`,
		profile.NormalizeName(rec.SubjectKey), rec.Stage, string(outcomes), rec.Detail)
	if err != nil {
		return fmt.Errorf("failed to append stage record: %w", err)
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

// StageHistory returns a subject's stage records, oldest first.
func (s *ContentStore) StageHistory(key string) ([]profile.StageRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, subject_key, stage, COALESCE(outcomes, ''), COALESCE(detail, ''), recorded_at
		FROM stage_records WHERE subject_key = ? ORDER BY id`,
		profile.NormalizeName(key))
	if err != nil {
		return nil, fmt.Errorf("failed to load stage history: %w", err)
	}
	defer rows.Close()

	var out []profile.StageRecord
	for rows.Next() {
		var rec profile.StageRecord
		var outcomes string
		if err := rows.Scan(&rec.ID, &rec.SubjectKey, &rec.Stage, &outcomes, &rec.Detail, &rec.RecordedAt); err != nil {
			return nil, err
		}
		if outcomes != "" {
			if err := json.Unmarshal([]byte(outcomes), &rec.Outcomes); err != nil {
				return nil, fmt.Errorf("failed to decode outcomes: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
