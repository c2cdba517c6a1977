package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"personalens/internal/logging"
	"personalens/internal/profile"
)

// SaveDerivedUnit persists a categorized unit with its embedding. A unit for
// an already-categorized raw item is skipped. The synthetic visual unit
// (RawItemID zero) replaces any previous visual unit for the subject.
func (s *ContentStore) SaveDerivedUnit(unit *profile.DerivedUnit, embedding []float32) error {
	if !unit.Category.Valid() {
		return fmt.Errorf("invalid category %q", unit.Category)
	}
	key := profile.NormalizeName(unit.SubjectKey)

	embJSON, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}

	if unit.RawItemID == 0 {
		// One visual persona unit per subject.
		if _, err := s.db.Exec(`
			DELETE FROM derived_units WHERE subject_key = ? AND category = ?`,
			key, profile.CategoryVisual); err != nil {
			return fmt.Errorf("failed to replace visual unit: %w", err)
		}
		res, err := s.db.Exec(`
			INSERT INTO derived_units (subject_key, raw_item_id, platform, category, text, summary, embedding, engine)
			VALUES (?, NULL, ?, ?, ?, ?, ?, ?)`,
			key, unit.Platform, unit.Category, unit.Text, unit.Summary, string(embJSON), unit.Engine)
		if err != nil {
			return fmt.Errorf("failed to insert visual unit: %w", err)
		}
		unit.ID, _ = res.LastInsertId()
		return nil
	}

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO derived_units (subject_key, raw_item_id, platform, category, text, summary, embedding, engine)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key, unit.RawItemID, unit.Platform, unit.Category, unit.Text, unit.Summary, string(embJSON), unit.Engine)
	if err != nil {
		return fmt.Errorf("failed to insert derived unit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		logging.StoreDebug("Raw item %d already categorized, skipping", unit.RawItemID)
		return nil
	}
	unit.ID, _ = res.LastInsertId()
	return nil
}

// GetDerivedUnits returns a subject's units, optionally filtered by category.
func (s *ContentStore) GetDerivedUnits(key string, category profile.Category) ([]profile.DerivedUnit, error) {
	key = profile.NormalizeName(key)
	var (
		rows *sql.Rows
		err  error
	)
	const sel = `SELECT id, subject_key, COALESCE(raw_item_id, 0), platform, category, text, COALESCE(summary, ''), engine, created_at FROM derived_units`
	if category == "" {
		rows, err = s.db.Query(sel+` WHERE subject_key = ? ORDER BY id`, key)
	} else {
		rows, err = s.db.Query(sel+` WHERE subject_key = ? AND category = ? ORDER BY id`, key, category)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load derived units: %w", err)
	}
	defer rows.Close()
	return scanUnits(rows)
}

// VisualSummary returns the subject's visual persona text, or "" if none.
func (s *ContentStore) VisualSummary(key string) (string, error) {
	units, err := s.GetDerivedUnits(key, profile.CategoryVisual)
	if err != nil {
		return "", err
	}
	if len(units) == 0 {
		return "", nil
	}
	return units[0].Text, nil
}

// CountDerivedUnits returns the total number of units for a subject.
func (s *ContentStore) CountDerivedUnits(key string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM derived_units WHERE subject_key = ?`,
		profile.NormalizeName(key)).Scan(&n)
	return n, err
}

func scanUnits(rows *sql.Rows) ([]profile.DerivedUnit, error) {
	var out []profile.DerivedUnit
	for rows.Next() {
		var u profile.DerivedUnit
		if err := rows.Scan(&u.ID, &u.SubjectKey, &u.RawItemID, &u.Platform, &u.Category, &u.Text, &u.Summary, &u.Engine, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
