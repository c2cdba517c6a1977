package store

import (
	"database/sql"
	"fmt"
	"time"

	"personalens/internal/logging"
	"personalens/internal/profile"
)

// SaveRawItems persists scraped items for a subject. Items already present
// (same subject, platform, item id) are skipped, so re-scraping is
// idempotent. Returns the number of newly inserted items.
func (s *ContentStore) SaveRawItems(key string, items []profile.RawItem) (int, error) {
	key = profile.NormalizeName(key)
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO raw_items (subject_key, platform, item_id, text, url, media_path, posted_at, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, it := range items {
		itemID := it.ItemID
		if itemID == "" {
			itemID = profile.ContentItemID(it.Text)
		}
		scrapedAt := it.ScrapedAt
		if scrapedAt.IsZero() {
			scrapedAt = time.Now().UTC()
		}
		var postedAt interface{}
		if !it.PostedAt.IsZero() {
			postedAt = it.PostedAt
		}
		res, err := stmt.Exec(key, it.Platform, itemID, it.Text, it.URL, it.MediaPath, postedAt, scrapedAt)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert raw item: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("failed to commit raw items: %w", err)
	}
	logging.StoreDebug("Saved %d/%d raw items for %q", inserted, len(items), key)
	return inserted, nil
}

// GetRawItems returns a subject's raw items, optionally filtered by platform.
// Pass an empty platform to get everything.
func (s *ContentStore) GetRawItems(key string, platform profile.Platform) ([]profile.RawItem, error) {
	key = profile.NormalizeName(key)
	var (
		rows *sql.Rows
		err  error
	)
	if platform == "" {
		rows, err = s.db.Query(`
			SELECT id, subject_key, platform, item_id, text, COALESCE(url, ''), COALESCE(media_path, ''), posted_at, scraped_at
			FROM raw_items WHERE subject_key = ? ORDER BY id`, key)
	} else {
		rows, err = s.db.Query(`
			SELECT id, subject_key, platform, item_id, text, COALESCE(url, ''), COALESCE(media_path, ''), posted_at, scraped_at
			FROM raw_items WHERE subject_key = ? AND platform = ? ORDER BY id`, key, platform)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load raw items: %w", err)
	}
	defer rows.Close()

	var out []profile.RawItem
	for rows.Next() {
		var it profile.RawItem
		var postedAt sql.NullTime
		if err := rows.Scan(&it.ID, &it.SubjectKey, &it.Platform, &it.ItemID, &it.Text, &it.URL, &it.MediaPath, &postedAt, &it.ScrapedAt); err != nil {
			return nil, err
		}
		if postedAt.Valid {
			it.PostedAt = postedAt.Time
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// UncategorizedItems returns raw items that have no derived unit yet. The
// synthetic visual unit does not claim any raw item, so Instagram media items
// are excluded by platform instead.
func (s *ContentStore) UncategorizedItems(key string) ([]profile.RawItem, error) {
	key = profile.NormalizeName(key)
	rows, err := s.db.Query(`
		SELECT r.id, r.subject_key, r.platform, r.item_id, r.text, COALESCE(r.url, ''), COALESCE(r.media_path, ''), r.posted_at, r.scraped_at
		FROM raw_items r
		LEFT JOIN derived_units d ON d.raw_item_id = r.id
		WHERE r.subject_key = ? AND d.id IS NULL AND r.platform != ?
		ORDER BY r.id`, key, profile.PlatformInstagram)
	if err != nil {
		return nil, fmt.Errorf("failed to load uncategorized items: %w", err)
	}
	defer rows.Close()

	var out []profile.RawItem
	for rows.Next() {
		var it profile.RawItem
		var postedAt sql.NullTime
		if err := rows.Scan(&it.ID, &it.SubjectKey, &it.Platform, &it.ItemID, &it.Text, &it.URL, &it.MediaPath, &postedAt, &it.ScrapedAt); err != nil {
			return nil, err
		}
		if postedAt.Valid {
			it.PostedAt = postedAt.Time
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// CountRawItems returns per-platform item counts for a subject.
func (s *ContentStore) CountRawItems(key string) (map[profile.Platform]int, error) {
	rows, err := s.db.Query(`
		SELECT platform, COUNT(*) FROM raw_items WHERE subject_key = ? GROUP BY platform`,
		profile.NormalizeName(key))
	if err != nil {
		return nil, fmt.Errorf("failed to count raw items: %w", err)
	}
	defer rows.Close()

	counts := make(map[profile.Platform]int)
	for rows.Next() {
		var p profile.Platform
		var n int
		if err := rows.Scan(&p, &n); err != nil {
			return nil, err
		}
		counts[p] = n
	}
	return counts, rows.Err()
}
