package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"personalens/internal/embedding"
	"personalens/internal/logging"
	"personalens/internal/profile"
)

// ScoredUnit pairs a derived unit with its similarity to a query.
type ScoredUnit struct {
	profile.DerivedUnit
	Score float64
}

// QueryOptions scope a similarity search.
type QueryOptions struct {
	// AllSubjects widens retrieval across every subject. The default is
	// strict per-subject scoping.
	AllSubjects bool
	// Category restricts results to one category when set.
	Category profile.Category
	// Engine pins results to units embedded by a specific engine so scores
	// stay within one embedding space. Empty matches any engine.
	Engine string
}

// QuerySimilar returns the top-k units most similar to the query vector,
// ordered by cosine similarity descending with ties broken by recency. An
// empty index yields an empty slice, not an error.
func (s *ContentStore) QuerySimilar(key string, query []float32, k int, opts QueryOptions) ([]ScoredUnit, error) {
	if k <= 0 {
		return []ScoredUnit{}, nil
	}

	args := []interface{}{}
	where := "embedding IS NOT NULL AND embedding != ''"
	if !opts.AllSubjects {
		where += " AND subject_key = ?"
		args = append(args, profile.NormalizeName(key))
	}
	if opts.Category != "" {
		where += " AND category = ?"
		args = append(args, opts.Category)
	}
	if opts.Engine != "" {
		where += " AND engine = ?"
		args = append(args, opts.Engine)
	}

	rows, err := s.db.Query(`
		SELECT id, subject_key, COALESCE(raw_item_id, 0), platform, category, text, COALESCE(summary, ''), embedding, engine, created_at
		FROM derived_units WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer rows.Close()

	var scored []ScoredUnit
	for rows.Next() {
		var u profile.DerivedUnit
		var embJSON string
		if err := rows.Scan(&u.ID, &u.SubjectKey, &u.RawItemID, &u.Platform, &u.Category, &u.Text, &u.Summary, &embJSON, &u.Engine, &u.CreatedAt); err != nil {
			return nil, err
		}
		var emb []float32
		if err := json.Unmarshal([]byte(embJSON), &emb); err != nil {
			logging.StoreDebug("Skipping unit %d with bad embedding: %v", u.ID, err)
			continue
		}
		if len(emb) != len(query) {
			// Different embedding space, not comparable.
			continue
		}
		scored = append(scored, ScoredUnit{
			DerivedUnit: u,
			Score:       embedding.CosineSimilarity(query, emb),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].CreatedAt.Equal(scored[j].CreatedAt) {
			return scored[i].CreatedAt.After(scored[j].CreatedAt)
		}
		return scored[i].ID > scored[j].ID
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	if scored == nil {
		scored = []ScoredUnit{}
	}
	return scored, nil
}
