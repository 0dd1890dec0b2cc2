package vector

import (
	"database/sql"
	"fmt"

	"endgame/internal/logging"
)

// DocumentHit is one similarity match from the documents collection.
type DocumentHit struct {
	ID         string
	Content    string
	Metadata   map[string]any
	Similarity float64
}

// ConceptMatch is the nearest canonical concept above a threshold.
type ConceptMatch struct {
	ID         string
	Name       string
	Similarity float64
}

// SearchDocuments returns the n nearest document chunks. A non-empty userID
// restricts hits to that user. Rows whose stored dimension disagrees with
// the query are ignored.
func (s *Store) SearchDocuments(embedding []float32, userID string, n int) ([]DocumentHit, error) {
	timer := logging.StartTimer(logging.CategoryVector, "SearchDocuments")
	defer timer.Stop()

	if len(embedding) == 0 {
		return nil, nil
	}
	if n <= 0 {
		n = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf(`
		SELECT id, content, metadata, %s(embedding, ?) AS distance
		FROM endgame_memory WHERE length(embedding) = ?`, distanceFunc)
	args := []any{encodeVector(embedding), len(embedding) * 4}
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY distance ASC LIMIT ?"
	args = append(args, n)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("document search failed: %w", err)
	}
	defer rows.Close()

	var hits []DocumentHit
	for rows.Next() {
		var h DocumentHit
		var meta sql.NullString
		var distance float64
		if err := rows.Scan(&h.ID, &h.Content, &meta, &distance); err != nil {
			logging.Get(logging.CategoryVector).Debug("Document scan failed, skipping row: %v", err)
			continue
		}
		h.Metadata = decodeMetadata(meta)
		h.Similarity = 1 - distance
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// SearchExperiences returns the texts of the n nearest experience strategies.
func (s *Store) SearchExperiences(embedding []float32, n int) ([]string, error) {
	timer := logging.StartTimer(logging.CategoryVector, "SearchExperiences")
	defer timer.Stop()

	if len(embedding) == 0 {
		return nil, nil
	}
	if n <= 0 {
		n = 3
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf(`
		SELECT content, %s(embedding, ?) AS distance
		FROM endgame_experiences WHERE length(embedding) = ?
		ORDER BY distance ASC LIMIT ?`, distanceFunc)

	rows, err := s.db.Query(query, encodeVector(embedding), len(embedding)*4, n)
	if err != nil {
		return nil, fmt.Errorf("experience search failed: %w", err)
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var content string
		var distance float64
		if err := rows.Scan(&content, &distance); err != nil {
			continue
		}
		texts = append(texts, content)
	}
	return texts, rows.Err()
}

// SearchConcepts returns the n nearest canonical concepts with no threshold.
// Retrieval uses it for loose concept recall; entity alignment keeps going
// through FindSimilarConcept and its threshold.
func (s *Store) SearchConcepts(embedding []float32, n int) ([]ConceptMatch, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if n <= 0 {
		n = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf(`
		SELECT id, name, %s(embedding, ?) AS distance
		FROM endgame_concepts WHERE length(embedding) = ?
		ORDER BY distance ASC LIMIT ?`, distanceFunc)

	rows, err := s.db.Query(query, encodeVector(embedding), len(embedding)*4, n)
	if err != nil {
		return nil, fmt.Errorf("concept search failed: %w", err)
	}
	defer rows.Close()

	var matches []ConceptMatch
	for rows.Next() {
		var m ConceptMatch
		var distance float64
		if err := rows.Scan(&m.ID, &m.Name, &distance); err != nil {
			continue
		}
		m.Similarity = 1 - distance
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// FindSimilarConcept returns the nearest concept when its cosine similarity
// reaches threshold, otherwise nil. Entity alignment reuses the returned id
// instead of minting a new concept.
func (s *Store) FindSimilarConcept(embedding []float32, threshold float64) (*ConceptMatch, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if threshold <= 0 {
		threshold = 0.85
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf(`
		SELECT id, name, %s(embedding, ?) AS distance
		FROM endgame_concepts WHERE length(embedding) = ?
		ORDER BY distance ASC LIMIT 1`, distanceFunc)

	var m ConceptMatch
	var distance float64
	err := s.db.QueryRow(query, encodeVector(embedding), len(embedding)*4).Scan(&m.ID, &m.Name, &distance)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("concept search failed: %w", err)
	}

	if distance <= (1 - threshold) {
		m.Similarity = 1 - distance
		return &m, nil
	}
	return nil, nil
}
