package vector

import (
	"fmt"
	"strings"

	"endgame/internal/logging"
	"endgame/internal/types"
)

// AddDocuments writes a batch of document chunks. The four slices must agree
// in length; rows with an empty id are skipped. Embeddings are stored as
// given, including degraded zero-vectors.
func (s *Store) AddDocuments(docs []string, metadatas []map[string]any, ids []string, embeddings [][]float32) error {
	timer := logging.StartTimer(logging.CategoryVector, "AddDocuments")
	defer timer.Stop()

	if len(docs) == 0 {
		return nil
	}
	if len(metadatas) != len(docs) || len(ids) != len(docs) || len(embeddings) != len(docs) {
		return fmt.Errorf("%w: document batch slices disagree: %d docs, %d metadatas, %d ids, %d embeddings",
			types.ErrValidation, len(docs), len(metadatas), len(ids), len(embeddings))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.withRetry("AddDocuments", func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		now := types.NowISO()
		for i := range docs {
			if ids[i] == "" {
				logging.Get(logging.CategoryVector).Debug("Skipping document with empty id at index %d", i)
				continue
			}
			userID, _ := metadatas[i]["user_id"].(string)
			_, err := tx.Exec(`
				INSERT OR REPLACE INTO endgame_memory (id, content, metadata, user_id, embedding, created_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				ids[i], docs[i], encodeMetadata(metadatas[i]), userID, encodeVector(embeddings[i]), now,
			)
			if err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		logging.Get(logging.CategoryVector).Error("AddDocuments failed: %v", err)
		return err
	}

	logging.Vector("Stored %d document vectors", len(docs))
	return nil
}

// AddConcept writes one canonical concept vector.
func (s *Store) AddConcept(id, name string, embedding []float32) bool {
	if id == "" || len(embedding) == 0 {
		logging.Get(logging.CategoryVector).Debug("Skipping concept with empty id or embedding")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.execRetry("AddConcept", `
		INSERT OR REPLACE INTO endgame_concepts (id, name, embedding, created_at)
		VALUES (?, ?, ?, ?)`,
		id, name, encodeVector(embedding), types.NowISO(),
	)
	if err != nil {
		logging.Get(logging.CategoryVector).Error("AddConcept failed for %s: %v", id, err)
		return false
	}
	return true
}

// DeleteConcepts drops concept vectors by id. Canonical merges call this so
// FindSimilarConcept stops resolving to ids whose graph rows are gone.
func (s *Store) DeleteConcepts(ids []string) bool {
	if len(ids) == 0 {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	err := s.execRetry("DeleteConcepts",
		"DELETE FROM endgame_concepts WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		logging.Get(logging.CategoryVector).Error("DeleteConcepts failed: %v", err)
		return false
	}
	return true
}

// AddExperienceVector writes one experience strategy vector. The graph row
// with the same id lives in brain.db.
func (s *Store) AddExperienceVector(id, text string, embedding []float32) bool {
	if id == "" || len(embedding) == 0 {
		logging.Get(logging.CategoryVector).Debug("Skipping experience vector with empty id or embedding")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.execRetry("AddExperienceVector", `
		INSERT OR REPLACE INTO endgame_experiences (id, content, embedding, created_at)
		VALUES (?, ?, ?, ?)`,
		id, text, encodeVector(embedding), types.NowISO(),
	)
	if err != nil {
		logging.Get(logging.CategoryVector).Error("AddExperienceVector failed for %s: %v", id, err)
		return false
	}
	return true
}
