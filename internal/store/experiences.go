package store

import (
	"fmt"

	"endgame/internal/logging"
	"endgame/internal/types"
)

// AddExperience records a distilled strategy. The paired vector entry lives
// in the experience collection under the same id.
func (s *GraphStore) AddExperience(userID, id, trigger, insight, strategy string) bool {
	if id == "" || strategy == "" {
		logging.StoreDebug("Skipping experience with empty id or strategy for user %s", userID)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec(`
		INSERT OR REPLACE INTO experiences (id, user_id, trigger_scenario, insight, strategy, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, userID, trigger, insight, strategy, types.NowISO(),
	)
}

// GetAllExperiences returns every experience for userID, newest first.
func (s *GraphStore) GetAllExperiences(userID string) ([]types.Experience, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, user_id, trigger_scenario, insight, strategy, created_at
		FROM experiences WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read experiences: %w", err)
	}
	defer rows.Close()

	var out []types.Experience
	for rows.Next() {
		var e types.Experience
		if err := rows.Scan(&e.ID, &e.UserID, &e.TriggerScenario, &e.Insight, &e.Strategy, &e.CreatedAt); err != nil {
			logging.StoreDebug("Experience scan failed, skipping row: %v", err)
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
