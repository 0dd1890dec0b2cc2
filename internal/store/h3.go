package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"endgame/internal/logging"
	"endgame/internal/types"
)

// SaveH3Energy upserts one day of energy readings, keyed by user and date.
func (s *GraphStore) SaveH3Energy(userID, date string, mind, body, spirit, vocation int) bool {
	if date == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec(`
		INSERT OR REPLACE INTO h3_energy (user_id, date, mind, body, spirit, vocation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, date, mind, body, spirit, vocation, types.NowISO(),
	)
}

// GetH3EnergyHistory returns the most recent days of energy readings.
func (s *GraphStore) GetH3EnergyHistory(userID string, days int) ([]types.H3Energy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if days <= 0 {
		days = 7
	}
	rows, err := s.db.Query(`
		SELECT user_id, date, mind, body, spirit, vocation, created_at
		FROM h3_energy WHERE user_id = ? ORDER BY date DESC LIMIT ?`, userID, days)
	if err != nil {
		return nil, fmt.Errorf("failed to read energy history: %w", err)
	}
	defer rows.Close()

	var out []types.H3Energy
	for rows.Next() {
		var e types.H3Energy
		var createdAt sql.NullString
		if err := rows.Scan(&e.UserID, &e.Date, &e.Mind, &e.Body, &e.Spirit, &e.Vocation, &createdAt); err != nil {
			logging.StoreDebug("Energy scan failed, skipping row: %v", err)
			continue
		}
		e.CreatedAt = createdAt.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveH3Calibration records a calibration snapshot. A missing id is filled
// with a fresh UUID.
func (s *GraphStore) SaveH3Calibration(userID string, cal types.H3Calibration) bool {
	if cal.ID == "" {
		cal.ID = uuid.NewString()
	}
	if cal.CreatedAt == "" {
		cal.CreatedAt = types.NowISO()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec(`
		INSERT OR REPLACE INTO h3_calibrations (id, user_id, energy, mood_note, blockers, wins, calibration_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cal.ID, userID,
		encodeJSON(cal.Energy, "{}"),
		cal.MoodNote,
		encodeJSON(cal.Blockers, "[]"),
		encodeJSON(cal.Wins, "[]"),
		cal.CalibrationType,
		cal.CreatedAt,
	)
}

// GetH3Calibrations returns the most recent calibration snapshots.
func (s *GraphStore) GetH3Calibrations(userID string, limit int) ([]types.H3Calibration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT id, user_id, energy, mood_note, blockers, wins, calibration_type, created_at
		FROM h3_calibrations WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibrations: %w", err)
	}
	defer rows.Close()

	var out []types.H3Calibration
	for rows.Next() {
		var c types.H3Calibration
		var energy, blockers, wins, moodNote, calType, createdAt sql.NullString
		if err := rows.Scan(&c.ID, &c.UserID, &energy, &moodNote, &blockers, &wins, &calType, &createdAt); err != nil {
			logging.StoreDebug("Calibration scan failed, skipping row: %v", err)
			continue
		}
		c.MoodNote = moodNote.String
		c.CalibrationType = calType.String
		c.CreatedAt = createdAt.String
		if energy.Valid && energy.String != "" {
			if err := json.Unmarshal([]byte(energy.String), &c.Energy); err != nil {
				c.Energy = map[string]int{}
			}
		}
		if blockers.Valid && blockers.String != "" {
			if err := json.Unmarshal([]byte(blockers.String), &c.Blockers); err != nil {
				c.Blockers = nil
			}
		}
		if wins.Valid && wins.String != "" {
			if err := json.Unmarshal([]byte(wins.String), &c.Wins); err != nil {
				c.Wins = nil
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SavePersonaConfig stores the single persona blob for userID.
func (s *GraphStore) SavePersonaConfig(userID string, config map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec(`
		INSERT OR REPLACE INTO persona_configs (user_id, config, updated_at)
		VALUES (?, ?, ?)`,
		userID, encodeJSON(config, "{}"), types.NowISO(),
	)
}

// GetPersonaConfig returns the persona blob, or ErrNotFound when the user
// has never saved one.
func (s *GraphStore) GetPersonaConfig(userID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw sql.NullString
	err := s.db.QueryRow("SELECT config FROM persona_configs WHERE user_id = ?", userID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("persona config for %s: %w", userID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read persona config: %w", err)
	}
	return decodeAttributes(raw), nil
}

// ClearH3Data removes the energy history and calibrations for userID.
func (s *GraphStore) ClearH3Data(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok := true
	for _, table := range []string{"h3_energy", "h3_calibrations"} {
		if _, err := s.db.Exec("DELETE FROM "+table+" WHERE user_id = ?", userID); err != nil {
			logging.StoreError("ClearH3Data failed on %s: %v", table, err)
			ok = false
		}
	}
	return ok
}

// ClearPersonaConfig removes the persona blob for userID.
func (s *GraphStore) ClearPersonaConfig(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM persona_configs WHERE user_id = ?", userID); err != nil {
		logging.StoreError("ClearPersonaConfig failed: %v", err)
		return false
	}
	return true
}
