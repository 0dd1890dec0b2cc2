package store

import (
	"database/sql"

	"endgame/internal/logging"
	"endgame/internal/types"
)

// MergeNodes folds slaveID into masterID on the canonical graph: the slave's
// dossier deep-merges into the master (master values win), edges redirect to
// the master in both directions, and the slave row is deleted. Both nodes
// must exist.
func (s *GraphStore) MergeNodes(userID, masterID, slaveID string) bool {
	timer := logging.StartTimer(logging.CategoryStore, "MergeNodes")
	defer timer.Stop()

	if masterID == "" || slaveID == "" || masterID == slaveID {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		logging.StoreError("MergeNodes begin failed: %v", err)
		return false
	}
	defer tx.Rollback()

	var masterAttrs, slaveAttrs sql.NullString
	err = tx.QueryRow("SELECT attributes FROM nodes WHERE id = ? AND user_id = ?", masterID, userID).Scan(&masterAttrs)
	if err != nil {
		logging.StoreError("MergeNodes master %s not found: %v", masterID, err)
		return false
	}
	err = tx.QueryRow("SELECT attributes FROM nodes WHERE id = ? AND user_id = ?", slaveID, userID).Scan(&slaveAttrs)
	if err != nil {
		logging.StoreError("MergeNodes slave %s not found: %v", slaveID, err)
		return false
	}

	// Slave fills gaps and extends lists; master scalars survive.
	merged := types.MergeAttributes(decodeAttributes(slaveAttrs), decodeAttributes(masterAttrs))
	_, err = tx.Exec("UPDATE nodes SET attributes = ? WHERE id = ? AND user_id = ?",
		encodeJSON(merged, "{}"), masterID, userID)
	if err != nil {
		logging.StoreError("MergeNodes attribute write failed: %v", err)
		return false
	}

	if err := redirectEdges(tx, "edges", userID, slaveID, masterID); err != nil {
		logging.StoreError("MergeNodes edge redirect failed: %v", err)
		return false
	}

	if _, err := tx.Exec("DELETE FROM nodes WHERE id = ? AND user_id = ?", slaveID, userID); err != nil {
		logging.StoreError("MergeNodes slave delete failed: %v", err)
		return false
	}

	if err := tx.Commit(); err != nil {
		logging.StoreError("MergeNodes commit failed: %v", err)
		return false
	}

	logging.Store("Merged node %s into %s for user %s", slaveID, masterID, userID)
	return true
}
