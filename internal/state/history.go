package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syukriyansyah-ipb/object-detection/internal/aggregate"
	"github.com/syukriyansyah-ipb/object-detection/internal/ai"
)

// History order values
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// HistoryQuery selects detection history rows
type HistoryQuery struct {
	Limit int    // <= 0 returns every row
	Order string // OrderAsc or OrderDesc, by timestamp then seq
}

// AppendHistory stores one history entry. It implements aggregate.HistoryStore.
func (m *Manager) AppendHistory(ctx context.Context, entry aggregate.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	detections := entry.Detections
	if detections == nil {
		detections = ai.DetectionSet{}
	}
	detectionsJSON, err := json.Marshal(detections)
	if err != nil {
		return fmt.Errorf("failed to marshal detections: %w", err)
	}

	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}

	query := `
		INSERT INTO detection_history (id, seq, timestamp, detection_count, detections)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err = m.db.GetDB().ExecContext(ctx, query,
		id, int64(entry.Seq), entry.Timestamp.UTC(), len(detections), string(detectionsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}

	return nil
}

// ListHistory returns history entries in the requested order
func (m *Manager) ListHistory(ctx context.Context, q HistoryQuery) ([]aggregate.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order := "DESC"
	if strings.EqualFold(q.Order, OrderAsc) {
		order = "ASC"
	}

	query := fmt.Sprintf(`
		SELECT id, seq, timestamp, detections
		FROM detection_history
		ORDER BY timestamp %s, seq %s
	`, order, order)

	var args []interface{}
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := m.db.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := make([]aggregate.HistoryEntry, 0)
	for rows.Next() {
		var entry aggregate.HistoryEntry
		var seq int64
		var ts time.Time
		var detectionsJSON string
		if err := rows.Scan(&entry.ID, &seq, &ts, &detectionsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		entry.Seq = uint64(seq)
		entry.Timestamp = ts

		if err := json.Unmarshal([]byte(detectionsJSON), &entry.Detections); err != nil {
			m.logger.Warn("Failed to parse history detections", "id", entry.ID, "error", err)
			entry.Detections = ai.DetectionSet{}
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// CountHistory returns the number of stored history entries
func (m *Manager) CountHistory(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int
	if err := m.db.GetDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM detection_history`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return count, nil
}

// DeleteHistoryBefore removes entries recorded before cutoff
func (m *Manager) DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result, err := m.db.GetDB().ExecContext(ctx,
		`DELETE FROM detection_history WHERE timestamp < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete history: %w", err)
	}
	return result.RowsAffected()
}

// DeleteOldestHistory removes up to n of the oldest entries
func (m *Manager) DeleteOldestHistory(ctx context.Context, n int) (int64, error) {
	if n <= 0 {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		DELETE FROM detection_history
		WHERE id IN (
			SELECT id FROM detection_history
			ORDER BY timestamp ASC, seq ASC
			LIMIT ?
		)
	`
	result, err := m.db.GetDB().ExecContext(ctx, query, n)
	if err != nil {
		return 0, fmt.Errorf("failed to delete oldest history: %w", err)
	}
	return result.RowsAffected()
}
