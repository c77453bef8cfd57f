package state

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UnknownCountry is recorded when a visit has no country information
const UnknownCountry = "unknown"

// Visit is one viewer connection
type Visit struct {
	ID         string
	ViewerID   string
	Country    string
	RemoteAddr string
	UserAgent  string
	VisitedAt  time.Time
}

// CountryCount is the number of visits from one country
type CountryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// VisitorStats summarizes all recorded visits
type VisitorStats struct {
	Count     int            `json:"count"`
	Countries []CountryCount `json:"countries"`
}

// RecordVisit stores a visit. Missing ID, country and time are filled in.
func (m *Manager) RecordVisit(ctx context.Context, visit Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if visit.ID == "" {
		visit.ID = uuid.NewString()
	}
	if visit.Country == "" {
		visit.Country = UnknownCountry
	}
	if visit.VisitedAt.IsZero() {
		visit.VisitedAt = time.Now()
	}

	query := `
		INSERT INTO visits (id, viewer_id, country, remote_addr, user_agent, visited_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := m.db.GetDB().ExecContext(ctx, query,
		visit.ID, visit.ViewerID, visit.Country, visit.RemoteAddr, visit.UserAgent, visit.VisitedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record visit: %w", err)
	}

	return nil
}

// GetVisitorStats returns the total visit count and per-country counts,
// busiest country first.
func (m *Manager) GetVisitorStats(ctx context.Context) (*VisitorStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `
		SELECT country, COUNT(*) AS visits
		FROM visits
		GROUP BY country
		ORDER BY visits DESC, country ASC
	`

	rows, err := m.db.GetDB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query visitor stats: %w", err)
	}
	defer rows.Close()

	stats := &VisitorStats{Countries: make([]CountryCount, 0)}
	for rows.Next() {
		var cc CountryCount
		if err := rows.Scan(&cc.Name, &cc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan visitor stats: %w", err)
		}
		stats.Count += cc.Count
		stats.Countries = append(stats.Countries, cc)
	}

	return stats, rows.Err()
}
