package state

import (
	"path/filepath"
	"testing"

	"github.com/syukriyansyah-ipb/object-detection/internal/logger"
)

func setupTestManager(t *testing.T) *Manager {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "db", "detections.db")

	mgr, err := NewManager(dbPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	return mgr
}
