package integration

import (
	"context"
	"testing"
	"time"

	"github.com/syukriyansyah-ipb/object-detection/internal/aggregate"
	"github.com/syukriyansyah-ipb/object-detection/internal/ai"
	"github.com/syukriyansyah-ipb/object-detection/internal/config"
	"github.com/syukriyansyah-ipb/object-detection/internal/state"
	"github.com/syukriyansyah-ipb/object-detection/internal/storage"
)

// TestStorage_RetentionPrunesHistory runs retention against the real database
func TestStorage_RetentionPrunesHistory(t *testing.T) {
	env := SetupTestEnvironment(t, 0)
	defer env.Cleanup()

	ctx := context.Background()
	now := time.Now().UTC()

	ages := []time.Duration{72 * time.Hour, 50 * time.Hour, 3 * time.Hour, 2 * time.Hour, time.Hour, 0}
	for i, age := range ages {
		entry := aggregate.HistoryEntry{
			Seq:       uint64(i + 1),
			Timestamp: now.Add(-age),
			Detections: ai.DetectionSet{
				{Label: "person", Confidence: 0.7, Box: ai.BoundingBox{X1: 1, Y1: 1, X2: 5, Y2: 5}},
			},
		}
		if err := env.StateMgr.AppendHistory(ctx, entry); err != nil {
			t.Fatalf("AppendHistory failed: %v", err)
		}
	}

	retention := storage.NewRetention(env.StateMgr, nil, config.RetentionConfig{
		MaxAge:  48 * time.Hour,
		MaxRows: 3,
	}, env.Logger)

	result, err := retention.Enforce(ctx)
	if err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}
	if result.Expired != 2 || result.Trimmed != 1 {
		t.Errorf("Expected 2 expired and 1 trimmed, got %+v", result)
	}

	entries, err := env.StateMgr.ListHistory(ctx, state.HistoryQuery{Order: state.OrderAsc})
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 remaining entries, got %d", len(entries))
	}
	if entries[0].Seq != 4 {
		t.Errorf("Expected the newest rows to survive, oldest remaining seq %d", entries[0].Seq)
	}
}

// TestStorage_DiskMonitoringIntegration checks the monitor against the
// database volume
func TestStorage_DiskMonitoringIntegration(t *testing.T) {
	env := SetupTestEnvironment(t, 0)
	defer env.Cleanup()

	monitor := storage.NewDiskMonitor(env.Config.History.DatabasePath, 100, env.Logger)
	usage, err := monitor.GetUsage(context.Background())
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if usage.TotalBytes <= 0 {
		t.Errorf("Expected a non-empty volume, got %+v", usage)
	}

	full, err := monitor.IsDiskFull(context.Background())
	if err != nil {
		t.Fatalf("IsDiskFull failed: %v", err)
	}
	if full && usage.UsagePercent < 100 {
		t.Errorf("Volume at %.1f%% should not be full with a 100%% threshold", usage.UsagePercent)
	}
}
