package state

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/syukriyansyah-ipb/object-detection/internal/aggregate"
	"github.com/syukriyansyah-ipb/object-detection/internal/ai"
)

func seedHistory(t *testing.T, mgr *Manager, base time.Time) []aggregate.HistoryEntry {
	t.Helper()
	entries := []aggregate.HistoryEntry{
		{ID: "h1", Seq: 1, Timestamp: base, Detections: ai.DetectionSet{
			{Label: "car", Confidence: 0.91, Box: ai.BoundingBox{X1: 1, Y1: 2, X2: 30, Y2: 40}},
		}},
		{ID: "h2", Seq: 2, Timestamp: base.Add(time.Second), Detections: ai.DetectionSet{
			{Label: "car", Confidence: 0.8, Box: ai.BoundingBox{X1: 5, Y1: 5, X2: 10, Y2: 10}},
			{Label: "truck", Confidence: 0.6, Box: ai.BoundingBox{X1: 50, Y1: 60, X2: 100, Y2: 120}},
		}},
		{ID: "h3", Seq: 3, Timestamp: base.Add(2 * time.Second), Detections: ai.DetectionSet{}},
	}
	for _, e := range entries {
		if err := mgr.AppendHistory(context.Background(), e); err != nil {
			t.Fatalf("AppendHistory failed: %v", err)
		}
	}
	return entries
}

func TestManager_ListHistory_Order(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	want := seedHistory(t, mgr, base)

	asc, err := mgr.ListHistory(context.Background(), HistoryQuery{Order: OrderAsc})
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	opts := cmp.Options{
		cmpopts.EquateEmpty(),
		cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) }),
	}
	if diff := cmp.Diff(want, asc, opts); diff != "" {
		t.Errorf("ascending history mismatch (-want +got):\n%s", diff)
	}

	desc, err := mgr.ListHistory(context.Background(), HistoryQuery{Order: OrderDesc, Limit: 2})
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(desc) != 2 || desc[0].Seq != 3 || desc[1].Seq != 2 {
		t.Errorf("Expected seqs [3 2], got %+v", desc)
	}
}

func TestManager_ListHistory_DefaultsToDesc(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	seedHistory(t, mgr, time.Now())

	entries, err := mgr.ListHistory(context.Background(), HistoryQuery{Order: "bogus"})
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(entries) != 3 || entries[0].Seq != 3 {
		t.Errorf("Expected newest first, got %+v", entries)
	}
}

func TestManager_ListHistory_Empty(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	entries, err := mgr.ListHistory(context.Background(), HistoryQuery{Limit: 10})
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("Expected empty non-nil slice, got %v", entries)
	}
}

func TestManager_AppendHistory_NilDetections(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	ctx := context.Background()
	if err := mgr.AppendHistory(ctx, aggregate.HistoryEntry{Seq: 9, Timestamp: time.Now()}); err != nil {
		t.Fatalf("AppendHistory failed: %v", err)
	}

	entries, err := mgr.ListHistory(ctx, HistoryQuery{})
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID == "" {
		t.Fatalf("Expected one entry with a generated ID, got %+v", entries)
	}
	if entries[0].Detections == nil || len(entries[0].Detections) != 0 {
		t.Errorf("Expected empty detections, got %v", entries[0].Detections)
	}
}

func TestManager_AppendHistory_DuplicateID(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	ctx := context.Background()
	entry := aggregate.HistoryEntry{ID: "dup", Seq: 1, Timestamp: time.Now()}
	if err := mgr.AppendHistory(ctx, entry); err != nil {
		t.Fatalf("AppendHistory failed: %v", err)
	}
	if err := mgr.AppendHistory(ctx, entry); err == nil {
		t.Error("Expected error for duplicate entry ID")
	}
}

func TestManager_HistoryStoreInterface(t *testing.T) {
	var _ aggregate.HistoryStore = (*Manager)(nil)
}

func TestManager_DeleteHistoryBefore(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	seedHistory(t, mgr, base)

	deleted, err := mgr.DeleteHistoryBefore(context.Background(), base.Add(1500*time.Millisecond))
	if err != nil {
		t.Fatalf("DeleteHistoryBefore failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 rows deleted, got %d", deleted)
	}

	remaining, err := mgr.ListHistory(context.Background(), HistoryQuery{Order: OrderAsc})
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Seq != 3 {
		t.Errorf("Expected only seq 3 to remain, got %+v", remaining)
	}
}

func TestManager_DeleteOldestHistory(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	seedHistory(t, mgr, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	deleted, err := mgr.DeleteOldestHistory(context.Background(), 1)
	if err != nil {
		t.Fatalf("DeleteOldestHistory failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 row deleted, got %d", deleted)
	}

	remaining, err := mgr.ListHistory(context.Background(), HistoryQuery{Order: OrderAsc})
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(remaining) != 2 || remaining[0].Seq != 2 {
		t.Errorf("Expected seqs [2 3], got %+v", remaining)
	}

	if deleted, err := mgr.DeleteOldestHistory(context.Background(), 0); err != nil || deleted != 0 {
		t.Errorf("Expected no-op for n=0, got %d, %v", deleted, err)
	}
}
