package logger

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestNew_TextAndJSON(t *testing.T) {
	for _, format := range []string{"text", "json"} {
		log, err := New(LogConfig{Level: "debug", Format: format, Output: "stdout"})
		if err != nil {
			t.Fatalf("New(%s) failed: %v", format, err)
		}
		log.Debug("hello", "format", format)
		log.Sync()
	}
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	log, err := New(LogConfig{Level: "loud", Format: "text"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if log.Core().Enabled(-1) {
		t.Error("debug should be disabled when level falls back to info")
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")
	log, err := New(LogConfig{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	log.Info("written", "seq", 1)
	log.Sync()
}

func TestConvertFields(t *testing.T) {
	fields := convertFields("viewer_id", "abc", "error", errors.New("boom"), 42, "ignored", "dangling")
	if len(fields) != 2 {
		t.Fatalf("Expected 2 fields, got %d", len(fields))
	}
	if fields[0].Key != "viewer_id" {
		t.Errorf("Expected key viewer_id, got %s", fields[0].Key)
	}
	if fields[1].Key != "error" {
		t.Errorf("Expected key error, got %s", fields[1].Key)
	}
}

func TestNamedAndWith(t *testing.T) {
	log := NewNopLogger().Named("hub").With("cycle", 3)
	log.Info("still a no-op")
}
