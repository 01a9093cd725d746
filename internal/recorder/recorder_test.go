package recorder

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRecorderRotation(t *testing.T) {
	tempDir := t.TempDir()

	r, err := NewRecorder(tempDir)
	if err != nil {
		t.Fatal(err)
	}

	// Create more than MaxRotatedFiles
	for i := 0; i < MaxRotatedFiles+2; i++ {
		err := r.Start("test")
		if err != nil {
			t.Fatal(err)
		}
		r.Record("left_click", "ok", "", 12*time.Millisecond)
		time.Sleep(10 * time.Millisecond) // Ensure different mod times
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatal(err)
	}

	// We should only have MaxRotatedFiles
	if len(entries) != MaxRotatedFiles {
		t.Errorf("expected %d files, got %d", MaxRotatedFiles, len(entries))
	}
}

func TestRecorderWritesEvents(t *testing.T) {
	tempDir := t.TempDir()

	r, err := NewRecorder(tempDir)
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Start("session1"); err != nil {
		t.Fatal(err)
	}

	r.Record("navigate", "ok", "", 250*time.Millisecond)
	r.Record("left_click", "failed", "element_not_interactable", 40*time.Millisecond)
	r.Close()

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file, got %d", len(entries))
	}

	content, err := os.ReadFile(filepath.Join(tempDir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 events, got %d", len(lines))
	}

	var evt Event
	if err := json.Unmarshal([]byte(lines[1]), &evt); err != nil {
		t.Fatalf("event does not decode: %v", err)
	}
	if evt.Action != "left_click" || evt.Status != "failed" {
		t.Errorf("event = %+v", evt)
	}
	if evt.Error != "element_not_interactable" {
		t.Errorf("error = %q", evt.Error)
	}
	if evt.DurationMs != 40 {
		t.Errorf("duration = %d", evt.DurationMs)
	}
}

func TestRecordWithoutStartIsNoop(t *testing.T) {
	r, err := NewRecorder(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	r.Record("wait", "ok", "", 0)
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
}
