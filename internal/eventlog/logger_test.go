package eventlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "scanrec.jsonl")

	l, err := NewLogger(path)
	if err != nil {
		t.Fatalf("NewLogger() error: %v", err)
	}

	if err := l.LogMode(ModeEnteredAuto, "no remote clients"); err != nil {
		t.Fatalf("LogMode() error: %v", err)
	}
	if err := l.LogScan(Tuned, 145800000, "nfm", "APRS 2m", 0, 0, ""); err != nil {
		t.Fatalf("LogScan() error: %v", err)
	}
	if err := l.LogCapture(CaptureSaved, &CaptureDetails{
		FrequencyHz:  145800000,
		Filename:     "145.800MHz_20260110_120000.mp3",
		DurationSecs: 12.5,
		SizeBytes:    200000,
	}); err != nil {
		t.Fatalf("LogCapture() error: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("invalid JSON line: %v", err)
		}
		events = append(events, e)
	}

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Type != ModeEnteredAuto || events[1].Type != Tuned || events[2].Type != CaptureSaved {
		t.Errorf("event order = %v %v %v", events[0].Type, events[1].Type, events[2].Type)
	}
	for _, e := range events {
		if e.Timestamp.IsZero() {
			t.Error("event written without timestamp")
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanrec.jsonl")
	l, err := NewLogger(path)
	if err != nil {
		t.Fatalf("NewLogger() error: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("first Close() error: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
}
