package notify

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rxtools/scanrec/internal/types"
	"github.com/rxtools/scanrec/internal/util"
)

// logEntry is one line in the notification log file.
type logEntry struct {
	Timestamp       string  `json:"timestamp"`
	Event           string  `json:"event"`
	State           string  `json:"state,omitempty"`
	FrequencyHz     uint64  `json:"frequency_hz,omitempty"`
	Filename        string  `json:"filename,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	SizeBytes       int64   `json:"size_bytes,omitempty"`
}

// LogCaptureSaved records a saved capture in the notification log.
func LogCaptureSaved(logPath string, frequencyHz uint64, filename string, durationSecs float64, sizeBytes int64) error {
	return appendLogEntry(logPath, &logEntry{
		Timestamp:       timestampUTC(),
		Event:           "capture_saved",
		FrequencyHz:     frequencyHz,
		Filename:        filename,
		DurationSeconds: durationSecs,
		SizeBytes:       sizeBytes,
	})
}

// LogModeChange records a mode transition in the notification log.
func LogModeChange(logPath string, state types.AutoModeState) error {
	return appendLogEntry(logPath, &logEntry{
		Timestamp: timestampUTC(),
		Event:     "mode_change",
		State:     string(state),
	})
}

// WriteTestLog writes a test log entry.
func WriteTestLog(logPath string) error {
	if logPath == "" {
		return fmt.Errorf("log file path not configured")
	}

	return appendLogEntry(logPath, &logEntry{
		Timestamp: timestampUTC(),
		Event:     "test",
	})
}

// appendLogEntry appends a JSON line to the notification log file.
func appendLogEntry(logPath string, entry *logEntry) error {
	if !util.IsConfigured(logPath) {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return util.WrapError("marshal log entry", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return util.WrapError("open log file", err)
	}
	defer util.SafeCloseFunc(f, "notification log")()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return util.WrapError("write log entry", err)
	}

	return nil
}
