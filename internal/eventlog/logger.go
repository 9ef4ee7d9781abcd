// Package eventlog provides unified event logging for the scanner.
// It captures mode transitions, tuning results and capture lifecycle
// events in a single JSON lines file.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Mode event types.
const (
	ModeEnteredAuto EventType = "mode_entered_auto"
	ModeExitedAuto  EventType = "mode_exited_auto"
)

// Scan event types.
const (
	Tuned      EventType = "tuned"
	TuneFailed EventType = "tune_failed"
)

// Capture event types.
const (
	CaptureStarted   EventType = "capture_started"
	CaptureSaved     EventType = "capture_saved"
	CaptureDiscarded EventType = "capture_discarded"
	ConversionFailed EventType = "conversion_failed"
	UploadQueued     EventType = "upload_queued"
	UploadCompleted  EventType = "upload_completed"
	UploadFailed     EventType = "upload_failed"
	CleanupCompleted EventType = "cleanup_completed"
)

// Decoding event types.
const (
	SessionStarted EventType = "session_started"
	SessionStopped EventType = "session_stopped"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// ScanDetails contains mode and tuning event details.
type ScanDetails struct {
	FrequencyHz uint64 `json:"frequency_hz,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Label       string `json:"label,omitempty"`
	Index       int    `json:"index,omitempty"`
	Failures    int    `json:"failures,omitempty"`
	Error       string `json:"error,omitempty"`
}

// CaptureDetails contains capture lifecycle event details.
type CaptureDetails struct {
	FrequencyHz  uint64  `json:"frequency_hz,omitempty"`
	Filename     string  `json:"filename,omitempty"`
	DurationSecs float64 `json:"duration_secs,omitempty"`
	SizeBytes    int64   `json:"size_bytes,omitempty"`
	S3Key        string  `json:"s3_key,omitempty"`
	Error        string  `json:"error,omitempty"`
	RetryCount   int     `json:"retry,omitempty"`
	FilesDeleted int     `json:"files_deleted,omitempty"`
}

// SessionDetails contains decoding session event details.
type SessionDetails struct {
	SessionID   string `json:"session_id,omitempty"`
	FrequencyHz uint64 `json:"frequency_hz,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Decodings   int    `json:"decodings,omitempty"`
}

// Logger writes events to a JSON lines file.
type Logger struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath(port int) string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "scanrec", "logs", fmt.Sprintf("%d", port), "scanrec.jsonl")
	default: // linux, darwin
		return filepath.Join("/var/log/scanrec", fmt.Sprintf("%d", port), "scanrec.jsonl")
	}
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file. A nil logger discards events,
// letting tests run components without a log file.
func (l *Logger) Log(event *Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// LogMode logs a mode transition event.
func (l *Logger) LogMode(eventType EventType, message string) error {
	return l.Log(&Event{Type: eventType, Message: message})
}

// LogScan logs a tuning event.
func (l *Logger) LogScan(eventType EventType, frequencyHz uint64, mode, label string, index, failures int, errMsg string) error {
	return l.Log(&Event{
		Type: eventType,
		Details: &ScanDetails{
			FrequencyHz: frequencyHz,
			Mode:        mode,
			Label:       label,
			Index:       index,
			Failures:    failures,
			Error:       errMsg,
		},
	})
}

// LogCapture logs a capture lifecycle event.
func (l *Logger) LogCapture(eventType EventType, details *CaptureDetails) error {
	return l.Log(&Event{Type: eventType, Details: details})
}

// LogSession logs a decoding session event.
func (l *Logger) LogSession(eventType EventType, sessionID string, frequencyHz uint64, mode string, decodings int) error {
	return l.Log(&Event{
		Type: eventType,
		Details: &SessionDetails{
			SessionID:   sessionID,
			FrequencyHz: frequencyHz,
			Mode:        mode,
			Decodings:   decodings,
		},
	})
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
