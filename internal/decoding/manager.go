// Package decoding collects digital decoder output during autonomous
// operation and persists it per session as JSON and CSV.
package decoding

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rxtools/scanrec/internal/eventlog"
	"github.com/rxtools/scanrec/internal/metrics"
	"github.com/rxtools/scanrec/internal/types"
	"github.com/rxtools/scanrec/internal/util"
)

// Decoding is one decoder result with injected session metadata.
type Decoding map[string]any

// sessionMetadata is written to session.json when a session starts.
type sessionMetadata struct {
	SessionID   string    `json:"session_id"`
	StartTime   time.Time `json:"start_time"`
	FrequencyHz uint64    `json:"frequency_hz"`
	Mode        string    `json:"mode"`
}

// sessionStatistics is written to statistics.json when a session stops.
type sessionStatistics struct {
	EndTime        time.Time      `json:"end_time"`
	TotalDecodings int            `json:"total_decodings"`
	ByDecoder      map[string]int `json:"by_decoder"`
}

// Manager buffers decodings for the active session and flushes them to
// the session directory. It is safe for concurrent use.
type Manager struct {
	outputDir   string
	bufferSize  int
	eventLogger *eventlog.Logger

	// now is replaceable for tests.
	now func() time.Time

	mu          sync.Mutex
	active      bool
	sessionID   string
	sessionDir  string
	frequencyHz uint64
	mode        string
	buffer      []Decoding
	stats       map[string]int
	total       int
}

// NewManager creates a session manager writing under outputDir.
func NewManager(outputDir string, bufferSize int, eventLogger *eventlog.Logger) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, util.WrapError("create decodings directory", err)
	}
	return &Manager{
		outputDir:   outputDir,
		bufferSize:  bufferSize,
		eventLogger: eventLogger,
		now:         time.Now,
	}, nil
}

// StartSession opens a new session directory and writes its metadata.
// An already active session is stopped first.
func (m *Manager) StartSession(frequencyHz uint64, mode string) error {
	m.StopSession()

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	sessionID := fmt.Sprintf("%s_%s", util.CompactTimestamp(now), uuid.NewString()[:8])
	sessionDir := filepath.Join(m.outputDir, sessionID)

	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return util.WrapError("create session directory", err)
	}

	meta := sessionMetadata{
		SessionID:   sessionID,
		StartTime:   now,
		FrequencyHz: frequencyHz,
		Mode:        mode,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return util.WrapError("marshal session metadata", err)
	}
	if err := os.WriteFile(filepath.Join(sessionDir, "session.json"), data, 0o644); err != nil {
		return util.WrapError("write session metadata", err)
	}

	m.active = true
	m.sessionID = sessionID
	m.sessionDir = sessionDir
	m.frequencyHz = frequencyHz
	m.mode = mode
	m.buffer = nil
	m.stats = make(map[string]int)
	m.total = 0

	slog.Info("decoding session started",
		"session_id", sessionID,
		"frequency_hz", frequencyHz,
		"mode", mode)
	if m.eventLogger != nil {
		_ = m.eventLogger.LogSession(eventlog.SessionStarted, sessionID, frequencyHz, mode, 0)
	}

	return nil
}

// AddDecoding buffers one decoder result. Results arriving outside a
// session are dropped. The buffer flushes when it reaches the
// configured size.
func (m *Manager) AddDecoding(decoderType string, fields map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return
	}

	d := Decoding{
		"timestamp":  m.now().Format(time.RFC3339),
		"session_id": m.sessionID,
		"decoder":    decoderType,
	}
	for k, v := range fields {
		d[k] = v
	}

	m.buffer = append(m.buffer, d)
	m.stats[decoderType]++
	m.total++
	metrics.DecodingsTotal.Inc()

	if len(m.buffer) >= m.bufferSize {
		m.flushLocked()
	}
}

// StopSession flushes the buffer and writes final statistics. Stopping
// without an active session is a no-op.
func (m *Manager) StopSession() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return
	}
	m.active = false

	m.flushLocked()

	stats := sessionStatistics{
		EndTime:        m.now(),
		TotalDecodings: m.total,
		ByDecoder:      m.stats,
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err == nil {
		if werr := os.WriteFile(filepath.Join(m.sessionDir, "statistics.json"), data, 0o644); werr != nil {
			slog.Warn("failed to write session statistics", "session_id", m.sessionID, "error", werr)
		}
	}

	slog.Info("decoding session ended", "session_id", m.sessionID, "total_decodings", m.total)
	if m.eventLogger != nil {
		_ = m.eventLogger.LogSession(eventlog.SessionStopped, m.sessionID, m.frequencyHz, m.mode, m.total)
	}

	m.sessionID = ""
	m.sessionDir = ""
	m.frequencyHz = 0
	m.mode = ""
	m.stats = nil
	m.total = 0
}

// Status returns a point-in-time snapshot of the manager.
func (m *Manager) Status() types.DecodingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	return types.DecodingStatus{
		Active:      m.active,
		SessionID:   m.sessionID,
		FrequencyHz: m.frequencyHz,
		Mode:        m.mode,
		Buffered:    len(m.buffer),
		Total:       m.total,
	}
}

// flushLocked writes buffered decodings to decodings.json and
// decodings.csv. Caller must hold m.mu.
func (m *Manager) flushLocked() {
	if len(m.buffer) == 0 || m.sessionDir == "" {
		return
	}

	if err := m.appendJSON(); err != nil {
		slog.Error("failed to flush decodings to JSON", "session_id", m.sessionID, "error", err)
	}
	if err := m.appendCSV(); err != nil {
		slog.Error("failed to flush decodings to CSV", "session_id", m.sessionID, "error", err)
	}

	slog.Debug("flushed decodings", "session_id", m.sessionID, "count", len(m.buffer))
	m.buffer = nil
}

// appendJSON merges the buffer into decodings.json.
func (m *Manager) appendJSON() error {
	jsonPath := filepath.Join(m.sessionDir, "decodings.json")

	var existing []Decoding
	if data, err := os.ReadFile(jsonPath); err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			return util.WrapError("parse existing decodings", err)
		}
	}

	existing = append(existing, m.buffer...)
	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return util.WrapError("marshal decodings", err)
	}
	return os.WriteFile(jsonPath, data, 0o644)
}

// appendCSV appends the buffer to decodings.csv. Columns are the sorted
// union of all keys in the flushed batch; the header is written once.
func (m *Manager) appendCSV() error {
	csvPath := filepath.Join(m.sessionDir, "decodings.csv")

	_, statErr := os.Stat(csvPath)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(csvPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return util.WrapError("open decodings CSV", err)
	}
	defer util.SafeCloseFunc(f, "decodings CSV")()

	keySet := make(map[string]struct{})
	for _, d := range m.buffer {
		for k := range d {
			keySet[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(keys); err != nil {
			return err
		}
	}
	for _, d := range m.buffer {
		row := make([]string, len(keys))
		for i, k := range keys {
			if v, ok := d[k]; ok {
				row[i] = fmt.Sprint(v)
			}
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
