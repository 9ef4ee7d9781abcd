package decoding

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func newTestManager(t *testing.T, bufferSize int) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), bufferSize, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func sessionDirOf(t *testing.T, m *Manager) string {
	t.Helper()
	entries, err := os.ReadDir(m.outputDir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(m.outputDir, e.Name()))
		}
	}
	if len(dirs) != 1 {
		t.Fatalf("expected 1 session dir, found %d", len(dirs))
	}
	return dirs[0]
}

func readDecodings(t *testing.T, dir string) []Decoding {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "decodings.json"))
	if err != nil {
		t.Fatalf("read decodings.json: %v", err)
	}
	var out []Decoding
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("parse decodings.json: %v", err)
	}
	return out
}

func TestStartSessionWritesMetadata(t *testing.T) {
	m := newTestManager(t, 10)
	if err := m.StartSession(14074000, "usb"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	dir := sessionDirOf(t, m)
	data, err := os.ReadFile(filepath.Join(dir, "session.json"))
	if err != nil {
		t.Fatalf("read session.json: %v", err)
	}

	var meta sessionMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("parse session.json: %v", err)
	}
	if meta.FrequencyHz != 14074000 || meta.Mode != "usb" {
		t.Errorf("metadata = %+v, want frequency 14074000 mode usb", meta)
	}
	if meta.SessionID != filepath.Base(dir) {
		t.Errorf("session ID %q does not match directory %q", meta.SessionID, filepath.Base(dir))
	}
	if meta.StartTime.IsZero() {
		t.Error("start time not set")
	}
}

func TestBufferFlushesAtConfiguredSize(t *testing.T) {
	m := newTestManager(t, 3)
	if err := m.StartSession(144800000, "nfm"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	dir := sessionDirOf(t, m)

	m.AddDecoding("aprs", map[string]any{"callsign": "PA1ABC"})
	m.AddDecoding("aprs", map[string]any{"callsign": "PD2XYZ"})

	if _, err := os.Stat(filepath.Join(dir, "decodings.json")); !os.IsNotExist(err) {
		t.Fatal("decodings.json written before buffer filled")
	}

	m.AddDecoding("aprs", map[string]any{"callsign": "PE3DEF"})

	got := readDecodings(t, dir)
	if len(got) != 3 {
		t.Fatalf("flushed %d decodings, want 3", len(got))
	}
	if got[0]["callsign"] != "PA1ABC" || got[0]["decoder"] != "aprs" {
		t.Errorf("first decoding = %v", got[0])
	}
	if got[0]["session_id"] != filepath.Base(dir) {
		t.Errorf("session_id %v not injected", got[0]["session_id"])
	}
	if st := m.Status(); st.Buffered != 0 {
		t.Errorf("buffered = %d after flush, want 0", st.Buffered)
	}
}

func TestStopSessionFlushesRemainderAndWritesStatistics(t *testing.T) {
	m := newTestManager(t, 100)
	if err := m.StartSession(14074000, "usb"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	dir := sessionDirOf(t, m)

	m.AddDecoding("ft8", map[string]any{"callsign": "K1ABC", "snr": -12})
	m.AddDecoding("ft8", map[string]any{"callsign": "W2DEF", "snr": 3})
	m.AddDecoding("wspr", map[string]any{"callsign": "G3GHI"})
	m.StopSession()

	if got := readDecodings(t, dir); len(got) != 3 {
		t.Fatalf("flushed %d decodings, want 3", len(got))
	}

	data, err := os.ReadFile(filepath.Join(dir, "statistics.json"))
	if err != nil {
		t.Fatalf("read statistics.json: %v", err)
	}
	var stats sessionStatistics
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("parse statistics.json: %v", err)
	}
	if stats.TotalDecodings != 3 {
		t.Errorf("total = %d, want 3", stats.TotalDecodings)
	}
	if stats.ByDecoder["ft8"] != 2 || stats.ByDecoder["wspr"] != 1 {
		t.Errorf("by_decoder = %v", stats.ByDecoder)
	}
	if stats.EndTime.IsZero() {
		t.Error("end time not set")
	}

	st := m.Status()
	if st.Active || st.Total != 0 || st.SessionID != "" {
		t.Errorf("status not reset after stop: %+v", st)
	}
}

func TestStopSessionIsIdempotent(t *testing.T) {
	m := newTestManager(t, 10)
	m.StopSession()

	if err := m.StartSession(145800000, "nfm"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	m.AddDecoding("aprs", map[string]any{"callsign": "N0CALL"})
	m.StopSession()
	m.StopSession()

	dir := sessionDirOf(t, m)
	if got := readDecodings(t, dir); len(got) != 1 {
		t.Fatalf("flushed %d decodings, want 1", len(got))
	}
}

func TestAddDecodingWithoutSessionIsDropped(t *testing.T) {
	m := newTestManager(t, 10)
	m.AddDecoding("aprs", map[string]any{"callsign": "N0CALL"})

	if st := m.Status(); st.Buffered != 0 || st.Total != 0 {
		t.Errorf("decoding accepted without session: %+v", st)
	}
}

func TestCSVUsesSortedKeyUnionWithSingleHeader(t *testing.T) {
	m := newTestManager(t, 2)
	if err := m.StartSession(14074000, "usb"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	dir := sessionDirOf(t, m)

	m.AddDecoding("ft8", map[string]any{"callsign": "K1ABC", "snr": -12})
	m.AddDecoding("ft8", map[string]any{"callsign": "W2DEF", "grid": "FN42"})
	m.AddDecoding("wspr", map[string]any{"callsign": "G3GHI"})
	m.StopSession()

	f, err := os.Open(filepath.Join(dir, "decodings.csv"))
	if err != nil {
		t.Fatalf("open decodings.csv: %v", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("read CSV: %v", err)
	}

	// Header row from the first flush, then two data rows, then one
	// data row from the stop flush. No second header.
	if len(rows) != 4 {
		t.Fatalf("got %d CSV rows, want 4", len(rows))
	}
	header := rows[0]
	if !slices.IsSorted(header) {
		t.Errorf("header not sorted: %v", header)
	}
	for _, want := range []string{"callsign", "decoder", "grid", "session_id", "snr", "timestamp"} {
		if !slices.Contains(header, want) {
			t.Errorf("header missing column %q: %v", want, header)
		}
	}
	if slices.Contains(rows[3], "decoder") {
		t.Errorf("second flush wrote another header: %v", rows[3])
	}
}

func TestStartSessionStopsPreviousSession(t *testing.T) {
	m := newTestManager(t, 100)
	m.now = func() time.Time { return time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC) }

	if err := m.StartSession(145800000, "nfm"); err != nil {
		t.Fatalf("first StartSession: %v", err)
	}
	first := m.Status().SessionID
	m.AddDecoding("aprs", map[string]any{"callsign": "PA1ABC"})

	if err := m.StartSession(14074000, "usb"); err != nil {
		t.Fatalf("second StartSession: %v", err)
	}
	second := m.Status().SessionID
	if first == second {
		t.Fatal("session ID reused across sessions")
	}

	// The first session was finalized even though the IDs share a
	// timestamp prefix.
	if _, err := os.Stat(filepath.Join(m.outputDir, first, "statistics.json")); err != nil {
		t.Errorf("first session missing statistics.json: %v", err)
	}
	st := m.Status()
	if !st.Active || st.FrequencyHz != 14074000 || st.Total != 0 {
		t.Errorf("second session status = %+v", st)
	}
}
