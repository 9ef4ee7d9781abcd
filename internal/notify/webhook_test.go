package notify

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rxtools/scanrec/internal/types"
)

func TestSendCaptureWebhook(t *testing.T) {
	var got WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := SendCaptureWebhook(srv.URL, 145800000, "145.800MHz_20260110_120000.mp3", 12.5, 200000)
	if err != nil {
		t.Fatalf("SendCaptureWebhook: %v", err)
	}
	if got.Event != "capture_saved" || got.FrequencyHz != 145800000 || got.SizeBytes != 200000 {
		t.Errorf("payload = %+v", got)
	}
	if got.Timestamp == "" {
		t.Error("timestamp missing")
	}
}

func TestSendWebhookRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := SendModeWebhook(srv.URL, types.StateAuto); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestSendWebhookSkipsWhenUnconfigured(t *testing.T) {
	if err := SendModeWebhook("", types.StateAuto); err != nil {
		t.Fatalf("unconfigured webhook returned error: %v", err)
	}
}

func TestLogEntriesAppendAsJSONLines(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "notify.jsonl")

	if err := LogModeChange(logPath, types.StateAuto); err != nil {
		t.Fatalf("LogModeChange: %v", err)
	}
	if err := LogCaptureSaved(logPath, 14074000, "14.074MHz_20260110_120000.ogg", 7.2, 90000); err != nil {
		t.Fatalf("LogCaptureSaved: %v", err)
	}

	f, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var entries []logEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e logEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("parse line %q: %v", sc.Text(), err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Event != "mode_change" || entries[0].State != string(types.StateAuto) {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Event != "capture_saved" || entries[1].FrequencyHz != 14074000 {
		t.Errorf("second entry = %+v", entries[1])
	}
}
