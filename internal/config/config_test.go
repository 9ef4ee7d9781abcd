package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetLogPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := New(path)

	logPath := filepath.Join(t.TempDir(), "notify.log")
	if err := cfg.SetLogPath(logPath); err != nil {
		t.Fatalf("SetLogPath() error: %v", err)
	}
	if got := cfg.Snapshot().LogPath; got != logPath {
		t.Errorf("LogPath = %q, want %q", got, logPath)
	}

	// The updated value persists across a reload.
	reloaded := New(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := reloaded.Snapshot().LogPath; got != logPath {
		t.Errorf("LogPath after reload = %q, want %q", got, logPath)
	}

	// An empty path clears the destination.
	if err := cfg.SetLogPath(""); err != nil {
		t.Fatalf("SetLogPath(\"\") error: %v", err)
	}
	if got := cfg.Snapshot().LogPath; got != "" {
		t.Errorf("LogPath after clear = %q, want empty", got)
	}
}

func TestSetLogPathRejectsTraversal(t *testing.T) {
	cfg := New("")
	if err := cfg.SetLogPath("../../etc/notify.log"); err == nil {
		t.Fatal("SetLogPath() accepted a path with '..'")
	}
	if got := cfg.Snapshot().LogPath; got != "" {
		t.Errorf("LogPath = %q after rejected update, want empty", got)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := New(path)
	if err := cfg.Load(); err == nil {
		t.Fatal("Load() accepted malformed JSON")
	}

	// A fresh instance carries the built-in defaults, giving callers a
	// usable configuration after a failed load.
	fallback := New(path)
	snap := fallback.Snapshot()
	if snap.WebPort != DefaultWebPort {
		t.Errorf("WebPort = %d, want %d", snap.WebPort, DefaultWebPort)
	}
	if len(snap.Frequencies) != len(DefaultFrequencies) {
		t.Errorf("frequencies = %d, want %d", len(snap.Frequencies), len(DefaultFrequencies))
	}
	if !snap.RecordingEnabled || !snap.DecodingEnabled {
		t.Errorf("recording/decoding enabled = %v/%v, want true/true",
			snap.RecordingEnabled, snap.DecodingEnabled)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"recorder":{"storage_mode":"ftp"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := New(path)
	if err := cfg.Load(); err == nil {
		t.Fatal("Load() accepted an unknown storage mode")
	}
}
