package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rxtools/scanrec/internal/config"
	"github.com/rxtools/scanrec/internal/decoding"
	"github.com/rxtools/scanrec/internal/metrics"
	"github.com/rxtools/scanrec/internal/notify"
	"github.com/rxtools/scanrec/internal/orchestrator"
	"github.com/rxtools/scanrec/internal/presence"
	"github.com/rxtools/scanrec/internal/recorder"
	"github.com/rxtools/scanrec/internal/server"
	"github.com/rxtools/scanrec/internal/tuner"
	"github.com/rxtools/scanrec/internal/types"
	"github.com/rxtools/scanrec/internal/util"
)

const (
	statusWriteInterval = 10 * time.Second
	maxAudioBodyBytes   = 16 << 20 // largest accepted PCM chunk
)

// Server wires the HTTP surface to the scanner subsystems.
type Server struct {
	cfg     *config.Config
	tuner   *tuner.Tuner
	orch    *orchestrator.Orchestrator
	rec     *recorder.SignalRecorder
	decoder *decoding.Manager
	tracker *presence.Tracker
	hub     *server.Hub
	version *VersionChecker

	stopCh chan struct{}
}

// NewServer creates the server and its WebSocket hub.
func NewServer(
	cfg *config.Config,
	t *tuner.Tuner,
	orch *orchestrator.Orchestrator,
	rec *recorder.SignalRecorder,
	decoder *decoding.Manager,
	tracker *presence.Tracker,
	notifier *notify.Notifier,
	version *VersionChecker,
) *Server {
	s := &Server{
		cfg:     cfg,
		tuner:   t,
		orch:    orch,
		rec:     rec,
		decoder: decoder,
		tracker: tracker,
		version: version,
		stopCh:  make(chan struct{}),
	}
	handler := server.NewCommandHandler(cfg, orch, rec, notifier)
	s.hub = server.NewHub(tracker, handler, s.StatusReport)
	return s
}

// Hub exposes the WebSocket hub for broadcast wiring.
func (s *Server) Hub() *server.Hub {
	return s.hub
}

// StatusReport assembles the full status document.
func (s *Server) StatusReport() types.StatusReport {
	return types.StatusReport{
		Timestamp: time.Now().UTC(),
		Version:   s.version.Info(),
		Components: map[string]bool{
			"orchestrator": true,
			"recorder":     true,
			"decoding":     true,
			"presence":     true,
			"receiver":     s.tuner.HasReceiver(),
		},
		Orchestrator: s.orch.Status(),
		Recorder:     s.rec.Status(),
		Clients:      s.tracker.Counts(),
		Decoding:     s.decoder.Status(),
	}
}

// SetupRoutes registers all HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/audio", s.handleAudio)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("/ws", s.hub.ServeWS)
}

// handleStatus serves the status document as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.StatusReport()); err != nil {
		slog.Error("failed to encode status", "error", err)
	}
}

// handleAudio ingests one PCM chunk. The body is raw little-endian
// float32 mono samples at the fixed sample rate; the chunk is attributed
// to the currently tuned frequency.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAudioBodyBytes+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxAudioBodyBytes {
		http.Error(w, "chunk too large", http.StatusRequestEntityTooLarge)
		return
	}
	if len(body) == 0 || len(body)%4 != 0 {
		http.Error(w, "body must be float32le samples", http.StatusBadRequest)
		return
	}

	samples := make([]float32, len(body)/4)
	for i := range samples {
		bits := uint32(body[i*4]) | uint32(body[i*4+1])<<8 | uint32(body[i*4+2])<<16 | uint32(body[i*4+3])<<24
		samples[i] = math.Float32frombits(bits)
	}

	s.rec.SubmitChunk(samples, s.tuner.Current().FrequencyHz)
	w.WriteHeader(http.StatusNoContent)
}

// securityHeaders adds standard security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// Start begins listening and returns the HTTP server for shutdown control.
func (s *Server) Start() *http.Server {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	port := s.cfg.Snapshot().WebPort
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           securityHeaders(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("http server listening", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	go s.statusFileLoop()

	return httpServer
}

// Stop terminates background loops. The HTTP listener is shut down
// separately by the caller.
func (s *Server) Stop() {
	close(s.stopCh)
	s.hub.Close()
}

// statusFileLoop periodically writes the status document to the
// configured file so external tooling can poll it without HTTP.
func (s *Server) statusFileLoop() {
	ticker := time.NewTicker(statusWriteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			path := s.cfg.Snapshot().StatusFile
			if path == "" {
				continue
			}
			if err := s.writeStatusFile(path); err != nil {
				slog.Warn("failed to write status file", "path", path, "error", err)
			}
		case <-s.stopCh:
			return
		}
	}
}

// writeStatusFile writes the report atomically via a temp file rename.
func (s *Server) writeStatusFile(path string) error {
	data, err := json.MarshalIndent(s.StatusReport(), "", "  ")
	if err != nil {
		return util.WrapError("marshal status", err)
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return util.WrapError("write status file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return util.WrapError("rename status file", err)
	}
	return nil
}
