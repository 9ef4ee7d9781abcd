package recorder

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rxtools/scanrec/internal/eventlog"
	"github.com/rxtools/scanrec/internal/util"
)

// cleanupWorker periodically deletes captures older than the retention
// age and drives the upload retry queue.
func (r *SignalRecorder) cleanupWorker() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runCleanup()
			r.processRetryQueue()
		}
	}
}

// runCleanup removes files older than the retention age. The active
// staging file is never touched.
func (r *SignalRecorder) runCleanup() {
	cutoff := time.Now().UTC().AddDate(0, 0, -r.cfg.RetentionDays)

	r.mu.Lock()
	activeStaging := r.stagingPath
	r.mu.Unlock()

	entries, err := os.ReadDir(r.cfg.Directory)
	if err != nil {
		slog.Warn("cleanup: failed to read capture directory", "path", r.cfg.Directory, "error", err)
		return
	}

	var deleted int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		path := filepath.Join(r.cfg.Directory, name)
		if path == activeStaging {
			continue
		}

		ts, ok := util.ExtractTimestampFromFilename(name)
		if !ok {
			continue
		}

		if ts.Before(cutoff) {
			if err := os.Remove(path); err != nil {
				slog.Warn("cleanup: failed to delete file", "path", path, "error", err)
				continue
			}
			deleted++
			slog.Info("cleanup: deleted old capture", "file", name)
		}
	}

	if deleted > 0 {
		slog.Info("cleanup completed", "files_deleted", deleted)
		if r.eventLogger != nil {
			_ = r.eventLogger.LogCapture(eventlog.CleanupCompleted, &eventlog.CaptureDetails{
				FilesDeleted: deleted,
			})
		}
	}
}
