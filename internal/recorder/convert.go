package recorder

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rxtools/scanrec/internal/eventlog"
	"github.com/rxtools/scanrec/internal/metrics"
)

// convertWorker processes the conversion queue, draining remaining items
// on shutdown.
func (r *SignalRecorder) convertWorker() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			for {
				select {
				case req := <-r.convertQueue:
					r.convert(req)
				default:
					return
				}
			}
		case req := <-r.convertQueue:
			r.convert(req)
		}
	}
}

// convert transcodes one staged capture. The staging file is removed only
// after a successful conversion; on failure it stays on disk for manual
// recovery.
func (r *SignalRecorder) convert(req conversionRequest) {
	size, err := r.transcode(context.Background(), r.cfg.FFmpegPath, req.stagingPath, req.outputPath, r.cfg.Codec)
	if err != nil {
		r.conversionFailures.Add(1)
		metrics.ConversionFailures.Inc()
		slog.Error("conversion failed, staging retained",
			"staging", filepath.Base(req.stagingPath),
			"error", err)
		if r.eventLogger != nil {
			_ = r.eventLogger.LogCapture(eventlog.ConversionFailed, &eventlog.CaptureDetails{
				FrequencyHz: req.frequencyHz,
				Filename:    filepath.Base(req.stagingPath),
				Error:       err.Error(),
			})
		}
		return
	}

	if err := os.Remove(req.stagingPath); err != nil {
		slog.Warn("failed to delete staging file", "path", req.stagingPath, "error", err)
	}

	r.capturesSaved.Add(1)
	metrics.CapturesSaved.Inc()
	slog.Info("capture saved",
		"file", filepath.Base(req.outputPath),
		"duration_secs", req.durationSecs,
		"size_bytes", size)
	if r.eventLogger != nil {
		_ = r.eventLogger.LogCapture(eventlog.CaptureSaved, &eventlog.CaptureDetails{
			FrequencyHz:  req.frequencyHz,
			Filename:     filepath.Base(req.outputPath),
			DurationSecs: req.durationSecs,
			SizeBytes:    size,
		})
	}

	r.mu.Lock()
	onSaved := r.onSaved
	r.mu.Unlock()
	if onSaved != nil {
		onSaved(req.frequencyHz, filepath.Base(req.outputPath), req.durationSecs, size)
	}

	r.queueForUpload(req.outputPath, size)
}
