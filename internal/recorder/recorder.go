// Package recorder implements signal-triggered audio capture. Pushed PCM
// chunks are measured for signal energy; captures are staged uncompressed
// and handed to an asynchronous conversion pipeline on completion.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rxtools/scanrec/internal/audio"
	"github.com/rxtools/scanrec/internal/eventlog"
	"github.com/rxtools/scanrec/internal/ffmpeg"
	"github.com/rxtools/scanrec/internal/metrics"
	"github.com/rxtools/scanrec/internal/types"
	"github.com/rxtools/scanrec/internal/util"
)

// S3Options holds object storage settings for capture uploads.
type S3Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Prefix    string
}

// IsConfigured reports whether the options are complete enough to build
// a client.
func (o *S3Options) IsConfigured() bool {
	return o.Bucket != "" && o.AccessKey != "" && o.SecretKey != ""
}

// Config holds the recorder's thresholds and storage settings.
type Config struct {
	Directory       string
	FFmpegPath      string
	RMSThreshold    float64
	CaptureDwell    time.Duration
	SilenceTimeout  time.Duration
	MinDuration     time.Duration
	RetentionDays   int
	CleanupInterval time.Duration
	Codec           types.Codec
	StorageMode     types.StorageMode
	S3              S3Options
}

// Observer receives capture start/stop transitions.
type Observer func(recording bool, frequencyHz uint64)

// captureEvent is one observer notification awaiting dispatch.
type captureEvent struct {
	recording   bool
	frequencyHz uint64
}

// SavedFunc is called after a capture has been converted and saved.
type SavedFunc func(frequencyHz uint64, filename string, durationSecs float64, sizeBytes int64)

// conversionRequest is a completed capture awaiting transcoding.
type conversionRequest struct {
	stagingPath  string
	outputPath   string
	frequencyHz  uint64
	durationSecs float64
}

// uploadRequest is a converted file awaiting S3 upload.
type uploadRequest struct {
	localPath string
	s3Key     string
	fileSize  int64
}

// pendingUpload tracks a failed upload for retry.
type pendingUpload struct {
	request      uploadRequest
	firstAttempt time.Time
	retryCount   int
	lastError    string
}

// SignalRecorder ingests pushed audio chunks and manages at most one
// active capture at a time. It is safe for concurrent use.
type SignalRecorder struct {
	cfg         Config
	dwell       *audio.DwellTracker
	eventLogger *eventlog.Logger

	// now and transcode are replaceable for tests.
	now       func() time.Time
	transcode func(ctx context.Context, ffmpegPath, stagingPath, outputPath string, codec types.Codec) (int64, error)

	mu           sync.Mutex
	armed        bool
	capturing    bool
	captureSeq   uint64
	stagingFile  *os.File
	stagingPath  string
	frequencyHz  uint64
	startedAt    time.Time
	lastSignalAt time.Time
	stagedBytes  int64
	silenceTimer *time.Timer
	observers    []Observer
	onSaved      SavedFunc

	capturesSaved      atomic.Uint64
	capturesDiscarded  atomic.Uint64
	conversionFailures atomic.Uint64

	convertQueue chan conversionRequest
	uploadQueue  chan uploadRequest
	notifyCh     chan captureEvent
	s3Client     *s3.Client

	retryMu    sync.Mutex
	retryQueue []pendingUpload

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a SignalRecorder. The capture directory is created if
// missing; an S3 client is built when the storage mode requires one.
func New(cfg Config, eventLogger *eventlog.Logger) (*SignalRecorder, error) {
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, util.WrapError("create capture directory", err)
	}

	r := &SignalRecorder{
		cfg:          cfg,
		dwell:        audio.NewDwellTracker(),
		eventLogger:  eventLogger,
		now:          time.Now,
		transcode:    ffmpeg.Transcode,
		convertQueue: make(chan conversionRequest, 100),
		uploadQueue:  make(chan uploadRequest, 100),
		notifyCh:     make(chan captureEvent, 64),
		stopCh:       make(chan struct{}),
	}

	if cfg.StorageMode != types.StorageLocal {
		if !cfg.S3.IsConfigured() {
			return nil, fmt.Errorf("storage mode %q requires S3 credentials", cfg.StorageMode)
		}
		client, err := createS3Client(&cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("create S3 client: %w", err)
		}
		r.s3Client = client
	}

	return r, nil
}

// AddObserver registers a capture transition observer.
func (r *SignalRecorder) AddObserver(fn Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// OnCaptureSaved registers a callback for saved captures. It runs on the
// conversion worker goroutine and must not block.
func (r *SignalRecorder) OnCaptureSaved(fn SavedFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSaved = fn
}

// Start launches the conversion, upload, notification and retention
// workers.
func (r *SignalRecorder) Start() {
	r.wg.Add(1)
	go r.convertWorker()

	r.wg.Add(1)
	go r.notifyWorker()

	r.wg.Add(1)
	go r.uploadWorker()

	if r.cfg.CleanupInterval > 0 && r.cfg.RetentionDays > 0 {
		r.wg.Add(1)
		go r.cleanupWorker()
	}

	slog.Info("signal recorder started",
		"directory", r.cfg.Directory,
		"rms_threshold", r.cfg.RMSThreshold,
		"silence_timeout", r.cfg.SilenceTimeout,
		"min_duration", r.cfg.MinDuration,
		"codec", r.cfg.Codec)
}

// Arm enables capture starts. Chunks submitted while disarmed still feed
// the dwell tracker but never open a capture.
func (r *SignalRecorder) Arm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.armed {
		return
	}
	r.armed = true
	slog.Info("recorder armed")
}

// Disarm disables capture starts and stops any active capture through
// the normal minimum-duration policy.
func (r *SignalRecorder) Disarm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.armed {
		return
	}
	r.armed = false
	if r.capturing {
		r.stopCaptureLocked("disarmed")
	}
	slog.Info("recorder disarmed")
}

// StopActiveCapture stops an in-progress capture, if any. The staged
// audio goes through the normal minimum-duration policy.
func (r *SignalRecorder) StopActiveCapture(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capturing {
		r.stopCaptureLocked(reason)
	}
}

// SubmitChunk ingests one chunk of normalized mono PCM tagged with the
// frequency it was received on. It never blocks on conversion, upload
// or cleanup.
func (r *SignalRecorder) SubmitChunk(samples []float32, frequencyHz uint64) {
	if len(samples) == 0 {
		return
	}

	now := r.now()
	rms := audio.RMS(samples)
	hasSignal := rms > r.cfg.RMSThreshold

	r.mu.Lock()
	defer r.mu.Unlock()

	// A frequency change invalidates the active capture's
	// single-frequency assumption and restarts the dwell clock.
	if changed := r.dwell.Observe(frequencyHz, now); changed && r.capturing {
		r.stopCaptureLocked("frequency change")
	}

	if hasSignal && r.armed && !r.capturing && r.dwell.Stable(r.cfg.CaptureDwell, now) {
		r.startCaptureLocked(frequencyHz, now)
	}

	if !r.capturing {
		return
	}

	pcm := audio.EncodeS16LE(samples)
	n, err := r.stagingFile.Write(pcm)
	r.stagedBytes += int64(n)
	if err != nil {
		slog.Error("staging write failed, aborting capture", "path", r.stagingPath, "error", err)
		r.abortCaptureLocked()
		return
	}

	if hasSignal {
		r.lastSignalAt = now
		r.armSilenceTimerLocked()
	}
}

// startCaptureLocked opens a staging file. Caller must hold r.mu.
func (r *SignalRecorder) startCaptureLocked(frequencyHz uint64, now time.Time) {
	base := fmt.Sprintf("%.3fMHz_%s", float64(frequencyHz)/1e6, util.CompactTimestamp(now))
	stagingPath := filepath.Join(r.cfg.Directory, base+".pcm")

	f, err := os.Create(stagingPath)
	if err != nil {
		slog.Error("failed to create staging file", "path", stagingPath, "error", err)
		return
	}

	r.capturing = true
	r.stagingFile = f
	r.stagingPath = stagingPath
	r.frequencyHz = frequencyHz
	r.startedAt = now
	r.lastSignalAt = now
	r.stagedBytes = 0

	metrics.CapturesStarted.Inc()
	metrics.CaptureActive.Set(1)

	slog.Info("capture started", "file", base, "frequency_hz", frequencyHz)
	if r.eventLogger != nil {
		_ = r.eventLogger.LogCapture(eventlog.CaptureStarted, &eventlog.CaptureDetails{
			FrequencyHz: frequencyHz,
			Filename:    base + ".pcm",
		})
	}

	r.notifyObservers(true, frequencyHz)
}

// stopCaptureLocked finalizes the active capture: staged audio below the
// minimum duration is deleted, anything else is queued for conversion.
// Caller must hold r.mu.
func (r *SignalRecorder) stopCaptureLocked(reason string) {
	if r.silenceTimer != nil {
		r.silenceTimer.Stop()
		r.silenceTimer = nil
	}

	if err := r.stagingFile.Close(); err != nil {
		slog.Warn("failed to close staging file", "path", r.stagingPath, "error", err)
	}

	stagingPath := r.stagingPath
	frequencyHz := r.frequencyHz
	stagedBytes := r.stagedBytes

	// Duration comes from the staged byte count, not wall clock.
	durationSecs := float64(stagedBytes) / float64(types.SampleRate*types.BytesPerSample)
	minBytes := int64(r.cfg.MinDuration.Seconds()*types.SampleRate) * types.BytesPerSample

	r.capturing = false
	r.captureSeq++
	r.stagingFile = nil
	r.stagingPath = ""
	r.frequencyHz = 0
	r.stagedBytes = 0

	metrics.CaptureActive.Set(0)

	if stagedBytes < minBytes {
		if err := os.Remove(stagingPath); err != nil {
			slog.Warn("failed to delete short capture", "path", stagingPath, "error", err)
		}
		r.capturesDiscarded.Add(1)
		metrics.CapturesDiscarded.Inc()
		slog.Info("capture discarded",
			"file", filepath.Base(stagingPath),
			"duration_secs", durationSecs,
			"reason", reason)
		if r.eventLogger != nil {
			_ = r.eventLogger.LogCapture(eventlog.CaptureDiscarded, &eventlog.CaptureDetails{
				FrequencyHz:  frequencyHz,
				Filename:     filepath.Base(stagingPath),
				DurationSecs: durationSecs,
			})
		}
		r.notifyObservers(false, frequencyHz)
		return
	}

	outputPath := stagingPath[:len(stagingPath)-len(".pcm")] + types.Extension(r.cfg.Codec)
	req := conversionRequest{
		stagingPath:  stagingPath,
		outputPath:   outputPath,
		frequencyHz:  frequencyHz,
		durationSecs: durationSecs,
	}

	select {
	case r.convertQueue <- req:
		slog.Info("capture stopped, queued for conversion",
			"file", filepath.Base(stagingPath),
			"duration_secs", durationSecs,
			"reason", reason)
	default:
		slog.Error("conversion queue full, staging retained", "file", filepath.Base(stagingPath))
	}

	r.notifyObservers(false, frequencyHz)
}

// abortCaptureLocked drops the active capture after an I/O failure.
// Caller must hold r.mu.
func (r *SignalRecorder) abortCaptureLocked() {
	if r.silenceTimer != nil {
		r.silenceTimer.Stop()
		r.silenceTimer = nil
	}
	_ = r.stagingFile.Close()
	_ = os.Remove(r.stagingPath)

	frequencyHz := r.frequencyHz
	r.capturing = false
	r.captureSeq++
	r.stagingFile = nil
	r.stagingPath = ""
	r.frequencyHz = 0
	r.stagedBytes = 0

	metrics.CaptureActive.Set(0)
	r.notifyObservers(false, frequencyHz)
}

// armSilenceTimerLocked (re)arms the silence timeout. Caller must hold
// r.mu.
func (r *SignalRecorder) armSilenceTimerLocked() {
	if r.silenceTimer != nil {
		r.silenceTimer.Stop()
	}
	seq := r.captureSeq
	r.silenceTimer = time.AfterFunc(r.cfg.SilenceTimeout, func() {
		r.silenceTimeout(seq)
	})
}

// silenceTimeout fires when no signal-bearing chunk refreshed the timer.
// The elapsed time is re-checked under the lock: a chunk may have landed
// while the timer callback was already scheduled.
func (r *SignalRecorder) silenceTimeout(seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.capturing || seq != r.captureSeq {
		return
	}

	elapsed := r.now().Sub(r.lastSignalAt)
	if elapsed < r.cfg.SilenceTimeout {
		remaining := r.cfg.SilenceTimeout - elapsed
		r.silenceTimer = time.AfterFunc(remaining, func() {
			r.silenceTimeout(seq)
		})
		return
	}

	slog.Info("silence timeout, stopping capture",
		"file", filepath.Base(r.stagingPath),
		"silence", elapsed)
	r.stopCaptureLocked("silence timeout")
}

// notifyObservers queues a capture transition for the notification
// worker. A single dispatch goroutine keeps start/stop ordering intact
// at every observer; the audio path never blocks on a slow observer.
func (r *SignalRecorder) notifyObservers(recording bool, frequencyHz uint64) {
	select {
	case r.notifyCh <- captureEvent{recording: recording, frequencyHz: frequencyHz}:
	default:
		slog.Warn("observer queue full, dropping capture transition",
			"recording", recording, "frequency_hz", frequencyHz)
	}
}

// notifyWorker delivers capture transitions to observers in the order
// they occurred, draining queued events on shutdown.
func (r *SignalRecorder) notifyWorker() {
	defer r.wg.Done()

	for {
		select {
		case ev := <-r.notifyCh:
			r.dispatchEvent(ev)
		case <-r.stopCh:
			for {
				select {
				case ev := <-r.notifyCh:
					r.dispatchEvent(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *SignalRecorder) dispatchEvent(ev captureEvent) {
	r.mu.Lock()
	observers := make([]Observer, len(r.observers))
	copy(observers, r.observers)
	r.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("capture observer panicked", "panic", rec)
		}
	}()
	for _, fn := range observers {
		fn(ev.recording, ev.frequencyHz)
	}
}

// Status returns a point-in-time snapshot of the recorder.
func (r *SignalRecorder) Status() types.RecorderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := types.RecorderStatus{
		Armed:              r.armed,
		Capturing:          r.capturing,
		FrequencyHz:        r.frequencyHz,
		CapturesSaved:      r.capturesSaved.Load(),
		CapturesDiscarded:  r.capturesDiscarded.Load(),
		ConversionFailures: r.conversionFailures.Load(),
		PendingConversions: len(r.convertQueue),
	}
	if r.capturing {
		// Running duration comes from the staged audio, not wall clock.
		st.DurationSeconds = float64(r.stagedBytes) / float64(types.SampleRate*types.BytesPerSample)
	}
	return st
}

// IsCapturing reports whether a capture is in progress.
func (r *SignalRecorder) IsCapturing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capturing
}

// Shutdown stops any in-progress capture through the normal policy and
// drains the conversion and upload queues, bounded by ctx.
func (r *SignalRecorder) Shutdown(ctx context.Context) error {
	r.Disarm()
	r.StopActiveCapture("shutdown")

	r.stopOnce.Do(func() {
		close(r.stopCh)
	})

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("signal recorder stopped")
		return nil
	case <-ctx.Done():
		slog.Warn("signal recorder shutdown timed out", "error", ctx.Err())
		return ctx.Err()
	}
}
