// Package orchestrator drives autonomous operation. When no remote
// operator is connected it cycles the receiver through the configured
// frequency list, arming the signal recorder and starting decoding
// sessions per entry. A remote operator connecting returns the receiver
// to manual control and restores the saved settings.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rxtools/scanrec/internal/config"
	"github.com/rxtools/scanrec/internal/eventlog"
	"github.com/rxtools/scanrec/internal/metrics"
	"github.com/rxtools/scanrec/internal/tuner"
	"github.com/rxtools/scanrec/internal/types"
)

// CaptureController is the recorder surface the orchestrator drives.
type CaptureController interface {
	Arm()
	Disarm()
	StopActiveCapture(reason string)
}

// SessionController is the decoding session surface the orchestrator drives.
type SessionController interface {
	StartSession(frequencyHz uint64, mode string) error
	StopSession()
}

// StateChangeFunc is notified after every state transition.
type StateChangeFunc func(from, to types.AutoModeState)

// Orchestrator owns the manual/auto state machine and the scan loop.
type Orchestrator struct {
	cfg         *config.Config
	tuner       *tuner.Tuner
	recorder    CaptureController
	sessions    SessionController
	eventLogger *eventlog.Logger

	onStateChange StateChangeFunc

	// transMu serializes mode transitions end to end: an exit from
	// auto, including scan loop join and settings restore, completes
	// before the next entry can begin.
	transMu sync.Mutex

	mu            sync.Mutex
	running       bool
	state         types.AutoModeState
	index         int
	current       types.FrequencyProfile
	tuneFailures  int
	enteredAutoAt time.Time
	savedSettings tuner.Settings
	cancelCh      chan struct{}
	loopWG        *sync.WaitGroup
}

// New creates an orchestrator in manual state. The recorder and session
// controllers may be nil when the respective feature is disabled.
func New(cfg *config.Config, t *tuner.Tuner, rec CaptureController, sessions SessionController, eventLogger *eventlog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		tuner:       t,
		recorder:    rec,
		sessions:    sessions,
		eventLogger: eventLogger,
		state:       types.StateManual,
	}
}

// OnStateChange registers a transition callback. Must be called before
// Start.
func (o *Orchestrator) OnStateChange(fn StateChangeFunc) {
	o.onStateChange = fn
}

// Start enables the state machine. Until Start is called, presence
// transitions are ignored.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	o.running = true
	o.mu.Unlock()
	slog.Info("orchestrator started", "state", types.StateManual)
}

// RemoteClientsGone is wired to the presence tracker. With no remote
// operators left, the receiver enters auto mode.
func (o *Orchestrator) RemoteClientsGone() {
	o.EnterAutoMode()
}

// RemoteClientConnected is wired to the presence tracker. A remote
// operator always takes priority over autonomous operation.
func (o *Orchestrator) RemoteClientConnected() {
	o.ExitAutoMode("remote client connected")
}

// EnterAutoMode transitions to auto and starts the scan loop. Calling
// it while already in auto mode is a no-op.
func (o *Orchestrator) EnterAutoMode() {
	o.transMu.Lock()
	defer o.transMu.Unlock()

	snap := o.cfg.Snapshot()

	o.mu.Lock()
	if !o.running || o.state == types.StateAuto {
		o.mu.Unlock()
		return
	}
	if len(snap.Frequencies) == 0 {
		o.mu.Unlock()
		slog.Warn("cannot enter auto mode, no frequencies configured")
		return
	}

	from := o.state
	o.savedSettings = o.tuner.SnapshotSettings()
	o.tuner.EnterAutoMode()
	o.state = types.StateAuto
	o.index = 0
	o.tuneFailures = 0
	o.enteredAutoAt = time.Now()
	o.cancelCh = make(chan struct{})
	cancel := o.cancelCh

	// Each auto mode generation joins on its own WaitGroup so an exit
	// only ever waits for the loop it started.
	o.loopWG = &sync.WaitGroup{}
	o.loopWG.Add(1)
	go o.scanLoop(cancel, o.loopWG)
	o.mu.Unlock()

	metrics.AutoMode.Set(1)
	slog.Info("entering auto mode", "frequencies", len(snap.Frequencies))
	if o.eventLogger != nil {
		_ = o.eventLogger.LogMode(eventlog.ModeEnteredAuto, "no remote clients connected")
	}
	o.notifyState(from, types.StateAuto)
}

// ExitAutoMode transitions back to manual, stops the scan loop and
// restores the receiver settings saved on entry. Calling it outside
// auto mode is a no-op.
func (o *Orchestrator) ExitAutoMode(reason string) {
	o.transMu.Lock()
	defer o.transMu.Unlock()

	o.mu.Lock()
	if o.state != types.StateAuto {
		o.mu.Unlock()
		return
	}
	o.state = types.StateManual
	close(o.cancelCh)
	saved := o.savedSettings
	o.savedSettings = tuner.Settings{}
	wg := o.loopWG
	o.mu.Unlock()

	wg.Wait()

	if o.sessions != nil {
		o.sessions.StopSession()
	}
	if o.recorder != nil {
		o.recorder.StopActiveCapture("auto mode exit")
		o.recorder.Disarm()
	}
	if err := o.tuner.RestoreSettings(saved); err != nil {
		slog.Warn("failed to restore receiver settings", "error", err)
	}
	o.tuner.ExitAutoMode()

	metrics.AutoMode.Set(0)
	metrics.ConsecutiveTuneFailures.Set(0)
	slog.Info("exited auto mode", "reason", reason)
	if o.eventLogger != nil {
		_ = o.eventLogger.LogMode(eventlog.ModeExitedAuto, reason)
	}
	o.notifyState(types.StateAuto, types.StateManual)
}

// Stop forces manual mode and disables the state machine. The exit,
// including scan loop join, is bounded by ctx.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.ExitAutoMode("shutdown")
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current state.
func (o *Orchestrator) State() types.AutoModeState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status returns a point-in-time snapshot of the state machine.
func (o *Orchestrator) Status() types.OrchestratorStatus {
	snap := o.cfg.Snapshot()

	o.mu.Lock()
	defer o.mu.Unlock()

	st := types.OrchestratorStatus{
		Initialized:             true,
		State:                   o.state,
		Running:                 o.running,
		CurrentIndex:            o.index,
		TotalFrequencies:        len(snap.Frequencies),
		ConsecutiveTuneFailures: o.tuneFailures,
	}
	if o.state == types.StateAuto {
		st.CurrentFrequencyHz = o.current.FrequencyHz
		at := o.enteredAutoAt
		st.EnteredAutoAt = &at
	}
	return st
}

// scanLoop cycles through the frequency list until cancelled. The
// configuration is re-read every iteration so frequency edits apply on
// the next hop.
func (o *Orchestrator) scanLoop(cancel <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-cancel:
			return
		default:
		}

		if !o.scanIteration(cancel) {
			return
		}
	}
}

// scanIteration performs one hop. A panic from a collaborator is caught
// and followed by the tune retry backoff; it reports whether the loop
// should continue.
func (o *Orchestrator) scanIteration(cancel <-chan struct{}) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scan iteration panicked", "panic", r)
			cont = o.wait(o.cfg.Snapshot().TuneRetryDelay, cancel)
		}
	}()

	snap := o.cfg.Snapshot()
	if len(snap.Frequencies) == 0 {
		slog.Warn("frequency list emptied while scanning")
		return o.wait(snap.TuneRetryDelay, cancel)
	}

	o.mu.Lock()
	if o.index >= len(snap.Frequencies) {
		o.index = 0
	}
	index := o.index
	profile := snap.Frequencies[index]
	o.mu.Unlock()

	if err := o.tuner.Tune(profile); err != nil {
		o.mu.Lock()
		o.tuneFailures++
		failures := o.tuneFailures
		o.mu.Unlock()

		metrics.TuneFailures.Inc()
		metrics.ConsecutiveTuneFailures.Set(float64(failures))
		slog.Error("tune failed",
			"frequency", profile.String(),
			"index", index,
			"consecutive_failures", failures,
			"error", err)
		if o.eventLogger != nil {
			_ = o.eventLogger.LogScan(eventlog.TuneFailed, profile.FrequencyHz, profile.Mode, profile.Label, index, failures, err.Error())
		}

		// Stay on the same index so the entry is retried.
		return o.wait(snap.TuneRetryDelay, cancel)
	}

	o.mu.Lock()
	o.tuneFailures = 0
	o.current = profile
	o.mu.Unlock()

	metrics.ConsecutiveTuneFailures.Set(0)
	metrics.ScanIndex.Set(float64(index))
	slog.Info("tuned", "frequency", profile.String(), "index", index)
	if o.eventLogger != nil {
		_ = o.eventLogger.LogScan(eventlog.Tuned, profile.FrequencyHz, profile.Mode, profile.Label, index, 0, "")
	}

	// Let the receiver settle before recording or decoding.
	if !o.wait(snap.TransitionDelay, cancel) {
		return false
	}

	if snap.DecodingEnabled && o.sessions != nil {
		if err := o.sessions.StartSession(profile.FrequencyHz, profile.Mode); err != nil {
			slog.Error("failed to start decoding session", "frequency", profile.String(), "error", err)
		}
	}
	if snap.RecordingEnabled && o.recorder != nil {
		o.recorder.Arm()
	}

	dwelled := o.wait(time.Duration(profile.DwellSeconds)*time.Second, cancel)

	if snap.DecodingEnabled && o.sessions != nil {
		o.sessions.StopSession()
	}
	if snap.RecordingEnabled && o.recorder != nil {
		o.recorder.StopActiveCapture("frequency change")
		o.recorder.Disarm()
	}
	if !dwelled {
		return false
	}

	metrics.ScanIterations.Inc()
	o.mu.Lock()
	if o.state == types.StateAuto {
		o.index = (index + 1) % len(snap.Frequencies)
	}
	o.mu.Unlock()
	return true
}

// wait sleeps for d or until cancelled. It reports whether the full
// duration elapsed.
func (o *Orchestrator) wait(d time.Duration, cancel <-chan struct{}) bool {
	if d <= 0 {
		select {
		case <-cancel:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-cancel:
		return false
	}
}

func (o *Orchestrator) notifyState(from, to types.AutoModeState) {
	if o.onStateChange == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("state change callback panicked", "panic", r)
			}
		}()
		o.onStateChange(from, to)
	}()
}
