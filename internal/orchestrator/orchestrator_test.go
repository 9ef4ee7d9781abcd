package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rxtools/scanrec/internal/config"
	"github.com/rxtools/scanrec/internal/tuner"
	"github.com/rxtools/scanrec/internal/types"
)

type fakeReceiver struct {
	mu       sync.Mutex
	settings tuner.Settings
	tuned    []uint64
	failHz   uint64
}

func (f *fakeReceiver) SetFrequency(hz uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failHz != 0 && hz == f.failHz {
		return errors.New("rig rejected frequency")
	}
	f.settings.FrequencyHz = hz
	f.tuned = append(f.tuned, hz)
	return nil
}

func (f *fakeReceiver) SetMode(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings.Mode = name
	return nil
}

func (f *fakeReceiver) SetSquelch(level float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings.Squelch = level
	return nil
}

func (f *fakeReceiver) SetBandwidth(hz uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings.BandwidthHz = hz
	return nil
}

func (f *fakeReceiver) Settings() (tuner.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings, nil
}

func (f *fakeReceiver) tuneHistory() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint64, len(f.tuned))
	copy(out, f.tuned)
	return out
}

type fakeRecorder struct {
	arms    atomic.Int64
	disarms atomic.Int64
	stops   atomic.Int64
}

func (f *fakeRecorder) Arm()                     { f.arms.Add(1) }
func (f *fakeRecorder) Disarm()                  { f.disarms.Add(1) }
func (f *fakeRecorder) StopActiveCapture(string) { f.stops.Add(1) }

type fakeSessions struct {
	mu      sync.Mutex
	started []uint64
	stopped int
	active  bool
}

func (f *fakeSessions) StartSession(frequencyHz uint64, mode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, frequencyHz)
	f.active = true
	return nil
}

func (f *fakeSessions) StopSession() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		f.stopped++
		f.active = false
	}
}

func (f *fakeSessions) counts() (started, stopped int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started), f.stopped
}

func testConfig(frequencies ...types.FrequencyProfile) *config.Config {
	cfg := config.New("")
	cfg.Scan.Frequencies = frequencies
	cfg.Scan.TransitionDelayMs = 1
	cfg.Scan.TuneRetryDelayMs = 20
	return cfg
}

func profile(hz uint64, dwellSeconds uint32) types.FrequencyProfile {
	return types.FrequencyProfile{
		FrequencyHz:  hz,
		Mode:         "nfm",
		DwellSeconds: dwellSeconds,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestEnterAutoModeStartsScanningFromFirstEntry(t *testing.T) {
	rx := &fakeReceiver{settings: tuner.Settings{FrequencyHz: 7100000, Mode: "lsb"}}
	tun := tuner.New(rx)
	rec := &fakeRecorder{}
	sess := &fakeSessions{}
	o := New(testConfig(profile(145800000, 1), profile(144800000, 1)), tun, rec, sess, nil)
	o.Start()

	o.EnterAutoMode()
	defer o.Stop(context.Background())

	if got := o.State(); got != types.StateAuto {
		t.Fatalf("state = %v, want %v", got, types.StateAuto)
	}
	waitFor(t, 2*time.Second, func() bool {
		h := rx.tuneHistory()
		return len(h) > 0 && h[0] == 145800000
	})
	waitFor(t, 2*time.Second, func() bool { return rec.arms.Load() > 0 })
	waitFor(t, 2*time.Second, func() bool {
		started, _ := sess.counts()
		return started > 0
	})
}

func TestScanAdvancesThroughFrequencyList(t *testing.T) {
	rx := &fakeReceiver{}
	tun := tuner.New(rx)
	freqs := []types.FrequencyProfile{profile(1000000, 1), profile(2000000, 1), profile(3000000, 1)}
	o := New(testConfig(freqs...), tun, &fakeRecorder{}, &fakeSessions{}, nil)
	o.Start()

	o.EnterAutoMode()
	defer o.Stop(context.Background())

	waitFor(t, 10*time.Second, func() bool { return len(rx.tuneHistory()) >= 4 })

	h := rx.tuneHistory()
	want := []uint64{1000000, 2000000, 3000000, 1000000}
	for i, hz := range want {
		if h[i] != hz {
			t.Fatalf("tune %d = %d, want %d (history %v)", i, h[i], hz, h)
		}
	}
}

func TestTuneFailureRetriesSameEntry(t *testing.T) {
	rx := &fakeReceiver{failHz: 1000000}
	tun := tuner.New(rx)
	o := New(testConfig(profile(1000000, 1), profile(2000000, 1)), tun, &fakeRecorder{}, &fakeSessions{}, nil)
	o.Start()

	o.EnterAutoMode()
	defer o.Stop(context.Background())

	// The failing first entry must not be skipped.
	waitFor(t, 2*time.Second, func() bool { return o.Status().ConsecutiveTuneFailures >= 3 })

	st := o.Status()
	if st.CurrentIndex != 0 {
		t.Errorf("index advanced past failing entry: %d", st.CurrentIndex)
	}
	if len(rx.tuneHistory()) != 0 {
		t.Errorf("unexpected successful tunes: %v", rx.tuneHistory())
	}

	// Unblock the entry and verify the counter resets.
	rx.mu.Lock()
	rx.failHz = 0
	rx.mu.Unlock()
	waitFor(t, 2*time.Second, func() bool { return o.Status().ConsecutiveTuneFailures == 0 })
}

func TestExitAutoModeRestoresSettingsAndStopsSessions(t *testing.T) {
	rx := &fakeReceiver{settings: tuner.Settings{FrequencyHz: 7100000, Mode: "lsb", Squelch: 0.3}}
	tun := tuner.New(rx)
	rec := &fakeRecorder{}
	sess := &fakeSessions{}
	o := New(testConfig(profile(145800000, 1)), tun, rec, sess, nil)
	o.Start()

	o.EnterAutoMode()
	waitFor(t, 2*time.Second, func() bool {
		started, _ := sess.counts()
		return started > 0
	})

	o.ExitAutoMode("remote client connected")

	if got := o.State(); got != types.StateManual {
		t.Fatalf("state = %v, want %v", got, types.StateManual)
	}
	if rec.disarms.Load() == 0 || rec.stops.Load() == 0 {
		t.Error("recorder not stopped on exit")
	}
	started, stopped := sess.counts()
	if stopped != started {
		t.Errorf("sessions started %d, stopped %d", started, stopped)
	}

	s, err := rx.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if s.FrequencyHz != 7100000 || s.Mode != "lsb" || s.Squelch != 0.3 {
		t.Errorf("settings not restored: %+v", s)
	}
	if tun.InAutoMode() {
		t.Error("tuner still flagged auto")
	}
}

func TestExitAutoModeIsIdempotent(t *testing.T) {
	rx := &fakeReceiver{}
	tun := tuner.New(rx)
	rec := &fakeRecorder{}
	o := New(testConfig(profile(145800000, 1)), tun, rec, &fakeSessions{}, nil)
	o.Start()

	o.ExitAutoMode("never entered")
	if rec.stops.Load() != 0 {
		t.Error("exit without entry touched the recorder")
	}

	o.EnterAutoMode()
	o.ExitAutoMode("first")
	stops := rec.stops.Load()
	o.ExitAutoMode("second")
	if rec.stops.Load() != stops {
		t.Error("repeated exit touched the recorder again")
	}
}

func TestPresenceTransitionsDriveStateMachine(t *testing.T) {
	rx := &fakeReceiver{}
	tun := tuner.New(rx)
	o := New(testConfig(profile(145800000, 1)), tun, &fakeRecorder{}, &fakeSessions{}, nil)

	var transitions []string
	var mu sync.Mutex
	o.OnStateChange(func(from, to types.AutoModeState) {
		mu.Lock()
		transitions = append(transitions, string(from)+">"+string(to))
		mu.Unlock()
	})

	// Before Start, presence edges are ignored.
	o.RemoteClientsGone()
	if o.State() != types.StateManual {
		t.Fatal("entered auto before Start")
	}

	o.Start()
	o.RemoteClientsGone()
	if o.State() != types.StateAuto {
		t.Fatal("did not enter auto when remote clients left")
	}
	o.RemoteClientConnected()
	if o.State() != types.StateManual {
		t.Fatal("did not exit auto when a remote client connected")
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if transitions[0] != "manual>auto" || transitions[1] != "auto>manual" {
		t.Errorf("transitions = %v", transitions)
	}
}

func TestStopWaitsForScanLoop(t *testing.T) {
	rx := &fakeReceiver{}
	tun := tuner.New(rx)
	o := New(testConfig(profile(145800000, 2)), tun, &fakeRecorder{}, &fakeSessions{}, nil)
	o.Start()
	o.EnterAutoMode()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := o.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if o.State() != types.StateManual {
		t.Error("not in manual state after Stop")
	}

	// The state machine stays down once stopped.
	o.EnterAutoMode()
	if o.State() != types.StateManual {
		t.Error("entered auto after Stop")
	}
}

// slowSessions delays StopSession to widen the exit window.
type slowSessions struct {
	fakeSessions
	stopDelay time.Duration
}

func (f *slowSessions) StopSession() {
	time.Sleep(f.stopDelay)
	f.fakeSessions.StopSession()
}

func TestReentryWaitsForExitToComplete(t *testing.T) {
	rx := &fakeReceiver{settings: tuner.Settings{FrequencyHz: 7100000, Mode: "lsb"}}
	tun := tuner.New(rx)
	sess := &slowSessions{stopDelay: 300 * time.Millisecond}
	o := New(testConfig(profile(145800000, 1), profile(144800000, 1)), tun, &fakeRecorder{}, sess, nil)
	o.Start()
	defer o.Stop(context.Background())

	o.EnterAutoMode()
	waitFor(t, 2*time.Second, func() bool { return len(rx.tuneHistory()) > 0 })

	exitDone := make(chan struct{})
	go func() {
		o.ExitAutoMode("remote client connected")
		close(exitDone)
	}()
	waitFor(t, 2*time.Second, func() bool { return o.State() == types.StateManual })

	// A presence edge lands while the exit is still stopping sessions.
	reentered := make(chan struct{})
	go func() {
		o.EnterAutoMode()
		close(reentered)
	}()

	select {
	case <-exitDone:
	case <-time.After(5 * time.Second):
		t.Fatal("exit from auto mode did not complete")
	}
	select {
	case <-reentered:
	case <-time.After(5 * time.Second):
		t.Fatal("re-entry did not complete")
	}
	if o.State() != types.StateAuto {
		t.Fatalf("state = %v, want %v after re-entry", o.State(), types.StateAuto)
	}

	// The re-entry must have snapshotted the restored operator settings,
	// not a scan frequency, so a final exit lands back on them.
	o.ExitAutoMode("cleanup")
	s, err := rx.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if s.FrequencyHz != 7100000 || s.Mode != "lsb" {
		t.Errorf("operator settings lost across exit/re-entry race: %+v", s)
	}
}

// panickySessions panics on the first StartSession call.
type panickySessions struct {
	fakeSessions
	calls atomic.Int64
}

func (f *panickySessions) StartSession(frequencyHz uint64, mode string) error {
	if f.calls.Add(1) == 1 {
		panic("decoder backend gone")
	}
	return f.fakeSessions.StartSession(frequencyHz, mode)
}

func TestScanLoopSurvivesCollaboratorPanic(t *testing.T) {
	rx := &fakeReceiver{}
	tun := tuner.New(rx)
	sess := &panickySessions{}
	o := New(testConfig(profile(1000000, 1), profile(2000000, 1)), tun, &fakeRecorder{}, sess, nil)
	o.Start()

	o.EnterAutoMode()
	defer o.Stop(context.Background())

	// The panicking first iteration is logged and retried; scanning
	// continues and later sessions start normally.
	waitFor(t, 10*time.Second, func() bool {
		started, _ := sess.counts()
		return started >= 2
	})
	if o.State() != types.StateAuto {
		t.Errorf("state = %v, want %v", o.State(), types.StateAuto)
	}
}

func TestStatusReportsScanPosition(t *testing.T) {
	rx := &fakeReceiver{}
	tun := tuner.New(rx)
	o := New(testConfig(profile(1000000, 1), profile(2000000, 1)), tun, &fakeRecorder{}, &fakeSessions{}, nil)
	o.Start()

	st := o.Status()
	if st.State != types.StateManual || st.TotalFrequencies != 2 || st.EnteredAutoAt != nil {
		t.Errorf("manual status = %+v", st)
	}

	o.EnterAutoMode()
	defer o.Stop(context.Background())
	waitFor(t, 2*time.Second, func() bool { return len(rx.tuneHistory()) > 0 })

	st = o.Status()
	if st.State != types.StateAuto {
		t.Errorf("state = %v", st.State)
	}
	if st.CurrentFrequencyHz != 1000000 {
		t.Errorf("current frequency = %d", st.CurrentFrequencyHz)
	}
	if st.EnteredAutoAt == nil || st.EnteredAutoAt.IsZero() {
		t.Error("entered_auto_at not set")
	}
}
