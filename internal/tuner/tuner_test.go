package tuner

import (
	"errors"
	"sync"
	"testing"

	"github.com/rxtools/scanrec/internal/types"
)

// fakeReceiver records applied settings and fails on demand.
type fakeReceiver struct {
	mu             sync.Mutex
	settings       Settings
	failFrequency  bool
	modeSupported  bool
	settingsErr    error
	frequencyCalls int
}

func newFakeReceiver() *fakeReceiver {
	return &fakeReceiver{modeSupported: true}
}

func (f *fakeReceiver) SetFrequency(hz uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frequencyCalls++
	if f.failFrequency {
		return errors.New("rig rejected frequency")
	}
	f.settings.FrequencyHz = hz
	return nil
}

func (f *fakeReceiver) SetMode(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.modeSupported {
		return ErrUnsupported
	}
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

func (f *fakeReceiver) Settings() (Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settingsErr != nil {
		return Settings{}, f.settingsErr
	}
	return f.settings, nil
}

var testProfile = types.FrequencyProfile{
	FrequencyHz:  145800000,
	Mode:         "nfm",
	Squelch:      0.15,
	BandwidthHz:  12500,
	DwellSeconds: 60,
}

func TestTuneAppliesAllSettings(t *testing.T) {
	rx := newFakeReceiver()
	tn := New(rx)

	if err := tn.Tune(testProfile); err != nil {
		t.Fatalf("Tune() error: %v", err)
	}

	want := Settings{FrequencyHz: 145800000, Mode: "nfm", Squelch: 0.15, BandwidthHz: 12500}
	if rx.settings != want {
		t.Errorf("receiver settings = %+v, want %+v", rx.settings, want)
	}
	if tn.Current() != want {
		t.Errorf("Current() = %+v, want %+v", tn.Current(), want)
	}
}

func TestTuneFrequencyFailureIsFatal(t *testing.T) {
	rx := newFakeReceiver()
	rx.failFrequency = true
	tn := New(rx)

	if err := tn.Tune(testProfile); err == nil {
		t.Fatal("Tune() succeeded despite frequency failure")
	}
}

func TestTuneUnsupportedModeIsSoftFailure(t *testing.T) {
	rx := newFakeReceiver()
	rx.modeSupported = false
	tn := New(rx)

	if err := tn.Tune(testProfile); err != nil {
		t.Fatalf("Tune() error: %v", err)
	}
	if rx.settings.FrequencyHz != testProfile.FrequencyHz {
		t.Error("frequency not applied")
	}
	if rx.settings.Mode != "" {
		t.Error("mode applied despite being unsupported")
	}
}

func TestNoReceiver(t *testing.T) {
	tn := New(nil)
	if err := tn.Tune(testProfile); !errors.Is(err, ErrNoReceiver) {
		t.Errorf("Tune() error = %v, want ErrNoReceiver", err)
	}
}

func TestSnapshotAndRestore(t *testing.T) {
	rx := newFakeReceiver()
	tn := New(rx)

	if err := tn.Tune(testProfile); err != nil {
		t.Fatalf("Tune() error: %v", err)
	}
	snap := tn.SnapshotSettings()

	other := testProfile
	other.FrequencyHz = 14074000
	other.Mode = "usb"
	if err := tn.Tune(other); err != nil {
		t.Fatalf("Tune() error: %v", err)
	}

	if err := tn.RestoreSettings(snap); err != nil {
		t.Fatalf("RestoreSettings() error: %v", err)
	}
	if rx.settings.FrequencyHz != testProfile.FrequencyHz || rx.settings.Mode != "nfm" {
		t.Errorf("settings after restore = %+v", rx.settings)
	}
}

func TestRestoreZeroSnapshotIsNoop(t *testing.T) {
	rx := newFakeReceiver()
	tn := New(rx)

	if err := tn.RestoreSettings(Settings{}); err != nil {
		t.Fatalf("RestoreSettings() error: %v", err)
	}
	if rx.frequencyCalls != 0 {
		t.Error("restore of empty snapshot touched the receiver")
	}
}

func TestSnapshotFallsBackToApplied(t *testing.T) {
	rx := newFakeReceiver()
	rx.settingsErr = ErrUnsupported
	tn := New(rx)

	if err := tn.Tune(testProfile); err != nil {
		t.Fatalf("Tune() error: %v", err)
	}
	snap := tn.SnapshotSettings()
	if snap.FrequencyHz != testProfile.FrequencyHz {
		t.Errorf("fallback snapshot = %+v", snap)
	}
}

func TestAutoModeFlag(t *testing.T) {
	tn := New(newFakeReceiver())
	if tn.InAutoMode() {
		t.Error("new tuner in auto mode")
	}
	tn.EnterAutoMode()
	if !tn.InAutoMode() {
		t.Error("EnterAutoMode did not take effect")
	}
	tn.ExitAutoMode()
	if tn.InAutoMode() {
		t.Error("ExitAutoMode did not take effect")
	}
}
