// Package tuner drives the receiver for autonomous frequency changes.
package tuner

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/rxtools/scanrec/internal/types"
)

// ErrUnsupported is returned by a ReceiverControl capability the attached
// receiver does not implement. The tuner treats it as a soft failure for
// everything except the frequency itself.
var ErrUnsupported = errors.New("operation not supported by receiver")

// ErrNoReceiver is returned when no receiver is attached.
var ErrNoReceiver = errors.New("no receiver attached")

// Settings holds the receiver parameters the tuner manipulates.
type Settings struct {
	FrequencyHz uint64  `json:"frequency_hz"`
	Mode        string  `json:"mode"`
	Squelch     float64 `json:"squelch"`
	BandwidthHz uint32  `json:"bandwidth_hz"`
}

// ReceiverControl is the surface a receiver backend exposes to the tuner.
// A backend may return ErrUnsupported from any capability it lacks.
type ReceiverControl interface {
	SetFrequency(hz uint64) error
	SetMode(name string) error
	SetSquelch(level float64) error
	SetBandwidth(hz uint32) error
	Settings() (Settings, error)
}

// Tuner serializes receiver control and tracks the settings it applied.
// It is safe for concurrent use.
type Tuner struct {
	mu       sync.Mutex
	receiver ReceiverControl
	current  Settings
	autoMode bool
}

// New creates a Tuner for the given receiver backend.
func New(receiver ReceiverControl) *Tuner {
	return &Tuner{receiver: receiver}
}

// Tune applies a frequency profile to the receiver. A frequency failure
// is fatal for the attempt; mode, squelch and bandwidth failures are
// logged and skipped.
func (t *Tuner) Tune(profile types.FrequencyProfile) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.receiver == nil {
		return ErrNoReceiver
	}

	slog.Info("tuning", "frequency", profile.String(), "squelch", profile.Squelch, "bandwidth_hz", profile.BandwidthHz)

	if err := t.receiver.SetFrequency(profile.FrequencyHz); err != nil {
		return err
	}
	t.current.FrequencyHz = profile.FrequencyHz

	if profile.Mode != "" {
		if err := t.receiver.SetMode(profile.Mode); err != nil {
			slog.Warn("failed to set mode", "mode", profile.Mode, "error", err)
		} else {
			t.current.Mode = profile.Mode
		}
	}

	if err := t.receiver.SetSquelch(profile.Squelch); err != nil {
		slog.Warn("failed to set squelch", "squelch", profile.Squelch, "error", err)
	} else {
		t.current.Squelch = profile.Squelch
	}

	if profile.BandwidthHz > 0 {
		if err := t.receiver.SetBandwidth(profile.BandwidthHz); err != nil {
			slog.Warn("failed to set bandwidth", "bandwidth_hz", profile.BandwidthHz, "error", err)
		} else {
			t.current.BandwidthHz = profile.BandwidthHz
		}
	}

	return nil
}

// SnapshotSettings returns the receiver's current settings for later
// restoration. Falls back to the last applied settings when the receiver
// cannot report its own.
func (t *Tuner) SnapshotSettings() Settings {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.receiver != nil {
		if s, err := t.receiver.Settings(); err == nil {
			return s
		} else if !errors.Is(err, ErrUnsupported) {
			slog.Warn("failed to read receiver settings", "error", err)
		}
	}
	return t.current
}

// RestoreSettings re-applies previously snapshotted settings. A zero
// frequency means there is nothing to restore.
func (t *Tuner) RestoreSettings(s Settings) error {
	if s.FrequencyHz == 0 {
		return nil
	}
	return t.Tune(types.FrequencyProfile{
		FrequencyHz:  s.FrequencyHz,
		Mode:         s.Mode,
		Squelch:      s.Squelch,
		BandwidthHz:  s.BandwidthHz,
		DwellSeconds: 1,
	})
}

// EnterAutoMode marks the receiver as under autonomous control.
func (t *Tuner) EnterAutoMode() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.autoMode = true
	slog.Info("auto mode activated, receiver under autonomous control")
}

// ExitAutoMode returns the receiver to operator control.
func (t *Tuner) ExitAutoMode() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.autoMode = false
	slog.Info("manual mode, operator control restored")
}

// HasReceiver reports whether a receiver backend is attached.
func (t *Tuner) HasReceiver() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.receiver != nil
}

// InAutoMode reports whether the receiver is under autonomous control.
func (t *Tuner) InAutoMode() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.autoMode
}

// Current returns the last settings the tuner applied.
func (t *Tuner) Current() Settings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}
