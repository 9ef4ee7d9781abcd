// Package types provides shared type definitions used across the scanner.
package types

import "fmt"

// Audio format of pushed chunks. Every producer delivers mono PCM at this
// rate, normalized to [-1.0, 1.0].
const (
	SampleRate     = 12000
	Channels       = 1
	BytesPerSample = 2 // staged as signed 16-bit little-endian
)

// AutoModeState represents the operating state of the orchestrator.
type AutoModeState string

const (
	// StateManual indicates a remote operator is in control.
	StateManual AutoModeState = "manual"
	// StateIdle is reserved for a future quiescent state. No current
	// transition produces it.
	StateIdle AutoModeState = "idle"
	// StateAuto indicates autonomous frequency cycling is active.
	StateAuto AutoModeState = "auto"
)

// FrequencyProfile describes one entry in the scan list.
type FrequencyProfile struct {
	FrequencyHz  uint64  `json:"frequency_hz" validate:"required,gt=0"`  // Center frequency in Hz
	Mode         string  `json:"mode" validate:"required"`               // Demodulation mode (nfm, usb, lsb, am, ...)
	Squelch      float64 `json:"squelch"`                                // Squelch level for this entry
	BandwidthHz  uint32  `json:"bandwidth_hz"`                           // Filter bandwidth in Hz (0 = receiver default)
	DwellSeconds uint32  `json:"dwell_seconds" validate:"required,gt=0"` // Seconds to stay on this entry
	Label        string  `json:"label"`                                  // Display name
}

// MHz returns the frequency in megahertz.
func (p FrequencyProfile) MHz() float64 {
	return float64(p.FrequencyHz) / 1e6
}

// String returns a compact description for logs.
func (p FrequencyProfile) String() string {
	if p.Label != "" {
		return fmt.Sprintf("%.3f MHz %s (%s)", p.MHz(), p.Mode, p.Label)
	}
	return fmt.Sprintf("%.3f MHz %s", p.MHz(), p.Mode)
}

// Codec represents an audio codec for converted captures.
type Codec string

// Supported capture codecs.
const (
	CodecMP3  Codec = "mp3"  // MPEG Audio Layer III
	CodecOGG  Codec = "ogg"  // Ogg Vorbis
	CodecFLAC Codec = "flac" // Lossless
)

// CodecPreset defines FFmpeg encoding parameters for a codec.
type CodecPreset struct {
	Args   []string // FFmpeg codec arguments
	Format string   // FFmpeg output format
}

// CodecPresets maps capture codecs to their FFmpeg configuration.
var CodecPresets = map[Codec]CodecPreset{
	CodecMP3:  {[]string{"libmp3lame", "-b:a", "128k"}, "mp3"},
	CodecOGG:  {[]string{"libvorbis", "-qscale:a", "4"}, "ogg"},
	CodecFLAC: {[]string{"flac"}, "flac"},
}

// CodecArgsFor returns FFmpeg codec arguments for the given codec.
func CodecArgsFor(codec Codec) []string {
	if preset, ok := CodecPresets[codec]; ok {
		return preset.Args
	}
	return CodecPresets[CodecMP3].Args
}

// FormatFor returns the FFmpeg output format for the given codec.
func FormatFor(codec Codec) string {
	if preset, ok := CodecPresets[codec]; ok {
		return preset.Format
	}
	return CodecPresets[CodecMP3].Format
}

// Extension returns the file extension for the given codec.
func Extension(codec Codec) string {
	return "." + string(FormatFor(codec))
}

// StorageMode determines where converted captures end up.
type StorageMode string

// Supported storage modes.
const (
	StorageLocal StorageMode = "local" // Keep only on local filesystem
	StorageS3    StorageMode = "s3"    // Upload to S3, remove local copy
	StorageBoth  StorageMode = "both"  // Keep locally AND upload to S3
)
