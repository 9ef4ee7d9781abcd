// Package audio provides chunk level measurement and frequency dwell tracking.
package audio

import (
	"encoding/binary"
	"math"
)

// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
const MaxSampleValue = 32767.0

// RMS computes the root-mean-square level of a normalized mono chunk.
// Samples are expected in [-1.0, 1.0]; an empty chunk measures 0.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range samples {
		v := float64(s)
		sumSquares += v * v
	}
	return math.Sqrt(sumSquares / float64(len(samples)))
}

// EncodeS16LE converts normalized float samples to signed 16-bit
// little-endian PCM. Out-of-range samples are clamped.
func EncodeS16LE(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s)
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(math.Round(v*MaxSampleValue))))
	}
	return buf
}
