// Package audio provides helpers for 16-bit little-endian PCM byte streams.
//
// Both wire directions of a live session use raw s16le mono PCM: microphone
// capture at 16 kHz upstream and synthesised speech at 24 kHz downstream.
// The helpers here convert between byte counts and wall-clock durations and
// validate sample alignment before data enters the playback pipeline.
package audio

import "time"

// BytesPerSample is the size of one s16le sample.
const BytesPerSample = 2

// Standard sample rates for a live session.
const (
	// CaptureRate is the microphone sample rate expected by the service.
	CaptureRate = 16000

	// PlaybackRate is the sample rate of synthesised speech from the service.
	PlaybackRate = 24000
)

// Aligned reports whether pcm contains a whole number of s16le samples.
func Aligned(pcm []byte) bool {
	return len(pcm)%BytesPerSample == 0
}

// Duration returns the playback duration of n bytes of mono s16le PCM at the
// given sample rate. Returns 0 for a non-positive rate.
func Duration(n int, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := n / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// BytesForDuration returns the number of bytes of mono s16le PCM that play
// for d at the given sample rate. The result is always sample-aligned.
func BytesForDuration(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	samples := int(int64(d) * int64(sampleRate) / int64(time.Second))
	return samples * BytesPerSample
}

// Silence returns d worth of zeroed mono s16le PCM at the given sample rate.
func Silence(d time.Duration, sampleRate int) []byte {
	return make([]byte, BytesForDuration(d, sampleRate))
}
