// Package audio provides PCM helpers shared by the capture and playback legs
// of the voice pipeline. All audio in Parley is little-endian 16-bit PCM:
// browsers stream 16 kHz mono microphone capture up, and synthesized speech
// comes back down at 24 kHz mono.
package audio

import (
	"fmt"
	"time"
)

// bytesPerSample is the width of one little-endian int16 PCM sample.
const bytesPerSample = 2

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Capture is the format browsers stream to the server.
var Capture = Format{SampleRate: 16000, Channels: 1}

// Playback is the format synthesized agent speech is delivered in.
var Playback = Format{SampleRate: 24000, Channels: 1}

// BytesPerSecond returns the PCM byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * bytesPerSample
}

// Duration returns the play time of n PCM bytes in this format.
// Returns 0 for a format with no byte rate.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// String returns a human-readable description, e.g. "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Chunks splits pcm into successive sub-slices of at most size bytes, each
// aligned to a whole sample so no frame splits an int16 in half. The returned
// slices share pcm's backing array. A size below one sample is treated as one
// sample. Returns nil for empty input.
func Chunks(pcm []byte, size int) [][]byte {
	if len(pcm) == 0 {
		return nil
	}
	if size < bytesPerSample {
		size = bytesPerSample
	}
	// Round down to sample alignment.
	size -= size % bytesPerSample

	out := make([][]byte, 0, (len(pcm)+size-1)/size)
	for len(pcm) > 0 {
		end := min(size, len(pcm))
		out = append(out, pcm[:end])
		pcm = pcm[end:]
	}
	return out
}

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when abandoning a streaming channel
// (e.g. the chunk stream of a cancelled generation).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
