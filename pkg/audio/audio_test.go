package audio_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/parleyvoice/parley/pkg/audio"
)

func TestFormat_BytesPerSecond(t *testing.T) {
	tests := []struct {
		name string
		f    audio.Format
		want int
	}{
		{"capture", audio.Capture, 32000},
		{"playback", audio.Playback, 48000},
		{"stereo 48k", audio.Format{SampleRate: 48000, Channels: 2}, 192000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.f.BytesPerSecond(); got != tc.want {
				t.Errorf("BytesPerSecond() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestFormat_Duration(t *testing.T) {
	// One second of playback audio is 48000 bytes.
	if got := audio.Playback.Duration(48000); got != time.Second {
		t.Errorf("Duration(48000) = %v, want 1s", got)
	}
	if got := audio.Capture.Duration(16000); got != 500*time.Millisecond {
		t.Errorf("Duration(16000) = %v, want 500ms", got)
	}
	if got := (audio.Format{}).Duration(48000); got != 0 {
		t.Errorf("zero format Duration = %v, want 0", got)
	}
}

func TestFormat_String(t *testing.T) {
	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Capture, "16000Hz mono"},
		{audio.Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{audio.Format{SampleRate: 44100, Channels: 6}, "44100Hz 6ch"},
	}
	for _, tc := range tests {
		if got := tc.f.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestChunks_SplitsAndPreservesBytes(t *testing.T) {
	pcm := make([]byte, 10)
	for i := range pcm {
		pcm[i] = byte(i)
	}

	chunks := audio.Chunks(pcm, 4)
	if len(chunks) != 3 {
		t.Fatalf("chunk count = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 4 || len(chunks[1]) != 4 || len(chunks[2]) != 2 {
		t.Errorf("chunk sizes = %d,%d,%d, want 4,4,2",
			len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}

	var joined []byte
	for _, c := range chunks {
		joined = append(joined, c...)
	}
	if !bytes.Equal(joined, pcm) {
		t.Error("rejoined chunks do not reproduce the input")
	}
}

func TestChunks_SampleAlignment(t *testing.T) {
	pcm := make([]byte, 12)

	// An odd size must round down to sample alignment.
	chunks := audio.Chunks(pcm, 5)
	for i, c := range chunks {
		if len(c)%2 != 0 {
			t.Errorf("chunk %d has odd length %d", i, len(c))
		}
	}
	if len(chunks) != 3 {
		t.Errorf("chunk count = %d, want 3", len(chunks))
	}
}

func TestChunks_EdgeCases(t *testing.T) {
	if got := audio.Chunks(nil, 4); got != nil {
		t.Errorf("Chunks(nil) = %v, want nil", got)
	}
	if got := audio.Chunks([]byte{}, 4); got != nil {
		t.Errorf("Chunks(empty) = %v, want nil", got)
	}

	// Size below one sample is clamped to one sample.
	chunks := audio.Chunks([]byte{1, 2, 3, 4}, 1)
	if len(chunks) != 2 {
		t.Errorf("chunk count = %d, want 2", len(chunks))
	}

	// Size larger than the input yields a single chunk.
	chunks = audio.Chunks([]byte{1, 2}, 1024)
	if len(chunks) != 1 || len(chunks[0]) != 2 {
		t.Errorf("oversized chunking = %v, want one 2-byte chunk", chunks)
	}
}

func TestDrain_ConsumesUntilClose(t *testing.T) {
	ch := make(chan int, 8)
	for i := range 8 {
		ch <- i
	}
	close(ch)

	done := make(chan struct{})
	go func() {
		audio.Drain(ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain did not return after channel close")
	}
}
