package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Config controls endpoint detection for one frame buffer.
// FUNCTIONAL DISCOVERY: Defaults tuned for 16kHz PCM16 mono from tablet
// microphones; children pause mid-sentence, so the trailing silence cutoff
// is longer than typical adult-voice defaults
type Config struct {
	SampleRate      int           // samples per second, PCM16 mono
	SilenceRMS      float64       // RMS amplitude below which a frame counts as silent
	TrailingSilence time.Duration // silence required after speech to endpoint
	MaxUtterance    time.Duration // hard cap preventing runaway open turns
}

// DefaultConfig returns production endpointing defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:      16000,
		SilenceRMS:      500,
		TrailingSilence: 900 * time.Millisecond,
		MaxUtterance:    30 * time.Second,
	}
}

// FrameBuffer accumulates ordered audio chunks for one open turn and decides
// when the utterance is complete. Owned exclusively by the open turn; the
// buffer is discarded, never pooled, once finalized so child audio does not
// persist beyond processing.
type FrameBuffer struct {
	cfg Config

	chunks     [][]byte
	totalBytes int

	speechSeen bool
	trailing   time.Duration // consecutive silence at the tail
	finalized  bool
}

// NewFrameBuffer creates a buffer for a single turn.
func NewFrameBuffer(cfg Config) *FrameBuffer {
	if cfg.SampleRate <= 0 {
		cfg = DefaultConfig()
	}
	return &FrameBuffer{cfg: cfg}
}

// Append adds one ordered chunk and updates the rolling silence estimate.
func (b *FrameBuffer) Append(chunk []byte) error {
	if b.finalized {
		return ErrBufferFinalized
	}
	if len(chunk) == 0 || len(chunk)%2 != 0 {
		return ErrInvalidChunk
	}

	b.chunks = append(b.chunks, chunk)
	b.totalBytes += len(chunk)

	// TECHNICAL DISCOVERY: Per-chunk RMS against a fixed threshold is enough
	// for turn endpointing; full VAD belongs to the external services
	if rms(chunk) >= b.cfg.SilenceRMS {
		b.speechSeen = true
		b.trailing = 0
	} else {
		b.trailing += b.chunkDuration(len(chunk))
	}

	return nil
}

// Endpointed reports whether the utterance is complete: trailing silence
// exceeded the threshold after at least one non-silent chunk, or the
// maximum-duration cap was reached.
func (b *FrameBuffer) Endpointed() bool {
	if b.finalized {
		return true
	}
	if b.Duration() >= b.cfg.MaxUtterance {
		return true
	}
	return b.speechSeen && b.trailing >= b.cfg.TrailingSilence
}

// Duration returns the total buffered audio duration.
func (b *FrameBuffer) Duration() time.Duration {
	return b.chunkDuration(b.totalBytes)
}

// Empty reports whether any audio arrived at all. Zero chunks before
// end-of-input is an immediate transcription error without contacting the
// transcription adapter.
func (b *FrameBuffer) Empty() bool {
	return b.totalBytes == 0
}

// Finalize concatenates chunks in arrival order and releases them.
// Further appends are rejected.
func (b *FrameBuffer) Finalize() []byte {
	if b.finalized {
		return nil
	}
	b.finalized = true

	blob := make([]byte, 0, b.totalBytes)
	for _, chunk := range b.chunks {
		blob = append(blob, chunk...)
	}
	b.chunks = nil
	return blob
}

func (b *FrameBuffer) chunkDuration(nbytes int) time.Duration {
	samples := nbytes / 2
	return time.Duration(samples) * time.Second / time.Duration(b.cfg.SampleRate)
}

// rms computes the root-mean-square amplitude of little-endian PCM16 samples.
func rms(chunk []byte) float64 {
	n := len(chunk) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(chunk[i*2:]))
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(n))
}
