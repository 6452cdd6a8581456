// Package playback writes demodulated audio to an output device.
//
// Play blocks until the device has taken the whole frame. The scanner relies
// on this to run at the pace of the audio device instead of a timer.
package playback

import (
	"context"
	"time"

	"github.com/hb9tf/spiritbox/demod"
)

// fullScale maps the int16 range used by audio frames to [-1, 1].
const fullScale = 32768

// Options are hints passed to the device with every frame.
type Options struct {
	// Latency is the suggested output latency.
	Latency time.Duration
	// BlockSize is the number of samples handed to the device per write.
	BlockSize int
}

func DefaultOptions() Options {
	return Options{
		Latency:   100 * time.Millisecond,
		BlockSize: 4096,
	}
}

type Sink interface {
	Name() string
	// Play blocks until frame was consumed by the device.
	Play(ctx context.Context, frame *demod.AudioFrame, opts Options) error
	Close() error
}

// chunks splits samples into blocks of at most size samples, scaled to
// [-1, 1].
func chunks(samples []float32, size int) [][]float32 {
	if size <= 0 {
		size = len(samples)
	}
	var out [][]float32
	for start := 0; start < len(samples); start += size {
		end := min(start+size, len(samples))
		chunk := make([]float32, end-start)
		for i, s := range samples[start:end] {
			chunk[i] = s / fullScale
		}
		out = append(out, chunk)
	}
	return out
}
