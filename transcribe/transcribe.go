// Package transcribe feeds demodulated audio to a speech recognizer and
// collects the recognized text.
package transcribe

import (
	"context"
	"encoding/binary"
	"errors"
	"math"

	"github.com/hb9tf/spiritbox/demod"
	"github.com/hb9tf/spiritbox/filter"
)

// BytesPerSample of the PCM handed to recognizers.
const BytesPerSample = 2

// ErrNoMatch is returned by a Recognizer that heard no speech.
var ErrNoMatch = errors.New("no speech recognized")

// Recognizer turns 16 bit little endian mono PCM into text.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, pcm []byte, sampleRate, bytesPerSample int) (string, error)
}

// EncodePCM16 packs the frame as 16 bit little endian PCM.
func EncodePCM16(frame *demod.AudioFrame) []byte {
	samples := frame.Int16()
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// ResamplePCM16 converts 16 bit PCM from one rate to another by linear
// interpolation. When downsampling, everything above the new Nyquist frequency
// is filtered out first. Recognizers that insist on 16 kHz input use it.
func ResamplePCM16(pcm []byte, from, to int) []byte {
	n := len(pcm) / 2
	if from <= 0 || to <= 0 || from == to || n == 0 {
		return pcm
	}
	x := make([]float64, n)
	for i := range x {
		x[i] = float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	if to < from {
		x = antiAlias(x, float64(to)/float64(from))
	}

	outLen := int(int64(n) * int64(to) / int64(from))
	out := make([]byte, 2*outLen)
	step := float64(from) / float64(to)
	for j := 0; j < outLen; j++ {
		pos := float64(j) * step
		i := int(pos)
		v := x[i]
		if i+1 < n {
			frac := pos - float64(i)
			v += frac * (x[i+1] - v)
		}
		v = math.Max(math.MinInt16, math.Min(math.MaxInt16, v))
		binary.LittleEndian.PutUint16(out[2*j:], uint16(int16(v)))
	}
	return out
}

// antiAlias lowpasses x just below ratio times its Nyquist frequency. The
// filter delay is removed so the output lines up with x.
func antiAlias(x []float64, ratio float64) []float64 {
	q := int(math.Ceil(1 / ratio))
	taps := filter.Hamming(20*q+1, 0.9*ratio)
	delay := len(taps) / 2
	padded := append(x, make([]float64, delay)...)
	return filter.Apply(taps, padded)[delay:]
}
