// Package demod turns one block of raw IQ samples into one block of audio.
//
// Demodulate is pure: it performs no I/O and keeps no state between calls, so
// every block is processed independently.
package demod

import (
	"fmt"
	"math"
	"math/cmplx"
	"time"

	"hz.tools/rf"

	"github.com/hb9tf/spiritbox/filter"
	"github.com/hb9tf/spiritbox/sdr"
)

// Deemphasis is the broadcast FM de-emphasis time constant.
const Deemphasis = 75 * time.Microsecond

// Params describe the channel to demodulate.
type Params struct {
	// Offset is how far the channel sits above the tuner center frequency.
	Offset rf.Hz
	// Bandwidth is the channel filter passband edge and the decimation target.
	Bandwidth rf.Hz
	// Taps is the length of the equiripple channel filter.
	Taps int
	// AudioRate is the nominal audio output rate.
	AudioRate rf.Hz
	// Headroom is the peak amplitude of a normalised frame.
	Headroom float64
}

// DefaultParams are tuned for broadcast FM captured at 2.4 MHz.
func DefaultParams() Params {
	return Params{
		Offset:    250 * rf.KHz,
		Bandwidth: 200 * rf.KHz,
		Taps:      64,
		AudioRate: 48 * rf.KHz,
		Headroom:  10000,
	}
}

// Validate checks that params can be used with a tuner running at sampleRate.
// Offset mixing is only alias free when the rate exceeds 2*(offset+bandwidth).
func Validate(p Params, sampleRate uint) error {
	switch {
	case sampleRate == 0:
		return fmt.Errorf("sample rate must be positive")
	case p.Bandwidth <= 0:
		return fmt.Errorf("bandwidth must be positive, got %v", p.Bandwidth)
	case p.Offset < 0:
		return fmt.Errorf("offset must not be negative, got %v", p.Offset)
	case p.AudioRate <= 0:
		return fmt.Errorf("audio rate must be positive, got %v", p.AudioRate)
	case p.Headroom <= 0:
		return fmt.Errorf("headroom must be positive, got %f", p.Headroom)
	}
	if float64(sampleRate) <= 2*float64(p.Offset+p.Bandwidth) {
		return fmt.Errorf("sample rate %d must exceed 2*(offset %v + bandwidth %v)", sampleRate, p.Offset, p.Bandwidth)
	}
	return nil
}

// AudioFrame is one block of demodulated audio.
type AudioFrame struct {
	// Samples are signed amplitudes scaled to at most Headroom.
	Samples []float32
	// Rate is the achieved sample rate, which differs from the nominal rate
	// due to integer decimation.
	Rate float64
	// Frequency is the station frequency the audio was received on.
	Frequency rf.Hz
	Captured  time.Time
}

// Peak returns the largest absolute sample value.
func (f *AudioFrame) Peak() float64 {
	var peak float64
	for _, s := range f.Samples {
		peak = math.Max(peak, math.Abs(float64(s)))
	}
	return peak
}

// Duration returns the playback length of the frame.
func (f *AudioFrame) Duration() time.Duration {
	if f.Rate <= 0 {
		return 0
	}
	return time.Duration(float64(len(f.Samples)) / f.Rate * float64(time.Second))
}

// Int16 returns the samples rounded and clamped to 16 bit integers.
func (f *AudioFrame) Int16() []int16 {
	out := make([]int16, len(f.Samples))
	for i, s := range f.Samples {
		v := math.Round(float64(s))
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}

// Demodulate FM-demodulates block. A *filter.DesignError is returned when the
// channel filter cannot be designed from p.
func Demodulate(block *sdr.SampleBlock, p Params) (*AudioFrame, error) {
	if block == nil || len(block.Samples) == 0 {
		return nil, fmt.Errorf("empty sample block")
	}
	fs := float64(block.SampleRate)
	if err := Validate(p, block.SampleRate); err != nil {
		return nil, err
	}

	shifted := shift(block, float64(p.Offset))

	bw := float64(p.Bandwidth)
	stop := bw + (fs/2-bw)/2
	taps, err := filter.Lowpass(p.Taps, fs, bw, stop)
	if err != nil {
		return nil, err
	}
	factor := int(fs / bw)
	channel := filter.DecimateComplex(taps, shifted, factor)
	channelRate := fs / float64(factor)

	audio := deemphasize(discriminate(channel), channelRate)

	audioFactor := int(channelRate / float64(p.AudioRate))
	if audioFactor < 1 {
		audioFactor = 1
	}
	if audioFactor > 1 {
		audio = filter.DecimateReal(filter.Hamming(20*audioFactor+1, 1/float64(audioFactor)), audio, audioFactor)
	}

	normalize(audio, p.Headroom)

	samples := make([]float32, len(audio))
	for i, v := range audio {
		samples[i] = float32(v)
	}
	return &AudioFrame{
		Samples:   samples,
		Rate:      channelRate / float64(audioFactor),
		Frequency: block.CenterFrequency + p.Offset,
		Captured:  block.Captured,
	}, nil
}

// shift mixes the block down by offset so the channel ends up at 0 Hz.
func shift(block *sdr.SampleBlock, offset float64) []complex128 {
	out := make([]complex128, len(block.Samples))
	step := -2 * math.Pi * offset / float64(block.SampleRate)
	for n, s := range block.Samples {
		sin, cos := math.Sincos(step * float64(n))
		out[n] = complex128(s) * complex(cos, sin)
	}
	return out
}

// discriminate returns the phase difference between consecutive samples,
// which is the instantaneous frequency of the signal.
func discriminate(x []complex128) []float64 {
	if len(x) < 2 {
		return nil
	}
	out := make([]float64, len(x)-1)
	for n := 1; n < len(x); n++ {
		out[n-1] = cmplx.Phase(x[n] * cmplx.Conj(x[n-1]))
	}
	return out
}

// deemphasize applies the single pole de-emphasis lowpass in place.
func deemphasize(x []float64, sampleRate float64) []float64 {
	d := sampleRate * Deemphasis.Seconds()
	a := math.Exp(-1 / d)
	var prev float64
	for n, v := range x {
		prev = (1-a)*v + a*prev
		x[n] = prev
	}
	return x
}

// normalize scales x so its peak equals headroom. Silence stays silent.
func normalize(x []float64, headroom float64) {
	var peak float64
	for _, v := range x {
		peak = math.Max(peak, math.Abs(v))
	}
	if peak == 0 {
		return
	}
	scale := headroom / peak
	for n := range x {
		x[n] *= scale
	}
}
