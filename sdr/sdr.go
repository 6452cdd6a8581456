package sdr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"hz.tools/rf"
	hzsdr "hz.tools/sdr"
)

// BlockLength is the number of complex samples in one read unit. ReadBlock(n)
// always returns n*BlockLength samples.
const BlockLength = 1024

// SampleBlock is one capture from the tuner at its native sample rate.
type SampleBlock struct {
	Samples         hzsdr.SamplesC64
	SampleRate      uint
	CenterFrequency rf.Hz
	Captured        time.Time
}

// Duration returns the span of time covered by the block.
func (b *SampleBlock) Duration() time.Duration {
	if b.SampleRate == 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// MinLevel is reported for blocks without any signal.
const MinLevel = -200.0

// Level returns the mean power of the block in dB relative to full scale,
// never less than MinLevel.
func (b *SampleBlock) Level() float64 {
	var sum float64
	for _, s := range b.Samples {
		re, im := float64(real(s)), float64(imag(s))
		sum += re*re + im*im
	}
	if sum == 0 {
		return MinLevel
	}
	return math.Max(10*math.Log10(sum/float64(len(b.Samples))), MinLevel)
}

// Gain is the tuner gain setting.
type Gain struct {
	// Auto lets the device pick its gain (AGC).
	Auto bool
	// DB is the manual gain in dB, ignored when Auto is set.
	DB float64
}

func (g Gain) String() string {
	if g.Auto {
		return "auto"
	}
	return strconv.FormatFloat(g.DB, 'f', -1, 64) + "dB"
}

// ParseGain parses "auto" or a gain in dB such as "20" or "20dB".
func ParseGain(s string) (Gain, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "auto" {
		return Gain{Auto: true}, nil
	}
	db, err := strconv.ParseFloat(strings.TrimSuffix(s, "db"), 64)
	if err != nil {
		return Gain{}, fmt.Errorf("invalid gain %q: %w", s, err)
	}
	if db < 0 {
		return Gain{}, fmt.Errorf("invalid gain %q: must not be negative", s)
	}
	return Gain{DB: db}, nil
}

// Radio is the narrow surface the scanner needs from tuner hardware.
//
// Implementations are not safe for concurrent use: exactly one owner may call
// into a Radio at a time.
type Radio interface {
	Name() string
	// TunerRange returns the lowest and highest center frequency supported.
	TunerRange() (rf.Hz, rf.Hz)
	Configure(sampleRate uint, gain Gain) error
	SetCenterFrequency(freq rf.Hz) error
	// ReadBlock blocks until blockCount*BlockLength samples were captured.
	ReadBlock(ctx context.Context, blockCount int) (*SampleBlock, error)
	Close() error
}

// HardwareError reports that a device could not be opened or read.
type HardwareError struct {
	Device string
	Op     string
	Err    error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Device, e.Op, e.Err)
}

func (e *HardwareError) Unwrap() error {
	return e.Err
}

// IsHardwareError reports whether err contains a HardwareError.
func IsHardwareError(err error) bool {
	var hwErr *HardwareError
	return errors.As(err, &hwErr)
}

// InvalidFrequencyError is returned for a frequency the tuner cannot reach.
type InvalidFrequencyError struct {
	Frequency rf.Hz
	Low       rf.Hz
	High      rf.Hz
}

func (e *InvalidFrequencyError) Error() string {
	return fmt.Sprintf("frequency %v outside of tuner range %v - %v", e.Frequency, e.Low, e.High)
}

// ValidateFrequency checks that freq is within the radio's tuner range.
func ValidateFrequency(r Radio, freq rf.Hz) error {
	low, high := r.TunerRange()
	if freq < low || freq > high {
		return &InvalidFrequencyError{Frequency: freq, Low: low, High: high}
	}
	return nil
}
