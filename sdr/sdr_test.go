package sdr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"hz.tools/rf"
	hzsdr "hz.tools/sdr"
)

type rangeRadio struct{ low, high rf.Hz }

func (r rangeRadio) Name() string { return "range" }

func (r rangeRadio) TunerRange() (rf.Hz, rf.Hz) { return r.low, r.high }

func (r rangeRadio) Configure(uint, Gain) error { return nil }

func (r rangeRadio) SetCenterFrequency(rf.Hz) error { return nil }

func (r rangeRadio) Close() error { return nil }

func (r rangeRadio) ReadBlock(context.Context, int) (*SampleBlock, error) { return nil, nil }

func TestParseGain(t *testing.T) {
	tests := []struct {
		in      string
		want    Gain
		wantErr bool
	}{
		{"auto", Gain{Auto: true}, false},
		{"", Gain{Auto: true}, false},
		{" AUTO ", Gain{Auto: true}, false},
		{"20", Gain{DB: 20}, false},
		{"38.6dB", Gain{DB: 38.6}, false},
		{"-3", Gain{}, true},
		{"loud", Gain{}, true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseGain(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseGain(%q) error = %v, wantErr %t", tc.in, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ParseGain(%q) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
	if got := (Gain{DB: 20}).String(); got != "20dB" {
		t.Errorf("String() = %q, want %q", got, "20dB")
	}
}

func TestValidateFrequency(t *testing.T) {
	r := rangeRadio{low: 24 * rf.MHz, high: 1766 * rf.MHz}
	if err := ValidateFrequency(r, 100*rf.MHz); err != nil {
		t.Errorf("ValidateFrequency(100 MHz) = %v", err)
	}
	if err := ValidateFrequency(r, 24*rf.MHz); err != nil {
		t.Errorf("ValidateFrequency(lower edge) = %v", err)
	}
	err := ValidateFrequency(r, 2*rf.GHz)
	var invalid *InvalidFrequencyError
	if !errors.As(err, &invalid) {
		t.Fatalf("ValidateFrequency(2 GHz) = %v, want *InvalidFrequencyError", err)
	}
	if invalid.Low != r.low || invalid.High != r.high {
		t.Errorf("error range = %v - %v", invalid.Low, invalid.High)
	}
}

func TestHardwareError(t *testing.T) {
	cause := errors.New("usb transfer failed")
	err := fmt.Errorf("iteration: %w", &HardwareError{Device: "rtlsdr", Op: "read", Err: cause})
	if !IsHardwareError(err) {
		t.Error("IsHardwareError() = false for a wrapped HardwareError")
	}
	if !errors.Is(err, cause) {
		t.Error("HardwareError does not unwrap to its cause")
	}
	if IsHardwareError(cause) {
		t.Error("IsHardwareError() = true for a plain error")
	}
}

func TestSampleBlock(t *testing.T) {
	full := &SampleBlock{Samples: hzsdr.SamplesC64{1, 1i, -1, -1i}, SampleRate: 4}
	if got := full.Level(); got != 0 {
		t.Errorf("full scale Level() = %f, want 0", got)
	}
	if got := full.Duration(); got != time.Second {
		t.Errorf("Duration() = %s, want 1s", got)
	}

	silent := &SampleBlock{Samples: make(hzsdr.SamplesC64, 16)}
	if got := silent.Level(); got != MinLevel {
		t.Errorf("silent Level() = %f, want %f", got, MinLevel)
	}
	if got := silent.Duration(); got != 0 {
		t.Errorf("Duration() without a rate = %s, want 0", got)
	}
}
