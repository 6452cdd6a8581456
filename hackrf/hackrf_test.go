package hackrf

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"hz.tools/rf"

	"github.com/hb9tf/spiritbox/sdr"
)

func TestDecodeIQ(t *testing.T) {
	got := decodeIQ([]byte{0x80, 0x7f, 0x00, 0x40})
	want := []complex64{complex(-1, 127.0/128), complex(0, 0.5)}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("sample %d = %v, want %v", i, got[i], w)
		}
	}
}

func TestGains(t *testing.T) {
	tests := []struct {
		gain     sdr.Gain
		lna, vga int
	}{
		{sdr.Gain{Auto: true}, defaultLNAGain, defaultVGAGain},
		{sdr.Gain{DB: 31}, defaultLNAGain, 30},
		{sdr.Gain{DB: 80}, defaultLNAGain, maxVGAGain},
	}
	for _, tc := range tests {
		lna, vga := gains(tc.gain)
		if lna != tc.lna || vga != tc.vga {
			t.Errorf("gains(%v) = %d, %d, want %d, %d", tc.gain, lna, vga, tc.lna, tc.vga)
		}
	}
}

func TestReadBlock(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	tool := filepath.Join(t.TempDir(), "hackrf_transfer")
	if err := os.WriteFile(tool, []byte("#!/bin/sh\nhead -c 2048 /dev/zero\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	s := &SDR{Command: tool}
	if err := s.Configure(8000000, sdr.Gain{Auto: true}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := s.SetCenterFrequency(433 * rf.MHz); err != nil {
		t.Fatalf("SetCenterFrequency: %v", err)
	}
	block, err := s.ReadBlock(context.Background(), 1)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if len(block.Samples) != sdr.BlockLength || block.Samples[0] != 0 {
		t.Errorf("got %d samples starting with %v", len(block.Samples), block.Samples[0])
	}

	s.Close()
	if _, err := s.ReadBlock(context.Background(), 1); !sdr.IsHardwareError(err) {
		t.Errorf("ReadBlock after Close = %v, want hardware error", err)
	}
}
