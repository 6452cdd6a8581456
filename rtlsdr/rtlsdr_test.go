package rtlsdr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"hz.tools/rf"

	"github.com/hb9tf/spiritbox/sdr"
)

// fakeTool writes an executable shell script standing in for rtl_sdr.
func fakeTool(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "rtl_sdr")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDecodeIQ(t *testing.T) {
	got := decodeIQ([]byte{0, 255, 255, 0, 127, 128})
	want := []complex64{complex(-1, 1), complex(1, -1)}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("sample %d = %v, want %v", i, got[i], w)
		}
	}
	if re := real(got[2]); re > 0 || re < -0.01 {
		t.Errorf("mid scale sample = %v, want close to 0", got[2])
	}
}

func TestReadBlock(t *testing.T) {
	// Two blocks of IQ pairs at full negative scale.
	s := &SDR{Command: fakeTool(t, "head -c 4096 /dev/zero")}
	if err := s.Configure(2400000, sdr.Gain{Auto: true}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := s.SetCenterFrequency(97750 * rf.KHz); err != nil {
		t.Fatalf("SetCenterFrequency: %v", err)
	}
	block, err := s.ReadBlock(context.Background(), 2)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if len(block.Samples) != 2*sdr.BlockLength {
		t.Errorf("got %d samples, want %d", len(block.Samples), 2*sdr.BlockLength)
	}
	if block.CenterFrequency != 97750*rf.KHz || block.SampleRate != 2400000 {
		t.Errorf("block = %v Hz at %d samples/s", block.CenterFrequency, block.SampleRate)
	}
	if block.Samples[0] != complex(-1, -1) {
		t.Errorf("first sample = %v", block.Samples[0])
	}
}

func TestReadBlock_ToolFails(t *testing.T) {
	s := &SDR{Command: fakeTool(t, "echo 'usb_claim_interface error -6' >&2\nexit 1")}
	if err := s.Configure(2400000, sdr.Gain{DB: 20}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	_, err := s.ReadBlock(context.Background(), 1)
	var hwErr *sdr.HardwareError
	if !errors.As(err, &hwErr) {
		t.Fatalf("ReadBlock() = %v, want *sdr.HardwareError", err)
	}
	if hwErr.Device != SourceName || hwErr.Op != "read" {
		t.Errorf("error = %+v", hwErr)
	}
	if !strings.Contains(err.Error(), "usb_claim_interface") {
		t.Errorf("error %q does not carry the tool output", err)
	}
}

func TestSetCenterFrequency(t *testing.T) {
	s := &SDR{}
	var invalid *sdr.InvalidFrequencyError
	if err := s.SetCenterFrequency(2 * rf.GHz); !errors.As(err, &invalid) {
		t.Errorf("SetCenterFrequency(2 GHz) = %v, want *sdr.InvalidFrequencyError", err)
	}
	s.Close()
	if err := s.SetCenterFrequency(100 * rf.MHz); !sdr.IsHardwareError(err) {
		t.Errorf("SetCenterFrequency after Close = %v, want hardware error", err)
	}
}

func TestConfigure_MissingTool(t *testing.T) {
	s := &SDR{Command: filepath.Join(t.TempDir(), "missing")}
	if err := s.Configure(2400000, sdr.Gain{Auto: true}); !sdr.IsHardwareError(err) {
		t.Errorf("Configure() = %v, want hardware error", err)
	}
}
