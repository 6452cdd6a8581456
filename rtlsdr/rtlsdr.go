package rtlsdr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/golang/glog"
	"hz.tools/rf"
	hzsdr "hz.tools/sdr"

	"github.com/hb9tf/spiritbox/sdr"
)

const (
	SourceName  = "rtlsdr"
	captureTool = "rtl_sdr"
)

// R820T tuner limits.
var (
	minFreq = 24 * rf.MHz
	maxFreq = 1766 * rf.MHz
)

// SDR drives an RTL2832U dongle through the rtl_sdr tool. Every block is
// captured by a separate rtl_sdr invocation which dumps raw IQ to stdout.
type SDR struct {
	// Command overrides the capture tool (defaults to rtl_sdr in $PATH).
	Command string
	// DeviceIndex selects the dongle when more than one is attached.
	DeviceIndex int

	sampleRate uint
	gain       sdr.Gain
	center     rf.Hz
	closed     bool
}

func (s *SDR) Name() string {
	return SourceName
}

func (s *SDR) TunerRange() (rf.Hz, rf.Hz) {
	return minFreq, maxFreq
}

func (s *SDR) Configure(sampleRate uint, gain sdr.Gain) error {
	if s.closed {
		return s.hwErr("configure", errors.New("device is closed"))
	}
	if sampleRate == 0 {
		return s.hwErr("configure", errors.New("sample rate must be positive"))
	}
	if _, err := exec.LookPath(s.command()); err != nil {
		return s.hwErr("configure", err)
	}
	s.sampleRate = sampleRate
	s.gain = gain
	return nil
}

func (s *SDR) SetCenterFrequency(freq rf.Hz) error {
	if s.closed {
		return s.hwErr("tune", errors.New("device is closed"))
	}
	if err := sdr.ValidateFrequency(s, freq); err != nil {
		return err
	}
	s.center = freq
	return nil
}

func (s *SDR) ReadBlock(ctx context.Context, blockCount int) (*sdr.SampleBlock, error) {
	if s.closed {
		return nil, s.hwErr("read", errors.New("device is closed"))
	}
	if s.sampleRate == 0 {
		return nil, s.hwErr("read", errors.New("device not configured"))
	}
	n := blockCount * sdr.BlockLength
	gain := "0" // 0 selects automatic gain in rtl_sdr
	if !s.gain.Auto {
		gain = fmt.Sprintf("%.1f", s.gain.DB)
	}
	args := []string{
		"-d", fmt.Sprintf("%d", s.DeviceIndex),
		"-f", fmt.Sprintf("%d", int64(s.center)),
		"-s", fmt.Sprintf("%d", s.sampleRate),
		"-g", gain,
		"-n", fmt.Sprintf("%d", n),
		"-", // dumps samples to stdout
	}
	cmd := exec.CommandContext(ctx, s.command(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, s.hwErr("read", err)
	}
	glog.V(2).Infof("running RTL SDR capture: %q", cmd)
	captured := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, s.hwErr("read", err)
	}

	raw := make([]byte, 2*n)
	_, readErr := io.ReadFull(out, raw)
	waitErr := cmd.Wait()
	if readErr != nil {
		return nil, s.hwErr("read", fmt.Errorf("%w (%s)", readErr, strings.TrimSpace(stderr.String())))
	}
	if waitErr != nil {
		return nil, s.hwErr("read", waitErr)
	}

	return &sdr.SampleBlock{
		Samples:         decodeIQ(raw),
		SampleRate:      s.sampleRate,
		CenterFrequency: s.center,
		Captured:        captured,
	}, nil
}

func (s *SDR) Close() error {
	s.closed = true
	return nil
}

func (s *SDR) command() string {
	if s.Command != "" {
		return s.Command
	}
	return captureTool
}

func (s *SDR) hwErr(op string, err error) error {
	return &sdr.HardwareError{Device: SourceName, Op: op, Err: err}
}

// decodeIQ converts interleaved unsigned 8 bit IQ pairs to complex samples in
// the range [-1, 1].
func decodeIQ(raw []byte) hzsdr.SamplesC64 {
	samples := make(hzsdr.SamplesC64, len(raw)/2)
	for i := range samples {
		re := (float32(raw[2*i]) - 127.5) / 127.5
		im := (float32(raw[2*i+1]) - 127.5) / 127.5
		samples[i] = complex(re, im)
	}
	return samples
}
