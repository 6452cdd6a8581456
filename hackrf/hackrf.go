package hackrf

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
	SourceName  = "hackrf"
	captureTool = "hackrf_transfer"

	defaultLNAGain = 16 // RX LNA (IF) gain, 0-40dB, 8dB steps
	defaultVGAGain = 20 // RX VGA (baseband) gain, 0-62dB, 2dB steps
	maxVGAGain     = 62
)

var (
	minFreq = 1 * rf.MHz
	maxFreq = 6000 * rf.MHz
)

// SDR captures from a HackRF One through hackrf_transfer. Every block is a
// separate invocation receiving into stdout.
type SDR struct {
	// Command overrides the capture tool (defaults to hackrf_transfer in $PATH).
	Command string
	// Serial selects a specific board, empty picks the first one.
	Serial string
	// Amp enables the RX RF amplifier.
	Amp bool

	sampleRate uint
	lna        int
	vga        int
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
	s.lna, s.vga = gains(gain)
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
	amp := "0"
	if s.Amp {
		amp = "1"
	}
	args := []string{
		"-r", "-", // receive into stdout
		"-f", fmt.Sprintf("%d", int64(s.center)),
		"-s", fmt.Sprintf("%d", s.sampleRate),
		"-n", fmt.Sprintf("%d", n),
		"-a", amp,
		"-l", fmt.Sprintf("%d", s.lna),
		"-g", fmt.Sprintf("%d", s.vga),
	}
	if s.Serial != "" {
		args = append(args, "-d", s.Serial)
	}
	cmd := exec.CommandContext(ctx, s.command(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, s.hwErr("read", err)
	}
	glog.V(2).Infof("running HackRF capture: %q", cmd)
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

// gains maps a gain setting to the LNA and VGA stages. The HackRF has no AGC,
// so "auto" falls back to the usual defaults.
func gains(g sdr.Gain) (int, int) {
	if g.Auto {
		return defaultLNAGain, defaultVGAGain
	}
	vga := int(g.DB) &^ 1 // 2dB steps
	if vga > maxVGAGain {
		vga = maxVGAGain
	}
	return defaultLNAGain, vga
}

// decodeIQ converts interleaved signed 8 bit IQ pairs to complex samples.
func decodeIQ(raw []byte) hzsdr.SamplesC64 {
	samples := make(hzsdr.SamplesC64, len(raw)/2)
	for i := range samples {
		re := float32(int8(raw[2*i])) / 128
		im := float32(int8(raw[2*i+1])) / 128
		samples[i] = complex(re, im)
	}
	return samples
}
