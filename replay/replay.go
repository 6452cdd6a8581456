// Package replay implements a front end that plays back an rfcap IQ capture
// instead of talking to hardware. The capture is looped when it runs out.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/golang/glog"
	"hz.tools/rf"
	"hz.tools/rfcap"
	hzsdr "hz.tools/sdr"
	"hz.tools/sdr/stream"

	"github.com/hb9tf/spiritbox/sdr"
)

const SourceName = "replay"

type SDR struct {
	// Path of the rfcap file to replay.
	Path string

	file       *os.File
	reader     hzsdr.Reader
	sampleRate uint
	center     rf.Hz
}

func (s *SDR) Name() string {
	return SourceName
}

// TunerRange accepts any frequency; the capture is not retuned.
func (s *SDR) TunerRange() (rf.Hz, rf.Hz) {
	return 0, 6000 * rf.MHz
}

// Configure opens the capture. A sample rate different from the one recorded
// in the capture is rejected because the samples cannot be resampled here.
func (s *SDR) Configure(sampleRate uint, gain sdr.Gain) error {
	if err := s.open(); err != nil {
		return s.hwErr("configure", err)
	}
	if sampleRate != 0 && sampleRate != s.sampleRate {
		return s.hwErr("configure", fmt.Errorf("capture %q was recorded at %d samples/s, not %d", s.Path, s.sampleRate, sampleRate))
	}
	glog.Infof("replaying %q at %d samples/s (gain %s ignored)", s.Path, s.sampleRate, gain)
	return nil
}

func (s *SDR) SetCenterFrequency(freq rf.Hz) error {
	s.center = freq
	return nil
}

func (s *SDR) ReadBlock(ctx context.Context, blockCount int) (*sdr.SampleBlock, error) {
	if s.reader == nil {
		return nil, s.hwErr("read", errors.New("capture not open"))
	}
	buf := make(hzsdr.SamplesC64, blockCount*sdr.BlockLength)
	captured := time.Now()
	filled := 0
	progressed := true
	for filled < len(buf) {
		if err := ctx.Err(); err != nil {
			return nil, s.hwErr("read", err)
		}
		n, err := hzsdr.ReadFull(s.reader, buf[filled:])
		filled += n
		if n > 0 {
			progressed = true
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, s.hwErr("read", err)
		}
		if !progressed {
			return nil, s.hwErr("read", fmt.Errorf("capture %q holds no samples", s.Path))
		}
		progressed = false
		glog.V(1).Infof("end of capture %q reached, rewinding", s.Path)
		if err := s.rewind(); err != nil {
			return nil, s.hwErr("read", err)
		}
	}
	return &sdr.SampleBlock{
		Samples:         buf,
		SampleRate:      s.sampleRate,
		CenterFrequency: s.center,
		Captured:        captured,
	}, nil
}

func (s *SDR) Close() error {
	s.reader = nil
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *SDR) open() error {
	if s.file != nil {
		return nil
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return err
	}
	s.file = f
	if err := s.load(); err != nil {
		f.Close()
		s.file = nil
		return err
	}
	return nil
}

func (s *SDR) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return s.load()
}

func (s *SDR) load() error {
	reader, _, err := rfcap.Reader(s.file)
	if err != nil {
		return fmt.Errorf("unable to read rfcap header: %w", err)
	}
	reader, err = stream.ConvertReader(reader, hzsdr.SampleFormatC64)
	if err != nil {
		return err
	}
	s.reader = reader
	s.sampleRate = uint(reader.SampleRate())
	return nil
}

func (s *SDR) hwErr(op string, err error) error {
	return &sdr.HardwareError{Device: SourceName, Op: op, Err: err}
}
