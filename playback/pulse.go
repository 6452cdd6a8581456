package playback

import (
	"context"
	"io"

	"github.com/golang/glog"
	"hz.tools/pulseaudio"

	"github.com/hb9tf/spiritbox/demod"
)

const PulseName = "pulse"

type pulseWriter interface {
	Write([]float32) error
}

// Pulse plays audio through a PulseAudio server. The stream is reopened when
// the frame rate changes.
type Pulse struct {
	AppName string

	writer pulseWriter
	rate   uint
}

func (p *Pulse) Name() string {
	return PulseName
}

func (p *Pulse) Play(ctx context.Context, frame *demod.AudioFrame, opts Options) error {
	rate := uint(frame.Rate + 0.5)
	if p.writer == nil || rate != p.rate {
		if err := p.open(rate); err != nil {
			return err
		}
	}
	for _, chunk := range chunks(frame.Samples, opts.BlockSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.writer.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pulse) Close() error {
	w := p.writer
	p.writer = nil
	if c, ok := w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (p *Pulse) open(rate uint) error {
	if err := p.Close(); err != nil {
		glog.Warningf("unable to close pulseaudio stream: %s", err)
	}
	appName := p.AppName
	if appName == "" {
		appName = "spiritbox"
	}
	w, err := pulseaudio.NewWriter(pulseaudio.Config{
		Format:     pulseaudio.SampleFormatFloat32NE,
		Rate:       rate,
		AppName:    appName,
		StreamName: "scan",
		Channels:   1,
	})
	if err != nil {
		return err
	}
	glog.Infof("opened pulseaudio stream at %d Hz", rate)
	p.writer = w
	p.rate = rate
	return nil
}
