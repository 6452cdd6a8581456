package playback

import (
	"context"
	"fmt"

	"github.com/golang/glog"
	"github.com/gordonklaus/portaudio"

	"github.com/hb9tf/spiritbox/demod"
)

const PortAudioName = "portaudio"

// PortAudio plays audio through the default output device using a blocking
// PortAudio stream.
type PortAudio struct {
	initialized bool
	stream      *portaudio.Stream
	buf         []float32
	rate        float64
	blockSize   int
}

func (p *PortAudio) Name() string {
	return PortAudioName
}

func (p *PortAudio) Play(ctx context.Context, frame *demod.AudioFrame, opts Options) error {
	blockSize := opts.BlockSize
	if blockSize <= 0 {
		blockSize = DefaultOptions().BlockSize
	}
	if p.stream == nil || frame.Rate != p.rate || blockSize != p.blockSize {
		if err := p.open(frame.Rate, blockSize, opts); err != nil {
			return err
		}
	}
	for _, chunk := range chunks(frame.Samples, blockSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		// The stream always writes a whole buffer; pad the tail with silence.
		n := copy(p.buf, chunk)
		clear(p.buf[n:])
		if err := p.stream.Write(); err != nil {
			return fmt.Errorf("portaudio write: %w", err)
		}
	}
	return nil
}

func (p *PortAudio) Close() error {
	var err error
	if p.stream != nil {
		if stopErr := p.stream.Stop(); stopErr != nil {
			glog.Warningf("unable to stop portaudio stream: %s", stopErr)
		}
		err = p.stream.Close()
		p.stream = nil
	}
	if p.initialized {
		if termErr := portaudio.Terminate(); err == nil {
			err = termErr
		}
		p.initialized = false
	}
	return err
}

func (p *PortAudio) open(rate float64, blockSize int, opts Options) error {
	if p.stream != nil {
		p.stream.Stop()
		p.stream.Close()
		p.stream = nil
	}
	if !p.initialized {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio init: %w", err)
		}
		p.initialized = true
	}
	host, err := portaudio.DefaultHostApi()
	if err != nil {
		return fmt.Errorf("portaudio host: %w", err)
	}
	if host.DefaultOutputDevice == nil {
		return fmt.Errorf("portaudio host %q has no output device", host.Name)
	}
	params := portaudio.LowLatencyParameters(nil, host.DefaultOutputDevice)
	params.Input.Channels = 0
	params.Output.Channels = 1
	params.SampleRate = rate
	params.FramesPerBuffer = blockSize
	if opts.Latency > 0 {
		params.Output.Latency = opts.Latency
	}

	p.buf = make([]float32, blockSize)
	stream, err := portaudio.OpenStream(params, &p.buf)
	if err != nil {
		return fmt.Errorf("portaudio open: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("portaudio start: %w", err)
	}
	glog.Infof("opened portaudio stream on %q at %.0f Hz", host.DefaultOutputDevice.Name, rate)
	p.stream = stream
	p.rate = rate
	p.blockSize = blockSize
	return nil
}
