package playback

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hb9tf/spiritbox/demod"
)

const PaceName = "none"

// Pace discards audio but blocks for as long as a device would need to play
// it, which keeps headless scans running in real time.
type Pace struct {
	// Speed divides the playback time, 0 or 1 is real time.
	Speed float64

	played atomic.Int64
}

func (p *Pace) Name() string {
	return PaceName
}

func (p *Pace) Play(ctx context.Context, frame *demod.AudioFrame, _ Options) error {
	d := frame.Duration()
	if p.Speed > 1 {
		d = time.Duration(float64(d) / p.Speed)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	p.played.Add(1)
	return nil
}

// Played returns the number of frames played so far.
func (p *Pace) Played() int64 {
	return p.played.Load()
}

func (p *Pace) Close() error {
	return nil
}
