// Package display polls the scanner at a fixed frame rate and publishes
// snapshots of its state to any number of subscribers.
package display

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/golang/glog"
	"hz.tools/rf"

	"github.com/hb9tf/spiritbox/demod"
	"github.com/hb9tf/spiritbox/scan"
)

const (
	DefaultFrameRate = 10
	// maxTranscript bounds the transcript kept for Latest.
	maxTranscript = 4096
	// maxSamples bounds the audio samples carried in one snapshot.
	maxSamples = 2048
)

// Source is the part of the scan controller the display reads.
type Source interface {
	State() scan.State
	CurrentFrequency() rf.Hz
	ManualFrequency() (rf.Hz, bool)
	Session() string
	DrainText() string
	DrainSamples() []*demod.AudioFrame
	DrainEvents() []scan.Event
}

// Snapshot is what the display shows for one frame.
type Snapshot struct {
	Time      time.Time  `json:"time"`
	Session   string     `json:"session"`
	State     scan.State `json:"state"`
	Frequency rf.Hz      `json:"frequency"`
	Manual    bool       `json:"manual"`
	// Text is the transcript recognized since the previous snapshot.
	Text string `json:"text,omitempty"`
	// Transcript is the accumulated transcript, trimmed at the front.
	Transcript string `json:"transcript,omitempty"`
	// Samples is a decimated view of the latest audio for a scope trace.
	Samples    []float32    `json:"samples,omitempty"`
	SampleRate float64      `json:"sample_rate,omitempty"`
	Events     []scan.Event `json:"events,omitempty"`
}

// Poller is the single consumer of the scanner's observation buffers.
type Poller struct {
	src       Source
	frameRate int
	exports   chan<- scan.Event

	mu         sync.Mutex
	latest     Snapshot
	transcript string
	subs       map[chan Snapshot]struct{}
}

// NewPoller creates a poller reading src frameRate times per second. Every
// drained event is also sent to exports when it is not nil.
func NewPoller(src Source, frameRate int, exports chan<- scan.Event) *Poller {
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	return &Poller{
		src:       src,
		frameRate: frameRate,
		exports:   exports,
		subs:      make(map[chan Snapshot]struct{}),
	}
}

// Run polls until ctx is cancelled. It closes exports on return.
func (p *Poller) Run(ctx context.Context) error {
	if p.exports != nil {
		defer close(p.exports)
	}
	ticker := time.NewTicker(time.Second / time.Duration(p.frameRate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Pick up what happened since the last frame.
			final, cancel := context.WithTimeout(context.Background(), time.Second)
			p.Poll(final)
			cancel()
			return nil
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll drains the source once, publishes the snapshot and returns it.
func (p *Poller) Poll(ctx context.Context) Snapshot {
	snap := Snapshot{
		Time:    time.Now(),
		Session: p.src.Session(),
		State:   p.src.State(),
		Text:    p.src.DrainText(),
		Events:  p.src.DrainEvents(),
	}
	snap.Frequency = p.src.CurrentFrequency()
	_, snap.Manual = p.src.ManualFrequency()
	if frames := p.src.DrainSamples(); len(frames) > 0 {
		last := frames[len(frames)-1]
		snap.Samples = thin(last.Samples, maxSamples)
		snap.SampleRate = last.Rate * float64(len(snap.Samples)) / float64(max(len(last.Samples), 1))
	}

	p.mu.Lock()
	if snap.Text != "" {
		p.transcript = strings.TrimSpace(p.transcript + " " + snap.Text)
		if len(p.transcript) > maxTranscript {
			cut := len(p.transcript) - maxTranscript
			for cut < len(p.transcript) && !utf8.RuneStart(p.transcript[cut]) {
				cut++
			}
			p.transcript = p.transcript[cut:]
		}
	}
	snap.Transcript = p.transcript
	if snap.Samples == nil {
		snap.Samples = p.latest.Samples
		snap.SampleRate = p.latest.SampleRate
	}
	p.latest = snap
	subs := make([]chan Snapshot, 0, len(p.subs))
	for ch := range p.subs {
		subs = append(subs, ch)
	}
	p.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
			glog.V(2).Infof("display subscriber is slow, dropping frame")
		}
	}
	if p.exports != nil {
		for _, ev := range snap.Events {
			select {
			case p.exports <- ev:
			case <-ctx.Done():
				return snap
			}
		}
	}
	return snap
}

// Latest returns the most recent snapshot.
func (p *Poller) Latest() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

// Subscribe returns a channel receiving every snapshot and a function to
// cancel the subscription. Snapshots are dropped while the subscriber is busy.
func (p *Poller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, ch)
			p.mu.Unlock()
		})
	}
}

// thin keeps at most n evenly spaced samples.
func thin(samples []float32, n int) []float32 {
	if len(samples) <= n {
		return append([]float32(nil), samples...)
	}
	out := make([]float32, n)
	step := float64(len(samples)) / float64(n)
	for i := range out {
		out[i] = samples[int(float64(i)*step)]
	}
	return out
}
