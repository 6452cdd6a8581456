// Package scan drives the radio across a band: tune, capture, demodulate,
// play and transcribe, one frequency per iteration.
package scan

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"hz.tools/rf"

	"github.com/hb9tf/spiritbox/buffer"
	"github.com/hb9tf/spiritbox/demod"
	"github.com/hb9tf/spiritbox/filter"
	"github.com/hb9tf/spiritbox/metrics"
	"github.com/hb9tf/spiritbox/playback"
	"github.com/hb9tf/spiritbox/sdr"
	"github.com/hb9tf/spiritbox/transcribe"
)

var (
	ErrClosed  = errors.New("scanner is closed")
	ErrRunning = errors.New("scan already running")
)

type State int32

const (
	Idle State = iota
	Scanning
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{Idle, Scanning, Stopped} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

type Config struct {
	SampleRate uint
	Gain       sdr.Gain
	// BlockCount is the number of sdr.BlockLength sized blocks read per
	// iteration.
	BlockCount int
	Demod      demod.Params
	Play       playback.Options
	Transcribe transcribe.BridgeOptions

	// ReadTimeout and PlayTimeout bound the blocking calls of one iteration.
	ReadTimeout time.Duration
	PlayTimeout time.Duration

	// SampleLimit and EventLimit cap the observation buffers, dropping the
	// oldest entries. 0 keeps everything until it is drained.
	SampleLimit int
	EventLimit  int

	Metrics *metrics.Metrics
}

func DefaultConfig() Config {
	return Config{
		SampleRate:  2400000,
		Gain:        sdr.Gain{Auto: true},
		BlockCount:  1024,
		Demod:       demod.DefaultParams(),
		Play:        playback.DefaultOptions(),
		ReadTimeout: 10 * time.Second,
		PlayTimeout: 10 * time.Second,
	}
}

// run is one scan session started by Start.
type run struct {
	id   string
	rng  Range
	stop atomic.Bool
	done chan struct{}
	// tuned is the frequency Start left the radio on.
	tuned rf.Hz
}

// Controller owns the radio, the audio sink and the transcription bridge and
// runs the scanning loop in its own goroutine.
//
// All methods are safe for concurrent use. The drain methods are meant for a
// single consumer.
type Controller struct {
	cfg     Config
	sink    playback.Sink
	bridge  *transcribe.Bridge
	metrics *metrics.Metrics

	// radioMu serialises every call into the radio.
	radioMu     sync.Mutex
	radio       sdr.Radio
	radioClosed atomic.Bool
	low, high   rf.Hz

	mu      sync.Mutex
	state   State
	cur     *run
	manual  rf.Hz
	hasMan  bool
	current rf.Hz
	err     error
	closed  bool

	closeOnce sync.Once
	closeErr  error

	text    *buffer.Text
	samples *buffer.Buffer[*demod.AudioFrame]
	events  *buffer.Buffer[Event]
}

// New configures radio and returns an idle controller. rec may be nil to run
// without speech recognition. Configuration failures are returned as
// *sdr.HardwareError.
func New(radio sdr.Radio, sink playback.Sink, rec transcribe.Recognizer, cfg Config) (*Controller, error) {
	if cfg.BlockCount <= 0 {
		return nil, fmt.Errorf("block count must be positive, got %d", cfg.BlockCount)
	}
	if err := demod.Validate(cfg.Demod, cfg.SampleRate); err != nil {
		return nil, fmt.Errorf("invalid demodulator settings: %w", err)
	}
	if err := radio.Configure(cfg.SampleRate, cfg.Gain); err != nil {
		if !sdr.IsHardwareError(err) {
			err = &sdr.HardwareError{Device: radio.Name(), Op: "configure", Err: err}
		}
		return nil, err
	}
	low, high := radio.TunerRange()
	c := &Controller{
		cfg:     cfg,
		sink:    sink,
		metrics: cfg.Metrics,
		radio:   radio,
		low:     low,
		high:    high,
		state:   Idle,
		text:    buffer.NewText(),
		samples: buffer.New[*demod.AudioFrame](cfg.SampleLimit),
		events:  buffer.New[Event](cfg.EventLimit),
	}
	if rec != nil {
		opts := cfg.Transcribe
		opts.Metrics = cfg.Metrics
		c.bridge = transcribe.NewBridge(rec, c.text, opts)
		c.bridge.Notify(c.recognized)
		c.bridge.Start()
	}
	glog.Infof("%s radio configured at %d samples/s, gain %s, tuner range %v - %v", radio.Name(), cfg.SampleRate, cfg.Gain, low, high)
	return c, nil
}

// Start begins sweeping rng. The radio is tuned to the first frequency before
// Start returns so that hardware failures reach the caller. ctx only bounds
// that first tune; the scan keeps running until Stop, Close or the end of the
// range.
func (c *Controller) Start(ctx context.Context, rng Range) error {
	if err := rng.Validate(); err != nil {
		return err
	}
	for _, f := range []rf.Hz{rng.Start, rng.End} {
		if err := c.checkFrequency(f); err != nil {
			return err
		}
	}

	if c.radioClosed.Load() {
		return fmt.Errorf("radio was released after a failure: %w", ErrClosed)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == Scanning {
		c.mu.Unlock()
		return ErrRunning
	}
	prev := c.cur
	r := &run{id: uuid.NewString(), rng: rng, done: make(chan struct{})}
	c.cur = r
	c.state = Scanning
	c.err = nil
	c.mu.Unlock()

	// A stopped loop may still be finishing its last blocking call.
	if prev != nil {
		select {
		case <-prev.done:
		case <-ctx.Done():
			c.abort(r)
			return ctx.Err()
		}
	}

	first, _ := c.frequency(rng, 0)
	if err := c.tune(ctx, first); err != nil {
		c.abort(r)
		if sdr.IsHardwareError(err) {
			c.fail(r, first, err)
		}
		return err
	}
	r.tuned = first

	glog.Infof("scan %s started: %v - %v step %v", r.id, rng.Start, rng.End, rng.Step)
	c.emit(Event{Session: r.id, Kind: EventStarted, Frequency: first})
	go c.loop(r)
	return nil
}

// Stop asks the scanning loop to exit before its next step. Calls in flight
// complete first. Stop is idempotent and may be called before Start.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil {
		c.cur.stop.Store(true)
	}
	if c.state == Scanning {
		c.state = Stopped
	}
}

// Wait blocks until the current scan has ended and returns the hardware error
// that ended it, if any.
func (c *Controller) Wait() error {
	c.mu.Lock()
	r := c.cur
	c.mu.Unlock()
	if r != nil {
		<-r.done
	}
	return c.Err()
}

// Err returns the error that ended the last scan.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close stops the scan, waits for the loop to exit and releases the
// transcription bridge, the audio sink and the radio.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.Stop()
		c.mu.Lock()
		c.closed = true
		r := c.cur
		c.mu.Unlock()
		if r != nil {
			<-r.done
		}

		var errs []error
		if c.bridge != nil {
			if err := c.bridge.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing recognizer: %w", err))
			}
		}
		if err := c.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s audio sink: %w", c.sink.Name(), err))
		}
		if err := c.closeRadio(); err != nil {
			errs = append(errs, err)
		}
		c.closeErr = errors.Join(errs...)
		glog.Infof("scanner closed")
	})
	return c.closeErr
}

// SetManualFrequency makes every following iteration listen on freq instead
// of the swept frequency. An unreachable freq is rejected with
// *sdr.InvalidFrequencyError and changes nothing.
func (c *Controller) SetManualFrequency(freq rf.Hz) error {
	if err := c.checkFrequency(freq); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.manual = freq
	c.hasMan = true
	glog.Infof("manual frequency set to %v", freq)
	return nil
}

// ClearManualFrequency resumes the sweep where it was left.
func (c *Controller) ClearManualFrequency() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasMan {
		glog.Infof("manual frequency %v cleared", c.manual)
	}
	c.hasMan = false
}

// ManualFrequency returns the override and whether one is set.
func (c *Controller) ManualFrequency() (rf.Hz, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manual, c.hasMan
}

// CurrentFrequency returns the station frequency being received, or the
// override when one is set.
func (c *Controller) CurrentFrequency() rf.Hz {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasMan {
		return c.manual
	}
	return c.current
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the id of the current or last scan.
func (c *Controller) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return ""
	}
	return c.cur.id
}

func (c *Controller) DrainText() string {
	return c.text.Drain()
}

func (c *Controller) DrainSamples() []*demod.AudioFrame {
	return c.samples.Drain()
}

func (c *Controller) DrainEvents() []Event {
	return c.events.Drain()
}

// TunerRange returns the station frequencies the radio can reach.
func (c *Controller) TunerRange() (rf.Hz, rf.Hz) {
	return c.low + c.cfg.Demod.Offset, c.high + c.cfg.Demod.Offset
}

func (c *Controller) loop(r *run) {
	defer close(r.done)
	ctx := context.Background()
	defer func() {
		if p := recover(); p != nil {
			glog.Errorf("scan %s panicked: %v\n%s", r.id, p, debug.Stack())
			c.metrics.RecordSkip(ctx, metrics.ReasonPanic)
			c.finish(r, fmt.Errorf("scan loop panicked: %v", p))
		}
	}()

	k := 0
	for retune := false; ; retune = true {
		if r.stop.Load() {
			c.finish(r, nil)
			return
		}
		freq, manual := c.frequency(r.rng, k)
		if err := c.iterate(ctx, r, freq, retune || freq != r.tuned); err != nil {
			c.fail(r, freq, err)
			return
		}
		if manual {
			continue
		}
		k++
		if !r.rng.Contains(k) {
			glog.Infof("scan %s reached the end of the range at %v", r.id, freq)
			c.finish(r, nil)
			return
		}
	}
}

// iterate runs one step of the scan at freq, tuning first unless the radio is
// known to be there already. Only hardware failures are returned; everything
// else skips the step.
func (c *Controller) iterate(ctx context.Context, r *run, freq rf.Hz, retune bool) error {
	if retune {
		if err := c.tune(ctx, freq); err != nil {
			return err
		}
	}
	if r.stop.Load() {
		return nil
	}
	block, err := c.read(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	frame, err := demod.Demodulate(block, c.cfg.Demod)
	if err != nil {
		var designErr *filter.DesignError
		reason := "demodulation"
		if errors.As(err, &designErr) {
			reason = metrics.ReasonDesign
		}
		glog.Warningf("skipping %v: %s", freq, err)
		c.metrics.RecordSkip(ctx, reason)
		c.emit(Event{Session: r.id, Kind: EventSkipped, Frequency: freq, Err: err.Error()})
		return nil
	}
	level := block.Level()
	c.metrics.RecordIteration(ctx, float64(freq), time.Since(start))
	glog.V(2).Infof("%v: %d audio samples at %.0f Hz, level %.1f dBFS", freq, len(frame.Samples), frame.Rate, level)

	c.samples.Append(frame)
	c.emit(Event{Session: r.id, Kind: EventTuned, Frequency: freq, Level: level})
	if r.stop.Load() {
		return nil
	}

	playCtx, cancel := context.WithTimeout(ctx, c.cfg.PlayTimeout)
	err = c.sink.Play(playCtx, frame, c.cfg.Play)
	cancel()
	if err != nil {
		glog.Warningf("%s audio sink failed on %v: %s", c.sink.Name(), freq, err)
		c.metrics.RecordSkip(ctx, metrics.ReasonPlayback)
		c.emit(Event{Session: r.id, Kind: EventSkipped, Frequency: freq, Err: err.Error()})
		return nil
	}
	if c.bridge != nil {
		c.bridge.Submit(frame)
	}
	return nil
}

// frequency picks the frequency of iteration k and reports whether it is the
// manual override.
func (c *Controller) frequency(rng Range, k int) (rf.Hz, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasMan {
		return c.manual, true
	}
	return rng.Frequency(k), false
}

func (c *Controller) tune(ctx context.Context, freq rf.Hz) error {
	c.radioMu.Lock()
	defer c.radioMu.Unlock()
	if c.radioClosed.Load() {
		return &sdr.HardwareError{Device: c.radio.Name(), Op: "tune", Err: ErrClosed}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.radio.SetCenterFrequency(freq - c.cfg.Demod.Offset); err != nil {
		return err
	}
	c.mu.Lock()
	c.current = freq
	c.mu.Unlock()
	return nil
}

func (c *Controller) read(ctx context.Context) (*sdr.SampleBlock, error) {
	c.radioMu.Lock()
	defer c.radioMu.Unlock()
	if c.radioClosed.Load() {
		return nil, &sdr.HardwareError{Device: c.radio.Name(), Op: "read", Err: ErrClosed}
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReadTimeout)
	defer cancel()
	block, err := c.radio.ReadBlock(ctx, c.cfg.BlockCount)
	if err != nil {
		if !sdr.IsHardwareError(err) {
			err = &sdr.HardwareError{Device: c.radio.Name(), Op: "read", Err: err}
		}
		return nil, err
	}
	return block, nil
}

func (c *Controller) closeRadio() error {
	c.radioMu.Lock()
	defer c.radioMu.Unlock()
	if c.radioClosed.Load() {
		return nil
	}
	c.radioClosed.Store(true)
	if err := c.radio.Close(); err != nil {
		return fmt.Errorf("closing %s radio: %w", c.radio.Name(), err)
	}
	return nil
}

// checkFrequency validates a station frequency against the tuner range,
// taking the offset into account.
func (c *Controller) checkFrequency(freq rf.Hz) error {
	low, high := c.TunerRange()
	if freq < low || freq > high {
		return &sdr.InvalidFrequencyError{Frequency: freq, Low: low, High: high}
	}
	return nil
}

// fail ends r after a hardware failure and releases the radio.
func (c *Controller) fail(r *run, freq rf.Hz, err error) {
	glog.Errorf("scan %s stopped by %s failure at %v: %s", r.id, c.radio.Name(), freq, err)
	c.metrics.RecordHardwareError(context.Background(), c.radio.Name())
	c.emit(Event{Session: r.id, Kind: EventHardwareError, Frequency: freq, Err: err.Error()})
	if closeErr := c.closeRadio(); closeErr != nil {
		glog.Warningf("%s", closeErr)
	}
	c.finish(r, err)
}

// finish records the end of r.
func (c *Controller) finish(r *run, err error) {
	c.mu.Lock()
	if c.cur == r {
		c.state = Stopped
		c.err = err
	}
	freq := c.current
	c.mu.Unlock()
	r.stop.Store(true)
	c.emit(Event{Session: r.id, Kind: EventStopped, Frequency: freq})
	glog.Infof("scan %s stopped", r.id)
}

// abort undoes a Start that failed before its loop was launched.
func (c *Controller) abort(r *run) {
	close(r.done)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == r {
		c.state = Stopped
	}
}

func (c *Controller) recognized(res transcribe.Result) {
	if errors.Is(res.Err, transcribe.ErrNoMatch) {
		return
	}
	ev := Event{Session: c.Session(), Kind: EventRecognition, Frequency: res.Frequency, Text: res.Text}
	if res.Err != nil {
		ev.Err = res.Err.Error()
	}
	c.emit(ev)
}

func (c *Controller) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	c.events.Append(ev)
}
