package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/golang/glog"
	"hz.tools/rf"

	"github.com/hb9tf/spiritbox/buffer"
	"github.com/hb9tf/spiritbox/demod"
	"github.com/hb9tf/spiritbox/metrics"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultQueueSize = 8
)

// Result describes one recognizer call.
type Result struct {
	Frequency rf.Hz
	Captured  time.Time
	Text      string
	// Err is nil for recognized speech and ErrNoMatch for silence.
	Err      error
	Duration time.Duration
}

type BridgeOptions struct {
	// Timeout bounds a single recognizer call.
	Timeout time.Duration
	// QueueSize is the number of frames waiting for the recognizer before new
	// frames are dropped.
	QueueSize int
	Metrics   *metrics.Metrics
}

// Bridge hands audio frames to a Recognizer and appends what it hears to a
// transcript buffer. Recognizer failures are logged and never returned.
//
// Frames passed to Submit are recognized by a single worker in submission
// order so the transcript follows the order of the frames.
type Bridge struct {
	rec     Recognizer
	text    *buffer.Text
	timeout time.Duration
	metrics *metrics.Metrics

	mu       sync.Mutex
	queue    chan *demod.AudioFrame
	started  bool
	closed   bool
	notify   func(Result)
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	closeErr error
}

func NewBridge(rec Recognizer, text *buffer.Text, opts BridgeOptions) *Bridge {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	return &Bridge{
		rec:     rec,
		text:    text,
		timeout: opts.Timeout,
		metrics: opts.Metrics,
		queue:   make(chan *demod.AudioFrame, opts.QueueSize),
	}
}

// Notify registers fn to be called with the outcome of every recognizer call.
func (b *Bridge) Notify(fn func(Result)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notify = fn
}

// Start launches the worker serving Submit.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started || b.closed {
		return
	}
	b.started = true
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.wg.Add(1)
	go b.work(ctx)
}

// Submit queues frame for recognition. It never blocks: when the queue is full
// or the bridge is closed the frame is dropped and false is returned.
func (b *Bridge) Submit(frame *demod.AudioFrame) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	select {
	case b.queue <- frame:
		return true
	default:
		glog.Warningf("transcription queue full, dropping audio from %v", frame.Frequency)
		b.metrics.RecordRecognition(context.Background(), b.rec.Name(), metrics.StatusDropped, 0)
		return false
	}
}

// Transcribe recognizes frame synchronously, appends the text to the
// transcript and returns it. It returns "" when nothing was recognized.
func (b *Bridge) Transcribe(ctx context.Context, frame *demod.AudioFrame) string {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	text, err := b.recognize(ctx, frame)
	if err == nil && text == "" {
		err = ErrNoMatch
	}
	res := Result{
		Frequency: frame.Frequency,
		Captured:  frame.Captured,
		Text:      text,
		Err:       err,
		Duration:  time.Since(start),
	}

	status := metrics.StatusOK
	switch {
	case errors.Is(err, ErrNoMatch):
		status = metrics.StatusNoMatch
		res.Text = ""
		glog.V(2).Infof("no speech on %v", frame.Frequency)
	case err != nil:
		status = metrics.StatusError
		res.Text = ""
		glog.Warningf("%s recognizer failed on %v: %s", b.rec.Name(), frame.Frequency, err)
	default:
		glog.Infof("heard on %v: %q", frame.Frequency, text)
		b.text.Append(text)
	}
	b.metrics.RecordRecognition(ctx, b.rec.Name(), status, res.Duration)

	b.mu.Lock()
	notify := b.notify
	b.mu.Unlock()
	if notify != nil {
		notify(res)
	}
	return res.Text
}

// recognize runs the recognizer on frame, turning a panic inside the engine
// into an error.
func (b *Bridge) recognize(ctx context.Context, frame *demod.AudioFrame) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			glog.Errorf("%s recognizer panicked on %v: %v\n%s", b.rec.Name(), frame.Frequency, p, debug.Stack())
			text, err = "", fmt.Errorf("recognizer panicked: %v", p)
		}
	}()
	return b.rec.Recognize(ctx, EncodePCM16(frame), int(frame.Rate+0.5), BytesPerSample)
}

func (b *Bridge) work(ctx context.Context) {
	defer b.wg.Done()
	for frame := range b.queue {
		b.Transcribe(ctx, frame)
	}
}

// Close stops accepting frames, waits for the queued ones to be recognized and
// releases the recognizer. It is safe to call more than once.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return b.closeErr
	}
	b.closed = true
	close(b.queue)
	started := b.started
	b.mu.Unlock()

	if started {
		b.wg.Wait()
		b.cancel()
	}
	var err error
	if c, ok := b.rec.(io.Closer); ok {
		err = c.Close()
	}
	b.mu.Lock()
	b.closeErr = err
	b.mu.Unlock()
	return err
}
