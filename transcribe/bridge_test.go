package transcribe

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"hz.tools/rf"

	"github.com/hb9tf/spiritbox/buffer"
	"github.com/hb9tf/spiritbox/demod"
)

// fakeRecognizer answers with the text registered for the first sample of the
// PCM it gets, after an optional delay.
type fakeRecognizer struct {
	mu      sync.Mutex
	answers map[int16]string
	delays  map[int16]time.Duration
	err     error
	panics  map[int16]bool
	block   chan struct{}
	calls   int
	closed  bool
}

func (f *fakeRecognizer) Name() string { return "fake" }

func (f *fakeRecognizer) Recognize(ctx context.Context, pcm []byte, sampleRate, bytesPerSample int) (string, error) {
	key := int16(binary.LittleEndian.Uint16(pcm))
	f.mu.Lock()
	f.calls++
	delay := f.delays[key]
	panics := f.panics[key]
	f.mu.Unlock()

	if panics {
		panic("decoder state corrupted")
	}
	if f.block != nil {
		<-f.block
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if f.err != nil {
		return "", f.err
	}
	return f.answers[key], nil
}

func (f *fakeRecognizer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func frame(key int16) *demod.AudioFrame {
	return &demod.AudioFrame{
		Samples:   []float32{float32(key), 0, 0, 0},
		Rate:      50000,
		Frequency: 88 * rf.MHz,
	}
}

func TestBridge_KeepsFrameOrder(t *testing.T) {
	rec := &fakeRecognizer{
		answers: map[int16]string{1: "one", 2: "", 3: "three", 4: "four"},
		delays:  map[int16]time.Duration{1: 30 * time.Millisecond, 3: 10 * time.Millisecond},
	}
	text := buffer.NewText()
	b := NewBridge(rec, text, BridgeOptions{QueueSize: 4})

	var mu sync.Mutex
	var results []Result
	b.Notify(func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, r)
	})
	b.Start()
	for key := int16(1); key <= 4; key++ {
		if !b.Submit(frame(key)) {
			t.Fatalf("Submit(%d) dropped the frame", key)
		}
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got, want := text.Drain(), "one three four"; got != want {
		t.Errorf("transcript = %q, want %q", got, want)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	if !errors.Is(results[1].Err, ErrNoMatch) {
		t.Errorf("second result error = %v, want ErrNoMatch", results[1].Err)
	}
	if !rec.closed {
		t.Error("recognizer was not closed")
	}
}

func TestBridge_FailuresAreSwallowed(t *testing.T) {
	rec := &fakeRecognizer{err: errors.New("engine crashed")}
	text := buffer.NewText()
	b := NewBridge(rec, text, BridgeOptions{})

	if got := b.Transcribe(context.Background(), frame(1)); got != "" {
		t.Errorf("Transcribe() = %q, want empty", got)
	}
	if got := text.Drain(); got != "" {
		t.Errorf("transcript = %q, want empty", got)
	}
}

func TestBridge_RecognizerPanic(t *testing.T) {
	rec := &fakeRecognizer{
		answers: map[int16]string{1: "one", 3: "three"},
		panics:  map[int16]bool{2: true},
	}
	text := buffer.NewText()
	b := NewBridge(rec, text, BridgeOptions{})

	var mu sync.Mutex
	var results []Result
	b.Notify(func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, r)
	})
	b.Start()
	for key := int16(1); key <= 3; key++ {
		if !b.Submit(frame(key)) {
			t.Fatalf("Submit(%d) dropped the frame", key)
		}
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got, want := text.Drain(), "one three"; got != want {
		t.Errorf("transcript = %q, want %q", got, want)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[1].Err == nil || results[1].Text != "" {
		t.Errorf("panicking call result = %+v, want an error and no text", results[1])
	}
	if got := b.Transcribe(context.Background(), frame(2)); got != "" {
		t.Errorf("Transcribe() after a panic = %q, want empty", got)
	}
}

func TestBridge_DropsWhenFull(t *testing.T) {
	rec := &fakeRecognizer{
		answers: map[int16]string{1: "a", 2: "b", 3: "c"},
		block:   make(chan struct{}),
	}
	b := NewBridge(rec, buffer.NewText(), BridgeOptions{QueueSize: 1})
	b.Start()

	if !b.Submit(frame(1)) {
		t.Fatal("first frame dropped")
	}
	// Wait for the worker to pick up the first frame.
	deadline := time.Now().Add(time.Second)
	for {
		rec.mu.Lock()
		calls := rec.calls
		rec.mu.Unlock()
		if calls == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("worker never called the recognizer")
		}
		time.Sleep(time.Millisecond)
	}
	if !b.Submit(frame(2)) {
		t.Fatal("second frame dropped, want queued")
	}
	if b.Submit(frame(3)) {
		t.Fatal("third frame queued, want dropped")
	}
	close(rec.block)
	b.Close()

	if b.Submit(frame(1)) {
		t.Error("Submit after Close accepted a frame")
	}
}

func TestBridge_Timeout(t *testing.T) {
	rec := &slowRecognizer{}
	b := NewBridge(rec, buffer.NewText(), BridgeOptions{Timeout: 10 * time.Millisecond})

	start := time.Now()
	b.Transcribe(context.Background(), frame(1))
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Transcribe took %v, want it bounded by the timeout", elapsed)
	}
}

type slowRecognizer struct{}

func (slowRecognizer) Name() string { return "slow" }

func (slowRecognizer) Recognize(ctx context.Context, _ []byte, _, _ int) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(5 * time.Second):
		return "too late", nil
	}
}

func TestEncodePCM16(t *testing.T) {
	f := &demod.AudioFrame{Samples: []float32{1, -1, 40000, -10000.4}}
	pcm := EncodePCM16(f)
	want := []int16{1, -1, 32767, -10000}
	if len(pcm) != 2*len(want) {
		t.Fatalf("got %d bytes, want %d", len(pcm), 2*len(want))
	}
	for i, w := range want {
		if got := int16(binary.LittleEndian.Uint16(pcm[2*i:])); got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestResamplePCM16(t *testing.T) {
	in := make([]byte, 2*50000)
	for i := 0; i < 50000; i++ {
		binary.LittleEndian.PutUint16(in[2*i:], uint16(int16(i%100)))
	}
	out := ResamplePCM16(in, 50000, 16000)
	if got, want := len(out)/2, 16000; got != want {
		t.Errorf("got %d samples, want %d", got, want)
	}
	if same := ResamplePCM16(in, 16000, 16000); len(same) != len(in) {
		t.Error("resampling to the same rate changed the length")
	}
}

func TestResamplePCM16_RemovesAliases(t *testing.T) {
	tone := func(freq float64) []byte {
		pcm := make([]byte, 2*50000)
		for i := 0; i < 50000; i++ {
			v := 10000 * math.Sin(2*math.Pi*freq*float64(i)/50000)
			binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(v)))
		}
		return pcm
	}
	// rms skips the filter edges at both ends.
	rms := func(pcm []byte) float64 {
		n := len(pcm) / 2
		var sum float64
		for i := n / 10; i < n-n/10; i++ {
			v := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
			sum += v * v
		}
		return math.Sqrt(sum / float64(n-2*(n/10)))
	}
	want := 10000 / math.Sqrt2

	// 1 kHz is well inside the 8 kHz band kept at 16 kHz.
	if got := rms(ResamplePCM16(tone(1000), 50000, 16000)); math.Abs(got-want)/want > 0.05 {
		t.Errorf("1 kHz tone RMS = %.0f, want ~%.0f", got, want)
	}
	// 12 kHz would fold back to 4 kHz.
	if got := rms(ResamplePCM16(tone(12000), 50000, 16000)); got > want/100 {
		t.Errorf("12 kHz tone RMS after resampling = %.0f, want < %.0f", got, want/100)
	}
}
