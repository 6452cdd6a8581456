package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hb9tf/spiritbox/demod"
)

func TestPace_BlocksForFrameDuration(t *testing.T) {
	p := &Pace{}
	frame := &demod.AudioFrame{Samples: make([]float32, 2500), Rate: 50000}

	start := time.Now()
	if err := p.Play(context.Background(), frame, DefaultOptions()); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Play returned after %v, want at least 50ms", elapsed)
	}
	if got := p.Played(); got != 1 {
		t.Errorf("Played() = %d, want 1", got)
	}
}

func TestPace_Cancelled(t *testing.T) {
	p := &Pace{}
	frame := &demod.AudioFrame{Samples: make([]float32, 50000), Rate: 50000}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Play(ctx, frame, DefaultOptions())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Play() = %v, want %v", err, context.DeadlineExceeded)
	}
	if got := p.Played(); got != 0 {
		t.Errorf("Played() = %d, want 0", got)
	}
}

func TestChunks(t *testing.T) {
	samples := []float32{16384, -16384, 0, 32768, 8192}
	got := chunks(samples, 2)
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
	if got[0][0] != 0.5 || got[0][1] != -0.5 {
		t.Errorf("first chunk = %v, want [0.5 -0.5]", got[0])
	}
	if len(got[2]) != 1 || got[2][0] != 0.25 {
		t.Errorf("last chunk = %v, want [0.25]", got[2])
	}
}
