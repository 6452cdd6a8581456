//go:build whispercpp

// Package whispercpp recognizes speech in process with the whisper.cpp
// bindings. It needs libwhisper and its headers at link time and is only
// built with the whispercpp build tag.
package whispercpp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/golang/glog"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/hb9tf/spiritbox/transcribe"
)

const Name = "whispercpp"

var _ transcribe.Recognizer = (*Recognizer)(nil)

type Recognizer struct {
	language string

	// A whisper context is not safe for concurrent use.
	mu    sync.Mutex
	model whisperlib.Model
}

// New loads the GGML model at modelPath.
func New(modelPath, language string) (*Recognizer, error) {
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: load model %q: %w", modelPath, err)
	}
	glog.Infof("loaded whisper model %q", modelPath)
	return &Recognizer{language: language, model: model}, nil
}

func (r *Recognizer) Name() string {
	return Name
}

func (r *Recognizer) Recognize(ctx context.Context, pcm []byte, sampleRate, bytesPerSample int) (string, error) {
	if bytesPerSample != 2 {
		return "", fmt.Errorf("whispercpp: unsupported sample width %d", bytesPerSample)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	pcm = transcribe.ResamplePCM16(pcm, sampleRate, whisperlib.SampleRate)
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	wctx, err := r.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whispercpp: create context: %w", err)
	}
	if r.language != "" {
		if err := wctx.SetLanguage(r.language); err != nil {
			glog.Warningf("whispercpp: unable to set language %q: %s", r.language, err)
		}
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whispercpp: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whispercpp: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" && !strings.HasPrefix(text, "[") {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", transcribe.ErrNoMatch
	}
	return strings.Join(parts, " "), nil
}

func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.model.Close()
}
