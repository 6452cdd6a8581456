package main

import (
	"fmt"

	"github.com/hb9tf/spiritbox/config"
	"github.com/hb9tf/spiritbox/hackrf"
	"github.com/hb9tf/spiritbox/playback"
	"github.com/hb9tf/spiritbox/replay"
	"github.com/hb9tf/spiritbox/rtlsdr"
	"github.com/hb9tf/spiritbox/sdr"
	"github.com/hb9tf/spiritbox/transcribe"
	"github.com/hb9tf/spiritbox/transcribe/vosk"
	"github.com/hb9tf/spiritbox/transcribe/whisper"
)

const appName = "spiritbox"

func newRadio(d config.Device) (sdr.Radio, error) {
	switch d.Name {
	case rtlsdr.SourceName:
		return &rtlsdr.SDR{Command: d.Command}, nil
	case hackrf.SourceName:
		return &hackrf.SDR{Command: d.Command}, nil
	case replay.SourceName:
		return &replay.SDR{Path: d.Path}, nil
	}
	return nil, fmt.Errorf("%q is not a supported SDR type, pick one of: %v", d.Name, config.Devices)
}

func newSink(name string) playback.Sink {
	switch name {
	case playback.PortAudioName:
		return &playback.PortAudio{}
	case playback.PaceName:
		return &playback.Pace{}
	}
	return &playback.Pulse{AppName: appName}
}

// newRecognizer returns nil when transcription is switched off.
func newRecognizer(t config.Transcribe) (transcribe.Recognizer, error) {
	switch t.Engine {
	case "", "none":
		return nil, nil
	case whisper.Name:
		return whisper.New(t.URL, whisper.WithLanguage(t.Language), whisper.WithModel(t.Model))
	case vosk.Name:
		return vosk.New(t.URL)
	case "whispercpp":
		return newWhisperCPP(t.Model, t.Language)
	}
	return nil, fmt.Errorf("%q is not a supported recognition engine, pick one of: %v", t.Engine, config.Engines)
}
