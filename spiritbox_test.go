package main

import (
	"testing"

	"hz.tools/rf"

	"github.com/hb9tf/spiritbox/config"
	"github.com/hb9tf/spiritbox/playback"
	"github.com/hb9tf/spiritbox/scan"
)

func TestParseBand(t *testing.T) {
	rng, err := parseBand("88MHz:88400000:200KHz")
	if err != nil {
		t.Fatalf("parseBand: %v", err)
	}
	want := scan.Range{Start: 88 * rf.MHz, End: 88400 * rf.KHz, Step: 200 * rf.KHz}
	if rng != want {
		t.Errorf("parseBand() = %+v, want %+v", rng, want)
	}

	for _, bad := range []string{"88MHz:108MHz", "88MHz:108MHz:0", "low:high:step"} {
		if _, err := parseBand(bad); err == nil {
			t.Errorf("parseBand(%q) = nil error", bad)
		}
	}
}

func TestComponents(t *testing.T) {
	for _, name := range config.Devices {
		radio, err := newRadio(config.Device{Name: name, Path: "capture.rfcap"})
		if err != nil {
			t.Errorf("newRadio(%q): %v", name, err)
			continue
		}
		if radio.Name() != name {
			t.Errorf("newRadio(%q).Name() = %q", name, radio.Name())
		}
	}
	if _, err := newRadio(config.Device{Name: "funcube"}); err == nil {
		t.Error("newRadio(funcube) = nil error")
	}

	for _, name := range config.Sinks {
		if got := newSink(name).Name(); got != name {
			t.Errorf("newSink(%q).Name() = %q", name, got)
		}
	}

	rec, err := newRecognizer(config.Transcribe{Engine: "none"})
	if err != nil || rec != nil {
		t.Errorf("newRecognizer(none) = %v, %v, want nil, nil", rec, err)
	}
	rec, err = newRecognizer(config.Transcribe{Engine: "whisper", URL: "http://localhost:8080"})
	if err != nil || rec.Name() != "whisper" {
		t.Errorf("newRecognizer(whisper) = %v, %v", rec, err)
	}
	if _, err := newRecognizer(config.Transcribe{Engine: "sphinx"}); err == nil {
		t.Error("newRecognizer(sphinx) = nil error")
	}
}

func TestNewSink_Default(t *testing.T) {
	if _, ok := newSink("").(*playback.Pulse); !ok {
		t.Error("newSink() is not the pulse sink")
	}
}
