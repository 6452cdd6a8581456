package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hz.tools/rf"

	"github.com/hb9tf/spiritbox/config"
	"github.com/hb9tf/spiritbox/scan"
)

func TestLoadFromReader_Empty(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if got, want := cfg.Range(), scan.BroadcastFM(); got != want {
		t.Errorf("Range() = %+v, want %+v", got, want)
	}
	sc, err := cfg.ScanConfig()
	if err != nil {
		t.Fatalf("ScanConfig: %v", err)
	}
	if want := scan.DefaultConfig(); sc.SampleRate != want.SampleRate || sc.Demod != want.Demod || !sc.Gain.Auto {
		t.Errorf("ScanConfig() = %+v, want defaults", sc)
	}
}

func TestLoadFromReader_Frequencies(t *testing.T) {
	t.Parallel()
	yaml := `
scan:
  start: 88MHz
  end: 88400000
  step: 200KHz
  read_timeout: 2s
device:
  gain: 20dB
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	want := scan.Range{Start: 88 * rf.MHz, End: 88400 * rf.KHz, Step: 200 * rf.KHz}
	if got := cfg.Range(); got != want {
		t.Errorf("Range() = %+v, want %+v", got, want)
	}
	if cfg.Scan.ReadTimeout != 2*time.Second {
		t.Errorf("ReadTimeout = %s, want 2s", cfg.Scan.ReadTimeout)
	}
	sc, err := cfg.ScanConfig()
	if err != nil {
		t.Fatalf("ScanConfig: %v", err)
	}
	if sc.Gain.Auto || sc.Gain.DB != 20 {
		t.Errorf("Gain = %+v, want 20dB", sc.Gain)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("scan:\n  stride: 1\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_BadFrequency(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("scan:\n  start: lots\n"))
	if err == nil {
		t.Fatal("expected error for unparsable frequency, got nil")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name:    "unknown device",
			yaml:    "device:\n  name: funcube\n",
			wantErr: []string{"device.name"},
		},
		{
			name:    "replay without path",
			yaml:    "device:\n  name: replay\n",
			wantErr: []string{"device.path"},
		},
		{
			name:    "whisper without url",
			yaml:    "transcribe:\n  engine: whisper\n",
			wantErr: []string{"transcribe.url"},
		},
		{
			name:    "whispercpp without model",
			yaml:    "transcribe:\n  engine: whispercpp\n",
			wantErr: []string{"transcribe.model"},
		},
		{
			name:    "remote without server",
			yaml:    "export:\n  output: remote\n",
			wantErr: []string{"export.server"},
		},
		{
			name:    "aliasing offset",
			yaml:    "device:\n  sample_rate: 900000\n",
			wantErr: []string{"demod"},
		},
		{
			name:    "several at once",
			yaml:    "playback:\n  sink: speaker\nscan:\n  step: 0\n",
			wantErr: []string{"playback.sink", "scan"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			for _, want := range tc.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should mention %q, got: %v", want, err)
				}
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "spiritbox.yaml")
	if err := os.WriteFile(path, []byte("transcribe:\n  engine: vosk\n  url: ws://localhost:2700\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transcribe.Engine != "vosk" || cfg.Transcribe.URL != "ws://localhost:2700" {
		t.Errorf("Transcribe = %+v", cfg.Transcribe)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file, got nil")
	}
}
