// Package config loads the scanner configuration from a YAML file.
//
// Every field has a default (see Default) so a file only needs to name what
// it changes. Frequencies are written either as plain numbers in Hz or as
// strings with a unit such as "88MHz" or "12.5KHz".
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
	"hz.tools/rf"

	"github.com/hb9tf/spiritbox/demod"
	"github.com/hb9tf/spiritbox/hackrf"
	"github.com/hb9tf/spiritbox/playback"
	"github.com/hb9tf/spiritbox/replay"
	"github.com/hb9tf/spiritbox/rtlsdr"
	"github.com/hb9tf/spiritbox/scan"
	"github.com/hb9tf/spiritbox/sdr"
	"github.com/hb9tf/spiritbox/transcribe"
)

// Names accepted for the pluggable components.
var (
	Devices = []string{rtlsdr.SourceName, hackrf.SourceName, replay.SourceName}
	Sinks   = []string{playback.PulseName, playback.PortAudioName, playback.PaceName}
	Engines = []string{"none", "whisper", "vosk", "whispercpp"}
	Outputs = []string{"none", "csv", "remote"}
)

type Config struct {
	Device     Device     `yaml:"device"`
	Scan       Scan       `yaml:"scan"`
	Demod      Demod      `yaml:"demod"`
	Playback   Playback   `yaml:"playback"`
	Transcribe Transcribe `yaml:"transcribe"`
	Server     Server     `yaml:"server"`
	Export     Export     `yaml:"export"`
}

type Device struct {
	// Name is one of Devices.
	Name string `yaml:"name"`
	// Command overrides the capture tool of the rtlsdr and hackrf devices.
	Command string `yaml:"command"`
	// Path is the rfcap file read by the replay device.
	Path       string `yaml:"path"`
	Gain       string `yaml:"gain"`
	SampleRate uint   `yaml:"sample_rate"`
	BlockCount int    `yaml:"block_count"`
}

type Scan struct {
	Start       Hz            `yaml:"start"`
	End         Hz            `yaml:"end"`
	Step        Hz            `yaml:"step"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	PlayTimeout time.Duration `yaml:"play_timeout"`
}

type Demod struct {
	Offset    Hz      `yaml:"offset"`
	Bandwidth Hz      `yaml:"bandwidth"`
	Taps      int     `yaml:"taps"`
	AudioRate Hz      `yaml:"audio_rate"`
	Headroom  float64 `yaml:"headroom"`
}

type Playback struct {
	// Sink is one of Sinks.
	Sink      string        `yaml:"sink"`
	Latency   time.Duration `yaml:"latency"`
	BlockSize int           `yaml:"block_size"`
}

type Transcribe struct {
	// Engine is one of Engines.
	Engine string `yaml:"engine"`
	// URL of the whisper.cpp server or the Vosk websocket.
	URL string `yaml:"url"`
	// Model is the server side model name for whisper or the model file for
	// whispercpp.
	Model     string        `yaml:"model"`
	Language  string        `yaml:"language"`
	Timeout   time.Duration `yaml:"timeout"`
	QueueSize int           `yaml:"queue_size"`
}

type Server struct {
	Listen    string `yaml:"listen"`
	FrameRate int    `yaml:"frame_rate"`
}

type Export struct {
	// Output is one of Outputs.
	Output string `yaml:"output"`
	// Server is the base URL events are sent to by the remote output.
	Server    string `yaml:"server"`
	BatchSize int    `yaml:"batch_size"`
}

// Hz is a frequency that unmarshals from a number of Hz or a string with a
// unit.
type Hz rf.Hz

func (h *Hz) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: frequency must be a scalar", node.Line)
	}
	switch node.Tag {
	case "!!int", "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return err
		}
		*h = Hz(f)
		return nil
	}
	f, err := rf.ParseHz(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*h = Hz(f)
	return nil
}

// Default returns the configuration used for anything a file leaves out.
func Default() *Config {
	sc := scan.DefaultConfig()
	band := scan.BroadcastFM()
	return &Config{
		Device: Device{
			Name:       rtlsdr.SourceName,
			Gain:       sc.Gain.String(),
			SampleRate: sc.SampleRate,
			BlockCount: sc.BlockCount,
		},
		Scan: Scan{
			Start:       Hz(band.Start),
			End:         Hz(band.End),
			Step:        Hz(band.Step),
			ReadTimeout: sc.ReadTimeout,
			PlayTimeout: sc.PlayTimeout,
		},
		Demod: Demod{
			Offset:    Hz(sc.Demod.Offset),
			Bandwidth: Hz(sc.Demod.Bandwidth),
			Taps:      sc.Demod.Taps,
			AudioRate: Hz(sc.Demod.AudioRate),
			Headroom:  sc.Demod.Headroom,
		},
		Playback: Playback{
			Sink:      playback.PulseName,
			Latency:   sc.Play.Latency,
			BlockSize: sc.Play.BlockSize,
		},
		Transcribe: Transcribe{
			Engine:    "none",
			Language:  "en",
			Timeout:   30 * time.Second,
			QueueSize: 8,
		},
		Server: Server{
			Listen:    ":8080",
			FrameRate: 10,
		},
		Export: Export{
			Output:    "none",
			BatchSize: 100,
		},
	}
}

// Load reads the YAML configuration file at path and returns a validated
// Config.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of Default and validates
// the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Device
	if !slices.Contains(Devices, cfg.Device.Name) {
		errs = append(errs, fmt.Errorf("device.name %q is invalid; valid values: %v", cfg.Device.Name, Devices))
	}
	if cfg.Device.Name == replay.SourceName && cfg.Device.Path == "" {
		errs = append(errs, errors.New("device.path is required for the replay device"))
	}
	if _, err := sdr.ParseGain(cfg.Device.Gain); err != nil {
		errs = append(errs, fmt.Errorf("device.gain: %w", err))
	}
	if cfg.Device.BlockCount <= 0 {
		errs = append(errs, fmt.Errorf("device.block_count must be positive, got %d", cfg.Device.BlockCount))
	}

	// Scan
	if err := cfg.Range().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scan: %w", err))
	}
	if cfg.Scan.ReadTimeout < 0 || cfg.Scan.PlayTimeout < 0 {
		errs = append(errs, errors.New("scan timeouts must not be negative"))
	}

	// Demod
	if err := demod.Validate(cfg.DemodParams(), cfg.Device.SampleRate); err != nil {
		errs = append(errs, fmt.Errorf("demod: %w", err))
	}

	// Playback
	if !slices.Contains(Sinks, cfg.Playback.Sink) {
		errs = append(errs, fmt.Errorf("playback.sink %q is invalid; valid values: %v", cfg.Playback.Sink, Sinks))
	}

	// Transcription
	switch cfg.Transcribe.Engine {
	case "whisper", "vosk":
		if cfg.Transcribe.URL == "" {
			errs = append(errs, fmt.Errorf("transcribe.url is required for engine %q", cfg.Transcribe.Engine))
		}
	case "whispercpp":
		if cfg.Transcribe.Model == "" {
			errs = append(errs, errors.New("transcribe.model is required for engine \"whispercpp\""))
		}
	case "", "none":
	default:
		errs = append(errs, fmt.Errorf("transcribe.engine %q is invalid; valid values: %v", cfg.Transcribe.Engine, Engines))
	}

	// Server
	if cfg.Server.FrameRate < 0 {
		errs = append(errs, fmt.Errorf("server.frame_rate must not be negative, got %d", cfg.Server.FrameRate))
	}

	// Export
	switch cfg.Export.Output {
	case "remote":
		if cfg.Export.Server == "" {
			errs = append(errs, errors.New("export.server is required for the remote output"))
		}
	case "", "none", "csv":
	default:
		errs = append(errs, fmt.Errorf("export.output %q is invalid; valid values: %v", cfg.Export.Output, Outputs))
	}

	return errors.Join(errs...)
}

// Range returns the configured band.
func (c *Config) Range() scan.Range {
	return scan.Range{
		Start: rf.Hz(c.Scan.Start),
		End:   rf.Hz(c.Scan.End),
		Step:  rf.Hz(c.Scan.Step),
	}
}

func (c *Config) DemodParams() demod.Params {
	return demod.Params{
		Offset:    rf.Hz(c.Demod.Offset),
		Bandwidth: rf.Hz(c.Demod.Bandwidth),
		Taps:      c.Demod.Taps,
		AudioRate: rf.Hz(c.Demod.AudioRate),
		Headroom:  c.Demod.Headroom,
	}
}

// ScanConfig translates the file into the controller configuration.
func (c *Config) ScanConfig() (scan.Config, error) {
	gain, err := sdr.ParseGain(c.Device.Gain)
	if err != nil {
		return scan.Config{}, err
	}
	sc := scan.DefaultConfig()
	sc.SampleRate = c.Device.SampleRate
	sc.Gain = gain
	sc.BlockCount = c.Device.BlockCount
	sc.Demod = c.DemodParams()
	sc.Play = playback.Options{
		Latency:   c.Playback.Latency,
		BlockSize: c.Playback.BlockSize,
	}
	sc.Transcribe = transcribe.BridgeOptions{
		Timeout:   c.Transcribe.Timeout,
		QueueSize: c.Transcribe.QueueSize,
	}
	sc.ReadTimeout = c.Scan.ReadTimeout
	sc.PlayTimeout = c.Scan.PlayTimeout
	return sc, nil
}
