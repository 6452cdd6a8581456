// Command spiritbox sweeps an FM band with an SDR, plays every station it
// passes and transcribes what it hears. It is controlled over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"
	"hz.tools/rf"

	"github.com/hb9tf/spiritbox/api"
	"github.com/hb9tf/spiritbox/config"
	"github.com/hb9tf/spiritbox/display"
	"github.com/hb9tf/spiritbox/export"
	"github.com/hb9tf/spiritbox/metrics"
	"github.com/hb9tf/spiritbox/scan"
)

var version = "dev"

// Flags. Non-empty values override the configuration file.
var (
	configFile   = flag.String("config", "", "YAML configuration file, built-in defaults are used when empty")
	sdrType      = flag.String("sdr", "", "SDR to use (one of: rtlsdr, hackrf, replay)")
	replayFile   = flag.String("replayFile", "", "rfcap capture played back by the replay SDR")
	gain         = flag.String("gain", "", "tuner gain in dB or auto")
	band         = flag.String("band", "", "band to sweep as start:end:step, e.g. 88MHz:108MHz:200KHz")
	manualFreq   = flag.String("freq", "", "listen on this frequency instead of sweeping, e.g. 100.1MHz")
	sinkType     = flag.String("sink", "", "audio output (one of: pulse, portaudio, none)")
	engine       = flag.String("engine", "", "speech recognition engine (one of: none, whisper, vosk, whispercpp)")
	engineURL    = flag.String("engineURL", "", "URL of the whisper.cpp server or the Vosk websocket")
	model        = flag.String("model", "", "whisper model name, or model file for whispercpp")
	output       = flag.String("output", "", "Export mechanism to use for scan events (one of: none, csv, remote)")
	exportServer = flag.String("exportServer", "", "collecting server for the remote export")
	listen       = flag.String("listen", "", "address of the control API")
	startScan    = flag.Bool("start", true, "start sweeping right away instead of waiting for the API")
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()
	defer glog.Flush()

	cfg, err := loadConfig()
	if err != nil {
		glog.Exit(err)
	}
	if err := run(ctx, cfg); err != nil {
		glog.Flush()
		glog.Exit(err)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			return nil, err
		}
	}
	set := func(dst *string, flagValue string) {
		if flagValue != "" {
			*dst = strings.ToLower(flagValue)
		}
	}
	set(&cfg.Device.Name, *sdrType)
	set(&cfg.Device.Gain, *gain)
	set(&cfg.Playback.Sink, *sinkType)
	set(&cfg.Transcribe.Engine, *engine)
	set(&cfg.Export.Output, *output)
	if *replayFile != "" {
		cfg.Device.Path = *replayFile
	}
	if *engineURL != "" {
		cfg.Transcribe.URL = *engineURL
	}
	if *model != "" {
		cfg.Transcribe.Model = *model
	}
	if *exportServer != "" {
		cfg.Export.Server = *exportServer
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *band != "" {
		rng, err := parseBand(*band)
		if err != nil {
			return nil, err
		}
		cfg.Scan.Start, cfg.Scan.End, cfg.Scan.Step = config.Hz(rng.Start), config.Hz(rng.End), config.Hz(rng.Step)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseBand parses start:end:step.
func parseBand(s string) (scan.Range, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return scan.Range{}, fmt.Errorf("band %q is not start:end:step", s)
	}
	var hz [3]rf.Hz
	for i, p := range parts {
		f, err := rf.ParseHz(strings.TrimSpace(p))
		if err != nil {
			return scan.Range{}, fmt.Errorf("band %q: %w", s, err)
		}
		hz[i] = f
	}
	rng := scan.Range{Start: hz[0], End: hz[1], Step: hz[2]}
	return rng, rng.Validate()
}

func run(ctx context.Context, cfg *config.Config) error {
	var manual rf.Hz
	if *manualFreq != "" {
		var err error
		if manual, err = rf.ParseHz(*manualFreq); err != nil {
			return fmt.Errorf("manual frequency: %w", err)
		}
	}

	m, shutdownMetrics, err := metrics.InitProvider(version)
	if err != nil {
		return fmt.Errorf("setting up metrics: %w", err)
	}
	defer shutdownMetrics(context.Background())

	sc, err := cfg.ScanConfig()
	if err != nil {
		return err
	}
	sc.Metrics = m

	radio, err := newRadio(cfg.Device)
	if err != nil {
		return err
	}
	rec, err := newRecognizer(cfg.Transcribe)
	if err != nil {
		return err
	}
	sink := newSink(cfg.Playback.Sink)
	ctrl, err := scan.New(radio, sink, rec, sc)
	if err != nil {
		sink.Close()
		return fmt.Errorf("setting up %s: %w", radio.Name(), err)
	}
	defer ctrl.Close()

	// Exporter setup
	var (
		exporter export.Exporter
		events   chan scan.Event
	)
	switch cfg.Export.Output {
	case "csv":
		exporter = &export.CSV{}
	case "remote":
		exporter = &export.Remote{
			Server:    cfg.Export.Server,
			BatchSize: cfg.Export.BatchSize,
		}
	}
	if exporter != nil {
		events = make(chan scan.Event, 1000)
	}

	poller := display.NewPoller(ctrl, cfg.Server.FrameRate, events)
	gin.SetMode(gin.ReleaseMode)
	apiServer := api.New(ctrl, poller, cfg.Range())
	httpServer := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: apiServer.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return poller.Run(gctx)
	})
	if exporter != nil {
		g.Go(func() error {
			// Ends once the poller closes events.
			return exporter.Write(context.Background(), events)
		})
	}
	g.Go(func() error {
		glog.Infof("control API listening on %s", cfg.Server.Listen)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control API: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		apiServer.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			glog.Warningf("shutting down control API: %s", err)
		}
		return ctrl.Close()
	})

	if manual != 0 {
		if err := ctrl.SetManualFrequency(manual); err != nil {
			glog.Errorf("ignoring manual frequency: %s", err)
		}
	}
	if *startScan {
		if err := ctrl.Start(ctx, cfg.Range()); err != nil {
			glog.Errorf("unable to start scanning: %s", err)
		}
	}

	return g.Wait()
}
