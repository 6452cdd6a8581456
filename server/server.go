// Command server collects the events sent by spiritbox scanners running the
// remote exporter and writes them out as CSV.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"

	"github.com/hb9tf/spiritbox/export"
	"github.com/hb9tf/spiritbox/scan"
)

var (
	listen   = flag.String("listen", ":8443", "")
	certFile = flag.String("certFile", "", "Path of the file containing the certificate (including the chained intermediates and root) for the TLS connection.")
	keyFile  = flag.String("keyFile", "", "Path of the file containing the key for the TLS connection.")
	output   = flag.String("output", "", "File to append the CSV to, stdout when empty.")
)

type CollectServer struct {
	server *http.Server
	events chan scan.Event
}

func (s *CollectServer) collectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	events := []scan.Event{}
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, e := range events {
		select {
		case s.events <- e:
		case <-r.Context().Done():
			http.Error(w, r.Context().Err().Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(export.CollectResponse{
		Status:     "ok",
		EventCount: len(events),
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()

	exporter := &export.CSV{}
	if *output != "" {
		f, err := os.OpenFile(*output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			glog.Exitf("unable to open output file %q: %s", *output, err)
		}
		defer f.Close()
		exporter.Out = f
	}

	// Export events.
	events := make(chan scan.Event, 1000)
	exported := make(chan error, 1)
	go func() {
		exported <- exporter.Write(ctx, events)
	}()

	// Configure and run webserver.
	mux := http.NewServeMux()
	s := CollectServer{
		server: &http.Server{
			Addr:    *listen,
			Handler: mux,
		},
		events: events,
	}
	mux.HandleFunc(export.EventsEndpoint, s.collectHandler)
	go func() {
		<-ctx.Done()
		s.server.Shutdown(context.Background())
	}()

	var err error
	if *certFile != "" || *keyFile != "" {
		err = s.server.ListenAndServeTLS(*certFile, *keyFile)
	} else {
		glog.Infoln("Resorting to serving HTTP because there was no certificate and key defined.")
		err = s.server.ListenAndServe()
	}
	if err != http.ErrServerClosed {
		glog.Error(err)
	}
	close(events)
	if err := <-exported; err != nil && err != context.Canceled {
		glog.Errorf("exporting events: %s", err)
	}
	glog.Flush()
}
