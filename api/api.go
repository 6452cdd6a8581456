// Package api exposes the scanner over HTTP: scan control, the manual
// frequency override, state and a websocket stream of display snapshots.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"hz.tools/rf"

	"github.com/hb9tf/spiritbox/display"
	"github.com/hb9tf/spiritbox/metrics"
	"github.com/hb9tf/spiritbox/scan"
	"github.com/hb9tf/spiritbox/sdr"
)

const (
	BasePath  = "/spiritbox/v1"
	writeWait = 5 * time.Second
)

// Scanner is the part of scan.Controller the API drives.
type Scanner interface {
	Start(ctx context.Context, rng scan.Range) error
	Stop()
	Close() error
	Err() error
	State() scan.State
	Session() string
	SetManualFrequency(freq rf.Hz) error
	ClearManualFrequency()
	ManualFrequency() (rf.Hz, bool)
	CurrentFrequency() rf.Hz
	TunerRange() (rf.Hz, rf.Hz)
}

// Snapshots is the part of display.Poller the stream endpoint reads.
type Snapshots interface {
	Latest() display.Snapshot
	Subscribe() (<-chan display.Snapshot, func())
}

type Server struct {
	scanner  Scanner
	snaps    Snapshots
	band     scan.Range
	upgrader websocket.Upgrader

	quit     chan struct{}
	quitOnce sync.Once
}

// New returns the API for scanner. band is scanned when a start request
// names no range.
func New(scanner Scanner, snaps Snapshots, band scan.Range) *Server {
	return &Server{
		scanner: scanner,
		snaps:   snaps,
		band:    band,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16384,
		},
		quit: make(chan struct{}),
	}
}

// Handler returns the gin engine serving:
//
//	POST   /spiritbox/v1/scan/start   start a scan, optional {start,end,step} in Hz
//	POST   /spiritbox/v1/scan/stop    stop the scan
//	POST   /spiritbox/v1/close        stop and release the hardware
//	GET    /spiritbox/v1/state        scanner state
//	GET    /spiritbox/v1/frequency    current frequency and override
//	PUT    /spiritbox/v1/frequency    set the override, {hz}
//	DELETE /spiritbox/v1/frequency    clear the override
//	GET    /spiritbox/v1/snapshot     latest display snapshot
//	GET    /spiritbox/v1/stream       websocket of display snapshots
//	GET    /metrics                   Prometheus metrics
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), logRequests)

	v1 := r.Group(BasePath)
	v1.POST("/scan/start", s.start)
	v1.POST("/scan/stop", s.stop)
	v1.POST("/close", s.close)
	v1.GET("/state", s.state)
	v1.GET("/frequency", s.frequency)
	v1.PUT("/frequency", s.setFrequency)
	v1.DELETE("/frequency", s.clearFrequency)
	v1.GET("/snapshot", s.snapshot)
	v1.GET("/stream", s.stream)

	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	return r
}

// Shutdown ends all open streams. Hijacked websocket connections are not
// covered by http.Server.Shutdown.
func (s *Server) Shutdown() {
	s.quitOnce.Do(func() { close(s.quit) })
}

type rangeRequest struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Step  float64 `json:"step"`
}

type frequencyRequest struct {
	Hz float64 `json:"hz" binding:"required"`
}

type frequencyResponse struct {
	Frequency rf.Hz `json:"frequency"`
	Manual    bool  `json:"manual"`
}

type stateResponse struct {
	State     scan.State `json:"state"`
	Session   string     `json:"session,omitempty"`
	Frequency rf.Hz      `json:"frequency"`
	Manual    bool       `json:"manual"`
	TunerLow  rf.Hz      `json:"tuner_low"`
	TunerHigh rf.Hz      `json:"tuner_high"`
	Error     string     `json:"error,omitempty"`
}

func (s *Server) start(c *gin.Context) {
	rng := s.band
	if c.Request.ContentLength != 0 {
		var req rangeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}
		rng = scan.Range{Start: rf.Hz(req.Start), End: rf.Hz(req.End), Step: rf.Hz(req.Step)}
	}
	if err := rng.Validate(); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if err := s.scanner.Start(c.Request.Context(), rng); err != nil {
		abort(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, s.currentState())
}

func (s *Server) stop(c *gin.Context) {
	s.scanner.Stop()
	c.JSON(http.StatusOK, s.currentState())
}

func (s *Server) close(c *gin.Context) {
	if err := s.scanner.Close(); err != nil {
		glog.Warningf("closing scanner: %s", err)
		abort(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, s.currentState())
}

func (s *Server) state(c *gin.Context) {
	c.JSON(http.StatusOK, s.currentState())
}

func (s *Server) frequency(c *gin.Context) {
	_, manual := s.scanner.ManualFrequency()
	c.JSON(http.StatusOK, frequencyResponse{
		Frequency: s.scanner.CurrentFrequency(),
		Manual:    manual,
	})
}

func (s *Server) setFrequency(c *gin.Context) {
	var req frequencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if err := s.scanner.SetManualFrequency(rf.Hz(req.Hz)); err != nil {
		abort(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, frequencyResponse{Frequency: rf.Hz(req.Hz), Manual: true})
}

func (s *Server) clearFrequency(c *gin.Context) {
	s.scanner.ClearManualFrequency()
	c.JSON(http.StatusOK, frequencyResponse{Frequency: s.scanner.CurrentFrequency()})
}

func (s *Server) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.snaps.Latest())
}

// stream sends the latest snapshot followed by every new one until the client
// goes away.
func (s *Server) stream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already replied to the client.
		glog.Warningf("websocket upgrade from %s failed: %s", c.Request.RemoteAddr, err)
		return
	}
	defer conn.Close()

	snaps, cancel := s.snaps.Subscribe()
	defer cancel()

	// Clients never send anything, reading only notices them leaving.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func(snap display.Snapshot) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(snap); err != nil {
			glog.V(2).Infof("stream to %s ended: %s", c.Request.RemoteAddr, err)
			return false
		}
		return true
	}
	if !send(s.snaps.Latest()) {
		return
	}
	for {
		select {
		case <-gone:
			return
		case <-s.quit:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		case snap := <-snaps:
			if !send(snap) {
				return
			}
		}
	}
}

func (s *Server) currentState() stateResponse {
	low, high := s.scanner.TunerRange()
	_, manual := s.scanner.ManualFrequency()
	st := stateResponse{
		State:     s.scanner.State(),
		Session:   s.scanner.Session(),
		Frequency: s.scanner.CurrentFrequency(),
		Manual:    manual,
		TunerLow:  low,
		TunerHigh: high,
	}
	if err := s.scanner.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

// statusFor maps scanner errors to HTTP status codes.
func statusFor(err error) int {
	var invalid *sdr.InvalidFrequencyError
	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.Is(err, scan.ErrClosed), errors.Is(err, scan.ErrRunning):
		return http.StatusConflict
	case sdr.IsHardwareError(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func abort(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

func logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	glog.V(2).Infof("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
}
