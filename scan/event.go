package scan

import (
	"time"

	"hz.tools/rf"
)

type EventKind string

const (
	EventStarted       EventKind = "started"
	EventTuned         EventKind = "tuned"
	EventSkipped       EventKind = "skipped"
	EventRecognition   EventKind = "recognition"
	EventHardwareError EventKind = "hardware_error"
	EventStopped       EventKind = "stopped"
)

// Event is a status record of the scan, drained by the display next to the
// audio and text buffers.
type Event struct {
	Time      time.Time `json:"time"`
	Session   string    `json:"session"`
	Kind      EventKind `json:"kind"`
	Frequency rf.Hz     `json:"frequency"`
	// Level is the received signal power in dBFS.
	Level float64 `json:"level,omitempty"`
	Text  string  `json:"text,omitempty"`
	Err   string  `json:"error,omitempty"`
}
