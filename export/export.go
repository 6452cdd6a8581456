// Package export writes scan events to places outside the process.
package export

import (
	"context"

	"github.com/hb9tf/spiritbox/scan"
)

// Exporter consumes events until the channel is closed or ctx is done.
type Exporter interface {
	Write(context.Context, <-chan scan.Event) error
}
