package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"

	"github.com/hb9tf/spiritbox/scan"
)

// CSV writes one line per event, flushed as it arrives.
type CSV struct {
	// Out defaults to stdout.
	Out io.Writer
}

func (c *CSV) Write(ctx context.Context, events <-chan scan.Event) error {
	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	w := csv.NewWriter(out)
	w.Write([]string{
		"UnixMilli",
		"Session",
		"Kind",
		"Frequency",
		"dBFS",
		"Text",
		"Error",
	})

	for {
		var (
			e  scan.Event
			ok bool
		)
		select {
		case <-ctx.Done():
			w.Flush()
			return ctx.Err()
		case e, ok = <-events:
		}
		if !ok {
			w.Flush()
			return w.Error()
		}

		if err := w.Write([]string{
			fmt.Sprintf("%d", e.Time.UnixMilli()),
			e.Session,
			string(e.Kind),
			fmt.Sprintf("%.0f", float64(e.Frequency)),
			fmt.Sprintf("%f", e.Level),
			e.Text,
			e.Err,
		}); err != nil {
			glog.Warningf("error while writing CSV line: %s\n", err)
		}

		w.Flush()
		if err := w.Error(); err != nil {
			glog.Warningf("error flushing CSV: %s\n", err)
		}
	}
}
