package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/golang/glog"

	"github.com/hb9tf/spiritbox/scan"
)

const (
	contentType      = "application/json"
	EventsEndpoint   = "/spiritbox/v1/events"
	defaultBatchSize = 100
)

// CollectResponse is what the collecting server answers to a batch.
type CollectResponse struct {
	Status     string `json:"status"`
	EventCount int    `json:"eventCount"`
}

// Remote sends events in batches to a collecting server.
type Remote struct {
	// Server is the base URL, e.g. http://collector:8443.
	Server    string
	BatchSize int
	Client    *http.Client
}

// Write posts a batch every BatchSize events and whatever is left once events
// is closed. Failed batches are logged and dropped.
func (r *Remote) Write(ctx context.Context, events <-chan scan.Event) error {
	batchSize := defaultBatchSize
	if r.BatchSize > 0 {
		batchSize = r.BatchSize
	}

	var batch []scan.Event
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				if len(batch) > 0 {
					r.send(ctx, batch)
				}
				return nil
			}
			batch = append(batch, e)
			if len(batch) < batchSize {
				continue // not enough events to send yet
			}
			r.send(ctx, batch)
			batch = nil
		}
	}
}

func (r *Remote) send(ctx context.Context, batch []scan.Event) {
	if err := r.post(ctx, batch); err != nil {
		glog.Warningf("error sending %d events to %s: %s", len(batch), r.Server, err)
	}
}

func (r *Remote) post(ctx context.Context, batch []scan.Event) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	url := strings.TrimRight(r.Server, "/") + EventsEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(respBody))
	}
	res := CollectResponse{}
	json.Unmarshal(respBody, &res)
	glog.Infof("submitted %d events to server %s", res.EventCount, r.Server)
	return nil
}
