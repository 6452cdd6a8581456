package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hb9tf/spiritbox/export"
	"github.com/hb9tf/spiritbox/scan"
)

func TestCollectHandler(t *testing.T) {
	s := &CollectServer{events: make(chan scan.Event, 2)}

	req := httptest.NewRequest("POST", export.EventsEndpoint, strings.NewReader(`[{"kind":"tuned","frequency":88000000},{"kind":"stopped"}]`))
	rec := httptest.NewRecorder()
	s.collectHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body)
	}
	var body export.CollectResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.EventCount != 2 {
		t.Errorf("eventCount = %d, want 2", body.EventCount)
	}
	if e := <-s.events; e.Kind != scan.EventTuned || e.Frequency != 88e6 {
		t.Errorf("first event = %+v", e)
	}
}

func TestCollectHandler_BadRequest(t *testing.T) {
	s := &CollectServer{events: make(chan scan.Event, 1)}
	for _, tc := range []struct {
		method, body string
		want         int
	}{
		{"POST", "{", http.StatusBadRequest},
		{"GET", "", http.StatusMethodNotAllowed},
	} {
		rec := httptest.NewRecorder()
		s.collectHandler(rec, httptest.NewRequest(tc.method, export.EventsEndpoint, strings.NewReader(tc.body)))
		if rec.Code != tc.want {
			t.Errorf("%s %q: status = %d, want %d", tc.method, tc.body, rec.Code, tc.want)
		}
	}
}
