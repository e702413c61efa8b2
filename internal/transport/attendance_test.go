package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"geoattend/engine/internal/model"
)

func sampleEvents() []model.AttendanceEvent {
	d := 3.25
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	return []model.AttendanceEvent{
		{
			ID: "ev-1", UserID: "user-1", SiteID: "site-a", EventType: model.EventSiteEntry,
			Coordinate: model.Coordinate{Latitude: 55.7558, Longitude: 37.6176}, DistanceToNearestSite: &d, CapturedAt: at,
		},
		{
			ID: "ev-2", UserID: "user-1", EventType: model.EventTrackingUpdate,
			Coordinate: model.Coordinate{Latitude: 55.7648, Longitude: 37.6176}, CapturedAt: at.Add(time.Minute),
		},
	}
}

func TestSubmitBatch_Payload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected json content type, got %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ep := NewAttendanceEndpoint(NewClient(time.Second), srv.URL, "device-1")
	ep.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }

	if err := ep.SubmitBatch(context.Background(), sampleEvents()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got["deviceId"] != "device-1" || got["batchTimestamp"] != "2026-03-02T09:00:00Z" {
		t.Errorf("unexpected envelope: %v", got)
	}
	events, ok := got["events"].([]any)
	if !ok || len(events) != 2 {
		t.Fatalf("expected 2 events, got %v", got["events"])
	}

	first := events[0].(map[string]any)
	if first["id"] != "ev-1" || first["siteId"] != "site-a" || first["eventType"] != "site_entry" ||
		first["distanceMeters"] != 3.25 || first["capturedAt"] != "2026-03-02T08:00:00Z" || first["userId"] != "user-1" {
		t.Errorf("unexpected first event: %v", first)
	}

	second := events[1].(map[string]any)
	if _, has := second["siteId"]; has {
		t.Errorf("siteId must be omitted when empty: %v", second)
	}
	if _, has := second["distanceMeters"]; has {
		t.Errorf("distanceMeters must be omitted when unknown: %v", second)
	}
	if second["eventType"] != "tracking_update" {
		t.Errorf("unexpected event type: %v", second["eventType"])
	}
}

func TestSubmitBatch_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   model.FailureClass
	}{
		{http.StatusBadRequest, model.FailureRejected},
		{http.StatusUnprocessableEntity, model.FailureRejected},
		{http.StatusRequestTimeout, model.FailureServer},
		{http.StatusTooManyRequests, model.FailureServer},
		{http.StatusInternalServerError, model.FailureServer},
		{http.StatusServiceUnavailable, model.FailureServer},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			err := NewAttendanceEndpoint(NewClient(time.Second), srv.URL, "device-1").SubmitBatch(context.Background(), sampleEvents())

			var de *model.DeliveryError
			if !errors.As(err, &de) {
				t.Fatalf("expected DeliveryError, got %v", err)
			}
			if de.Class != tc.want || de.StatusCode != tc.status {
				t.Errorf("unexpected classification: %+v", de)
			}
			if de.Class.Permanent() != (tc.want == model.FailureRejected) {
				t.Errorf("status %d: unexpected Permanent() = %v", tc.status, de.Class.Permanent())
			}
		})
	}
}

func TestSubmitBatch_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewAttendanceEndpoint(NewClient(time.Second), url, "device-1").SubmitBatch(context.Background(), sampleEvents())
	if Classify(err) != model.FailureNetwork {
		t.Errorf("expected network class, got %s (%v)", Classify(err), err)
	}
}

func TestSubmitBatch_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	err := NewAttendanceEndpoint(NewClient(50*time.Millisecond), srv.URL, "device-1").SubmitBatch(context.Background(), sampleEvents())
	if Classify(err) != model.FailureTimeout {
		t.Errorf("expected timeout class, got %s (%v)", Classify(err), err)
	}
}

func TestSubmitBatch_ChaosDrop(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	c.EnableChaos(ChaosConfig{Enabled: true, DropProb: 1})

	err := NewAttendanceEndpoint(c, srv.URL, "device-1").SubmitBatch(context.Background(), sampleEvents())
	if !errors.Is(err, ErrChaosDrop) {
		t.Fatalf("expected chaos drop, got %v", err)
	}
	if Classify(err) != model.FailureNetwork {
		t.Errorf("chaos drop should look like a network failure, got %s", Classify(err))
	}
	if called {
		t.Error("dropped request must not reach the server")
	}
	if s := c.Stats(); s.Dropped != 1 || s.Requests != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want model.FailureClass
	}{
		{"deadline", context.DeadlineExceeded, model.FailureTimeout},
		{"wrapped deadline", errors.Join(errors.New("post"), context.DeadlineExceeded), model.FailureTimeout},
		{"delivery server", &model.DeliveryError{Class: model.FailureServer, StatusCode: 500}, model.FailureServer},
		{"delivery rejected", &model.DeliveryError{Class: model.FailureRejected, StatusCode: 400}, model.FailureRejected},
		{"plain", errors.New("connection refused"), model.FailureNetwork},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Errorf("want %s, got %s", tc.want, got)
			}
		})
	}
}
