package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"geoattend/engine/internal/location"
	"geoattend/engine/internal/model"
)

// TrackingState is the user-visible state of background location tracking.
type TrackingState string

const (
	TrackingRunning          TrackingState = "running"
	TrackingPermissionDenied TrackingState = "permission_denied"
	TrackingStopped          TrackingState = "stopped"
)

// TrackingStatus is reported on the status surface.
type TrackingStatus struct {
	State     TrackingState `json:"state"`
	Error     string        `json:"error,omitempty"`
	ChangedAt time.Time     `json:"changed_at"`
}

type sampleProcessor interface {
	Process(ctx context.Context, sample model.LocationSample) error
}

// tracker owns the sampler lifecycle and feeds samples to the geofence
// machine. Failures are reported as status, never returned to the caller.
type tracker struct {
	sampler   *location.Sampler
	processor sampleProcessor
	logger    *slog.Logger

	// wanted is set by Start and cleared by Stop.
	wanted atomic.Bool

	mu     sync.Mutex
	status TrackingStatus
}

func newTracker(sampler *location.Sampler, processor sampleProcessor, logger *slog.Logger) *tracker {
	return &tracker{
		sampler:   sampler,
		processor: processor,
		logger:    logger,
		status:    TrackingStatus{State: TrackingStopped, ChangedAt: time.Now().UTC()},
	}
}

func (t *tracker) Start(ctx context.Context) TrackingStatus {
	t.wanted.Store(true)
	err := t.sampler.Start(ctx, func(s model.LocationSample) {
		if err := t.processor.Process(ctx, s); err != nil {
			t.logger.Error("process location sample", "error", err)
		}
	})

	switch {
	case err == nil:
		return t.set(TrackingRunning, "")
	case errors.Is(err, model.ErrPermissionDenied):
		t.logger.Warn("location tracking disabled", "reason", err)
		return t.set(TrackingPermissionDenied, err.Error())
	default:
		t.logger.Error("start location tracking", "error", err)
		return t.set(TrackingStopped, err.Error())
	}
}

func (t *tracker) Stop() TrackingStatus {
	t.wanted.Store(false)
	t.sampler.Stop()
	return t.set(TrackingStopped, "")
}

// Resume restarts sampling after the location source reconnects, unless
// tracking was stopped explicitly.
func (t *tracker) Resume(ctx context.Context) {
	if !t.wanted.Load() || ctx.Err() != nil {
		return
	}
	t.logger.Info("resuming location tracking")
	t.Start(ctx)
}

func (t *tracker) Status() TrackingStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *tracker) set(state TrackingState, msg string) TrackingStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = TrackingStatus{State: state, Error: msg, ChangedAt: time.Now().UTC()}
	return t.status
}
