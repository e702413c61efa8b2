package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"geoattend/engine/internal/geo"
	"geoattend/engine/internal/model"
)

// Sampler forwards platform location fixes to a callback from a background
// goroutine. At most one callback is in flight at a time.
type Sampler struct {
	provider Provider
	cfg      Config
	logger   *slog.Logger

	mu  sync.Mutex
	run *run
}

type run struct {
	stopped     atomic.Bool
	dispatch    sync.Mutex
	cancel      context.CancelFunc
	unsubscribe func()
	done        chan struct{}
}

// NewSampler constructs a sampler over the given provider.
func NewSampler(provider Provider, cfg Config, logger *slog.Logger) *Sampler {
	if cfg.DesiredAccuracy == "" {
		cfg.DesiredAccuracy = AccuracyBalanced
	}
	return &Sampler{provider: provider, cfg: cfg, logger: logger}
}

// Start begins sampling. Any previous run is stopped first, so Start can be
// retried after a permission denial. It returns model.ErrPermissionDenied when
// the platform refuses access; no sampling happens in that case.
func (s *Sampler) Start(ctx context.Context, onSample func(model.LocationSample)) error {
	if onSample == nil {
		return fmt.Errorf("location: nil sample callback")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	perm, err := s.provider.RequestPermission(ctx)
	if err != nil {
		if errors.Is(err, model.ErrPermissionDenied) {
			return model.ErrPermissionDenied
		}
		return fmt.Errorf("request location permission: %w", err)
	}
	if perm != PermissionGranted {
		s.logger.Warn("location permission denied")
		return model.ErrPermissionDenied
	}

	runCtx, cancel := context.WithCancel(ctx)
	samples, unsubscribe, err := s.provider.Subscribe(runCtx, s.cfg)
	if err != nil {
		cancel()
		if errors.Is(err, model.ErrPermissionDenied) {
			return model.ErrPermissionDenied
		}
		return fmt.Errorf("subscribe to location updates: %w", err)
	}

	r := &run{cancel: cancel, unsubscribe: unsubscribe, done: make(chan struct{})}
	s.run = r
	go s.loop(runCtx, r, samples, onSample)

	s.logger.Info("location sampling started",
		"accuracy", s.cfg.DesiredAccuracy,
		"min_interval", s.cfg.MinInterval,
		"min_displacement_m", s.cfg.MinDisplacementMeters,
	)
	return nil
}

// Stop cancels sampling. It is safe to call at any time, including from
// inside the callback. No callback is dispatched after Stop returns.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Running reports whether a sampling run is active.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil && !s.run.stopped.Load()
}

func (s *Sampler) stopLocked() {
	r := s.run
	if r == nil {
		return
	}
	s.run = nil
	r.stopped.Store(true)
	r.cancel()
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	s.logger.Info("location sampling stopped")
}

func (s *Sampler) loop(ctx context.Context, r *run, samples <-chan model.LocationSample, onSample func(model.LocationSample)) {
	defer close(r.done)

	var (
		last    model.LocationSample
		hasLast bool
	)
	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-samples:
			if !ok {
				return
			}
			if !sample.Coordinate.Valid() {
				s.logger.Warn("discarding invalid location sample", "lat", sample.Coordinate.Latitude, "lon", sample.Coordinate.Longitude)
				continue
			}
			if hasLast && !s.due(last, sample) {
				continue
			}
			if !s.deliver(r, sample, onSample) {
				return
			}
			last, hasLast = sample, true
		}
	}
}

// due drops fixes that arrive sooner than MinInterval without moving at least
// MinDisplacementMeters.
func (s *Sampler) due(last, next model.LocationSample) bool {
	if next.CapturedAt.Sub(last.CapturedAt) >= s.cfg.MinInterval {
		return true
	}
	return geo.DistanceMeters(last.Coordinate, next.Coordinate) >= s.cfg.MinDisplacementMeters
}

func (s *Sampler) deliver(r *run, sample model.LocationSample, onSample func(model.LocationSample)) (ok bool) {
	r.dispatch.Lock()
	defer r.dispatch.Unlock()
	if r.stopped.Load() {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("location callback panicked", "panic", rec)
			ok = true
		}
	}()
	onSample(sample)
	return true
}
