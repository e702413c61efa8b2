package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"geoattend/engine/internal/model"
	"geoattend/engine/internal/store"
	"geoattend/engine/internal/transport"
)

// Queue is the subset of the durable queue the scheduler drives.
type Queue interface {
	Pending(ctx context.Context, limit int) ([]model.QueuedEvent, error)
	MarkInFlight(ctx context.Context, ids []string) error
	MarkDelivered(ctx context.Context, ids []string) error
	MarkFailed(ctx context.Context, ids []string, f store.Failure) error
	Release(ctx context.Context, ids []string) error
	Stats(ctx context.Context) (model.QueueStats, error)
}

// Endpoint accepts event batches.
type Endpoint interface {
	SubmitBatch(ctx context.Context, events []model.AttendanceEvent) error
}

// Network gates sync attempts on connectivity.
type Network interface {
	GetSyncRecommendation(payloadBytes int) model.SyncRecommendation
	WaitForConnection(ctx context.Context, timeout time.Duration) bool
	Subscribe() (<-chan model.NetworkStatus, func())
}

// Config tunes draining.
type Config struct {
	BatchSize       int
	DeliveryTimeout time.Duration
	Backoff         Backoff
	MaxAttempts     int
	// OfflineWait bounds how long a drain waits for connectivity after a
	// network failure before ending the cycle.
	OfflineWait time.Duration
	// EventSizeHint is the estimated wire size of one event, used to size
	// the payload hint passed to the network monitor.
	EventSizeHint int
}

// DefaultConfig returns the scheduler defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:       50,
		DeliveryTimeout: 20 * time.Second,
		Backoff:         DefaultBackoff(),
		MaxAttempts:     10,
		OfflineWait:     30 * time.Second,
		EventSizeHint:   256,
	}
}

// DrainResult summarises one drain cycle.
type DrainResult struct {
	StartedAt time.Time          `json:"started_at"`
	Delivered int                `json:"delivered"`
	Batches   int                `json:"batches"`
	Skipped   bool               `json:"skipped"`
	Parked    int                `json:"parked"`
	Reason    string             `json:"reason,omitempty"`
	Failure   model.FailureClass `json:"failure,omitempty"`
	RetryAt   time.Time          `json:"retry_at,omitempty"`
}

// Scheduler drains the durable queue to the attendance endpoint.
type Scheduler struct {
	queue    Queue
	endpoint Endpoint
	network  Network
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	drainMu sync.Mutex

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	lastMu sync.RWMutex
	last   DrainResult
}

// New constructs a scheduler. Zero config fields take their defaults.
func New(queue Queue, endpoint Endpoint, network Network, cfg Config, logger *slog.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = def.DeliveryTimeout
	}
	if cfg.Backoff.Base <= 0 || cfg.Backoff.Factor < 1 || cfg.Backoff.Cap <= 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.OfflineWait <= 0 {
		cfg.OfflineWait = def.OfflineWait
	}
	if cfg.EventSizeHint <= 0 {
		cfg.EventSizeHint = def.EventSizeHint
	}
	return &Scheduler{
		queue:    queue,
		endpoint: endpoint,
		network:  network,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// StartMonitoring drains every interval and whenever the network becomes
// connected. Calling it again restarts monitoring with the new interval.
func (s *Scheduler) StartMonitoring(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.stopLocked()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	updates, unsubscribe := s.network.Subscribe()
	go func() {
		defer close(done)
		defer unsubscribe()
		s.monitor(runCtx, interval, updates)
	}()
	s.logger.Info("sync monitoring started", "interval", interval)
}

// StopMonitoring cancels both drain triggers and waits for the monitor loop
// to exit. It is idempotent.
func (s *Scheduler) StopMonitoring() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.stopLocked()
}

// Monitoring reports whether the drain triggers are active.
func (s *Scheduler) Monitoring() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
	s.logger.Info("sync monitoring stopped")
}

func (s *Scheduler) monitor(ctx context.Context, interval time.Duration, updates <-chan model.NetworkStatus) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	retry := time.NewTimer(time.Hour)
	retry.Stop()
	defer retry.Stop()

	connected := false
	for {
		select {
		case <-ctx.Done():
			return
		case status := <-updates:
			became := status.IsConnected && !connected
			connected = status.IsConnected
			if !became {
				continue
			}
			s.logger.Debug("network connected, draining")
		case <-ticker.C:
		case <-retry.C:
		}

		res := s.safeDrain(ctx)
		if !res.RetryAt.IsZero() {
			retry.Reset(max(res.RetryAt.Sub(s.now()), 0))
		}
	}
}

func (s *Scheduler) safeDrain(ctx context.Context) (res DrainResult) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("drain panicked", "panic", rec)
		}
	}()
	var err error
	res, err = s.Drain(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("drain cycle failed", "error", err)
	}
	return res
}

// LastDrain returns the result of the most recent completed drain.
func (s *Scheduler) LastDrain() DrainResult {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.last
}

// Drain delivers pending events batch by batch until the queue has nothing
// due, a delivery fails, or the network advises against syncing. Only one
// drain runs at a time; a concurrent call returns a skipped result. The
// returned error is a store failure that aborted the cycle.
func (s *Scheduler) Drain(ctx context.Context) (DrainResult, error) {
	res := DrainResult{StartedAt: s.now()}
	if !s.drainMu.TryLock() {
		res.Skipped, res.Reason = true, "drain in progress"
		return res, nil
	}
	defer s.drainMu.Unlock()

	res, err := s.drain(ctx, res)
	s.lastMu.Lock()
	s.last = res
	s.lastMu.Unlock()
	return res, err
}

func (s *Scheduler) drain(ctx context.Context, res DrainResult) (DrainResult, error) {
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		res.Reason = "store unavailable"
		return res, fmt.Errorf("queue stats: %w", err)
	}
	res.Parked = stats.Parked
	backlog := stats.Pending + stats.Failed
	if backlog == 0 {
		res.Reason = "queue empty"
		if stats.Parked > 0 {
			res.Reason = fmt.Sprintf("nothing deliverable, %d parked", stats.Parked)
		}
		return res, nil
	}

	rec := s.network.GetSyncRecommendation(min(backlog, s.cfg.BatchSize) * s.cfg.EventSizeHint)
	if !rec.ShouldSync {
		res.Skipped, res.Reason = true, rec.Reason
		s.logger.Debug("sync skipped", "reason", rec.Reason, "quality", rec.Quality, "backlog", backlog)
		return res, nil
	}

	for ctx.Err() == nil {
		batch, err := s.queue.Pending(ctx, s.cfg.BatchSize)
		if err != nil {
			res.Reason = "store unavailable"
			return res, fmt.Errorf("load pending: %w", err)
		}
		if len(batch) == 0 {
			return res, nil
		}

		if err := s.queue.MarkInFlight(ctx, eventIDs(batch)); err != nil {
			res.Reason = "store unavailable"
			return res, fmt.Errorf("mark in flight: %w", err)
		}
		res.Batches++

		delivered, fail, err := s.submit(ctx, batch)
		res.Delivered += delivered
		if err != nil {
			res.Reason = "store unavailable"
			return res, err
		}
		if fail == nil {
			continue
		}

		parked, err := s.recordFailure(ctx, fail)
		if err != nil {
			res.Reason = "store unavailable"
			return res, err
		}
		res.Parked += parked
		res.Failure, res.RetryAt, res.Reason = fail.class, fail.retryAt, fail.err.Error()

		switch {
		case fail.class.Permanent():
			// Once the rejected event is parked the events behind it can go.
			if parked == len(fail.failed) {
				continue
			}
			return res, nil
		case !fail.class.Offline():
			return res, nil
		case !s.network.WaitForConnection(ctx, s.cfg.OfflineWait):
			return res, nil
		}
	}
	return res, nil
}

// submitFailure describes the part of a batch that was not delivered.
// failed were attempted and count an attempt; rest were never submitted.
type submitFailure struct {
	err     error
	class   model.FailureClass
	failed  []model.QueuedEvent
	rest    []model.QueuedEvent
	retryAt time.Time
}

// submit delivers batch in order. A batch rejected by the server is split in
// halves until the rejected events are isolated, so only they count an
// attempt. Delivered events are removed from the queue as they are
// acknowledged. The error is a store failure.
func (s *Scheduler) submit(ctx context.Context, batch []model.QueuedEvent) (int, *submitFailure, error) {
	events := make([]model.AttendanceEvent, len(batch))
	for i, qe := range batch {
		events[i] = qe.Event
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
	submitErr := s.endpoint.SubmitBatch(submitCtx, events)
	cancel()

	if submitErr == nil {
		ids := eventIDs(batch)
		if err := s.queue.MarkDelivered(context.WithoutCancel(ctx), ids); err != nil {
			return 0, nil, fmt.Errorf("mark delivered: %w", err)
		}
		s.logger.Info("sync batch delivered", "count", len(ids))
		return len(ids), nil, nil
	}

	class := transport.Classify(submitErr)
	if !class.Permanent() || len(batch) == 1 {
		return 0, &submitFailure{err: submitErr, class: class, failed: batch}, nil
	}

	s.logger.Debug("batch rejected, splitting", "count", len(batch), "error", submitErr)
	mid := len(batch) / 2
	n, fail, err := s.submit(ctx, batch[:mid])
	if err != nil || fail != nil {
		if fail != nil {
			fail.rest = append(fail.rest, batch[mid:]...)
		}
		return n, fail, err
	}
	m, fail, err := s.submit(ctx, batch[mid:])
	return n + m, fail, err
}

// recordFailure schedules each failed event from its own attempt count and
// returns the events that were not submitted to pending. It reports how many
// events reached the parking threshold.
func (s *Scheduler) recordFailure(ctx context.Context, fail *submitFailure) (int, error) {
	ctx = context.WithoutCancel(ctx)
	now := s.now()

	byAttempt := make(map[int][]string)
	var order []int
	parked := 0
	for i, qe := range fail.failed {
		attempt := qe.AttemptCount + 1
		if _, seen := byAttempt[attempt]; !seen {
			order = append(order, attempt)
		}
		byAttempt[attempt] = append(byAttempt[attempt], qe.Event.ID)
		if i == 0 {
			fail.retryAt = now.Add(s.cfg.Backoff.Delay(attempt))
		}
		if fail.class.Permanent() && attempt >= s.cfg.MaxAttempts {
			parked++
		}
	}

	for _, attempt := range order {
		retryAt := now.Add(s.cfg.Backoff.Delay(attempt))
		ids := byAttempt[attempt]
		if err := s.queue.MarkFailed(ctx, ids, store.Failure{
			Class:   fail.class,
			Reason:  fail.err.Error(),
			RetryAt: retryAt,
		}); err != nil {
			return 0, fmt.Errorf("mark failed: %w", err)
		}
		s.logger.Warn("sync batch failed",
			"count", len(ids),
			"class", fail.class,
			"attempt", attempt,
			"retry_at", retryAt,
			"error", fail.err,
		)
	}

	if err := s.queue.Release(ctx, eventIDs(fail.rest)); err != nil {
		return 0, fmt.Errorf("release unsent: %w", err)
	}

	if parked > 0 {
		s.logger.Error("events parked after repeated rejection", "count", parked, "max_attempts", s.cfg.MaxAttempts)
	}
	return parked, nil
}

func eventIDs(events []model.QueuedEvent) []string {
	ids := make([]string, len(events))
	for i, qe := range events {
		ids[i] = qe.Event.ID
	}
	return ids
}
