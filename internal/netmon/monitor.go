package netmon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"geoattend/engine/internal/model"
)

// Connectivity is the platform connectivity capability.
type Connectivity interface {
	CurrentStatus(ctx context.Context) (model.LinkStatus, error)
	OnChange(cb func(model.LinkStatus)) (cancel func())
}

// Prober performs an active reachability check.
type Prober interface {
	Probe(ctx context.Context) error
}

// Config tunes the monitor.
type Config struct {
	StableWindow      int
	ProbeTimeout      time.Duration
	LargePayloadBytes int
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		StableWindow:      3,
		ProbeTimeout:      3 * time.Second,
		LargePayloadBytes: 64 << 10,
	}
}

// Monitor maintains the current NetworkStatus and fans changes out to
// subscribers.
type Monitor struct {
	conn   Connectivity
	prober Prober
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	status  model.NetworkStatus
	history []model.NetworkStatus
	subs    map[chan model.NetworkStatus]struct{}
	cancel  func()
}

// NewMonitor constructs a monitor. It reports offline until Start runs.
func NewMonitor(conn Connectivity, prober Prober, cfg Config, logger *slog.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.StableWindow <= 0 {
		cfg.StableWindow = def.StableWindow
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.LargePayloadBytes <= 0 {
		cfg.LargePayloadBytes = def.LargePayloadBytes
	}
	return &Monitor{
		conn:   conn,
		prober: prober,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		status: model.NetworkStatus{TransportType: model.TransportNone, QualityTier: model.QualityUnknown},
		subs:   make(map[chan model.NetworkStatus]struct{}),
	}
}

// Start subscribes to platform changes and records the initial status.
func (m *Monitor) Start(ctx context.Context) {
	cancel := m.conn.OnChange(func(link model.LinkStatus) { m.update(link) })
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	m.Refresh(ctx)
}

// Close cancels the platform subscription.
func (m *Monitor) Close() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Refresh polls the platform for the current link state. A failed poll is
// recorded as offline.
func (m *Monitor) Refresh(ctx context.Context) model.NetworkStatus {
	link, err := m.conn.CurrentStatus(ctx)
	if err != nil {
		m.logger.Warn("connectivity status unavailable", "error", err)
		link = model.LinkStatus{Transport: model.TransportNone, Strength: -1}
	}
	return m.update(link)
}

// Run polls on interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}

func (m *Monitor) update(link model.LinkStatus) model.NetworkStatus {
	status := Derive(link, m.now())

	m.mu.Lock()
	prev := m.status
	m.status = status
	m.history = append(m.history, status)
	if len(m.history) > m.cfg.StableWindow {
		m.history = m.history[len(m.history)-m.cfg.StableWindow:]
	}
	for ch := range m.subs {
		select {
		case ch <- status:
		default:
			// Drop if subscriber is slow.
		}
	}
	m.mu.Unlock()

	if prev.IsConnected != status.IsConnected || prev.TransportType != status.TransportType || prev.QualityTier != status.QualityTier {
		m.logger.Info("network status changed",
			"connected", status.IsConnected,
			"transport", status.TransportType,
			"quality", status.QualityTier,
		)
	}
	return status
}

// Status returns the latest NetworkStatus.
func (m *Monitor) Status() model.NetworkStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Subscribe returns a channel receiving every status update and a function
// that removes it.
func (m *Monitor) Subscribe() (<-chan model.NetworkStatus, func()) {
	ch := make(chan model.NetworkStatus, 16)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, ch)
			m.mu.Unlock()
		})
	}
}

// IsConnectionStable reports whether the last StableWindow snapshots were all
// connected over the same transport.
func (m *Monitor) IsConnectionStable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.history) < m.cfg.StableWindow {
		return false
	}
	first := m.history[0]
	for _, s := range m.history {
		if !s.IsConnected || s.TransportType != first.TransportType {
			return false
		}
	}
	return true
}

// CheckInternetConnectivity runs the reachability probe. Any probe failure,
// including a timeout, reports false.
func (m *Monitor) CheckInternetConnectivity(ctx context.Context) bool {
	if m.prober == nil {
		return m.Status().IsConnected
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	if err := m.prober.Probe(ctx); err != nil {
		m.logger.Debug("reachability probe failed", "error", err)
		return false
	}
	return true
}

// WaitForConnection blocks until the monitor reports connected, timeout
// elapses, or ctx is done.
func (m *Monitor) WaitForConnection(ctx context.Context, timeout time.Duration) bool {
	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	if m.Status().IsConnected {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case s := <-ch:
			if s.IsConnected {
				return true
			}
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// GetSyncRecommendation advises on syncing payloadBytes over the current link.
func (m *Monitor) GetSyncRecommendation(payloadBytes int) model.SyncRecommendation {
	return Recommend(m.Status(), payloadBytes, m.cfg.LargePayloadBytes)
}
