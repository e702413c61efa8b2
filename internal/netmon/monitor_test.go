package netmon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"geoattend/engine/internal/model"
)

type mockConnectivity struct {
	mu       sync.Mutex
	current  model.LinkStatus
	err      error
	callback func(model.LinkStatus)
}

func (m *mockConnectivity) CurrentStatus(context.Context) (model.LinkStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.err
}

func (m *mockConnectivity) OnChange(cb func(model.LinkStatus)) func() {
	m.mu.Lock()
	m.callback = cb
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.callback = nil
		m.mu.Unlock()
	}
}

func (m *mockConnectivity) set(link model.LinkStatus) {
	m.mu.Lock()
	m.current = link
	cb := m.callback
	m.mu.Unlock()
	if cb != nil {
		cb(link)
	}
}

type mockProber struct {
	probeFn func(ctx context.Context) error
}

func (m *mockProber) Probe(ctx context.Context) error {
	return m.probeFn(ctx)
}

var (
	offline = model.LinkStatus{Transport: model.TransportNone, Strength: -1}
	wifi    = model.LinkStatus{Connected: true, Transport: model.TransportWiFi, Strength: 4}
	lte     = model.LinkStatus{Connected: true, Transport: model.TransportCellular, Strength: 3, Generation: "4g"}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMonitor(initial model.LinkStatus, prober Prober) (*Monitor, *mockConnectivity) {
	conn := &mockConnectivity{current: initial}
	m := NewMonitor(conn, prober, DefaultConfig(), discardLogger())
	m.Start(context.Background())
	return m, conn
}

func TestMonitor_StartRecordsInitialStatus(t *testing.T) {
	m, _ := newTestMonitor(wifi, nil)
	defer m.Close()

	s := m.Status()
	if !s.IsConnected || s.TransportType != model.TransportWiFi || s.QualityTier != model.QualityExcellent {
		t.Errorf("unexpected status: %+v", s)
	}
}

func TestMonitor_RefreshErrorIsOffline(t *testing.T) {
	conn := &mockConnectivity{err: errors.New("netlink unavailable")}
	m := NewMonitor(conn, nil, DefaultConfig(), discardLogger())
	m.Start(context.Background())

	if m.Status().IsConnected {
		t.Error("expected offline after failed status poll")
	}
}

func TestMonitor_IsConnectionStable(t *testing.T) {
	m, conn := newTestMonitor(wifi, nil)
	defer m.Close()

	if m.IsConnectionStable() {
		t.Fatal("one snapshot is not enough")
	}
	conn.set(wifi)
	conn.set(wifi)
	if !m.IsConnectionStable() {
		t.Fatal("expected stable after three wifi snapshots")
	}

	conn.set(lte)
	if m.IsConnectionStable() {
		t.Fatal("transport flap must be unstable")
	}
	conn.set(lte)
	conn.set(lte)
	if !m.IsConnectionStable() {
		t.Fatal("expected stable after three lte snapshots")
	}

	conn.set(offline)
	if m.IsConnectionStable() {
		t.Fatal("disconnected snapshot must be unstable")
	}
}

func TestMonitor_WaitForConnection_TimesOutWhileOffline(t *testing.T) {
	m, _ := newTestMonitor(offline, nil)
	defer m.Close()

	start := time.Now()
	if m.WaitForConnection(context.Background(), 100*time.Millisecond) {
		t.Fatal("expected false while offline")
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond || elapsed > time.Second {
		t.Errorf("expected to return after ~100ms, took %v", elapsed)
	}
}

func TestMonitor_WaitForConnection_ResolvesOnReconnect(t *testing.T) {
	m, conn := newTestMonitor(offline, nil)
	defer m.Close()

	go func() {
		time.Sleep(30 * time.Millisecond)
		conn.set(wifi)
	}()

	start := time.Now()
	if !m.WaitForConnection(context.Background(), 5*time.Second) {
		t.Fatal("expected true after reconnect")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected prompt return, took %v", elapsed)
	}
}

func TestMonitor_WaitForConnection_AlreadyConnected(t *testing.T) {
	m, _ := newTestMonitor(wifi, nil)
	defer m.Close()

	if !m.WaitForConnection(context.Background(), time.Millisecond) {
		t.Fatal("expected immediate true")
	}
}

func TestMonitor_WaitForConnection_ContextCancelled(t *testing.T) {
	m, _ := newTestMonitor(offline, nil)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if m.WaitForConnection(ctx, 5*time.Second) {
		t.Fatal("expected false on cancelled context")
	}
}

func TestMonitor_CheckInternetConnectivity(t *testing.T) {
	t.Run("reachable", func(t *testing.T) {
		m, _ := newTestMonitor(wifi, &mockProber{probeFn: func(context.Context) error { return nil }})
		if !m.CheckInternetConnectivity(context.Background()) {
			t.Error("expected reachable")
		}
	})

	t.Run("probe error", func(t *testing.T) {
		m, _ := newTestMonitor(wifi, &mockProber{probeFn: func(context.Context) error { return errors.New("dns failure") }})
		if m.CheckInternetConnectivity(context.Background()) {
			t.Error("expected unreachable")
		}
	})

	t.Run("probe timeout", func(t *testing.T) {
		prober := &mockProber{probeFn: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}}
		conn := &mockConnectivity{current: wifi}
		m := NewMonitor(conn, prober, Config{ProbeTimeout: 20 * time.Millisecond}, discardLogger())

		start := time.Now()
		if m.CheckInternetConnectivity(context.Background()) {
			t.Error("expected unreachable on timeout")
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("probe was not bounded, took %v", elapsed)
		}
	})
}

func TestMonitor_SubscribeAndUnsubscribe(t *testing.T) {
	m, conn := newTestMonitor(offline, nil)
	defer m.Close()

	ch, unsubscribe := m.Subscribe()
	conn.set(wifi)

	select {
	case s := <-ch:
		if !s.IsConnected {
			t.Errorf("expected connected update, got %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}

	unsubscribe()
	unsubscribe()
	conn.set(offline)
	select {
	case s := <-ch:
		t.Errorf("unexpected update after unsubscribe: %+v", s)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMonitor_GetSyncRecommendation(t *testing.T) {
	conn := &mockConnectivity{current: model.LinkStatus{Connected: true, Transport: model.TransportWiFi, Strength: 1}}
	m := NewMonitor(conn, nil, Config{LargePayloadBytes: 1000}, discardLogger())
	m.Start(context.Background())

	if rec := m.GetSyncRecommendation(10); !rec.ShouldSync {
		t.Errorf("small payload on poor link should sync: %+v", rec)
	}
	if rec := m.GetSyncRecommendation(2000); rec.ShouldSync {
		t.Errorf("large payload on poor link should wait: %+v", rec)
	}
}
