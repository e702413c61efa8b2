package geofence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"geoattend/engine/internal/model"
	"geoattend/engine/internal/notify"
)

// Locator answers nearest-site queries against the current site snapshot.
type Locator interface {
	Nearest(c model.Coordinate) (model.Site, float64, bool)
}

// Queue is the durable sink for emitted events.
type Queue interface {
	Enqueue(ctx context.Context, e model.AttendanceEvent) error
}

// MembershipSource reports the last recorded site transition of a user.
// An empty siteID with ok set means the last transition was an exit.
type MembershipSource interface {
	LastTransition(ctx context.Context, userID string) (siteID string, at time.Time, ok bool, err error)
}

const defaultNotifyTimeout = 5 * time.Second

// Config tunes the transition policy.
type Config struct {
	UserID string
	// DebounceSamples is how many consecutive samples must agree on a new
	// membership before it is applied.
	DebounceSamples int
	// TrackingUpdateInterval rate-limits liveness events. Zero disables them.
	TrackingUpdateInterval time.Duration
}

// Membership is a read-only view of the machine's state.
type Membership struct {
	SiteID   string    `json:"site_id,omitempty"`
	SiteName string    `json:"site_name,omitempty"`
	Since    time.Time `json:"since,omitempty"`
}

// Machine converts location samples into attendance events.
//
// Process calls are serialized. Each event is enqueued before the state it
// describes is applied, so a failed enqueue leaves the machine in the last
// state that has a recorded event.
type Machine struct {
	cfg      Config
	locator  Locator
	queue    Queue
	notifier notify.Notifier
	logger   *slog.Logger
	newID    func() string

	notifyTimeout time.Duration

	mu         sync.Mutex
	current    Membership
	candidate  string
	agreeing   int
	lastUpdate time.Time
}

type notification struct {
	kind     notify.Kind
	siteName string
}

// NewMachine constructs a machine in the Unassigned state.
func NewMachine(cfg Config, locator Locator, queue Queue, notifier notify.Notifier, logger *slog.Logger) *Machine {
	if cfg.DebounceSamples < 1 {
		cfg.DebounceSamples = 1
	}
	return &Machine{
		cfg:      cfg,
		locator:  locator,
		queue:    queue,
		notifier: notifier,
		logger:   logger,
		newID:    uuid.NewString,

		notifyTimeout: defaultNotifyTimeout,
	}
}

// Restore seeds the membership from the last recorded transition, so a
// restart while on site does not record a second entry. It must be called
// before the first Process.
func (m *Machine) Restore(ctx context.Context, src MembershipSource) error {
	siteID, at, ok, err := src.LastTransition(ctx, m.cfg.UserID)
	if err != nil {
		return fmt.Errorf("restore membership: %w", err)
	}
	if !ok || siteID == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Membership{SiteID: siteID, Since: at}
	m.logger.Info("membership restored", "site_id", siteID, "since", at)
	return nil
}

// Current returns the current membership. SiteID is empty when Unassigned.
func (m *Machine) Current() Membership {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Process classifies one sample and records any resulting events. The
// returned error is always an enqueue failure.
func (m *Machine) Process(ctx context.Context, sample model.LocationSample) error {
	m.mu.Lock()
	notes, err := m.process(ctx, sample)
	m.mu.Unlock()

	for _, n := range notes {
		nctx, cancel := context.WithTimeout(ctx, m.notifyTimeout)
		nerr := m.notifier.Notify(nctx, n.kind, n.siteName)
		cancel()
		if nerr != nil {
			m.logger.Warn("attendance notification failed", "kind", n.kind, "site", n.siteName, "error", nerr)
		}
	}
	return err
}

func (m *Machine) process(ctx context.Context, sample model.LocationSample) ([]notification, error) {
	site, distance, found := m.locator.Nearest(sample.Coordinate)

	var (
		target     string
		targetName string
		nearest    *float64
	)
	if found {
		nearest = &distance
		if distance <= site.RadiusMeters {
			target, targetName = site.ID, site.Name
		}
	}

	if target == m.current.SiteID {
		if target != "" && m.current.SiteName == "" {
			m.current.SiteName = targetName
		}
		m.candidate, m.agreeing = "", 0
		return nil, m.trackingUpdate(ctx, sample, nearest)
	}

	if target != m.candidate || m.agreeing == 0 {
		m.candidate, m.agreeing = target, 0
	}
	m.agreeing++
	if m.agreeing < m.cfg.DebounceSamples {
		m.logger.Debug("membership change pending", "target", target, "agreeing", m.agreeing, "required", m.cfg.DebounceSamples)
		return nil, m.trackingUpdate(ctx, sample, nearest)
	}
	m.candidate, m.agreeing = "", 0

	var notes []notification

	if m.current.SiteID != "" {
		exit := m.event(model.EventSiteExit, m.current.SiteID, sample, nearest)
		if err := m.queue.Enqueue(ctx, exit); err != nil {
			return notes, fmt.Errorf("record site exit: %w", err)
		}
		m.logger.Info("site exit", "site_id", m.current.SiteID, "event_id", exit.ID)
		name := m.current.SiteName
		if name == "" {
			name = m.current.SiteID
		}
		notes = append(notes, notification{kind: notify.KindExit, siteName: name})
		m.current = Membership{Since: sample.CapturedAt}
		m.lastUpdate = sample.CapturedAt
	}

	if target != "" {
		entry := m.event(model.EventSiteEntry, target, sample, nearest)
		if err := m.queue.Enqueue(ctx, entry); err != nil {
			return notes, fmt.Errorf("record site entry: %w", err)
		}
		m.logger.Info("site entry", "site_id", target, "event_id", entry.ID)
		notes = append(notes, notification{kind: notify.KindEntry, siteName: targetName})
		m.current = Membership{SiteID: target, SiteName: targetName, Since: sample.CapturedAt}
		m.lastUpdate = sample.CapturedAt
	}

	return notes, nil
}

// trackingUpdate emits a liveness event at most once per interval. The first
// sample only starts the clock.
func (m *Machine) trackingUpdate(ctx context.Context, sample model.LocationSample, nearest *float64) error {
	if m.cfg.TrackingUpdateInterval <= 0 {
		return nil
	}
	if m.lastUpdate.IsZero() {
		m.lastUpdate = sample.CapturedAt
		return nil
	}
	if sample.CapturedAt.Sub(m.lastUpdate) < m.cfg.TrackingUpdateInterval {
		return nil
	}

	ev := m.event(model.EventTrackingUpdate, m.current.SiteID, sample, nearest)
	if err := m.queue.Enqueue(ctx, ev); err != nil {
		return fmt.Errorf("record tracking update: %w", err)
	}
	m.lastUpdate = sample.CapturedAt
	return nil
}

func (m *Machine) event(kind model.EventType, siteID string, sample model.LocationSample, nearest *float64) model.AttendanceEvent {
	var distance *float64
	if nearest != nil {
		d := *nearest
		distance = &d
	}
	return model.AttendanceEvent{
		ID:                    m.newID(),
		UserID:                m.cfg.UserID,
		SiteID:                siteID,
		Coordinate:            sample.Coordinate,
		EventType:             kind,
		DistanceToNearestSite: distance,
		CapturedAt:            sample.CapturedAt,
	}
}
