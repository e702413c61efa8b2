package model

import "time"

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinate lies within the WGS84 ranges.
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// Site is a registered work site with a circular geofence.
type Site struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Center       Coordinate `json:"center"`
	RadiusMeters float64    `json:"radius_meters"`
}

// LocationSample is a single fix produced by the location sampler.
type LocationSample struct {
	Coordinate     Coordinate `json:"coordinate"`
	CapturedAt     time.Time  `json:"captured_at"`
	AccuracyMeters *float64   `json:"accuracy_meters,omitempty"`
}

// EventType distinguishes attendance transitions from liveness updates.
type EventType string

const (
	EventSiteEntry      EventType = "site_entry"
	EventSiteExit       EventType = "site_exit"
	EventTrackingUpdate EventType = "tracking_update"
)

// AttendanceEvent is an immutable record emitted by the geofence state machine.
// SiteID is empty when the event is not tied to a site.
type AttendanceEvent struct {
	ID                    string     `json:"id"`
	UserID                string     `json:"user_id"`
	SiteID                string     `json:"site_id,omitempty"`
	Coordinate            Coordinate `json:"coordinate"`
	EventType             EventType  `json:"event_type"`
	DistanceToNearestSite *float64   `json:"distance_to_nearest_site,omitempty"`
	CapturedAt            time.Time  `json:"captured_at"`
}

// DeliveryState tracks a queued event through the sync protocol.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryInFlight  DeliveryState = "in_flight"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
)

// QueuedEvent wraps an AttendanceEvent with its delivery bookkeeping.
type QueuedEvent struct {
	Event         AttendanceEvent `json:"event"`
	State         DeliveryState   `json:"state"`
	AttemptCount  int             `json:"attempt_count"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     string          `json:"last_error,omitempty"`
	FailureClass  FailureClass    `json:"failure_class,omitempty"`
}

// QueueStats summarises the durable queue for status reporting.
type QueueStats struct {
	Pending  int `json:"pending"`
	InFlight int `json:"in_flight"`
	Failed   int `json:"failed"`
	Parked   int `json:"parked"`
}

// TransportType is the link-layer transport reported by the platform.
type TransportType string

const (
	TransportNone     TransportType = "none"
	TransportWiFi     TransportType = "wifi"
	TransportEthernet TransportType = "ethernet"
	TransportCellular TransportType = "cellular"
	TransportOther    TransportType = "other"
)

// QualityTier buckets connection quality for sync decisions.
type QualityTier string

const (
	QualityExcellent QualityTier = "excellent"
	QualityGood      QualityTier = "good"
	QualityPoor      QualityTier = "poor"
	QualityUnknown   QualityTier = "unknown"
)

// LinkStatus is the raw connectivity snapshot supplied by the platform.
// Strength is 0..4 bars, or -1 when the platform does not report it.
// Generation applies to cellular links ("2g" .. "5g").
type LinkStatus struct {
	Connected  bool          `json:"connected"`
	Transport  TransportType `json:"transport"`
	Strength   int           `json:"strength"`
	Generation string        `json:"generation,omitempty"`
}

// NetworkStatus is the monitor's derived view of connectivity.
type NetworkStatus struct {
	IsConnected   bool          `json:"is_connected"`
	TransportType TransportType `json:"transport_type"`
	QualityTier   QualityTier   `json:"quality_tier"`
	ObservedAt    time.Time     `json:"observed_at"`
}

// SyncRecommendation is the monitor's advice to the sync scheduler.
type SyncRecommendation struct {
	ShouldSync bool        `json:"should_sync"`
	Reason     string      `json:"reason"`
	Quality    QualityTier `json:"quality"`
}
