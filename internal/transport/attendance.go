package transport

import (
	"context"
	"fmt"
	"time"

	"geoattend/engine/internal/model"
)

// AttendanceEndpoint submits event batches to the remote attendance service.
// The service de-duplicates by event id, so a batch may be replayed safely.
type AttendanceEndpoint struct {
	client   *Client
	url      string
	deviceID string
	now      func() time.Time
}

func NewAttendanceEndpoint(client *Client, url, deviceID string) *AttendanceEndpoint {
	return &AttendanceEndpoint{client: client, url: url, deviceID: deviceID, now: time.Now}
}

type batchRequest struct {
	DeviceID       string         `json:"deviceId"`
	BatchTimestamp string         `json:"batchTimestamp"`
	Events         []eventPayload `json:"events"`
}

type eventPayload struct {
	ID             string   `json:"id"`
	UserID         string   `json:"userId"`
	SiteID         *string  `json:"siteId,omitempty"`
	EventType      string   `json:"eventType"`
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	DistanceMeters *float64 `json:"distanceMeters,omitempty"`
	CapturedAt     string   `json:"capturedAt"`
}

func toPayload(e model.AttendanceEvent) eventPayload {
	p := eventPayload{
		ID:             e.ID,
		UserID:         e.UserID,
		EventType:      string(e.EventType),
		Latitude:       e.Coordinate.Latitude,
		Longitude:      e.Coordinate.Longitude,
		DistanceMeters: e.DistanceToNearestSite,
		CapturedAt:     e.CapturedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.SiteID != "" {
		siteID := e.SiteID
		p.SiteID = &siteID
	}
	return p
}

// SubmitBatch posts events in the given order. Failures are returned as
// *model.DeliveryError.
func (a *AttendanceEndpoint) SubmitBatch(ctx context.Context, events []model.AttendanceEvent) error {
	req := batchRequest{
		DeviceID:       a.deviceID,
		BatchTimestamp: a.now().UTC().Format(time.RFC3339Nano),
		Events:         make([]eventPayload, 0, len(events)),
	}
	for _, e := range events {
		req.Events = append(req.Events, toPayload(e))
	}

	status, err := a.client.PostJSON(ctx, a.url, req, nil)
	if err != nil {
		return deliveryError(status, err)
	}
	if status < 200 || status >= 300 {
		return deliveryError(status, fmt.Errorf("attendance endpoint returned %d", status))
	}
	return nil
}
