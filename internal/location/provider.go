package location

import (
	"context"
	"time"

	"geoattend/engine/internal/model"
)

// Permission is the platform's answer to a location access request.
type Permission int

const (
	PermissionDenied Permission = iota
	PermissionGranted
)

func (p Permission) String() string {
	if p == PermissionGranted {
		return "granted"
	}
	return "denied"
}

// Accuracy is the requested positioning mode.
type Accuracy string

const (
	AccuracyBalanced Accuracy = "balanced"
	AccuracyHigh     Accuracy = "high"
)

// Config controls how often the sampler forwards fixes.
type Config struct {
	DesiredAccuracy       Accuracy
	MinInterval           time.Duration
	MinDisplacementMeters float64
}

// DefaultConfig returns the balanced sampling profile.
func DefaultConfig() Config {
	return Config{
		DesiredAccuracy:       AccuracyBalanced,
		MinInterval:           10 * time.Second,
		MinDisplacementMeters: 10,
	}
}

// Provider is the platform location capability.
//
// Subscribe returns a stream of samples and a function that cancels the
// subscription. The stream is not closed on cancel; consumers stop reading
// when ctx is done.
type Provider interface {
	RequestPermission(ctx context.Context) (Permission, error)
	Subscribe(ctx context.Context, cfg Config) (<-chan model.LocationSample, func(), error)
}
