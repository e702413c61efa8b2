package model

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when the platform refuses location access.
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrStoreCorruption marks failures reading or writing the durable queue.
	ErrStoreCorruption = errors.New("event store failure")
)

// FailureClass groups delivery failures by retry policy.
type FailureClass string

// FailureServer covers 5xx and throttling responses, which are transient.
// FailureRejected covers the other 4xx responses: the server refused the
// records themselves.
const (
	FailureNetwork  FailureClass = "network"
	FailureServer   FailureClass = "server"
	FailureRejected FailureClass = "rejected"
	FailureTimeout  FailureClass = "timeout"
)

// Offline reports whether the class should suppress retries until connectivity returns.
func (c FailureClass) Offline() bool {
	return c == FailureNetwork || c == FailureTimeout
}

// Permanent reports whether repeating the same request is expected to fail
// again. Only permanent failures are parked after the attempt cap.
func (c FailureClass) Permanent() bool {
	return c == FailureRejected
}

// DeliveryError is a classified failure from the remote attendance endpoint.
type DeliveryError struct {
	Class      FailureClass
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s error (status %d): %v", e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Class, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
