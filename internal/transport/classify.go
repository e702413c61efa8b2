package transport

import (
	"context"
	"errors"
	"net"
	"net/http"

	"geoattend/engine/internal/model"
)

// Classify maps a delivery error to its retry class.
func Classify(err error) model.FailureClass {
	var de *model.DeliveryError
	if errors.As(err, &de) {
		return de.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.FailureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return model.FailureTimeout
	}
	return model.FailureNetwork
}

func deliveryError(status int, err error) error {
	if status == 0 {
		return &model.DeliveryError{Class: Classify(err), Err: err}
	}
	return &model.DeliveryError{Class: statusClass(status), StatusCode: status, Err: err}
}

func statusClass(status int) model.FailureClass {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return model.FailureServer
	case status >= 400 && status < 500:
		return model.FailureRejected
	default:
		return model.FailureServer
	}
}
