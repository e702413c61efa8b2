package notify

import (
	"context"
	"log/slog"
)

// Kind is the attendance transition a notification announces.
type Kind string

const (
	KindEntry Kind = "entry"
	KindExit  Kind = "exit"
)

// Notifier delivers best-effort attendance notifications.
type Notifier interface {
	Notify(ctx context.Context, kind Kind, siteName string) error
}

// Noop logs notifications without delivering them.
type Noop struct {
	logger *slog.Logger
}

// NewNoop creates a notifier for deployments without a broker.
func NewNoop(logger *slog.Logger) *Noop {
	return &Noop{logger: logger}
}

func (n *Noop) Notify(_ context.Context, kind Kind, siteName string) error {
	n.logger.Info("noop_notify", "kind", kind, "site", siteName)
	return nil
}
