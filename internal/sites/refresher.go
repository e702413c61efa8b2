package sites

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"geoattend/engine/internal/model"
)

// Directory is the site-management collaborator.
type Directory interface {
	ListActiveSites(ctx context.Context) ([]model.Site, error)
}

// Refresher keeps a Registry in sync with the site directory.
type Refresher struct {
	registry   *Registry
	directory  Directory
	logger     *slog.Logger
	maxRetries uint64
	initial    time.Duration
	trigger    chan struct{}
}

// NewRefresher constructs a refresher that retries each pull up to three times.
func NewRefresher(registry *Registry, directory Directory, logger *slog.Logger) *Refresher {
	return &Refresher{
		registry:   registry,
		directory:  directory,
		logger:     logger,
		maxRetries: 3,
		initial:    500 * time.Millisecond,
		trigger:    make(chan struct{}, 1),
	}
}

// Refresh pulls the active sites and replaces the registry snapshot.
// On failure the previous snapshot is kept.
func (r *Refresher) Refresh(ctx context.Context) error {
	var fetched []model.Site

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.initial
	policy.MaxInterval = 10 * time.Second

	op := func() error {
		sites, err := r.directory.ListActiveSites(ctx)
		if err != nil {
			r.logger.Debug("site directory pull failed", "error", err)
			return err
		}
		fetched = sites
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, r.maxRetries), ctx)); err != nil {
		return fmt.Errorf("refresh sites: %w", err)
	}

	r.registry.Replace(fetched)
	r.logger.Info("site registry refreshed", "sites", r.registry.Len())
	return nil
}

// Trigger requests an immediate refresh from a running Run loop.
// Extra triggers while one is pending are coalesced.
func (r *Refresher) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run refreshes once, then on every interval tick and every Trigger, until ctx is done.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) {
	r.refreshLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshLogged(ctx)
		case <-r.trigger:
			r.refreshLogged(ctx)
		}
	}
}

func (r *Refresher) refreshLogged(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
		r.logger.Warn("site refresh failed, keeping previous snapshot", "sites", r.registry.Len(), "error", err)
	}
}
