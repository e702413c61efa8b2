package sites

import (
	"log/slog"
	"sync/atomic"

	"geoattend/engine/internal/geo"
	"geoattend/engine/internal/model"
)

// Registry holds the latest snapshot of registered work sites.
// Readers never observe a partially replaced snapshot.
type Registry struct {
	logger   *slog.Logger
	snapshot atomic.Pointer[[]model.Site]
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{logger: logger}
	empty := []model.Site{}
	r.snapshot.Store(&empty)
	return r
}

// Replace swaps the snapshot wholesale. Sites with an invalid center or a
// non-positive radius are skipped.
func (r *Registry) Replace(sites []model.Site) {
	next := make([]model.Site, 0, len(sites))
	for _, s := range sites {
		if s.ID == "" || !s.Center.Valid() || s.RadiusMeters <= 0 {
			r.logger.Warn("skipping invalid site", "site", s.ID, "radius", s.RadiusMeters)
			continue
		}
		next = append(next, s)
	}
	r.snapshot.Store(&next)
}

// Sites returns a copy of the current snapshot.
func (r *Registry) Sites() []model.Site {
	cur := *r.snapshot.Load()
	out := make([]model.Site, len(cur))
	copy(out, cur)
	return out
}

// Len reports the number of sites in the current snapshot.
func (r *Registry) Len() int {
	return len(*r.snapshot.Load())
}

// Nearest returns the closest site to c and its distance in meters.
// ok is false when the snapshot is empty.
func (r *Registry) Nearest(c model.Coordinate) (site model.Site, distance float64, ok bool) {
	for _, s := range *r.snapshot.Load() {
		d := geo.DistanceMeters(c, s.Center)
		if !ok || d < distance {
			site, distance, ok = s, d, true
		}
	}
	return site, distance, ok
}
