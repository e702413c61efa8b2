package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"geoattend/engine/internal/geofence"
	"geoattend/engine/internal/model"
	"geoattend/engine/internal/syncer"
)

// Checker verifies that an infrastructure dependency is reachable.
type Checker interface {
	Check(ctx context.Context) error
}

type queueStats interface {
	Stats(ctx context.Context) (model.QueueStats, error)
}

type drainer interface {
	Drain(ctx context.Context) (syncer.DrainResult, error)
	LastDrain() syncer.DrainResult
	Monitoring() bool
}

type networkView interface {
	Status() model.NetworkStatus
	IsConnectionStable() bool
	GetSyncRecommendation(payloadBytes int) model.SyncRecommendation
	CheckInternetConnectivity(ctx context.Context) bool
	Subscribe() (<-chan model.NetworkStatus, func())
}

type membershipView interface {
	Current() geofence.Membership
}

type siteRefresher interface {
	Trigger()
}

type siteCounter interface {
	Len() int
}

type trackingControl interface {
	Start(ctx context.Context) TrackingStatus
	Stop() TrackingStatus
	Status() TrackingStatus
}

// statusHandler serves the local status surface.
type statusHandler struct {
	logger     *slog.Logger
	ctx        context.Context
	store      Checker
	queue      queueStats
	sync       drainer
	network    networkView
	membership membershipView
	sites      siteCounter
	refresher  siteRefresher
	tracking   trackingControl
	eventSize  int
}

func (h *statusHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(newStructuredLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Post("/sync", h.drain)
		r.Post("/sites/refresh", h.refreshSites)
		r.Post("/tracking/start", h.startTracking)
		r.Post("/tracking/stop", h.stopTracking)
	})
	r.Get("/ws/status", h.streamStatus)
	return r
}

func (h *statusHandler) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := map[string]string{"store": "ok"}
	if err := h.store.Check(ctx); err != nil {
		h.logger.Error("health check failed", "name", "store", "error", err)
		results["store"] = "error"
		status = http.StatusServiceUnavailable
	}

	// Unreachable internet degrades sync but does not make the engine unhealthy.
	results["internet"] = "reachable"
	if !h.network.CheckInternetConnectivity(ctx) {
		results["internet"] = "unreachable"
	}

	writeJSON(w, status, results)
}

type statusResponse struct {
	Tracking       TrackingStatus           `json:"tracking"`
	Membership     geofence.Membership      `json:"membership"`
	Sites          int                      `json:"sites"`
	Network        model.NetworkStatus      `json:"network"`
	Stable         bool                     `json:"stable"`
	Recommendation model.SyncRecommendation `json:"recommendation"`
	Queue          *model.QueueStats        `json:"queue,omitempty"`
	QueueError     string                   `json:"queue_error,omitempty"`
	Monitoring     bool                     `json:"sync_monitoring"`
	LastDrain      syncer.DrainResult       `json:"last_drain"`
}

func (h *statusHandler) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Tracking:   h.tracking.Status(),
		Membership: h.membership.Current(),
		Sites:      h.sites.Len(),
		Network:    h.network.Status(),
		Stable:     h.network.IsConnectionStable(),
		Monitoring: h.sync.Monitoring(),
		LastDrain:  h.sync.LastDrain(),
	}

	backlog := 0
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		h.logger.Error("queue stats", "error", err)
		resp.QueueError = "store unavailable"
	} else {
		resp.Queue = &stats
		backlog = stats.Pending + stats.Failed
	}
	resp.Recommendation = h.network.GetSyncRecommendation(backlog * h.eventSize)

	writeJSON(w, http.StatusOK, resp)
}

func (h *statusHandler) drain(w http.ResponseWriter, r *http.Request) {
	res, err := h.sync.Drain(r.Context())
	if err != nil {
		h.logger.Error("manual drain failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "store unavailable", "result": res})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *statusHandler) refreshSites(w http.ResponseWriter, _ *http.Request) {
	h.refresher.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *statusHandler) startTracking(w http.ResponseWriter, _ *http.Request) {
	// Sampling outlives the request, so it runs on the application context.
	st := h.tracking.Start(h.ctx)
	code := http.StatusOK
	if st.State == TrackingPermissionDenied {
		code = http.StatusForbidden
	} else if st.State != TrackingRunning {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func (h *statusHandler) stopTracking(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.tracking.Stop())
}

func (h *statusHandler) streamStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	updates, unsubscribe := h.network.Subscribe()
	defer unsubscribe()

	ctx := conn.CloseRead(r.Context())
	if err := wsjson.Write(ctx, conn, h.network.Status()); err != nil {
		h.logger.Debug("websocket write failed", "error", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case s := <-updates:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, s)
			cancel()
			if err != nil {
				h.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
