package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/grandcat/zeroconf"
	"golang.org/x/sync/errgroup"

	"geoattend/engine/internal/config"
	"geoattend/engine/internal/geofence"
	"geoattend/engine/internal/location"
	"geoattend/engine/internal/netmon"
	"geoattend/engine/internal/notify"
	"geoattend/engine/internal/sites"
	"geoattend/engine/internal/store"
	"geoattend/engine/internal/syncer"
	"geoattend/engine/internal/transport"
)

// App wires together the attendance engine and manages its lifecycle.
type App struct {
	cfg    config.Config
	logger *slog.Logger
	mdns   *zeroconf.Server
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run starts all configured services and blocks until the context is cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	db, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()

	if err := db.Migrate(); err != nil {
		return err
	}

	queue := store.NewQueue(db.DB(), a.cfg.MaxAttempts)
	recovered, err := queue.Recover(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		a.logger.Info("recovered in-flight events", "count", recovered)
	}

	client := transport.NewClient(a.cfg.DeliveryTimeout)
	if a.cfg.Chaos {
		client.EnableChaos(transport.DefaultChaosConfig())
		a.logger.Warn("chaos injection enabled for outbound requests")
	}

	registry := sites.NewRegistry(a.logger)
	refresher := sites.NewRefresher(registry, transport.NewSiteDirectory(client, a.cfg.SitesEndpoint), a.logger)

	notifier, closeNotifier := a.notifier()
	defer closeNotifier()

	watcher := netmon.NewInterfaceWatcher(a.cfg.NetworkPoll, a.logger)
	monitor := netmon.NewMonitor(watcher, netmon.NewHTTPProber(a.cfg.ProbeURL), netmon.Config{
		StableWindow:      a.cfg.StableWindow,
		ProbeTimeout:      a.cfg.ProbeTimeout,
		LargePayloadBytes: a.cfg.LargePayloadBytes,
	}, a.logger)
	monitor.Start(ctx)
	defer monitor.Close()

	machine := geofence.NewMachine(geofence.Config{
		UserID:                 a.cfg.UserID,
		DebounceSamples:        a.cfg.DebounceSamples,
		TrackingUpdateInterval: a.cfg.TrackingUpdateInterval,
	}, registry, queue, notifier, a.logger)
	if err := machine.Restore(ctx, queue); err != nil {
		a.logger.Warn("starting unassigned", "error", err)
	}

	syncCfg := syncer.DefaultConfig()
	syncCfg.BatchSize = a.cfg.BatchSize
	syncCfg.DeliveryTimeout = a.cfg.DeliveryTimeout
	syncCfg.Backoff = syncer.Backoff{Base: a.cfg.BackoffBase, Factor: a.cfg.BackoffFactor, Cap: a.cfg.BackoffCap}
	syncCfg.MaxAttempts = a.cfg.MaxAttempts
	scheduler := syncer.New(queue, transport.NewAttendanceEndpoint(client, a.cfg.SyncEndpoint, a.cfg.DeviceID), monitor, syncCfg, a.logger)

	var resume atomic.Pointer[tracker]
	mqttClient := a.connectMQTT(ctx, func() {
		if t := resume.Load(); t != nil {
			t.Resume(ctx)
		}
	})
	defer mqttClient.Disconnect(250)

	sampler := location.NewSampler(
		location.NewMQTTProvider(mqttClient, a.cfg.LocationTopic, a.logger),
		location.Config{
			DesiredAccuracy:       location.Accuracy(a.cfg.DesiredAccuracy),
			MinInterval:           a.cfg.MinInterval,
			MinDisplacementMeters: a.cfg.MinDisplacement,
		},
		a.logger,
	)
	track := newTracker(sampler, machine, a.logger)
	resume.Store(track)
	track.Start(ctx)
	defer track.Stop()

	scheduler.StartMonitoring(ctx, a.cfg.SyncInterval)
	defer scheduler.StopMonitoring()

	handler := &statusHandler{
		logger:     a.logger,
		ctx:        ctx,
		store:      db,
		queue:      queue,
		sync:       scheduler,
		network:    monitor,
		membership: machine,
		sites:      registry,
		refresher:  refresher,
		tracking:   track,
		eventSize:  syncCfg.EventSizeHint,
	}
	srv := newServer(fmt.Sprintf(":%d", a.cfg.HTTPPort), handler.Routes(), a.logger)

	if a.cfg.MDNSEnabled {
		if err := a.startMDNS(a.cfg.HTTPPort); err != nil {
			a.logger.Warn("mDNS advertisement failed", "error", err)
		}
		defer a.stopMDNS()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		watcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		monitor.Run(gctx, a.cfg.NetworkPoll)
		return nil
	})
	g.Go(func() error {
		refresher.Run(gctx, a.cfg.SiteRefreshInterval)
		return nil
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

func (a *App) notifier() (notify.Notifier, func()) {
	if a.cfg.RabbitMQURL == "" {
		return notify.NewNoop(a.logger), func() {}
	}

	conn, err := notify.Dial(a.cfg.RabbitMQURL)
	if err != nil {
		a.logger.Warn("rabbitmq unavailable, notifications disabled", "error", err)
		return notify.NewNoop(a.logger), func() {}
	}
	publisher, err := notify.NewRabbitMQ(conn, a.cfg.UserID, a.cfg.DeviceID)
	if err != nil {
		conn.Close()
		a.logger.Warn("rabbitmq setup failed, notifications disabled", "error", err)
		return notify.NewNoop(a.logger), func() {}
	}
	a.logger.Info("publishing attendance notifications to rabbitmq")
	return publisher, func() {
		if err := conn.Close(); err != nil {
			a.logger.Error("close rabbitmq", "error", err)
		}
	}
}

// connectMQTT returns a client that keeps reconnecting in the background.
// onConnect runs after every successful (re)connect.
func (a *App) connectMQTT(ctx context.Context, onConnect func()) mqtt.Client {
	clientID := fmt.Sprintf("geoattend-%s-%d", a.cfg.DeviceID, time.Now().UnixNano())
	opts := mqtt.NewClientOptions().
		AddBroker(a.cfg.MQTTBroker).
		SetClientID(clientID).
		SetOrderMatters(false).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		a.logger.Info("connected to mqtt broker", "broker", a.cfg.MQTTBroker, "client_id", clientID)
		onConnect()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		a.logger.Warn("mqtt connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			a.logger.Warn("mqtt connect failed", "broker", a.cfg.MQTTBroker, "error", err)
		}
	case <-time.After(10 * time.Second):
		a.logger.Warn("mqtt broker not reachable yet, retrying in background", "broker", a.cfg.MQTTBroker)
	case <-ctx.Done():
	}
	return client
}
