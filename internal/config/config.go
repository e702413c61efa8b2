package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Prefix is prepended to every environment variable name.
const Prefix = "GEOATTEND_"

// Config lists the tunable parameters for the attendance engine.
type Config struct {
	HTTPPort     int    `env:"HTTP_PORT" envDefault:"8080"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"data/geoattend.db"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"text"`

	UserID   string `env:"USER_ID"`
	DeviceID string `env:"DEVICE_ID"`

	MQTTBroker    string `env:"MQTT_BROKER" envDefault:"tcp://localhost:1883"`
	LocationTopic string `env:"LOCATION_TOPIC"`

	DesiredAccuracy        string        `env:"DESIRED_ACCURACY" envDefault:"balanced"`
	MinInterval            time.Duration `env:"MIN_INTERVAL" envDefault:"10s"`
	MinDisplacement        float64       `env:"MIN_DISPLACEMENT_METERS" envDefault:"10"`
	DebounceSamples        int           `env:"DEBOUNCE_SAMPLES" envDefault:"1"`
	TrackingUpdateInterval time.Duration `env:"TRACKING_UPDATE_INTERVAL" envDefault:"5m"`

	SitesEndpoint       string        `env:"SITES_ENDPOINT" envDefault:"http://localhost:9000/api/sites"`
	SiteRefreshInterval time.Duration `env:"SITE_REFRESH_INTERVAL" envDefault:"15m"`

	SyncEndpoint    string        `env:"SYNC_ENDPOINT" envDefault:"http://localhost:9000/api/attendance/events"`
	SyncInterval    time.Duration `env:"SYNC_INTERVAL" envDefault:"1m"`
	BatchSize       int           `env:"BATCH_SIZE" envDefault:"50"`
	DeliveryTimeout time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"20s"`
	BackoffBase     time.Duration `env:"BACKOFF_BASE" envDefault:"2s"`
	BackoffFactor   float64       `env:"BACKOFF_FACTOR" envDefault:"2"`
	BackoffCap      time.Duration `env:"BACKOFF_CAP" envDefault:"5m"`
	MaxAttempts     int           `env:"MAX_ATTEMPTS" envDefault:"10"`

	ProbeURL          string        `env:"PROBE_URL" envDefault:"http://connectivitycheck.gstatic.com/generate_204"`
	ProbeTimeout      time.Duration `env:"PROBE_TIMEOUT" envDefault:"3s"`
	NetworkPoll       time.Duration `env:"NETWORK_POLL_INTERVAL" envDefault:"5s"`
	StableWindow      int           `env:"STABLE_WINDOW" envDefault:"3"`
	LargePayloadBytes int           `env:"LARGE_PAYLOAD_BYTES" envDefault:"65536"`

	RabbitMQURL string `env:"RABBITMQ_URL"`
	MDNSEnabled bool   `env:"MDNS_ENABLED" envDefault:"false"`
	Chaos       bool   `env:"CHAOS" envDefault:"false"`
}

// Load derives configuration values from GEOATTEND_* environment variables,
// falling back to defaults.
func Load() (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: Prefix})
	if err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}

	if cfg.DeviceID == "" {
		host, err := os.Hostname()
		if err != nil {
			return Config{}, fmt.Errorf("resolve device id: %w", err)
		}
		cfg.DeviceID = host
	}
	if cfg.LocationTopic == "" {
		cfg.LocationTopic = fmt.Sprintf("geoattend/devices/%s/location", cfg.DeviceID)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.UserID == "" {
		errs = append(errs, fmt.Errorf("%sUSER_ID: required", Prefix))
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("%sHTTP_PORT: must be between 1 and 65535", Prefix))
	}
	if c.DesiredAccuracy != "balanced" && c.DesiredAccuracy != "high" {
		errs = append(errs, fmt.Errorf("%sDESIRED_ACCURACY: must be balanced or high", Prefix))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("%sLOG_FORMAT: must be text or json", Prefix))
	}
	if c.MinDisplacement < 0 {
		errs = append(errs, fmt.Errorf("%sMIN_DISPLACEMENT_METERS: must not be negative", Prefix))
	}
	if c.TrackingUpdateInterval < 0 {
		errs = append(errs, fmt.Errorf("%sTRACKING_UPDATE_INTERVAL: must not be negative", Prefix))
	}
	if c.BackoffFactor < 1 {
		errs = append(errs, fmt.Errorf("%sBACKOFF_FACTOR: must be at least 1", Prefix))
	}

	positive := map[string]int{
		"DEBOUNCE_SAMPLES":    c.DebounceSamples,
		"BATCH_SIZE":          c.BatchSize,
		"MAX_ATTEMPTS":        c.MaxAttempts,
		"STABLE_WINDOW":       c.StableWindow,
		"LARGE_PAYLOAD_BYTES": c.LargePayloadBytes,
	}
	for name, v := range positive {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s%s: must be positive", Prefix, name))
		}
	}

	durations := map[string]time.Duration{
		"SITE_REFRESH_INTERVAL": c.SiteRefreshInterval,
		"SYNC_INTERVAL":         c.SyncInterval,
		"DELIVERY_TIMEOUT":      c.DeliveryTimeout,
		"BACKOFF_BASE":          c.BackoffBase,
		"BACKOFF_CAP":           c.BackoffCap,
		"PROBE_TIMEOUT":         c.ProbeTimeout,
		"NETWORK_POLL_INTERVAL": c.NetworkPoll,
	}
	for name, v := range durations {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s%s: must be positive", Prefix, name))
		}
	}

	return errors.Join(errs...)
}
