package location

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"geoattend/engine/internal/model"
)

// subackFailure is the MQTT SUBACK return code for a refused subscription.
const subackFailure = 0x80

// fixMessage is the JSON payload published by the device GPS bridge.
type fixMessage struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Timestamp int64    `json:"timestamp"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// MQTTProvider reads location fixes from a GPS bridge over MQTT. A broker
// that refuses the subscription is treated as a permission denial.
type MQTTProvider struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
	logger  *slog.Logger
}

// NewMQTTProvider constructs a provider reading fixes from topic.
func NewMQTTProvider(client mqtt.Client, topic string, logger *slog.Logger) *MQTTProvider {
	return &MQTTProvider{
		client:  client,
		topic:   topic,
		qos:     1,
		timeout: 10 * time.Second,
		logger:  logger,
	}
}

// RequestPermission probes the topic ACL with a throwaway subscription.
func (p *MQTTProvider) RequestPermission(ctx context.Context) (Permission, error) {
	if !p.client.IsConnectionOpen() {
		return PermissionDenied, fmt.Errorf("mqtt client not connected")
	}
	granted, err := p.subscribe(ctx, func(mqtt.Client, mqtt.Message) {})
	if err != nil {
		return PermissionDenied, err
	}
	if !granted {
		return PermissionDenied, nil
	}
	p.client.Unsubscribe(p.topic).WaitTimeout(p.timeout)
	return PermissionGranted, nil
}

// Subscribe starts streaming fixes. Fixes that arrive while the consumer is
// busy are dropped.
func (p *MQTTProvider) Subscribe(ctx context.Context, cfg Config) (<-chan model.LocationSample, func(), error) {
	samples := make(chan model.LocationSample, 16)
	done := make(chan struct{})

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		sample, err := decodeFix(msg.Payload())
		if err != nil {
			p.logger.Warn("invalid location message", "topic", msg.Topic(), "error", err)
			return
		}
		select {
		case <-done:
		case samples <- sample:
		default:
			p.logger.Debug("location consumer busy, dropping fix", "topic", msg.Topic())
		}
	}

	granted, err := p.subscribe(ctx, handler)
	if err != nil {
		return nil, nil, err
	}
	if !granted {
		return nil, nil, model.ErrPermissionDenied
	}
	p.logger.Debug("subscribed to location topic", "topic", p.topic, "accuracy", cfg.DesiredAccuracy)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			if token := p.client.Unsubscribe(p.topic); token.WaitTimeout(p.timeout) && token.Error() != nil {
				p.logger.Warn("unsubscribe location topic", "topic", p.topic, "error", token.Error())
			}
		})
	}
	return samples, cancel, nil
}

func (p *MQTTProvider) subscribe(ctx context.Context, handler mqtt.MessageHandler) (bool, error) {
	token := p.client.Subscribe(p.topic, p.qos, handler)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(p.timeout):
		return false, fmt.Errorf("subscribe %s: timed out", p.topic)
	}
	if err := token.Error(); err != nil {
		return false, fmt.Errorf("subscribe %s: %w", p.topic, err)
	}
	if st, ok := token.(*mqtt.SubscribeToken); ok {
		for _, code := range st.Result() {
			if code == subackFailure {
				return false, nil
			}
		}
	}
	return true, nil
}

func decodeFix(payload []byte) (model.LocationSample, error) {
	var raw fixMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return model.LocationSample{}, err
	}
	if err := validateFix(&raw); err != nil {
		return model.LocationSample{}, err
	}
	return model.LocationSample{
		Coordinate:     model.Coordinate{Latitude: raw.Latitude, Longitude: raw.Longitude},
		CapturedAt:     time.Unix(raw.Timestamp, 0).UTC(),
		AccuracyMeters: raw.Accuracy,
	}, nil
}

func validateFix(msg *fixMessage) error {
	if msg.Latitude < -90 || msg.Latitude > 90 {
		return fmt.Errorf("latitude: must be between -90 and 90")
	}
	if msg.Longitude < -180 || msg.Longitude > 180 {
		return fmt.Errorf("longitude: must be between -180 and 180")
	}
	if msg.Timestamp <= 0 {
		return fmt.Errorf("timestamp: must be positive")
	}
	if msg.Accuracy != nil && *msg.Accuracy < 0 {
		return fmt.Errorf("accuracy: must not be negative")
	}
	return nil
}
