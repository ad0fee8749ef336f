// Package mqttbridge republishes event bus traffic onto an MQTT broker
// so home-automation stacks can consume UPS state without talking to
// the HTTP API.
package mqttbridge

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/Volteec/VolteecBackend/internal/bus"
	"github.com/Volteec/VolteecBackend/internal/config"
	"github.com/Volteec/VolteecBackend/internal/models"
)

const publishTimeout = 5 * time.Second

// Bridge holds the broker connection and its bus subscription.
type Bridge struct {
	client      mqtt.Client
	topicPrefix string
	logger      *zap.Logger
	subID       string
	bus         *bus.Bus
}

// Connect dials the broker and subscribes to the event bus. Topics are
// <prefix>/ups/<ups_id>/<event_type>; metrics updates are retained so a
// late consumer sees the latest reading immediately.
func Connect(cfg config.MQTTConfig, b *bus.Bus, logger *zap.Logger) (*Bridge, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker: %w", token.Error())
	}

	br := &Bridge{
		client:      client,
		topicPrefix: cfg.TopicPrefix,
		logger:      logger,
		bus:         b,
	}
	id, err := b.Subscribe(br.publish)
	if err != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("subscribe mqtt bridge: %w", err)
	}
	br.subID = id
	logger.Info("mqtt bridge connected", zap.String("broker", cfg.Broker))
	return br, nil
}

func (br *Bridge) publish(ev models.Event) {
	payload, err := json.Marshal(ev.UPS)
	if err != nil {
		br.logger.Error("mqtt bridge marshal failed", zap.Error(err))
		return
	}
	topic := fmt.Sprintf("%s/ups/%s/%s", br.topicPrefix, ev.UPS.UPSID, ev.Type)
	retained := ev.Type == models.EventMetricsUpdate

	token := br.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		br.logger.Warn("mqtt publish timed out", zap.String("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		br.logger.Warn("mqtt publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// Close unsubscribes from the bus first so no publish races the broker
// disconnect.
func (br *Bridge) Close() {
	br.bus.Unsubscribe(br.subID)
	br.client.Disconnect(250)
}
