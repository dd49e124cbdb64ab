// Package telemetry publishes hub activity to an MQTT broker:
// connection lifecycle, heartbeat health, and events forwarded from
// agents.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/gamelink-project/gamelink/internal/config"
	"github.com/gamelink-project/gamelink/internal/events"
	"github.com/gamelink-project/gamelink/internal/util"
)

// Topic suffixes under the configured topic root.
const (
	TopicConnection = "connection"
	TopicHeartbeat  = "heartbeat"
	TopicEvent      = "event"
	TopicStatus     = "status"
	TopicAdmin      = "admin"
)

// MQTTHandler manages the MQTT connection and publishes telemetry
// derived from the event bus.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      *config.Config
	eventBus *events.EventBus
	client   mqtt.Client
	root     string

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	metadata := map[string]interface{}{
		"hostname":  sysInfo.Hostname,
		"platform":  sysInfo.Platform,
		"cpu_model": sysInfo.CPUModel,
		"cpu_cores": sysInfo.CPUCores,
		"memory_mb": sysInfo.TotalMemory,
	}

	root := mqttCfg.TopicRoot
	if root == "" {
		root = "gamelink"
	}

	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		root:     root,
		metadata: metadata,
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("gamelink-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		// mTLS: load client certificate
		if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}

		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)

	return handler, nil
}

// Start connects to the MQTT broker and subscribes to bus events. It
// blocks until the context is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.GetApplicationData().MQTT.BrokerURL).
		Int("port", h.cfg.GetApplicationData().MQTT.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

// subscribeEvents registers event handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventConnectionAuthenticated, "mqtt.connAuth", h.onConnection("authenticated"))
	h.eventBus.Subscribe(events.EventConnectionLost, "mqtt.connLost", h.onConnection("lost"))
	h.eventBus.Subscribe(events.EventConnectionRemoved, "mqtt.connRemoved", h.onConnection("removed"))
	h.eventBus.Subscribe(events.EventAuthenticationFailed, "mqtt.authFailed", h.onConnection("auth_failed"))
	h.eventBus.Subscribe(events.EventHeartbeatTimeout, "mqtt.hbTimeout", h.onHeartbeat("timeout"))
	h.eventBus.Subscribe(events.EventHeartbeatFailure, "mqtt.hbFailure", h.onHeartbeat("failure"))
	h.eventBus.Subscribe(events.EventReconnectDisabled, "mqtt.reconnectDisabled", h.onReconnectDisabled)
	h.eventBus.Subscribe(events.EventRemoteEvent, "mqtt.remoteEvent", h.onRemoteEvent)
	h.eventBus.Subscribe(events.EventNotifyMQTT, "mqtt.notify", h.onNotify)
}

// topic joins the configured root with a suffix.
func (h *MQTTHandler) topic(suffix string) string {
	return h.root + "/" + suffix
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	msg := h.buildMessage(payload)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{})

	for k, v := range h.metadata {
		msg[k] = v
	}

	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return msg
}

// Event handlers

func (h *MQTTHandler) onConnection(action string) events.HandlerFunc {
	return func(ctx context.Context, event events.Event) error {
		h.publish(h.topic(TopicConnection), map[string]interface{}{
			"action":  action,
			"payload": event.Payload,
		})
		return nil
	}
}

func (h *MQTTHandler) onHeartbeat(action string) events.HandlerFunc {
	return func(ctx context.Context, event events.Event) error {
		h.publish(h.topic(TopicHeartbeat), map[string]interface{}{
			"action":  action,
			"payload": event.Payload,
		})
		return nil
	}
}

func (h *MQTTHandler) onReconnectDisabled(ctx context.Context, event events.Event) error {
	h.publish(h.topic(TopicConnection), map[string]interface{}{
		"action":  "reconnect_disabled",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onRemoteEvent(ctx context.Context, event events.Event) error {
	h.publish(h.topic(TopicEvent), event.Payload)
	return nil
}

func (h *MQTTHandler) onNotify(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.NotifyMQTTPayload)
	if !ok {
		h.publish(h.topic(TopicStatus), event.Payload)
		return nil
	}
	h.publish(h.topic(payload.Topic), payload.Payload)
	return nil
}

// PublishShutdown sends a shutdown message to the MQTT broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(h.topic(TopicAdmin), map[string]interface{}{
		"event":     "shutdown",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
