// Package telemetry publishes playback activity to an MQTT broker so
// external dashboards can follow what is being cast where.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/aircast-project/aircast/internal/config"
	"github.com/aircast-project/aircast/internal/events"
	"github.com/aircast-project/aircast/internal/util"
)

// MQTT topics
const (
	TopicAdmin    = "aircast/admin"
	TopicSession  = "aircast/session"
	TopicState    = "aircast/state"
	TopicProgress = "aircast/progress"
	TopicServe    = "aircast/serve"
)

// MQTTHandler manages the MQTT connection and publishes playback
// telemetry from the event bus.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	// Build system metadata
	sysInfo := util.GetSystemInfo()
	metadata := map[string]interface{}{
		"hostname":  sysInfo.Hostname,
		"os":        sysInfo.OS,
		"cpu_model": sysInfo.CPUModel,
		"cpu_cores": sysInfo.CPUCores,
		"memory_mb": sysInfo.TotalMemory,
	}
	if ip, err := util.GetLocalIP(); err == nil {
		metadata["local_ip"] = ip
	}

	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		metadata: metadata,
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("aircast-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if cfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		// mTLS: load client certificate
		if cfg.CertFile != "" && cfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
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

// Start connects to the MQTT broker and subscribes to events. It blocks
// until ctx is canceled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
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
	h.eventBus.Subscribe(events.EventDeviceConnected, "mqtt.deviceConnected", h.onSession)
	h.eventBus.Subscribe(events.EventDeviceDisconnected, "mqtt.deviceDisconnected", h.onSession)
	h.eventBus.Subscribe(events.EventPlaybackStarted, "mqtt.playbackStarted", h.onSession)
	h.eventBus.Subscribe(events.EventPlaybackStopped, "mqtt.playbackStopped", h.onSession)
	h.eventBus.Subscribe(events.EventPlaybackState, "mqtt.playbackState", h.onState)
	h.eventBus.Subscribe(events.EventPlaybackProgress, "mqtt.playbackProgress", h.onProgress)
	h.eventBus.Subscribe(events.EventServeStarted, "mqtt.serveStarted", h.onServe)
	h.eventBus.Subscribe(events.EventServeStopped, "mqtt.serveStopped", h.onServe)
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, event events.Event) {
	if !h.client.IsConnected() {
		return
	}

	msg := h.buildMessage(event)

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
func (h *MQTTHandler) buildMessage(event events.Event) map[string]interface{} {
	msg := make(map[string]interface{})

	for k, v := range h.metadata {
		msg[k] = v
	}

	msg["event"] = string(event.Type)
	msg["source"] = event.Source
	msg["payload"] = event.Payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return msg
}

// Event handlers

func (h *MQTTHandler) onSession(ctx context.Context, event events.Event) error {
	h.publish(TopicSession, event)
	return nil
}

func (h *MQTTHandler) onState(ctx context.Context, event events.Event) error {
	h.publish(TopicState, event)
	return nil
}

func (h *MQTTHandler) onProgress(ctx context.Context, event events.Event) error {
	h.publish(TopicProgress, event)
	return nil
}

func (h *MQTTHandler) onServe(ctx context.Context, event events.Event) error {
	h.publish(TopicServe, event)
	return nil
}

// PublishShutdown sends a shutdown message to the MQTT broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicAdmin, events.Event{
		Type:   events.EventShutdown,
		Source: "telemetry",
	})
}
