// Package telemetry publishes probe results and status transitions to an
// MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/craftkeeper/internal/config"
	"github.com/energizer-project/craftkeeper/internal/events"
	"github.com/energizer-project/craftkeeper/internal/util"
)

// Sub-topics under the configured prefix.
const (
	TopicProbe  = "probe"
	TopicStatus = "status"
	TopicAdmin  = "admin"
)

// MQTTHandler forwards bus events to the broker.
type MQTTHandler struct {
	cfg      *config.Config
	eventBus *events.EventBus
	client   mqtt.Client
	prefix   string

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates the handler and its client. It does not connect.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus, version string) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(mqttCfg))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("craftkeeper-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetCleanSession(true)

	if mqttCfg.UseTLS {
		tlsConfig, err := buildTLSConfig(mqttCfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	return newHandler(cfg, eventBus, mqtt.NewClient(opts), sysInfo, version), nil
}

func newHandler(cfg *config.Config, eventBus *events.EventBus, client mqtt.Client, sysInfo util.SystemInfo, version string) *MQTTHandler {
	prefix := strings.Trim(cfg.GetApplicationData().MQTT.TopicPrefix, "/")
	if prefix == "" {
		prefix = "craftkeeper"
	}

	return &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		client:   client,
		prefix:   prefix,
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"os":          sysInfo.OS,
			"cpu_cores":   sysInfo.CPUCores,
			"memory_mb":   sysInfo.TotalMemory,
			"app_version": version,
		},
	}
}

// brokerURL picks the scheme from the TLS setting.
func brokerURL(c config.MQTTConfig) string {
	scheme := "tcp"
	if c.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.BrokerURL, c.Port)
}

func buildTLSConfig(c config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	// mTLS: client certificate
	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// Start connects to the broker, forwards events until ctx is cancelled,
// then announces the shutdown and disconnects.
func (h *MQTTHandler) Start(ctx context.Context) error {
	mqttCfg := h.cfg.GetApplicationData().MQTT
	log.Info().
		Str("broker", mqttCfg.BrokerURL).
		Int("port", mqttCfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()
	defer h.unsubscribeEvents()

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventProbeCompleted, "mqtt.probe", h.onProbeCompleted)
	h.eventBus.Subscribe(events.EventTargetStatusChanged, "mqtt.status", h.onStatusChanged)
	h.eventBus.Subscribe(events.EventNotifyMQTT, "mqtt.notify", h.onNotify)
}

func (h *MQTTHandler) unsubscribeEvents() {
	h.eventBus.Unsubscribe(events.EventProbeCompleted, "mqtt.probe")
	h.eventBus.Unsubscribe(events.EventTargetStatusChanged, "mqtt.status")
	h.eventBus.Unsubscribe(events.EventNotifyMQTT, "mqtt.notify")
}

// Topic returns the full topic for a sub-topic.
func (h *MQTTHandler) Topic(sub string) string {
	return h.prefix + "/" + strings.Trim(sub, "/")
}

// publish sends a JSON message to an MQTT topic with QoS 1.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

func (h *MQTTHandler) onProbeCompleted(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.ProbeCompletedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}

	h.publish(h.Topic(TopicProbe), map[string]interface{}{
		"target":     p.Target,
		"online":     p.Online,
		"latency":    p.LatencyMs,
		"state":      p.State,
		"error_kind": p.ErrorKind,
		"at":         p.At.UTC().Format(time.RFC3339Nano),
	})
	return nil
}

func (h *MQTTHandler) onStatusChanged(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.TargetStatusChangedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}

	h.publish(h.Topic(TopicStatus), map[string]interface{}{
		"target":     p.Target,
		"previous":   p.Previous,
		"current":    p.Current,
		"latency":    p.LatencyMs,
		"error_kind": p.ErrorKind,
		"at":         p.At.UTC().Format(time.RFC3339Nano),
	})
	return nil
}

func (h *MQTTHandler) onNotify(ctx context.Context, event events.Event) error {
	if p, ok := event.Payload.(events.NotifyMQTTPayload); ok && p.Topic != "" {
		h.publish(h.Topic(p.Topic), p.Data)
		return nil
	}
	h.publish(h.Topic(TopicStatus), event.Payload)
	return nil
}

// PublishShutdown sends a shutdown message to the admin topic.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(h.Topic(TopicAdmin), map[string]interface{}{
		"event": "shutdown",
	})
}
