// Package mqtt publishes state and capture events to an MQTT broker.
package mqtt

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/rxtools/scanrec/internal/config"
	"github.com/rxtools/scanrec/internal/types"
	"github.com/rxtools/scanrec/internal/util"
)

const (
	connectRetryInterval = 10 * time.Second
	keepAlive            = 60 * time.Second
	pingTimeout          = 10 * time.Second
	disconnectQuiesceMs  = 250
)

// Publisher publishes events to topics under a configured prefix.
type Publisher struct {
	client      paho.Client
	topicPrefix string
}

// generateClientID creates a random client ID for the broker connection.
func generateClientID() string {
	buf := make([]byte, 8)
	rand.Read(buf)
	return "scanrec_" + hex.EncodeToString(buf)
}

// NewPublisher connects to the broker. Connection retries run in the
// background, so a broker that is down at startup does not block.
func NewPublisher(cfg config.MQTTConfig) (*Publisher, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(generateClientID())

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(connectRetryInterval)
	opts.SetKeepAlive(keepAlive)
	opts.SetPingTimeout(pingTimeout)

	opts.SetOnConnectHandler(func(paho.Client) {
		slog.Info("connected to MQTT broker", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		slog.Warn("MQTT connection lost", "error", err)
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Error() != nil {
		return nil, util.WrapError("connect to MQTT broker", token.Error())
	}

	return &Publisher{
		client:      client,
		topicPrefix: cfg.TopicPrefix,
	}, nil
}

// PublishStateChange publishes a mode transition to {prefix}/state.
func (p *Publisher) PublishStateChange(state types.AutoModeState) {
	p.publish(fmt.Sprintf("%s/state", p.topicPrefix), types.WSStateChange{
		Type:  "state_change",
		State: state,
	})
}

// PublishRecordingStatus publishes a capture start or stop to
// {prefix}/recording.
func (p *Publisher) PublishRecordingStatus(recording bool, frequencyHz uint64) {
	p.publish(fmt.Sprintf("%s/recording", p.topicPrefix), types.WSRecordingStatus{
		Type:        "recording_status",
		Recording:   recording,
		FrequencyHz: frequencyHz,
	})
}

// publish marshals the payload and publishes it without blocking the
// caller. Delivery errors are logged in the background.
func (p *Publisher) publish(topic string, payload any) {
	if p == nil || !p.client.IsConnected() {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal MQTT payload", "topic", topic, "error", err)
		return
	}

	token := p.client.Publish(topic, 0, false, data)
	go func() {
		if token.Wait() && token.Error() != nil {
			slog.Warn("failed to publish MQTT message", "topic", topic, "error", token.Error())
		}
	}()
}

// Disconnect gracefully disconnects from the broker.
func (p *Publisher) Disconnect() {
	if p != nil && p.client.IsConnected() {
		p.client.Disconnect(disconnectQuiesceMs)
		slog.Info("disconnected from MQTT broker")
	}
}
