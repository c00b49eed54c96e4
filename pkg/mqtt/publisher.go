// Package mqtt publishes device state to an MQTT broker so home automation
// systems can integrate over retained topics.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"
	"github.com/yetiwatch/yetiwatch/pkg/log"
	"github.com/yetiwatch/yetiwatch/pkg/types"
)

// Publisher publishes snapshots and command outcomes as retained JSON
// messages. Publishing on a Publisher without a broker is a no-op, which is
// how installs without MQTT run.
type Publisher struct {
	client paho.Client
	prefix string
}

// Configured sets up the Publisher based on flags. Without -mqtt-broker the
// Publisher stays disconnected and publishes nothing.
func Configured() *Publisher {
	broker := lflag.String("mqtt-broker", "", "MQTT broker URL, empty disables publishing")
	clientID := lflag.String("mqtt-client-id", "yetiwatch", "MQTT client ID")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	prefix := lflag.String("mqtt-topic-prefix", "yetiwatch", "Topic prefix for published messages")

	p := &Publisher{}

	lflag.Do(func() {
		p.prefix = *prefix
		if *broker == "" {
			return
		}

		opts := paho.NewClientOptions()
		opts.AddBroker(*broker)
		opts.SetClientID(*clientID)
		opts.SetUsername(*username)
		opts.SetPassword(*password)
		opts.SetAutoReconnect(true)
		opts.SetKeepAlive(60 * time.Second)
		opts.SetPingTimeout(10 * time.Second)
		opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
			slog.Warn("mqtt connection lost", slog.Any("error", err))
		})

		client := paho.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			panic(fmt.Sprintf("mqtt connect failed: %v", token.Error()))
		}
		p.client = client
	})

	return p
}

// Enabled reports whether a broker is connected.
func (p *Publisher) Enabled() bool {
	return p != nil && p.client != nil
}

// PublishState publishes snap retained on <prefix>/<device>/state so late
// subscribers immediately see the last known state.
func (p *Publisher) PublishState(ctx context.Context, deviceID string, snap types.DeviceSnapshot) error {
	return p.publish(ctx, fmt.Sprintf("%s/%s/state", p.topicPrefix(), deviceID), snap)
}

// PublishCommand publishes a resolved command on <prefix>/<device>/command.
func (p *Publisher) PublishCommand(ctx context.Context, deviceID string, outcome types.CommandOutcome) error {
	return p.publish(ctx, fmt.Sprintf("%s/%s/command", p.topicPrefix(), deviceID), outcome)
}

// Close disconnects from the broker, waiting briefly for in-flight messages.
func (p *Publisher) Close() {
	if !p.Enabled() {
		return
	}
	p.client.Disconnect(250)
}

func (p *Publisher) topicPrefix() string {
	if p == nil || p.prefix == "" {
		return "yetiwatch"
	}
	return p.prefix
}

func (p *Publisher) publish(ctx context.Context, topic string, v interface{}) error {
	if !p.Enabled() {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", topic, err)
	}
	token := p.client.Publish(topic, 1, true, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}
	log.Ctx(ctx).DebugContext(ctx, "published mqtt message", slog.String("topic", topic))
	return nil
}
