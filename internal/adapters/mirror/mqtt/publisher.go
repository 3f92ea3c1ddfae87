package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"hostdeck.app/internal/core/domain"
	"hostdeck.app/internal/core/logger"
)

// Publisher mirrors room envelopes onto an MQTT broker so dashboards and
// automation outside the websocket path can observe the same traffic.
// Outbound only: nothing published to the broker flows back in.
type Publisher struct {
	client mqtt.Client
	prefix string
}

func NewPublisher(brokerURL string) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("hostdeck-server-%d", time.Now().UnixNano()))
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	logger.Info("connected to MQTT broker", "broker", brokerURL)
	return &Publisher{client: client, prefix: "hostdeck"}, nil
}

// Mirror publishes env to hostdeck/rooms/<room>. QoS 0: a missed sample or
// log line is acceptable, backpressure on the event path is not.
func (p *Publisher) Mirror(ctx context.Context, env domain.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/rooms/%s", p.prefix, env.Room)
	token := p.client.Publish(topic, 0, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			logger.Warn("mqtt publish failed", "topic", topic, "error", token.Error())
		}
	}()
	return nil
}

// Close disconnects from the broker, allowing in-flight publishes to drain.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
