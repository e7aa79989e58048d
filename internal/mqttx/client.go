// Package mqttx wires the broker side: subscriptions for the three
// wearable topic patterns, the inbound message handler, and ack
// publication back to devices.
package mqttx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/KiruthikKumar16/wb/internal/config"
)

// BuildClient configures the paho client. Handlers run in subscription
// order on the client's router goroutine, so events are classified and
// dispatched serially; fan-out concurrency lives in the dispatcher, not
// here.
func BuildClient(cfg *config.Config, log *slog.Logger, handler mqtt.MessageHandler) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(cfg.ClientID).
		SetOrderMatters(true).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		log.Info("mqtt connected", "broker", cfg.BrokerURL())
		subs := map[string]byte{
			cfg.TopicSOS:    1,
			cfg.TopicStatus: 0,
			cfg.TopicTamper: 1,
		}
		if token := c.SubscribeMultiple(subs, handler); token.Wait() && token.Error() != nil {
			log.Error("mqtt subscribe failed", "error", token.Error())
			return
		}
		log.Info("subscribed",
			"sos", cfg.TopicSOS,
			"status", cfg.TopicStatus,
			"tamper", cfg.TopicTamper,
		)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", "error", err)
	}

	return mqtt.NewClient(opts)
}

// ConnectWithBackoff retries the initial connect with doubling delay
// until it succeeds or the context is cancelled.
func ConnectWithBackoff(ctx context.Context, client mqtt.Client, log *slog.Logger, start, max time.Duration) {
	backoff := start
	for {
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Warn("mqtt connect failed", "error", token.Error(), "retry_in", backoff)
			select {
			case <-time.After(backoff):
				if backoff < max {
					backoff *= 2
				}
			case <-ctx.Done():
				log.Info("context cancelled before mqtt connect")
				return
			}
			continue
		}
		return
	}
}

// AckPublisher publishes SOS acknowledgments to the per-device ack
// topic at QoS 1 (at least once). The mqtt client is attached after
// construction because the client itself is built around the message
// router, which already needs the dispatcher wired.
type AckPublisher struct {
	client mqtt.Client
	now    func() time.Time
}

func NewAckPublisher() *AckPublisher {
	return &AckPublisher{now: time.Now}
}

func (a *AckPublisher) SetClient(client mqtt.Client) { a.client = client }

func (a *AckPublisher) PublishAck(deviceID string) error {
	if a.client == nil {
		return errors.New("mqtt client not attached")
	}
	topic := fmt.Sprintf("wearable/%s/ack", deviceID)
	payload := fmt.Sprintf(`{"ok":true,"ts":%q}`, a.now().UTC().Format(time.RFC3339Nano))
	token := a.client.Publish(topic, 1, false, []byte(payload))
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("ack publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("ack publish to %s: %w", topic, err)
	}
	return nil
}
