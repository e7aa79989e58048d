// Package stream mirrors inbound device events to Kafka so downstream
// consumers (analytics, replay tooling) see the same traffic the
// dispatcher does. Malformed payloads go to a dead-letter topic wrapped
// in an error envelope. Everything here is best-effort: a broker outage
// must never stall alert dispatch.
package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// Mirror owns two writers, one for the main event topic and one for the
// DLQ.
type Mirror struct {
	main *kafka.Writer
	dlq  *kafka.Writer
}

func NewMirror(brokers []string, topic, dlqTopic string) *Mirror {
	balancer := &kafka.Hash{}

	main := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: balancer,

		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,

		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Compression:  kafka.Snappy,
	}

	dlq := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    dlqTopic,
		Balancer: balancer,

		BatchSize:    50,
		BatchTimeout: 20 * time.Millisecond,

		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Compression:  kafka.Snappy,
	}

	return &Mirror{main: main, dlq: dlq}
}

// Publish forwards a raw event payload keyed by device id.
func (m *Mirror) Publish(ctx context.Context, deviceID, topic string, payload []byte) error {
	key := []byte(deviceID)
	if deviceID == "" {
		key = []byte("unknown-device")
	}
	return m.main.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: payload,
		Headers: []kafka.Header{
			{Key: "mqttTopic", Value: []byte(topic)},
			{Key: "receivedAt", Value: []byte(time.Now().UTC().Format(time.RFC3339Nano))},
		},
	})
}

// PublishDLQ wraps a payload that failed classification in an error
// envelope and sends it to the dead-letter topic.
func (m *Mirror) PublishDLQ(ctx context.Context, topic string, payload []byte, cause error) error {
	envelope := map[string]any{
		"error":      cause.Error(),
		"original":   json.RawMessage(payload),
		"topic":      topic,
		"receivedAt": time.Now().UTC().Format(time.RFC3339Nano),
	}
	buf, err := json.Marshal(envelope)
	if err != nil {
		// payload is not valid JSON; ship it base64-encoded instead
		envelope["original"] = payload
		buf, err = json.Marshal(envelope)
		if err != nil {
			return err
		}
	}
	return m.dlq.WriteMessages(ctx, kafka.Message{
		Key:   []byte("invalid"),
		Value: buf,
	})
}

func (m *Mirror) Close() {
	_ = m.main.Close()
	_ = m.dlq.Close()
}
