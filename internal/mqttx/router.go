package mqttx

import (
	"context"
	"errors"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/KiruthikKumar16/wb/internal/classify"
	"github.com/KiruthikKumar16/wb/internal/dispatch"
	"github.com/KiruthikKumar16/wb/internal/stream"
)

// Router is the inbound message handler: classify, mirror, dispatch.
// Malformed payloads are logged, dead-lettered when a mirror is
// configured, and dropped; nothing here can crash or stall ingestion.
type Router struct {
	log        *slog.Logger
	classifier *classify.Classifier
	dispatcher *dispatch.Dispatcher
	mirror     *stream.Mirror // nil unless Kafka is configured
}

func NewRouter(log *slog.Logger, classifier *classify.Classifier, dispatcher *dispatch.Dispatcher, mirror *stream.Mirror) *Router {
	return &Router{
		log:        log,
		classifier: classifier,
		dispatcher: dispatcher,
		mirror:     mirror,
	}
}

// Handle implements mqtt.MessageHandler.
func (r *Router) Handle(_ mqtt.Client, msg mqtt.Message) {
	ctx := context.Background()
	topic := msg.Topic()
	payload := msg.Payload()

	ev, err := r.classifier.Classify(topic, payload)
	if err != nil {
		if errors.Is(err, classify.ErrUnknownTopic) {
			r.log.Debug("ignoring message on unrelated topic", "topic", topic)
			return
		}
		r.log.Warn("bad payload; dropping", "topic", topic, "bytes", len(payload), "error", err)
		if r.mirror != nil {
			if dlqErr := r.mirror.PublishDLQ(ctx, topic, payload, err); dlqErr != nil {
				r.log.Warn("dlq publish failed", "topic", topic, "error", dlqErr)
			}
		}
		return
	}

	if r.mirror != nil {
		if err := r.mirror.Publish(ctx, ev.Device(), topic, payload); err != nil {
			r.log.Warn("event mirror publish failed", "topic", topic, "event_id", ev.ID(), "error", err)
		}
	}

	r.dispatcher.Dispatch(ctx, ev)
}
