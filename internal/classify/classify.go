// Package classify turns raw MQTT messages into typed device events.
// The topic suffix selects the variant to decode; payloads that do not
// parse are reported as decode errors so the caller can drop them
// without ever touching the notification path.
package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/KiruthikKumar16/wb/internal/model"
)

// ErrUnknownTopic marks messages on topics outside the three wearable
// suffixes. They are ignored, not treated as decode failures.
var ErrUnknownTopic = errors.New("classify: unknown topic")

// DecodeError wraps a payload that could not be decoded into the schema
// expected for its topic.
type DecodeError struct {
	Topic string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("classify: bad payload on %s: %v", e.Topic, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

const defaultReason = "unknown"

// wire shapes as published by the devices; pointers distinguish missing
// fields from zero values.
type sosPayload struct {
	DeviceID string   `json:"deviceId"`
	TS       string   `json:"ts"`
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
	Reason   string   `json:"reason"`
	MapsURL  string   `json:"mapsUrl"`
}

type statusPayload struct {
	DeviceID string   `json:"deviceId"`
	TS       string   `json:"ts"`
	State    string   `json:"state"`
	Battery  *int     `json:"batteryPercent"`
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
}

type tamperPayload struct {
	DeviceID string `json:"deviceId"`
	TS       string `json:"ts"`
	Reason   string `json:"reason"`
}

// Classifier decodes inbound messages into model events. The clock and
// id generator are injectable for tests.
type Classifier struct {
	now   func() time.Time
	newID func() string
}

func New() *Classifier {
	return &Classifier{
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// NewWithClock builds a classifier with a fixed clock and id source.
func NewWithClock(now func() time.Time, newID func() string) *Classifier {
	return &Classifier{now: now, newID: newID}
}

// Classify maps a topic and payload to a typed event. It returns
// ErrUnknownTopic for unrelated topics and a *DecodeError for malformed
// payloads; both mean "drop the message".
func (c *Classifier) Classify(topic string, payload []byte) (model.Event, error) {
	switch {
	case strings.HasSuffix(topic, "/sos"):
		return c.classifySOS(topic, payload)
	case strings.HasSuffix(topic, "/status"):
		return c.classifyStatus(topic, payload)
	case strings.HasSuffix(topic, "/tamper"):
		return c.classifyTamper(topic, payload)
	default:
		return nil, ErrUnknownTopic
	}
}

func (c *Classifier) classifySOS(topic string, payload []byte) (model.Event, error) {
	var p sosPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &DecodeError{Topic: topic, Err: err}
	}
	lat, lon := deref(p.Lat), deref(p.Lon)
	mapsURL := p.MapsURL
	if mapsURL == "" && p.Lat != nil && p.Lon != nil {
		mapsURL = fmt.Sprintf("https://maps.google.com/?q=%v,%v", lat, lon)
	}
	return model.SOSEvent{
		EventID:   c.newID(),
		DeviceID:  deviceOrUnknown(p.DeviceID),
		Timestamp: c.tsOrNow(p.TS),
		Lat:       lat,
		Lon:       lon,
		Reason:    reasonOrDefault(p.Reason),
		MapsURL:   mapsURL,
	}, nil
}

func (c *Classifier) classifyStatus(topic string, payload []byte) (model.Event, error) {
	var p statusPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &DecodeError{Topic: topic, Err: err}
	}
	ev := model.StatusEvent{
		EventID:   c.newID(),
		DeviceID:  deviceOrUnknown(p.DeviceID),
		Timestamp: c.tsOrNow(p.TS),
		State:     p.State,
		Lat:       deref(p.Lat),
		Lon:       deref(p.Lon),
	}
	if ev.State == "" {
		ev.State = defaultReason
	}
	if p.Battery != nil {
		if *p.Battery < 0 || *p.Battery > 100 {
			return nil, &DecodeError{Topic: topic, Err: fmt.Errorf("batteryPercent out of range: %d", *p.Battery)}
		}
		ev.BatteryPercent = *p.Battery
		ev.BatteryKnown = true
	}
	return ev, nil
}

func (c *Classifier) classifyTamper(topic string, payload []byte) (model.Event, error) {
	var p tamperPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &DecodeError{Topic: topic, Err: err}
	}
	return model.TamperEvent{
		EventID:   c.newID(),
		DeviceID:  deviceOrUnknown(p.DeviceID),
		Timestamp: c.tsOrNow(p.TS),
		Reason:    reasonOrDefault(p.Reason),
	}, nil
}

func (c *Classifier) tsOrNow(ts string) string {
	if ts != "" {
		return ts
	}
	return c.now().UTC().Format(time.RFC3339Nano)
}

func deviceOrUnknown(id string) string {
	if strings.TrimSpace(id) == "" {
		return defaultReason
	}
	return id
}

func reasonOrDefault(r string) string {
	if r == "" {
		return defaultReason
	}
	return r
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
