// Package model holds the classified device event types exchanged between
// the classifier and the dispatcher. Events are immutable once decoded:
// created by classify, consumed once by dispatch, then discarded.
package model

type EventKind string

const (
	KindSOS    EventKind = "sos"
	KindStatus EventKind = "status"
	KindTamper EventKind = "tamper"
)

// Device states reported in status heartbeats.
const (
	StateArmed    = "armed"
	StateDisarmed = "disarmed"
)

// Event is the closed set of classified device events. The dispatcher
// switches on the concrete variant, never on topic strings.
type Event interface {
	Kind() EventKind
	Device() string
	ID() string
}

// SOSEvent is an emergency trigger from a wearable.
type SOSEvent struct {
	EventID   string
	DeviceID  string
	Timestamp string
	Lat       float64
	Lon       float64
	Reason    string
	MapsURL   string
}

func (e SOSEvent) Kind() EventKind { return KindSOS }
func (e SOSEvent) Device() string  { return e.DeviceID }
func (e SOSEvent) ID() string      { return e.EventID }

// StatusEvent is a periodic heartbeat with battery and location.
type StatusEvent struct {
	EventID        string
	DeviceID       string
	Timestamp      string
	State          string
	BatteryPercent int
	// BatteryKnown is false when the heartbeat carried no batteryPercent
	// field; low-battery alerting is skipped in that case.
	BatteryKnown bool
	Lat          float64
	Lon          float64
}

func (e StatusEvent) Kind() EventKind { return KindStatus }
func (e StatusEvent) Device() string  { return e.DeviceID }
func (e StatusEvent) ID() string      { return e.EventID }

// TamperEvent signals the device casing or strap was interfered with.
type TamperEvent struct {
	EventID   string
	DeviceID  string
	Timestamp string
	Reason    string
}

func (e TamperEvent) Kind() EventKind { return KindTamper }
func (e TamperEvent) Device() string  { return e.DeviceID }
func (e TamperEvent) ID() string      { return e.EventID }
