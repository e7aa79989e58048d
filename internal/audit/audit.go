// Package audit appends SOS and status events to durable tabular logs.
// Writes are best-effort: a failed append is logged by the caller and
// never blocks the notification pipeline.
package audit

import "github.com/KiruthikKumar16/wb/internal/model"

// Sink records events as flattened rows. Tamper events are intentionally
// absent from this interface: they are notified but never audited,
// matching the observed production behavior.
type Sink interface {
	AppendSOS(ev model.SOSEvent) error
	AppendStatus(ev model.StatusEvent) error
}
