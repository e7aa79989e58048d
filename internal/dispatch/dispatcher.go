// Package dispatch is the alert engine: it takes one classified device
// event and turns it into device acks, audit rows, and rate-limited,
// retried notification fan-out. Nothing in here is allowed to escalate a
// failure past the event boundary; ingestion keeps going no matter what
// a provider or sink does.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/KiruthikKumar16/wb/internal/model"
	"github.com/KiruthikKumar16/wb/internal/notify"
	"github.com/KiruthikKumar16/wb/internal/ratelimit"
	"github.com/KiruthikKumar16/wb/internal/retry"
)

const lowBatteryThreshold = 10

// AckPublisher confirms SOS receipt back to the originating device.
type AckPublisher interface {
	PublishAck(deviceID string) error
}

// AuditSink records SOS and status events; see the audit package.
type AuditSink interface {
	AppendSOS(ev model.SOSEvent) error
	AppendStatus(ev model.StatusEvent) error
}

// StatusWriter receives status heartbeats for telemetry dashboards.
// Optional; best-effort.
type StatusWriter interface {
	WriteStatus(ev model.StatusEvent)
}

// Dispatcher routes events to acks, audit and notification fan-out.
// One Dispatch call handles one event; calls arrive serially from the
// ingestion path, but the per-recipient fan-out inside each call runs
// concurrently so a slow provider stalls only its own recipient.
type Dispatcher struct {
	log       *slog.Logger
	ack       AckPublisher
	audit     AuditSink
	limiter   *ratelimit.Limiter
	retrier   *retry.Executor
	sms       notify.Channel
	call      notify.Channel // nil unless call escalation is enabled
	telemetry StatusWriter   // nil unless configured

	recipients []string
	callScript string

	wg sync.WaitGroup
}

type Options struct {
	Log        *slog.Logger
	Ack        AckPublisher
	Audit      AuditSink
	Limiter    *ratelimit.Limiter
	Retrier    *retry.Executor
	SMS        notify.Channel
	Call       notify.Channel
	Telemetry  StatusWriter
	Recipients []string
	CallScript string
}

func New(opts Options) *Dispatcher {
	return &Dispatcher{
		log:        opts.Log,
		ack:        opts.Ack,
		audit:      opts.Audit,
		limiter:    opts.Limiter,
		retrier:    opts.Retrier,
		sms:        opts.SMS,
		call:       opts.Call,
		telemetry:  opts.Telemetry,
		recipients: opts.Recipients,
		callScript: opts.CallScript,
	}
}

// Dispatch fully handles one event. It returns once the synchronous
// steps (ack, audit) are done; notification fan-out continues in the
// background and is never cancelled once started.
func (d *Dispatcher) Dispatch(ctx context.Context, ev model.Event) {
	switch e := ev.(type) {
	case model.SOSEvent:
		d.handleSOS(ctx, e)
	case model.StatusEvent:
		d.handleStatus(ctx, e)
	case model.TamperEvent:
		d.handleTamper(ctx, e)
	default:
		d.log.Warn("unhandled event kind", "kind", ev.Kind(), "event_id", ev.ID())
	}
}

// Wait blocks until all in-flight fan-out goroutines finish. Called on
// shutdown so started attempt sequences run to their terminal outcome.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) handleSOS(ctx context.Context, ev model.SOSEvent) {
	d.log.Info("SOS received",
		"event_id", ev.EventID,
		"device", ev.DeviceID,
		"ts", ev.Timestamp,
		"reason", ev.Reason,
		"lat", ev.Lat,
		"lon", ev.Lon,
	)

	// Ack first; its failure must not block the rest of processing.
	if err := d.ack.PublishAck(ev.DeviceID); err != nil {
		d.log.Warn("ack publish failed", "event_id", ev.EventID, "device", ev.DeviceID, "error", err)
	}

	if err := d.audit.AppendSOS(ev); err != nil {
		d.log.Warn("audit write failed", "event_id", ev.EventID, "device", ev.DeviceID, "error", err)
	}

	message := fmt.Sprintf("SOS from %s at %s. Location: %v,%v %s",
		ev.DeviceID, ev.Timestamp, ev.Lat, ev.Lon, ev.MapsURL)
	d.fanOut(ctx, d.sms, ev.EventID, message)
	if d.call != nil {
		// Calls speak the fixed script, not the dynamic alert text.
		d.fanOut(ctx, d.call, ev.EventID, d.callScript)
	}
}

func (d *Dispatcher) handleStatus(ctx context.Context, ev model.StatusEvent) {
	if err := d.audit.AppendStatus(ev); err != nil {
		d.log.Warn("audit write failed", "event_id", ev.EventID, "device", ev.DeviceID, "error", err)
	}
	if d.telemetry != nil {
		d.telemetry.WriteStatus(ev)
	}
	if ev.BatteryKnown && ev.BatteryPercent <= lowBatteryThreshold {
		message := fmt.Sprintf("Low battery alert for %s (%d%%). Consider charging.",
			ev.DeviceID, ev.BatteryPercent)
		d.fanOut(ctx, d.sms, ev.EventID, message)
	}
}

func (d *Dispatcher) handleTamper(ctx context.Context, ev model.TamperEvent) {
	d.log.Info("tamper received",
		"event_id", ev.EventID,
		"device", ev.DeviceID,
		"ts", ev.Timestamp,
		"reason", ev.Reason,
	)
	message := fmt.Sprintf("Tamper detected on %s at %s (reason=%s).",
		ev.DeviceID, ev.Timestamp, ev.Reason)
	d.fanOut(ctx, d.sms, ev.EventID, message)
}

// fanOut notifies every configured recipient on the given channel, each
// in its own goroutine so one recipient's retry/backoff sequence never
// serializes behind another's.
func (d *Dispatcher) fanOut(ctx context.Context, ch notify.Channel, eventID, message string) {
	if len(d.recipients) == 0 {
		d.log.Info("no recipients configured; skipping notification",
			"channel", ch.Name(), "event_id", eventID, "message", message)
		return
	}

	// Detach from the ingestion context: a started attempt sequence
	// always runs to terminal success or failure.
	ctx = context.WithoutCancel(ctx)

	for _, recipient := range d.recipients {
		recipient := recipient
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.notifyOne(ctx, ch, eventID, recipient, message)
		}()
	}
}

func (d *Dispatcher) notifyOne(ctx context.Context, ch notify.Channel, eventID, recipient, message string) {
	if !d.limiter.Allow(ch.Name(), recipient) {
		d.log.Info("rate limited; notification suppressed",
			"channel", ch.Name(),
			"recipient", recipient,
			"event_id", eventID,
			"retry_in", d.limiter.Wait(ch.Name(), recipient).Round(time.Second),
		)
		return
	}

	label := fmt.Sprintf("%s to %s", ch.Name(), recipient)
	err := d.retrier.Do(ctx, label, func(ctx context.Context) error {
		id, err := ch.Deliver(ctx, recipient, message)
		if err != nil {
			return err
		}
		d.log.Info("notification delivered",
			"channel", ch.Name(),
			"recipient", recipient,
			"event_id", eventID,
			"delivery_id", id,
		)
		return nil
	})
	if err != nil {
		d.log.Error("notification failed terminally",
			"channel", ch.Name(),
			"recipient", recipient,
			"event_id", eventID,
			"error", err,
		)
	}
}
