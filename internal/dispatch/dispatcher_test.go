package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KiruthikKumar16/wb/internal/model"
	"github.com/KiruthikKumar16/wb/internal/notify"
	"github.com/KiruthikKumar16/wb/internal/ratelimit"
	"github.com/KiruthikKumar16/wb/internal/retry"
)

type fakeAck struct {
	mu      sync.Mutex
	devices []string
	err     error
}

func (f *fakeAck) PublishAck(deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = append(f.devices, deviceID)
	return f.err
}

func (f *fakeAck) acked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.devices...)
}

type memSink struct {
	mu       sync.Mutex
	sos      []model.SOSEvent
	status   []model.StatusEvent
	writeErr error
}

func (m *memSink) AppendSOS(ev model.SOSEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.sos = append(m.sos, ev)
	return nil
}

func (m *memSink) AppendStatus(ev model.StatusEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.status = append(m.status, ev)
	return nil
}

// scriptedChannel fails a configured number of times per recipient
// before succeeding; -1 means always fail.
type scriptedChannel struct {
	name     string
	failures map[string]int

	mu       sync.Mutex
	attempts map[string]int
	messages map[string][]string
}

func newScriptedChannel(name string) *scriptedChannel {
	return &scriptedChannel{
		name:     name,
		failures: map[string]int{},
		attempts: map[string]int{},
		messages: map[string][]string{},
	}
}

func (s *scriptedChannel) Name() string { return s.name }

func (s *scriptedChannel) Deliver(_ context.Context, recipient, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[recipient]++
	remaining := s.failures[recipient]
	if remaining == -1 || remaining >= s.attempts[recipient] {
		return "", errors.New("provider error")
	}
	s.messages[recipient] = append(s.messages[recipient], message)
	return fmt.Sprintf("id-%s-%d", recipient, s.attempts[recipient]), nil
}

func (s *scriptedChannel) attemptsFor(recipient string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[recipient]
}

func (s *scriptedChannel) deliveredTo(recipient string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages[recipient]...)
}

type harness struct {
	ack   *fakeAck
	sink  *memSink
	sms   *scriptedChannel
	call  *scriptedChannel
	clock time.Time
	d     *Dispatcher
}

func newHarness(t *testing.T, recipients []string, withCalls bool) *harness {
	t.Helper()
	h := &harness{
		ack:   &fakeAck{},
		sink:  &memSink{},
		sms:   newScriptedChannel(notify.ChannelSMS),
		clock: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := Options{
		Log:        log,
		Ack:        h.ack,
		Audit:      h.sink,
		Limiter:    ratelimit.NewWithClock(120*time.Second, func() time.Time { return h.clock }),
		Retrier:    retry.NewWithSleep(3, time.Second, log, func(time.Duration) {}),
		SMS:        h.sms,
		Recipients: recipients,
		CallScript: "This is an automated safety alert.",
	}
	if withCalls {
		h.call = newScriptedChannel(notify.ChannelCall)
		opts.Call = h.call
	}
	h.d = New(opts)
	return h
}

func sosEvent() model.SOSEvent {
	return model.SOSEvent{
		EventID:   "evt-1",
		DeviceID:  "sim-ring-ab12",
		Timestamp: "2026-08-30T12:00:00Z",
		Lat:       13.08,
		Lon:       80.27,
		Reason:    "double_tap",
		MapsURL:   "https://maps.google.com/?q=13.08,80.27",
	}
}

func TestSOSDispatch(t *testing.T) {
	recipients := []string{"+15550001", "+15550002", "+15550003"}
	h := newHarness(t, recipients, false)

	h.d.Dispatch(context.Background(), sosEvent())
	h.d.Wait()

	assert.Equal(t, []string{"sim-ring-ab12"}, h.ack.acked(), "one ack to the device")

	require.Len(t, h.sink.sos, 1, "one audit record")
	assert.Equal(t, "sim-ring-ab12", h.sink.sos[0].DeviceID)
	assert.Equal(t, "double_tap", h.sink.sos[0].Reason)

	wantMsg := "SOS from sim-ring-ab12 at 2026-08-30T12:00:00Z. Location: 13.08,80.27 https://maps.google.com/?q=13.08,80.27"
	for _, r := range recipients {
		assert.Equal(t, 1, h.sms.attemptsFor(r), "exactly one attempt for %s", r)
		assert.Equal(t, []string{wantMsg}, h.sms.deliveredTo(r))
	}
}

func TestSOSCallEscalationUsesStaticScript(t *testing.T) {
	h := newHarness(t, []string{"+15550001"}, true)

	h.d.Dispatch(context.Background(), sosEvent())
	h.d.Wait()

	assert.Equal(t, 1, h.sms.attemptsFor("+15550001"))
	require.Equal(t, 1, h.call.attemptsFor("+15550001"))
	assert.Equal(t, []string{"This is an automated safety alert."},
		h.call.deliveredTo("+15550001"), "calls speak the configured script, not the alert text")
}

func TestSOSWithoutCallEscalation(t *testing.T) {
	h := newHarness(t, []string{"+15550001"}, false)
	h.d.Dispatch(context.Background(), sosEvent())
	h.d.Wait()
	assert.Nil(t, h.call)
}

func TestLowBatteryTriggersFanOut(t *testing.T) {
	h := newHarness(t, []string{"+15550001"}, false)

	h.d.Dispatch(context.Background(), model.StatusEvent{
		EventID: "evt-2", DeviceID: "d1", Timestamp: "t",
		State: model.StateArmed, BatteryPercent: 8, BatteryKnown: true,
	})
	h.d.Wait()

	require.Len(t, h.sink.status, 1, "status always audited")
	assert.Equal(t, []string{"Low battery alert for d1 (8%). Consider charging."},
		h.sms.deliveredTo("+15550001"))
}

func TestHealthyBatteryDoesNotNotify(t *testing.T) {
	h := newHarness(t, []string{"+15550001"}, false)

	h.d.Dispatch(context.Background(), model.StatusEvent{
		EventID: "evt-3", DeviceID: "d1", Timestamp: "t",
		State: model.StateArmed, BatteryPercent: 50, BatteryKnown: true,
	})
	h.d.Wait()

	require.Len(t, h.sink.status, 1)
	assert.Zero(t, h.sms.attemptsFor("+15550001"))
}

func TestUnknownBatteryDoesNotNotify(t *testing.T) {
	h := newHarness(t, []string{"+15550001"}, false)

	h.d.Dispatch(context.Background(), model.StatusEvent{
		EventID: "evt-4", DeviceID: "d1", Timestamp: "t", State: model.StateArmed,
	})
	h.d.Wait()

	assert.Zero(t, h.sms.attemptsFor("+15550001"))
}

func TestTamperNotifiesWithoutAudit(t *testing.T) {
	h := newHarness(t, []string{"+15550001"}, false)

	h.d.Dispatch(context.Background(), model.TamperEvent{
		EventID: "evt-5", DeviceID: "d1", Timestamp: "2026-08-30T12:00:00Z", Reason: "strap_opened",
	})
	h.d.Wait()

	assert.Empty(t, h.sink.sos)
	assert.Empty(t, h.sink.status, "tamper events are not audited")
	assert.Empty(t, h.ack.acked(), "tamper events are not acked")
	assert.Equal(t, []string{"Tamper detected on d1 at 2026-08-30T12:00:00Z (reason=strap_opened)."},
		h.sms.deliveredTo("+15550001"))
}

func TestRecipientFailureIsIndependent(t *testing.T) {
	recipients := []string{"+15550001", "+15550002", "+15550003", "+15550004"}
	h := newHarness(t, recipients, false)
	h.sms.failures["+15550003"] = -1 // all retries exhausted

	h.d.Dispatch(context.Background(), sosEvent())
	h.d.Wait()

	assert.Equal(t, 3, h.sms.attemptsFor("+15550003"), "failing recipient uses all attempts")
	for _, r := range []string{"+15550001", "+15550002", "+15550004"} {
		assert.Len(t, h.sms.deliveredTo(r), 1, "recipient %s unaffected", r)
	}
}

func TestRetryThenSuccessWithinFanOut(t *testing.T) {
	h := newHarness(t, []string{"+15550001"}, false)
	h.sms.failures["+15550001"] = 2 // fail twice, then succeed

	h.d.Dispatch(context.Background(), sosEvent())
	h.d.Wait()

	assert.Equal(t, 3, h.sms.attemptsFor("+15550001"))
	assert.Len(t, h.sms.deliveredTo("+15550001"), 1)
}

func TestRateLimitSuppressesSecondEvent(t *testing.T) {
	h := newHarness(t, []string{"+15550001"}, false)

	h.d.Dispatch(context.Background(), sosEvent())
	h.d.Wait()
	h.clock = h.clock.Add(30 * time.Second)
	second := sosEvent()
	second.EventID = "evt-6"
	h.d.Dispatch(context.Background(), second)
	h.d.Wait()

	assert.Equal(t, 1, h.sms.attemptsFor("+15550001"), "second event suppressed inside the window")
	assert.Len(t, h.sink.sos, 2, "both events still audited")
	assert.Len(t, h.ack.acked(), 2, "both events still acked")
}

func TestRateLimitAllowsAfterWindow(t *testing.T) {
	h := newHarness(t, []string{"+15550001"}, false)

	h.d.Dispatch(context.Background(), sosEvent())
	h.d.Wait()
	h.clock = h.clock.Add(120 * time.Second)
	h.d.Dispatch(context.Background(), sosEvent())
	h.d.Wait()

	assert.Equal(t, 2, h.sms.attemptsFor("+15550001"))
}

func TestSharedLimiterAcrossEventKinds(t *testing.T) {
	h := newHarness(t, []string{"+15550001"}, false)

	h.d.Dispatch(context.Background(), sosEvent())
	h.d.Wait()
	h.d.Dispatch(context.Background(), model.StatusEvent{
		EventID: "evt-7", DeviceID: "d2", Timestamp: "t",
		State: model.StateArmed, BatteryPercent: 5, BatteryKnown: true,
	})
	h.d.Wait()

	assert.Equal(t, 1, h.sms.attemptsFor("+15550001"),
		"low-battery alert shares the sms rate-limit key with SOS")
}

func TestAckFailureDoesNotBlockProcessing(t *testing.T) {
	h := newHarness(t, []string{"+15550001"}, false)
	h.ack.err = errors.New("broker gone")

	h.d.Dispatch(context.Background(), sosEvent())
	h.d.Wait()

	assert.Len(t, h.sink.sos, 1)
	assert.Len(t, h.sms.deliveredTo("+15550001"), 1)
}

func TestAuditFailureDoesNotBlockNotification(t *testing.T) {
	h := newHarness(t, []string{"+15550001"}, false)
	h.sink.writeErr = errors.New("disk full")

	h.d.Dispatch(context.Background(), sosEvent())
	h.d.Wait()

	assert.Len(t, h.sms.deliveredTo("+15550001"), 1)
}

func TestNoRecipientsIsANoOp(t *testing.T) {
	h := newHarness(t, nil, false)

	h.d.Dispatch(context.Background(), sosEvent())
	h.d.Wait()

	assert.Len(t, h.sink.sos, 1)
	assert.Len(t, h.ack.acked(), 1)
}
