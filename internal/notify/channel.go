// Package notify defines the outbound notification capability and its
// variants: Twilio SMS, Twilio voice call, and a console mock used when
// no provider credentials are configured. The variant set is closed and
// chosen once at startup.
package notify

import "context"

// Channel names double as the rate-limit keyspace.
const (
	ChannelSMS  = "sms"
	ChannelCall = "call"
)

// Channel delivers one message to one recipient and returns the
// provider's delivery id. Implementations are stateless delivery
// strategies injected at startup.
type Channel interface {
	// Name identifies the channel ("sms" or "call") for rate limiting
	// and log context.
	Name() string
	Deliver(ctx context.Context, recipient, message string) (string, error)
}
