package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Delivery is one message the console channel would have sent.
type Delivery struct {
	Recipient string
	Message   string
}

// ConsoleChannel is the fallback used when no provider is configured:
// it always succeeds and records the intended delivery so operators can
// still see what would have gone out.
type ConsoleChannel struct {
	name string
	log  *slog.Logger

	mu   sync.Mutex
	seq  int
	sent []Delivery
}

func NewConsoleChannel(name string, log *slog.Logger) *ConsoleChannel {
	return &ConsoleChannel{name: name, log: log}
}

func (c *ConsoleChannel) Name() string { return c.name }

func (c *ConsoleChannel) Deliver(_ context.Context, recipient, message string) (string, error) {
	c.mu.Lock()
	c.seq++
	id := fmt.Sprintf("mock-%s-%d", c.name, c.seq)
	c.sent = append(c.sent, Delivery{Recipient: recipient, Message: message})
	c.mu.Unlock()

	c.log.Info("mock delivery",
		"channel", c.name,
		"recipient", recipient,
		"message", message,
	)
	return id, nil
}

// Sent returns a copy of everything delivered so far.
func (c *ConsoleChannel) Sent() []Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Delivery, len(c.sent))
	copy(out, c.sent)
	return out
}
