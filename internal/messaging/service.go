// Package messaging connects chat transports (WhatsApp, Twilio) to intake sessions.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer size of receipt and inbound channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an event waits for a full channel before it is dropped.
	DefaultChannelTimeout = 1 * time.Second
	// minPhoneDigits is the shortest accepted phone number.
	minPhoneDigits = 6
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service is a pluggable chat transport.
type Service interface {
	// ValidateAndCanonicalizeRecipient returns the canonical form of a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins background processing such as event subscription.
	Start(ctx context.Context) error

	// Stop stops background processing and closes the event channels.
	Stop() error

	// Receipts returns delivery events for sent messages.
	Receipts() <-chan models.Receipt

	// Responses returns messages received from participants.
	Responses() <-chan models.InboundMessage
}

// CanonicalizePhone strips everything but digits from a phone number and checks its length.
func CanonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < minPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, minPhoneDigits)
	}
	return canonical, nil
}

// eventChannels holds the receipt and inbound channels shared by the transports.
// Emits after close are dropped.
type eventChannels struct {
	name      string
	receipts  chan models.Receipt
	responses chan models.InboundMessage
	mu        sync.RWMutex
	stopped   bool
}

func newEventChannels(name string) *eventChannels {
	return &eventChannels{
		name:      name,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
}

func (c *eventChannels) isStopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopped
}

// emitReceipt and emitInbound hold the read lock while sending so close cannot race them.
func (c *eventChannels) emitReceipt(r models.Receipt) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return
	}
	select {
	case c.receipts <- r:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(c.name+": receipts channel blocked, dropping receipt", "to", r.To, "status", r.Status)
	}
}

func (c *eventChannels) emitInbound(m models.InboundMessage) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		slog.Warn(c.name+": dropping inbound message, service stopped", "from", m.From)
		return
	}
	select {
	case c.responses <- m:
		slog.Debug(c.name+": inbound message forwarded", "from", m.From, "id", m.ID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(c.name+": inbound channel blocked, dropping message", "from", m.From)
	}
}

// shutdown marks the channels stopped and closes them. It reports false if already closed.
func (c *eventChannels) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	c.stopped = true
	close(c.receipts)
	close(c.responses)
	return true
}

// Receipts returns the channel of delivery events.
func (c *eventChannels) Receipts() <-chan models.Receipt {
	return c.receipts
}

// Responses returns the channel of inbound participant messages.
func (c *eventChannels) Responses() <-chan models.InboundMessage {
	return c.responses
}
