package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/whatsapp"
)

// eventSource delivers whatsmeow events. *whatsapp.Client implements it.
type eventSource interface {
	AddEventHandler(h func(evt interface{})) uint32
	RemoveEventHandler(id uint32)
}

// WhatsAppService implements Service on top of the whatsmeow-based client.
type WhatsAppService struct {
	*eventChannels
	client    whatsapp.WhatsAppSender
	events    eventSource
	handlerMu sync.Mutex
	handlerID uint32
	started   bool
}

// Compile-time check that WhatsAppService implements Service.
var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService wraps client. Inbound events are only available when client also
// delivers whatsmeow events (the real client does, mocks usually do not).
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	s := &WhatsAppService{
		eventChannels: newEventChannels("WhatsAppService"),
		client:        client,
	}
	if src, ok := client.(eventSource); ok {
		s.events = src
		slog.Debug("NewWhatsAppService: client delivers events")
	} else {
		slog.Debug("NewWhatsAppService: client without event support, inbound disabled")
	}
	return s
}

// ValidateAndCanonicalizeRecipient reduces a phone number to its digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// Start subscribes to inbound message and receipt events.
func (s *WhatsAppService) Start(ctx context.Context) error {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	if s.events == nil || s.started {
		return nil
	}
	s.handlerID = s.events.AddEventHandler(s.handleEvent)
	s.started = true
	slog.Info("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop unsubscribes from events and closes the channels.
func (s *WhatsAppService) Stop() error {
	s.handlerMu.Lock()
	if s.started {
		s.events.RemoveEventHandler(s.handlerID)
		s.started = false
	}
	s.handlerMu.Unlock()
	if s.shutdown() {
		slog.Info("WhatsAppService.Stop: stopped")
	}
	return nil
}

// SendMessage sends body to the canonical form of to and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService.SendMessage: invalid recipient", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "error", err, "to", canonicalTo)
		s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusFailed, Time: time.Now().Unix()})
		return err
	}
	s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	slog.Debug("WhatsAppService.SendMessage: sent", "to", canonicalTo)
	return nil
}

func (s *WhatsAppService) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		s.handleIncomingMessage(v)
	case *events.Receipt:
		s.handleReceipt(v)
	}
}

// handleIncomingMessage forwards direct text messages from participants.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	text := evt.Message.GetConversation()
	if text == "" {
		text = evt.Message.GetExtendedTextMessage().GetText()
	}
	if strings.TrimSpace(text) == "" {
		slog.Debug("WhatsAppService.handleIncomingMessage: ignoring non-text message", "from", evt.Info.Sender.User)
		return
	}
	s.emitInbound(models.InboundMessage{
		ID:   evt.Info.ID,
		From: evt.Info.Sender.User,
		Body: text,
		Time: evt.Info.Timestamp.Unix(),
	})
}

func (s *WhatsAppService) handleReceipt(evt *events.Receipt) {
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}
	s.emitReceipt(models.Receipt{To: evt.Sender.User, Status: status, Time: evt.Timestamp.Unix()})
}
