package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/twiliowhatsapp"
)

func postWebhook(t *testing.T, svc *TwilioService, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	svc.TwilioWebhookHandler(rr, req)
	return rr
}

func TestTwilioWebhookForwardsMessage(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	defer svc.Stop()

	rr := postWebhook(t, svc, url.Values{
		"From":       {"whatsapp:+15551234567"},
		"Body":       {"yes"},
		"MessageSid": {"SM123"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "<Response>") {
		t.Errorf("expected empty TwiML response, got %q", rr.Body.String())
	}

	select {
	case in := <-svc.Responses():
		if in.ID != "SM123" || in.From != "whatsapp:+15551234567" || in.Body != "yes" {
			t.Errorf("unexpected inbound message: %+v", in)
		}
	default:
		t.Fatal("expected inbound message")
	}
}

func TestTwilioWebhookMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	defer svc.Stop()

	tests := []url.Values{
		{"Body": {"yes"}},
		{"From": {"whatsapp:+15551234567"}},
	}
	for _, form := range tests {
		if rr := postWebhook(t, svc, form); rr.Code != http.StatusBadRequest {
			t.Errorf("form %v: expected 400, got %d", form, rr.Code)
		}
	}
}

func TestTwilioServiceSendMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	if err := svc.SendMessage(context.Background(), "whatsapp:+15551234567", "Quack!"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 || sent[0].To != "15551234567" {
		t.Fatalf("unexpected sent messages: %+v", sent)
	}
	if r := <-svc.Receipts(); r.Status != models.MessageStatusSent {
		t.Errorf("expected sent receipt, got %s", r.Status)
	}
}

func TestTwilioServiceStop(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "15551234567", "hi"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	rr := postWebhook(t, svc, url.Values{"From": {"whatsapp:+15551234567"}, "Body": {"yes"}})
	if rr.Code != http.StatusOK {
		t.Errorf("webhook after stop should still acknowledge, got %d", rr.Code)
	}
	if _, ok := <-svc.Responses(); ok {
		t.Error("expected responses channel closed")
	}
}
