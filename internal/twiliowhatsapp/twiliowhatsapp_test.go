package twiliowhatsapp

import (
	"context"
	"errors"
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeAPI struct {
	params []*twilioApi.CreateMessageParams
	err    error
}

func (f *fakeAPI) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	return &twilioApi.ApiV2010Message{}, nil
}

func TestWhatsAppAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"15551234567", "whatsapp:+15551234567"},
		{"+15551234567", "whatsapp:+15551234567"},
		{"whatsapp:+15551234567", "whatsapp:+15551234567"},
		{" whatsapp:15551234567 ", "whatsapp:+15551234567"},
	}
	for _, tt := range tests {
		if got := WhatsAppAddress(tt.in); got != tt.want {
			t.Errorf("WhatsAppAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClientSendMessage(t *testing.T) {
	api := &fakeAPI{}
	c := newClient(api, "+14155238886")
	if err := c.SendMessage(context.Background(), "15551234567", "Quack!"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if len(api.params) != 1 {
		t.Fatalf("expected 1 request, got %d", len(api.params))
	}
	p := api.params[0]
	if *p.To != "whatsapp:+15551234567" || *p.From != "whatsapp:+14155238886" || *p.Body != "Quack!" {
		t.Errorf("unexpected params: to=%s from=%s body=%s", *p.To, *p.From, *p.Body)
	}
}

func TestClientSendMessageError(t *testing.T) {
	api := &fakeAPI{err: errors.New("rate limited")}
	c := newClient(api, "+14155238886")
	if err := c.SendMessage(context.Background(), "15551234567", "hi"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("secret")); err == nil {
		t.Error("expected error without sender number")
	}
	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("secret"), WithFromWhats("14155238886"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.fromWhats != "whatsapp:+14155238886" {
		t.Errorf("unexpected sender %q", c.fromWhats)
	}
}

func TestNewClientReadsEnvironment(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "secret")
	t.Setenv("TWILIO_FROM_NUMBER", "whatsapp:+14155238886")
	if _, err := NewClient(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMockClientSendMessage(t *testing.T) {
	mock := NewMockClient()
	if err := mock.SendMessage(context.Background(), "12345", "Hello Test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 || sent[0].Body != "Hello Test" {
		t.Errorf("unexpected sent messages: %+v", sent)
	}
}
