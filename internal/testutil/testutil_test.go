package testutil

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

func TestNewTestServer(t *testing.T) {
	server, svc := NewTestServer()
	if server == nil || svc == nil {
		t.Fatal("NewTestServer returned nil")
	}
	rr := Serve(server.Handler(), CreateHTTPRequest(t, http.MethodGet, "/healthz", nil))
	AssertHTTPStatus(t, http.StatusOK, rr.Code, "healthz")
}

func TestSeedSession(t *testing.T) {
	svc, st := NewSessionService()
	id := SeedSession(t, svc, "15550001111", "yes", "37.5")

	view, err := svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if view.Phase != models.PhaseNasalBreathing {
		t.Errorf("expected phase %d after two answers, got %d", models.PhaseNasalBreathing, view.Phase)
	}
	facts, err := st.GetFacts(id)
	if err != nil {
		t.Fatalf("GetFacts returned error: %v", err)
	}
	if len(facts) != 2 {
		t.Errorf("expected 2 facts, got %d", len(facts))
	}
}

func TestSeedSessionReportsStoppedSession(t *testing.T) {
	svc, _ := NewSessionService()
	mockT := &mockTestingT{}
	SeedSession(mockT, svc, "", "no", "yes")
	if !mockT.failed {
		t.Error("expected submitting to a stopped session to fail")
	}
}

func TestSessionOverHTTP(t *testing.T) {
	server, _ := NewTestServer()
	req := CreateHTTPRequest(t, http.MethodPost, "/intake/sessions", models.CreateSessionRequest{Participant: "15550002222"})
	rr := Serve(server.Handler(), req)
	AssertHTTPStatus(t, http.StatusCreated, rr.Code, "create session")
	response := AssertJSONResponse(t, rr, string(models.APIStatusOK))
	if _, ok := response["result"].(map[string]interface{}); !ok {
		t.Errorf("expected result object, got %v", response["result"])
	}
}

func TestAssertHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		expected   int
		actual     int
		shouldFail bool
	}{
		{"matching status codes", 200, 200, false},
		{"different status codes", 200, 404, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			AssertHTTPStatus(mockT, tt.expected, tt.actual, "test context")

			if tt.shouldFail != mockT.failed {
				t.Errorf("failed = %v, want %v", mockT.failed, tt.shouldFail)
			}
			if !mockT.helper {
				t.Error("expected Helper to be called")
			}
		})
	}
}

func TestAssertJSONResponse(t *testing.T) {
	tests := []struct {
		name           string
		jsonBody       string
		expectedStatus string
		shouldFail     bool
	}{
		{"valid JSON with matching status", `{"status":"ok","result":"test"}`, "ok", false},
		{"valid JSON with different status", `{"status":"error","message":"test"}`, "ok", true},
		{"missing status", `{"result":"test"}`, "ok", true},
		{"invalid JSON", `{"status":}`, "ok", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			rr := httptest.NewRecorder()
			rr.Body.WriteString(tt.jsonBody)

			response := AssertJSONResponse(mockT, rr, tt.expectedStatus)

			if tt.shouldFail != mockT.failed {
				t.Errorf("failed = %v, want %v (%s)", mockT.failed, tt.shouldFail, mockT.errorMsg)
			}
			if !tt.shouldFail && response == nil {
				t.Error("Expected response map to be returned")
			}
		})
	}
}

func TestCreateHTTPRequest(t *testing.T) {
	tests := []struct {
		name   string
		method string
		url    string
		body   interface{}
	}{
		{"GET request with no body", "GET", "/intake/sessions", nil},
		{"POST request with JSON body", "POST", "/intake/sessions", map[string]string{"participant": "1555"}},
		{"POST request with struct body", "POST", "/intake/sessions/abc/messages", models.SubmitRequest{Text: "yes"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := CreateHTTPRequest(t, tt.method, tt.url, tt.body)
			if req.Method != tt.method {
				t.Errorf("Expected method %s, got %s", tt.method, req.Method)
			}
			if req.URL.Path != tt.url {
				t.Errorf("Expected URL %s, got %s", tt.url, req.URL.Path)
			}
			wantCT := ""
			if tt.body != nil {
				wantCT = "application/json"
			}
			if ct := req.Header.Get("Content-Type"); ct != wantCT {
				t.Errorf("Content-Type = %q, want %q", ct, wantCT)
			}
		})
	}
}

func TestMustMarshalJSON(t *testing.T) {
	result := MustMarshalJSON(t, models.SubmitRequest{Text: "yes"})
	if string(result) != `{"text":"yes"}` {
		t.Errorf("unexpected JSON: %s", result)
	}

	mockT := &mockTestingT{}
	MustMarshalJSON(mockT, make(chan int))
	if !mockT.failed {
		t.Error("expected marshalling a channel to fail")
	}
}

func TestMustUnmarshalJSON(t *testing.T) {
	var target map[string]interface{}
	MustUnmarshalJSON(t, []byte(`{"key":"value","number":123}`), &target)

	if target["key"] != "value" {
		t.Errorf("Expected key to be 'value', got %v", target["key"])
	}
	if target["number"].(float64) != 123 {
		t.Errorf("Expected number to be 123, got %v", target["number"])
	}
}

// mockTestingT records failures instead of failing the enclosing test.
type mockTestingT struct {
	failed   bool
	errorMsg string
	helper   bool
}

func (m *mockTestingT) Helper() {
	m.helper = true
}

func (m *mockTestingT) Errorf(format string, args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprintf(format, args...)
}

func (m *mockTestingT) Error(args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprint(args...)
}

func (m *mockTestingT) Fatalf(format string, args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprintf(format, args...)
}
