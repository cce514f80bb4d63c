// Package testutil provides common test utilities and helpers for IntakePipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/BTreeMap/IntakePipe/internal/api"
	"github.com/BTreeMap/IntakePipe/internal/content"
	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// TB is the subset of testing.TB used by the helpers, so they can be exercised with fakes.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Error(args ...interface{})
	Fatalf(format string, args ...interface{})
}

// NewSessionService builds a session service over an in-memory store and the default content.
func NewSessionService(opts ...flow.ServiceOption) (*flow.SessionService, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	f := flow.NewIntakeFlow(st, content.Default(), flow.MustRuleEngine(flow.DefaultRules))
	return flow.NewSessionService(f, st, opts...), st
}

// NewTestServer creates a test API server with in-memory dependencies.
func NewTestServer(opts ...api.Option) (*api.Server, *flow.SessionService) {
	svc, _ := NewSessionService()
	return api.NewServer(svc, opts...), svc
}

// SeedSession creates a session and submits each answer in order, returning the session ID.
func SeedSession(t TB, svc *flow.SessionService, participant string, answers ...string) string {
	t.Helper()
	ctx := context.Background()
	view, _, err := svc.Create(ctx, participant)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
		return ""
	}
	for _, a := range answers {
		if _, err := svc.Submit(ctx, view.ID, a); err != nil {
			t.Fatalf("failed to submit %q: %v", a, err)
			return view.ID
		}
	}
	return view.ID
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
			return nil
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
		return nil
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// Serve runs req through h and returns the recorded response.
func Serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
