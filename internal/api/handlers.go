package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/models"
)

// maxRequestBodyBytes caps JSON request bodies.
const maxRequestBodyBytes = 1 << 16

// SessionResult is returned by session-creating and turn-running endpoints.
type SessionResult struct {
	Session  flow.SessionView `json:"session"`
	Messages []string         `json:"messages"`
}

// ContentResult is the body of GET /intake/content.
type ContentResult struct {
	Greeting  string            `json:"greeting,omitempty"`
	Questions []models.Question `json:"questions"`
	Responses []models.Response `json:"responses"`
	DeadEnds  []models.Response `json:"dead_ends"`
}

// decodeJSON reads an optional JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// writeServiceError maps session service errors to status codes.
func writeServiceError(w http.ResponseWriter, handler string, sessionID string, err error) {
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		slog.Debug(handler+": session not found", "sessionID", sessionID)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
	case errors.Is(err, flow.ErrSessionStopped):
		slog.Debug(handler+": session stopped", "sessionID", sessionID)
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
	default:
		slog.Error(handler+": failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
	}
}

func nonNil(msgs []string) []string {
	if msgs == nil {
		return []string{}
	}
	return msgs
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// contentHandler serves the greeting and the content tables (GET /intake/content).
func (s *Server) contentHandler(w http.ResponseWriter, r *http.Request) {
	pack := s.svc.Flow().Content()
	greeting, _ := pack.Greeting()
	writeJSONResponse(w, http.StatusOK, models.Success(ContentResult{
		Greeting:  greeting,
		Questions: pack.Questions(),
		Responses: pack.Responses(),
		DeadEnds:  pack.DeadEnds(),
	}))
}

// createSessionHandler starts a session (POST /intake/sessions).
func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.createSessionHandler: processing request", "method", r.Method, "path", r.URL.Path)
	var req models.CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		slog.Warn("Server.createSessionHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	req.Participant = strings.TrimSpace(req.Participant)
	if err := req.Validate(); err != nil {
		slog.Warn("Server.createSessionHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	view, greeting, err := s.svc.Create(r.Context(), req.Participant)
	if err != nil {
		writeServiceError(w, "Server.createSessionHandler", "", err)
		return
	}
	var msgs []string
	if greeting != "" {
		msgs = append(msgs, greeting)
	}
	slog.Info("Server.createSessionHandler: session created", "sessionID", view.ID)
	writeJSONResponse(w, http.StatusCreated, models.Success(SessionResult{Session: view, Messages: nonNil(msgs)}))
}

// listSessionsHandler lists stored sessions (GET /intake/sessions).
func (s *Server) listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.svc.List()
	if err != nil {
		writeServiceError(w, "Server.listSessionsHandler", "", err)
		return
	}
	if sessions == nil {
		sessions = []models.IntakeSessionRecord{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sessions))
}

// getSessionHandler returns a session snapshot (GET /intake/sessions/{id}).
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := s.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, "Server.getSessionHandler", id, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(view))
}

// deleteSessionHandler removes a session and its data (DELETE /intake/sessions/{id}).
func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Delete(r.Context(), id); err != nil {
		writeServiceError(w, "Server.deleteSessionHandler", id, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session deleted", nil))
}

// submitHandler runs one dialogue turn (POST /intake/sessions/{id}/messages).
func (s *Server) submitHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	slog.Debug("Server.submitHandler: processing request", "sessionID", id)
	var req models.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		slog.Warn("Server.submitHandler: failed to decode JSON", "error", err, "sessionID", id)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.submitHandler: validation failed", "error", err, "sessionID", id)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	msgs, err := s.svc.Submit(r.Context(), id, req.Text)
	if err != nil {
		writeServiceError(w, "Server.submitHandler", id, err)
		return
	}
	view, err := s.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, "Server.submitHandler", id, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(SessionResult{Session: view, Messages: nonNil(msgs)}))
}

// transcriptHandler returns the session transcript (GET /intake/sessions/{id}/transcript).
func (s *Server) transcriptHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	transcript, err := s.svc.Transcript(r.Context(), id)
	if err != nil {
		writeServiceError(w, "Server.transcriptHandler", id, err)
		return
	}
	if transcript == nil {
		transcript = []models.ChatMessage{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(transcript))
}

func (s *Server) factsHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	facts, err := s.svc.Facts(r.Context(), id)
	if err != nil {
		writeServiceError(w, "Server.factsHandler", id, err)
		return
	}
	if facts == nil {
		facts = []models.Fact{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(facts))
}

// clearSessionHandler wipes facts, conclusions and transcript and restarts the dialogue
// (DELETE /intake/sessions/{id}/facts).
func (s *Server) clearSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	greeting, err := s.svc.Clear(r.Context(), id)
	if err != nil {
		writeServiceError(w, "Server.clearSessionHandler", id, err)
		return
	}
	view, err := s.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, "Server.clearSessionHandler", id, err)
		return
	}
	var msgs []string
	if greeting != "" {
		msgs = append(msgs, greeting)
	}
	slog.Info("Server.clearSessionHandler: session cleared", "sessionID", id)
	writeJSONResponse(w, http.StatusOK, models.Success(SessionResult{Session: view, Messages: nonNil(msgs)}))
}

func (s *Server) conclusionsHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	concl, err := s.svc.Conclusions(r.Context(), id)
	if err != nil {
		writeServiceError(w, "Server.conclusionsHandler", id, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(concl))
}

// summaryHandler returns the clinician summary (GET /intake/sessions/{id}/summary).
func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sum, err := s.svc.Summary(r.Context(), id)
	if err != nil {
		writeServiceError(w, "Server.summaryHandler", id, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sum))
}
