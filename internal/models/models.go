// Package models defines the core data structures for IntakePipe.
//
// It includes the intake vocabulary (phases, tokens, conclusions), content and fact records,
// transport events, and the JSON envelope shared by every API endpoint.
package models

import (
	"errors"
	"strings"
)

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum allowed length for a user message
	MaxMessageLength = 4096
	// MaxParticipantLength defines the maximum allowed length for a participant identifier
	MaxParticipantLength = 64
)

// Error variables for better error handling and testability
var (
	ErrEmptyMessage       = errors.New("message text cannot be empty")
	ErrMessageTooLong     = errors.New("message text exceeds maximum length")
	ErrParticipantTooLong = errors.New("participant identifier exceeds maximum length")
	ErrSessionNotFound    = errors.New("session not found")
)

// MessageStatus represents the delivery status of an outgoing chat message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt is a delivery event emitted by a messaging transport.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// InboundMessage represents a chat message received from a participant over a transport.
type InboundMessage struct {
	ID   string `json:"id,omitempty"` // transport message ID, used for deduplication
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// SubmitRequest is the body of POST /intake/sessions/{id}/messages.
type SubmitRequest struct {
	Text string `json:"text"`
}

// Validate checks the request text.
func (r *SubmitRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyMessage
	}
	if len(r.Text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// CreateSessionRequest is the optional body of POST /intake/sessions.
type CreateSessionRequest struct {
	Participant string `json:"participant,omitempty"`
}

// Validate checks the request fields.
func (r *CreateSessionRequest) Validate() error {
	if len(r.Participant) > MaxParticipantLength {
		return ErrParticipantTooLong
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
