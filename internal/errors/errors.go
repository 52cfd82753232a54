// Package errors provides standardized error codes for the realtime
// guidance client.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: the subsystem that produced the error (transport, send, rest, guidance, channel)
//   - error: the specific error type within that domain
//
// These codes are stable so UI surfaces can react programmatically (e.g.
// show a "confirm the pending step first" prompt for
// guidance.confirmation_pending versus a persistent "realtime unavailable,
// please reload" banner for transport.reconnect_exhausted). Human-readable
// messages ride alongside.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Transport domain - WebSocket connection lifecycle
	CodeTransportDialFailed         = "transport.dial_failed"         // Could not establish the connection
	CodeTransportClosed             = "transport.closed"              // Connection closed
	CodeTransportReconnectExhausted = "transport.reconnect_exhausted" // All reconnect attempts used up

	// Send domain - outbound realtime messages
	CodeSendNotConnected = "send.not_connected" // Send attempted while not connected
	CodeSendMarshal      = "send.marshal"       // Payload failed to serialize
	CodeSendWriteFailed  = "send.write_failed"  // Write on the socket failed

	// REST domain - collaborator HTTP calls
	CodeRESTRequestFailed = "rest.request_failed" // Request could not be performed
	CodeRESTStatus        = "rest.status"         // Non-success HTTP status
	CodeRESTDecodeFailed  = "rest.decode_failed"  // Response body failed to parse

	// Guidance domain - turn-taking and session state
	CodeGuidanceConfirmationPending = "guidance.confirmation_pending" // Employee must confirm the pending step first
	CodeGuidanceNotActive           = "guidance.not_active"           // Operation requires an active session
	CodeGuidanceNotTechnician       = "guidance.not_technician"       // Operation reserved to technicians

	// Channel domain - facade lifecycle
	CodeChannelClosed = "channel.closed" // Operation on a closed channel

	// General domain - catch-all
	CodeUnknown = "error.unknown" // Unknown error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "send.not_connected")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for errors without a code.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Common error constructors for frequently used error types.

// DialFailed creates a "transport.dial_failed" error.
func DialFailed(url string, cause error) *CodedError {
	return Wrap(CodeTransportDialFailed, fmt.Sprintf("failed to connect to %s", url), cause)
}

// ReconnectExhausted creates a "transport.reconnect_exhausted" error.
// After this, the realtime channel stays down until the caller reconnects
// explicitly; surfaces show a persistent "realtime unavailable" state.
func ReconnectExhausted(attempts int) *CodedError {
	return New(CodeTransportReconnectExhausted,
		fmt.Sprintf("gave up after %d reconnect attempts - reconnect manually", attempts))
}

// NotConnected creates a "send.not_connected" error. Messages are never
// queued; the caller surfaces a reconnect prompt instead.
func NotConnected() *CodedError {
	return New(CodeSendNotConnected, "realtime connection unavailable - message not sent")
}

// ConfirmationPending creates a "guidance.confirmation_pending" error.
// The employee must acknowledge the outstanding instruction before sending
// further messages.
func ConfirmationPending() *CodedError {
	return New(CodeGuidanceConfirmationPending,
		"confirm the pending instruction before sending a new message")
}

// NotActive creates a "guidance.not_active" error.
func NotActive() *CodedError {
	return New(CodeGuidanceNotActive, "no guidance session is active")
}

// NotTechnician creates a "guidance.not_technician" error.
func NotTechnician(role string) *CodedError {
	return New(CodeGuidanceNotTechnician,
		fmt.Sprintf("instructions require the technician role (viewer is %s)", role))
}

// ChannelClosed creates a "channel.closed" error.
func ChannelClosed() *CodedError {
	return New(CodeChannelClosed, "channel is closed")
}

// RESTStatus creates a "rest.status" error for a non-success response.
func RESTStatus(method, path string, status int) *CodedError {
	return New(CodeRESTStatus, fmt.Sprintf("%s %s returned HTTP %d", method, path, status))
}

// RESTRequestFailed creates a "rest.request_failed" error.
func RESTRequestFailed(method, path string, cause error) *CodedError {
	return Wrap(CodeRESTRequestFailed, fmt.Sprintf("%s %s failed", method, path), cause)
}
