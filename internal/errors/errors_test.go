package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCodedErrorMessage(t *testing.T) {
	err := New(CodeSendNotConnected, "message not sent")
	if got := err.Error(); got != "send.not_connected: message not sent" {
		t.Fatalf("unexpected error string: %q", got)
	}
}

func TestCodedErrorWithCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeTransportDialFailed, "failed to connect", cause)

	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected cause in message, got %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to reach the cause")
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(nil); got != "" {
		t.Fatalf("expected empty code for nil, got %q", got)
	}
	if got := GetCode(New(CodeChannelClosed, "closed")); got != CodeChannelClosed {
		t.Fatalf("expected %s, got %s", CodeChannelClosed, got)
	}
	if got := GetCode(errors.New("plain")); got != CodeUnknown {
		t.Fatalf("expected %s for uncoded error, got %s", CodeUnknown, got)
	}
}

func TestGetCodeWrapped(t *testing.T) {
	inner := New(CodeRESTStatus, "HTTP 500")
	outer := fmt.Errorf("loading snapshot: %w", inner)
	if got := GetCode(outer); got != CodeRESTStatus {
		t.Fatalf("expected code through wrapping, got %s", got)
	}
}

func TestIsCode(t *testing.T) {
	err := ConfirmationPending()
	if !IsCode(err, CodeGuidanceConfirmationPending) {
		t.Fatal("expected confirmation_pending code")
	}
	if IsCode(err, CodeGuidanceNotActive) {
		t.Fatal("unexpected code match")
	}
}

func TestGetMessage(t *testing.T) {
	if got := GetMessage(New(CodeSendNotConnected, "not sent")); got != "not sent" {
		t.Fatalf("unexpected message: %q", got)
	}
	if got := GetMessage(errors.New("plain failure")); got != "plain failure" {
		t.Fatalf("unexpected fallback message: %q", got)
	}
}

func TestConstructors(t *testing.T) {
	cases := []struct {
		err  *CodedError
		code string
	}{
		{DialFailed("ws://x/ws/ticket/1/", errors.New("refused")), CodeTransportDialFailed},
		{ReconnectExhausted(5), CodeTransportReconnectExhausted},
		{NotConnected(), CodeSendNotConnected},
		{ConfirmationPending(), CodeGuidanceConfirmationPending},
		{NotActive(), CodeGuidanceNotActive},
		{NotTechnician("employe"), CodeGuidanceNotTechnician},
		{ChannelClosed(), CodeChannelClosed},
		{RESTStatus("GET", "/tickets/1/comments/", 503), CodeRESTStatus},
		{RESTRequestFailed("POST", "/comments/1/confirm/", errors.New("timeout")), CodeRESTRequestFailed},
	}
	for _, tc := range cases {
		if tc.err.Code != tc.code {
			t.Fatalf("expected code %s, got %s", tc.code, tc.err.Code)
		}
		if tc.err.Message == "" {
			t.Fatalf("%s: expected a human-readable message", tc.code)
		}
	}
}

func TestReconnectExhaustedMentionsAttempts(t *testing.T) {
	err := ReconnectExhausted(5)
	if !strings.Contains(err.Message, "5") {
		t.Fatalf("expected attempt count in message, got %q", err.Message)
	}
}
