package protocol

import (
	"encoding/json"
	"fmt"
)

// EventKind identifies the kind of event flowing out of a transport.
// Server-sent kinds mirror the backend's envelope "type" values; the
// connection lifecycle kinds are produced by the transport itself and
// never appear on the wire.
type EventKind string

const (
	// EventComment carries a newly created comment.
	// Payload: Comment.
	EventComment EventKind = "comment"

	// EventInstructionUpdated carries an instruction comment whose
	// confirmation state changed. The payload is a full replacement.
	// Payload: Comment.
	EventInstructionUpdated EventKind = "instruction_updated"

	// EventTicketUpdated carries ticket fields to merge. Sent on both the
	// per-ticket channel and the notification channel.
	// Payload: Ticket.
	EventTicketUpdated EventKind = "ticket_updated"

	// EventNewTicket announces a newly created ticket. Notification
	// channel only.
	// Payload: Ticket.
	EventNewTicket EventKind = "new_ticket"

	// EventTicketAssigned announces a ticket assignment. Notification
	// channel only.
	// Payload: Ticket.
	EventTicketAssigned EventKind = "ticket_assigned"

	// EventServerError carries a server-side refusal or failure message,
	// surfaced to the user verbatim.
	// Payload: Message string.
	EventServerError EventKind = "error"

	// EventOpen signals that the transport established its connection.
	// Transport-generated; no payload.
	EventOpen EventKind = "open"

	// EventClose signals that the transport's connection closed, whether
	// caller-initiated or not.
	// Payload: Message holds the close reason when known.
	EventClose EventKind = "close"

	// EventConnectionError signals a transport-level failure (dial error,
	// unexpected drop). A close event follows.
	// Payload: Message holds the error text.
	EventConnectionError EventKind = "connection_error"
)

// Event is the decoded form of an inbound envelope, plus the pseudo-events
// the transport emits for its own lifecycle. Exactly one payload field is
// set, matching Kind.
type Event struct {
	Kind    EventKind
	Comment *Comment
	Ticket  *Ticket
	Message string
}

// inboundEnvelope matches the backend's broadcast shape. The backend uses
// one named payload field per type rather than a generic payload object.
type inboundEnvelope struct {
	Type        string          `json:"type"`
	Comment     *Comment        `json:"comment,omitempty"`
	Instruction *Comment        `json:"instruction,omitempty"`
	Ticket      *Ticket         `json:"ticket,omitempty"`
	Message     json.RawMessage `json:"message,omitempty"`
}

// ErrUnknownKind is returned by DecodeInbound for envelope types this
// client does not consume. Unknown kinds are expected (the protocol is
// forward-compatible) and callers should skip them silently.
var ErrUnknownKind = fmt.Errorf("unknown envelope kind")

// DecodeInbound parses one server-sent frame into an Event.
//
// Returns ErrUnknownKind for forward-compatible skipping of unrecognized
// types, and a decode error for frames that fail to parse or that carry a
// known type without its payload. Callers log-and-drop both cases; a bad
// frame must never reach consumers.
func DecodeInbound(data []byte) (Event, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("malformed envelope: %w", err)
	}

	switch EventKind(env.Type) {
	case EventComment:
		if env.Comment == nil {
			return Event{}, fmt.Errorf("comment envelope without comment payload")
		}
		return Event{Kind: EventComment, Comment: env.Comment}, nil

	case EventInstructionUpdated:
		if env.Instruction == nil {
			return Event{}, fmt.Errorf("instruction_updated envelope without instruction payload")
		}
		return Event{Kind: EventInstructionUpdated, Comment: env.Instruction}, nil

	case EventTicketUpdated, EventNewTicket, EventTicketAssigned:
		if env.Ticket == nil {
			return Event{}, fmt.Errorf("%s envelope without ticket payload", env.Type)
		}
		return Event{Kind: EventKind(env.Type), Ticket: env.Ticket}, nil

	case EventServerError:
		var msg string
		if err := json.Unmarshal(env.Message, &msg); err != nil {
			return Event{}, fmt.Errorf("error envelope with non-string message")
		}
		return Event{Kind: EventServerError, Message: msg}, nil

	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
}

// Outbound envelope types. These are the only shapes the client writes to
// the ticket channel; the notification channel is read-only.
const (
	OutboundComment      = "comment"
	OutboundInstruction  = "instruction"
	OutboundConfirmation = "confirmation"
)

// CommentEnvelope is the outbound frame for a plain chat message.
type CommentEnvelope struct {
	// Type is always "comment".
	Type string `json:"type"`

	// Message is the text body.
	Message string `json:"message"`
}

// InstructionEnvelope is the outbound frame for a guidance instruction.
// The instruction metadata rides as top-level fields on the same envelope,
// matching the backend's receive handler.
type InstructionEnvelope struct {
	// Type is always "instruction".
	Type string `json:"type"`

	// Message is the instruction text.
	Message string `json:"message"`

	// StepNumber is the client's advisory step counter. The backend may
	// renumber; the echoed comment carries the authoritative value.
	StepNumber int `json:"numero_etape"`

	// RequiresConfirmation is always true for instructions sent by this
	// client: the employee must acknowledge before chatting again.
	RequiresConfirmation bool `json:"attendre_confirmation"`

	// IsInstruction marks the message for instruction rendering.
	IsInstruction bool `json:"est_instruction"`
}

// ConfirmationEnvelope is the outbound frame acknowledging an instruction
// over the realtime channel. The detail-panel surface confirms over REST
// instead; both paths produce the same backend state.
type ConfirmationEnvelope struct {
	// Type is always "confirmation".
	Type string `json:"type"`

	// Message is the acknowledgement text shown in the conversation.
	Message string `json:"message"`

	// ParentID references the instruction comment being confirmed.
	ParentID int64 `json:"commentaire_parent_id"`

	// Action is always "confirmation_etape".
	Action ActionType `json:"type_action"`
}

// DefaultConfirmationMessage is the acknowledgement text both confirmation
// surfaces send when the caller does not provide one.
const DefaultConfirmationMessage = "Étape terminée ✅"

// NewCommentEnvelope builds the outbound frame for a plain message.
func NewCommentEnvelope(message string) CommentEnvelope {
	return CommentEnvelope{
		Type:    OutboundComment,
		Message: message,
	}
}

// NewInstructionEnvelope builds the outbound frame for a numbered
// instruction that blocks the employee until confirmed.
func NewInstructionEnvelope(message string, step int) InstructionEnvelope {
	return InstructionEnvelope{
		Type:                 OutboundInstruction,
		Message:              message,
		StepNumber:           step,
		RequiresConfirmation: true,
		IsInstruction:        true,
	}
}

// NewConfirmationEnvelope builds the outbound frame acknowledging the
// instruction with the given comment id. An empty message falls back to
// DefaultConfirmationMessage.
func NewConfirmationEnvelope(commentID int64, message string) ConfirmationEnvelope {
	if message == "" {
		message = DefaultConfirmationMessage
	}
	return ConfirmationEnvelope{
		Type:     OutboundConfirmation,
		Message:  message,
		ParentID: commentID,
		Action:   ActionStepConfirmation,
	}
}
