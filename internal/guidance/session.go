// Package guidance derives the remote-assistance session state from a
// ticket's reconciled comment history.
//
// The session is never materialized server-side as its own entity: it is
// bracketed by guidage_debut/guidage_fin comments, and the client
// recomputes the derived state as a pure function of the ordered history
// on every change. Bracket resolution goes by timestamp, not arrival
// order, because late-arriving events can appear out of order relative to
// other session brackets.
package guidance

import (
	apperrors "github.com/techdesk/realtime/internal/errors"
	"github.com/techdesk/realtime/internal/protocol"
)

// State is the derived session state.
type State string

const (
	// StateIdle means no guidance session is open.
	StateIdle State = "idle"

	// StateActive means a guidance bracket is open: technician messages
	// become numbered instructions and the turn gate applies.
	StateActive State = "active"
)

// Session is the derived guidance state for one viewer of one ticket.
type Session struct {
	// State is Idle or Active.
	State State

	// CurrentStep is the advisory step number the next instruction should
	// carry: 1 at session start, then highest echoed step + 1. The backend
	// renumbers authoritatively on the persisted comment.
	CurrentStep int

	// PendingConfirmation is true while the session is active and an
	// unconfirmed blocking instruction from another user is outstanding.
	PendingConfirmation bool

	// PendingInstructionID is the id of the oldest such instruction, for
	// surfaces that render a "confirm this step" affordance. Zero when
	// PendingConfirmation is false.
	PendingInstructionID int64
}

// Active reports whether a guidance session is open.
func (s Session) Active() bool {
	return s.State == StateActive
}

// Derive computes the session state for the given viewer by scanning the
// ordered comment list once.
//
// The session is active iff a guidage_debut exists and either no
// guidage_fin exists or the latest start is strictly after the latest end
// (both latest by CreatedAt). While active, PendingConfirmation is true
// iff any comment is an unconfirmed blocking instruction authored by
// someone other than the viewer.
func Derive(comments []protocol.Comment, viewerID int64) Session {
	var start, end *protocol.Comment
	for i := range comments {
		c := &comments[i]
		switch c.Action {
		case protocol.ActionGuidanceStart:
			if start == nil || c.CreatedAt.After(start.CreatedAt) {
				start = c
			}
		case protocol.ActionGuidanceEnd:
			if end == nil || c.CreatedAt.After(end.CreatedAt) {
				end = c
			}
		}
	}

	active := start != nil && (end == nil || start.CreatedAt.After(end.CreatedAt))
	if !active {
		return Session{State: StateIdle, CurrentStep: 1}
	}

	s := Session{State: StateActive, CurrentStep: 1}
	for i := range comments {
		c := &comments[i]

		// Step numbers only count within the open bracket; instructions
		// from earlier sessions keep their numbers but do not advance the
		// counter of the current one.
		if c.IsInstruction && c.StepNumber >= s.CurrentStep && !c.CreatedAt.Before(start.CreatedAt) {
			s.CurrentStep = c.StepNumber + 1
		}

		if c.AwaitingConfirmation(viewerID) {
			if !s.PendingConfirmation {
				s.PendingConfirmation = true
				s.PendingInstructionID = c.ID
			}
		}
	}
	return s
}

// CheckPlainSend enforces the turn-taking rule for a plain outbound
// message: while a session is active with a pending confirmation, an
// employee viewer must confirm before chatting again. Technicians and
// admins are never blocked.
//
// This is a UX gate, not a security boundary - the backend refuses blocked
// sends independently and replies with an error envelope.
func CheckPlainSend(s Session, viewer protocol.Author) error {
	if s.Active() && s.PendingConfirmation && viewer.Role == protocol.RoleEmployee {
		return apperrors.ConfirmationPending()
	}
	return nil
}

// CheckInstructionSend enforces the preconditions for sending an
// instruction: the viewer must be a technician (or admin) and a session
// must be active.
func CheckInstructionSend(s Session, viewer protocol.Author) error {
	if viewer.Role != protocol.RoleTechnician && viewer.Role != protocol.RoleAdmin {
		return apperrors.NotTechnician(string(viewer.Role))
	}
	if !s.Active() {
		return apperrors.NotActive()
	}
	return nil
}
