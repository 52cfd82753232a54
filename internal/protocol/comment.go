// Package protocol defines the wire types for the helpdesk realtime
// guidance channel. It covers the comment and ticket models exchanged with
// the backend, the inbound event envelopes broadcast over the WebSocket,
// and the outbound envelopes the client produces.
//
// Field names in JSON follow the backend's serializers exactly (the backend
// is French-named: contenu, auteur, numero_etape, ...). Go code uses
// English names; only the tags carry the wire spelling.
package protocol

import "time"

// Role identifies a user's role on the helpdesk.
type Role string

const (
	// RoleEmployee is the requester role. Employees open tickets and are
	// the party guided during a remote assistance session.
	RoleEmployee Role = "employe"

	// RoleTechnician is the role that runs guidance sessions and sends
	// numbered instructions.
	RoleTechnician Role = "technicien"

	// RoleAdmin has technician capabilities plus administration rights.
	// The guidance turn gate never blocks admins.
	RoleAdmin Role = "admin"
)

// ActionType tags a comment with its effect. Most values only affect
// rendering; the guidance state machine reacts to the session brackets,
// instructions, and step confirmations.
type ActionType string

const (
	// ActionComment is a plain chat message.
	ActionComment ActionType = "ajout_commentaire"

	// ActionInstruction is a numbered guidance instruction from a technician.
	ActionInstruction ActionType = "instruction"

	// ActionTechnicianQuestion is a technician question during guidance.
	ActionTechnicianQuestion ActionType = "question_technicien"

	// ActionEmployeeReply is an employee reply during guidance.
	ActionEmployeeReply ActionType = "reponse_employe"

	// ActionStepConfirmation acknowledges an instruction.
	ActionStepConfirmation ActionType = "confirmation_etape"

	// ActionGuidanceStart opens a guidance session bracket.
	ActionGuidanceStart ActionType = "guidage_debut"

	// ActionGuidanceEnd closes a guidance session bracket.
	ActionGuidanceEnd ActionType = "guidage_fin"

	// ActionCaptureRequest asks the employee for a screenshot.
	ActionCaptureRequest ActionType = "demande_capture"

	// System-generated ticket lifecycle entries. The client renders them
	// but they have no state-machine effect.
	ActionCreation     ActionType = "creation"
	ActionAssignment   ActionType = "assignation"
	ActionStatusChange ActionType = "changement_statut"
	ActionResolution   ActionType = "resolution"
	ActionClosure      ActionType = "fermeture"
)

// Author is the user attached to a comment or ticket, as serialized by
// the backend.
type Author struct {
	// ID is the backend user id.
	ID int64 `json:"id"`

	// FullName is the display name. The backend falls back to the email
	// when first/last names are empty.
	FullName string `json:"nom_complet"`

	// Email is the user's login email.
	Email string `json:"email"`

	// Role is the user's helpdesk role.
	Role Role `json:"role"`
}

// Comment is one entry in a ticket's conversation. Comments are immutable
// once created, except the confirmation fields which transition exactly
// once (Confirmed false -> true, ConfirmedAt set) when the employee
// acknowledges an instruction.
type Comment struct {
	// ID is assigned by the backend and stable across reconnects.
	// It is the deduplication key during history reconciliation.
	ID int64 `json:"id"`

	// Author is the user who wrote the comment. System entries carry the
	// acting user.
	Author Author `json:"auteur"`

	// Content is the text body.
	Content string `json:"contenu"`

	// CreatedAt orders the conversation and resolves guidance brackets.
	CreatedAt time.Time `json:"date_commentaire"`

	// Action tags the comment's effect. See the ActionType constants.
	Action ActionType `json:"type_action"`

	// StepNumber is set only on instruction comments. The backend's echoed
	// value is authoritative; the client-side counter is display-only.
	StepNumber int `json:"numero_etape,omitempty"`

	// IsInstruction is true for technician messages sent while a guidance
	// session is active.
	IsInstruction bool `json:"est_instruction"`

	// RequiresConfirmation blocks the employee's plain sends until the
	// instruction is acknowledged.
	RequiresConfirmation bool `json:"attendre_confirmation"`

	// Confirmed reports whether the employee acknowledged the instruction.
	Confirmed bool `json:"est_confirme"`

	// ConfirmedAt is set by the backend when Confirmed transitions.
	ConfirmedAt *time.Time `json:"date_confirmation,omitempty"`

	// ParentID links a reply to the comment it answers. Zero for
	// top-level comments.
	ParentID int64 `json:"commentaire_parent,omitempty"`

	// Replies is the one-level chain of answers to this comment. Replies
	// are carried through reconciliation untouched, never promoted to
	// top-level entries.
	Replies []Comment `json:"reponses,omitempty"`
}

// IsGuidanceBracket reports whether the comment opens or closes a
// guidance session.
func (c *Comment) IsGuidanceBracket() bool {
	return c.Action == ActionGuidanceStart || c.Action == ActionGuidanceEnd
}

// AwaitingConfirmation reports whether this comment is an instruction the
// given viewer still has to acknowledge. Own instructions never await the
// author's confirmation.
func (c *Comment) AwaitingConfirmation(viewerID int64) bool {
	return c.IsInstruction &&
		c.RequiresConfirmation &&
		!c.Confirmed &&
		c.Author.ID != viewerID
}

// Ticket carries the ticket fields the backend includes in realtime
// updates and notifications. The client merges these into whatever view
// state it holds; only ID is required to be present.
type Ticket struct {
	// ID is the backend ticket id.
	ID int64 `json:"id"`

	// Title is the one-line summary.
	Title string `json:"titre"`

	// Description is the full problem statement.
	Description string `json:"description,omitempty"`

	// Status is the workflow state (e.g. "ouvert", "en_cours", "resolu").
	Status string `json:"statut_ticket"`

	// Priority is the triage level (e.g. "basse", "moyenne", "haute").
	Priority string `json:"priorite,omitempty"`

	// CreatedAt is when the ticket was opened.
	CreatedAt time.Time `json:"date_creation"`

	// UpdatedAt is the last modification time.
	UpdatedAt time.Time `json:"date_modification"`

	// Requester is the user who opened the ticket.
	Requester *Author `json:"utilisateur_createur,omitempty"`

	// Technician is the assigned technician, nil while unassigned.
	Technician *Author `json:"technicien_assigne,omitempty"`
}
