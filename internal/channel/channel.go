// Package channel provides the single entry point UI surfaces use to talk
// to a ticket's realtime guidance channel: one lifecycle-managed Channel
// per open ticket, plus the process-scoped Notifier for the cross-ticket
// notification stream.
//
// A Channel owns its transport, reconciler, and derived guidance state
// exclusively; nothing is shared across tickets. Consumers subscribe to
// the channel's events and read derived state through accessors, so a
// chat widget and a detail panel looking at the same ticket always agree.
package channel

import (
	"context"
	"log"
	"sync"

	"github.com/techdesk/realtime/internal/bus"
	apperrors "github.com/techdesk/realtime/internal/errors"
	"github.com/techdesk/realtime/internal/guidance"
	"github.com/techdesk/realtime/internal/history"
	"github.com/techdesk/realtime/internal/protocol"
	"github.com/techdesk/realtime/internal/rest"
	"github.com/techdesk/realtime/internal/transport"
)

// ConfirmPath selects the surface an instruction confirmation travels
// over. The two paths are a known inconsistency inherited from the
// product's two UI surfaces: the chat widget confirms over the realtime
// channel, the detail panel over REST. Both end in the same backend state
// transition, but they are kept apart rather than silently merged in case
// the backend side effects ever diverge.
type ConfirmPath int

const (
	// ConfirmRealtime sends the confirmation envelope over the WebSocket.
	ConfirmRealtime ConfirmPath = iota

	// ConfirmREST posts the confirmation to /comments/{id}/confirm/.
	ConfirmREST
)

// Config carries what a Channel needs to reach the backend.
type Config struct {
	// APIBase is the REST origin, e.g. "http://helpdesk.local:8000/api".
	APIBase string

	// WSBase is the WebSocket origin, e.g. "ws://helpdesk.local:8000".
	WSBase string

	// Token is the bearer credential. Acquisition and refresh belong to
	// the auth layer; the channel only forwards it.
	Token string

	// Viewer identifies the local user; the turn gate and the pending
	// confirmation flag depend on who is looking.
	Viewer protocol.Author

	// Transport overrides the transport tuning. BaseURL is filled from
	// WSBase; tests shorten the reconnect schedule here.
	Transport transport.Options
}

// Channel is the facade for one ticket's guidance channel.
type Channel struct {
	ticketID int64
	cfg      Config
	tr       *transport.Transport
	api      *rest.Client
	events   *bus.Bus

	mu      sync.Mutex
	rec     *history.Reconciler
	session guidance.Session
	ticket  *protocol.Ticket
	seeded  bool
	wired   bool
	closed  bool
	step    int
	pending []protocol.Event
	subs    []*bus.Subscription
}

// New creates a Channel for the given ticket. No network activity happens
// until Open.
func New(ticketID int64, cfg Config) *Channel {
	opts := cfg.Transport
	opts.BaseURL = cfg.WSBase

	return &Channel{
		ticketID: ticketID,
		cfg:      cfg,
		tr:       transport.New(transport.ChannelTicket, opts),
		api:      rest.NewClient(cfg.APIBase, cfg.Token),
		events:   bus.New(),
		rec:      history.New(),
		session:  guidance.Session{State: guidance.StateIdle, CurrentStep: 1},
		step:     1,
	}
}

// Subscribe registers a handler for an event kind on this channel.
// Delivered kinds: comment, instruction_updated, ticket_updated, error,
// open, close, connection_error. Dispatch is synchronous in wire order;
// Close drops all subscriptions.
func (c *Channel) Subscribe(kind protocol.EventKind, fn bus.Handler) *bus.Subscription {
	return c.events.On(kind, fn)
}

// Open connects the transport and seeds the reconciler from the REST
// snapshot. The two races freely: events arriving before the snapshot
// resolves are buffered and applied after seeding, so the visible comment
// order is deterministic either way.
//
// A snapshot failure is returned as a rest.* error and leaves the channel
// openable - calling Open again retries without rebuilding anything. A
// transport dial failure is not returned: the reconnect schedule handles
// it and its outcome is observable through connection events.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperrors.ChannelClosed()
	}
	if !c.wired {
		c.wire()
		c.wired = true
	}
	c.mu.Unlock()

	if err := c.tr.Connect(c.ticketID, c.cfg.Token); err != nil {
		// Reconnects are already scheduled; the snapshot below still
		// proceeds so the conversation renders while realtime recovers.
		log.Printf("Realtime connect failed for ticket %d: %v", c.ticketID, err)
	}

	comments, err := c.api.Comments(ctx, c.ticketID)
	if err != nil {
		return err
	}
	c.seed(comments)
	return nil
}

// Reload re-fetches the snapshot and reseeds the reconciler wholesale.
// This is the fallback when realtime delivery is suspect (after exhausted
// reconnects, or a user-initiated refresh).
func (c *Channel) Reload(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperrors.ChannelClosed()
	}
	c.mu.Unlock()

	comments, err := c.api.Comments(ctx, c.ticketID)
	if err != nil {
		return err
	}
	c.seed(comments)
	return nil
}

// SendPlain sends a plain chat message, subject to the turn-taking gate:
// an employee with an unconfirmed instruction outstanding is refused
// locally with a guidance.confirmation_pending error (the message never
// reaches the wire). Reports whether the message was dispatched.
func (c *Channel) SendPlain(text string) (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, apperrors.ChannelClosed()
	}
	sess := c.session
	c.mu.Unlock()

	if err := guidance.CheckPlainSend(sess, c.cfg.Viewer); err != nil {
		return false, err
	}
	if !c.tr.Send(protocol.NewCommentEnvelope(text)) {
		return false, apperrors.NotConnected()
	}
	return true, nil
}

// SendInstruction sends a numbered guidance instruction. Only meaningful
// for a technician viewer while a session is active. The step number
// attached is the channel's advisory counter; the backend's echoed
// numero_etape on the persisted comment is authoritative and resyncs the
// counter when it lands.
func (c *Channel) SendInstruction(text string) (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, apperrors.ChannelClosed()
	}
	sess := c.session
	step := c.step
	c.mu.Unlock()

	if err := guidance.CheckInstructionSend(sess, c.cfg.Viewer); err != nil {
		return false, err
	}
	if !c.tr.Send(protocol.NewInstructionEnvelope(text, step)) {
		return false, apperrors.NotConnected()
	}

	c.mu.Lock()
	if step+1 > c.step {
		c.step = step + 1
	}
	c.mu.Unlock()
	return true, nil
}

// ConfirmInstruction acknowledges the instruction with the given comment
// id, over the selected path. An empty message falls back to the default
// acknowledgement text. The update lands back as an instruction_updated
// event once the backend broadcasts it.
func (c *Channel) ConfirmInstruction(ctx context.Context, commentID int64, message string, via ConfirmPath) (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, apperrors.ChannelClosed()
	}
	c.mu.Unlock()

	switch via {
	case ConfirmREST:
		if err := c.api.ConfirmInstruction(ctx, commentID, message); err != nil {
			return false, err
		}
		return true, nil
	default:
		if !c.tr.Send(protocol.NewConfirmationEnvelope(commentID, message)) {
			return false, apperrors.NotConnected()
		}
		return true, nil
	}
}

// StartGuidance creates the session start bracket over REST. The bracket
// comment arrives back through the realtime channel (or Reload); only
// then does the derived state flip to active.
func (c *Channel) StartGuidance(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperrors.ChannelClosed()
	}
	c.mu.Unlock()

	if c.cfg.Viewer.Role != protocol.RoleTechnician && c.cfg.Viewer.Role != protocol.RoleAdmin {
		return apperrors.NotTechnician(string(c.cfg.Viewer.Role))
	}
	if err := c.api.StartGuidance(ctx, c.ticketID); err != nil {
		return err
	}

	c.mu.Lock()
	c.step = 1
	c.mu.Unlock()
	return nil
}

// EndGuidance creates the session end bracket over REST. Resolved reports
// whether the technician considers the problem fixed.
func (c *Channel) EndGuidance(ctx context.Context, message string, resolved bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperrors.ChannelClosed()
	}
	c.mu.Unlock()

	if c.cfg.Viewer.Role != protocol.RoleTechnician && c.cfg.Viewer.Role != protocol.RoleAdmin {
		return apperrors.NotTechnician(string(c.cfg.Viewer.Role))
	}
	return c.api.EndGuidance(ctx, c.ticketID, message, resolved)
}

// Close tears down the transport and drops every subscription, on both
// the transport's bus and the channel's own. In-flight REST calls are not
// cancelled, but their results are discarded: seeding and event handling
// check the closed flag first.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	c.tr.Disconnect()
	c.events.Reset()
}

// Comments returns a copy of the reconciled conversation in chronological
// order.
func (c *Channel) Comments() []protocol.Comment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec.Comments()
}

// Session returns the current derived guidance state for the viewer.
func (c *Channel) Session() guidance.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Ticket returns the most recent ticket fields received over the channel,
// or nil if none arrived yet.
func (c *Channel) Ticket() *protocol.Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticket
}

// ConnectionState reports the transport's connection state.
func (c *Channel) ConnectionState() transport.State {
	return c.tr.State()
}

// wire registers the transport handlers. Called once under c.mu.
func (c *Channel) wire() {
	kinds := []protocol.EventKind{
		protocol.EventComment,
		protocol.EventInstructionUpdated,
		protocol.EventTicketUpdated,
		protocol.EventServerError,
		protocol.EventOpen,
		protocol.EventClose,
		protocol.EventConnectionError,
	}
	for _, k := range kinds {
		c.subs = append(c.subs, c.tr.On(k, c.handle))
	}
}

// handle processes one transport event. It runs on the transport's read
// goroutine; state mutation happens under c.mu and re-emission to
// consumers happens after unlocking, preserving wire order because this
// goroutine is the only emitter.
func (c *Channel) handle(ev protocol.Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	switch ev.Kind {
	case protocol.EventComment, protocol.EventInstructionUpdated:
		if !c.seeded {
			// Snapshot still in flight; hold the event until Seed so the
			// final order does not depend on which response wins the race.
			c.pending = append(c.pending, ev)
			c.mu.Unlock()
			return
		}
		if !c.applyLocked(ev) {
			// Duplicate of an already-reconciled entry; consumers have
			// it, so it is not re-emitted.
			c.mu.Unlock()
			return
		}

	case protocol.EventTicketUpdated:
		c.ticket = ev.Ticket
	}

	c.mu.Unlock()
	c.events.Emit(ev)
}

// applyLocked folds one comment event into the reconciler and recomputes
// the derived session. Reports whether the event changed the history;
// duplicate comments do not. Caller holds c.mu.
func (c *Channel) applyLocked(ev protocol.Event) bool {
	changed := false
	switch ev.Kind {
	case protocol.EventComment:
		changed = c.rec.ApplyIncoming(*ev.Comment)
	case protocol.EventInstructionUpdated:
		// Full replace by identity; if the original comment was never
		// seen (update raced ahead of it), insert instead.
		if !c.rec.ApplyUpdate(*ev.Comment) {
			c.rec.ApplyIncoming(*ev.Comment)
		}
		changed = true
	}
	c.recomputeLocked()
	return changed
}

// seed installs the snapshot, drains the pre-seed buffer in arrival
// order, and notifies consumers of the buffered events. Buffered events
// the reconciler dropped as duplicates of snapshot entries are not
// re-emitted: the snapshot already carries them.
func (c *Channel) seed(comments []protocol.Comment) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.rec.Seed(comments)
	c.seeded = true
	buffered := c.pending
	c.pending = nil
	var emit []protocol.Event
	for _, ev := range buffered {
		if c.applyLocked(ev) {
			emit = append(emit, ev)
		}
	}
	c.recomputeLocked()
	c.mu.Unlock()

	for _, ev := range emit {
		c.events.Emit(ev)
	}
}

// recomputeLocked rederives the session from the reconciled history and
// resyncs the advisory step counter. Caller holds c.mu.
func (c *Channel) recomputeLocked() {
	sess := guidance.Derive(c.rec.View(), c.cfg.Viewer.ID)
	if sess.Active() && !c.session.Active() {
		// New session bracket: the counter restarts at 1.
		c.step = 1
	}
	if sess.CurrentStep > c.step {
		c.step = sess.CurrentStep
	}
	c.session = sess
}
