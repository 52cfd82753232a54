package channel

import (
	"sync"

	"github.com/techdesk/realtime/internal/bus"
	apperrors "github.com/techdesk/realtime/internal/errors"
	"github.com/techdesk/realtime/internal/protocol"
	"github.com/techdesk/realtime/internal/transport"
)

// Notifier is the process-scoped consumer of the cross-ticket
// notification stream (new_ticket, ticket_updated, ticket_assigned).
// Unlike Channel, exactly one instance exists per authenticated session;
// its lifecycle is tied to login/logout through explicit Start and Stop
// rather than construction.
//
// Multiple UI surfaces read the stream concurrently via Subscribe; only
// the Notifier's own transport mutates it.
type Notifier struct {
	tr *transport.Transport

	mu      sync.Mutex
	started bool
}

// NewNotifier creates a Notifier for the given WebSocket origin. Nothing
// connects until Start.
func NewNotifier(wsBase string, opts transport.Options) *Notifier {
	opts.BaseURL = wsBase
	return &Notifier{
		tr: transport.New(transport.ChannelNotifications, opts),
	}
}

// Start opens the notification stream with the given bearer credential.
// Idempotent while started. Subscriptions must be registered after Start;
// Stop clears them.
func (n *Notifier) Start(token string) error {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return nil
	}
	n.started = true
	n.mu.Unlock()

	if err := n.tr.Connect(0, token); err != nil {
		// The reconnect schedule is already running; report the failed
		// first dial so the caller can decide to surface it.
		return err
	}
	return nil
}

// Stop tears the stream down and drops all subscriptions. Start may be
// called again afterwards (token refresh, re-login).
func (n *Notifier) Stop() {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return
	}
	n.started = false
	n.mu.Unlock()

	n.tr.Disconnect()
}

// Subscribe registers a handler for a notification kind: new_ticket,
// ticket_updated, ticket_assigned, or the connection lifecycle kinds.
// Returns an error when the Notifier is not started, since Stop would
// have dropped the registration invisibly.
func (n *Notifier) Subscribe(kind protocol.EventKind, fn bus.Handler) (*bus.Subscription, error) {
	n.mu.Lock()
	started := n.started
	n.mu.Unlock()

	if !started {
		return nil, apperrors.New(apperrors.CodeTransportClosed, "notifier is not started")
	}
	return n.tr.On(kind, fn), nil
}

// State reports the stream's connection state.
func (n *Notifier) State() transport.State {
	return n.tr.State()
}
