// Package transport owns the physical duplex connection to the helpdesk
// realtime endpoints. It manages connect, reconnect with bounded
// exponential backoff, and teardown; parses inbound frames into typed
// events; and provides a best-effort, never-queued send.
//
// One Transport instance serves one (ticket, credential) pair, or the
// process-wide notification stream when built with ChannelNotifications.
// The two streams used to be near-duplicate implementations; they differ
// only in their endpoint path and inbound kinds, so a single type
// parameterized by ChannelKind covers both.
//
// No business logic lives here: everything read off the wire is forwarded
// through the event bus, and whether a message may be sent is decided by
// callers.
package transport

import (
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/techdesk/realtime/internal/bus"
	apperrors "github.com/techdesk/realtime/internal/errors"
	"github.com/techdesk/realtime/internal/protocol"
)

// ChannelKind selects which realtime endpoint a Transport serves.
type ChannelKind string

const (
	// ChannelTicket is the per-ticket guidance channel:
	// /ws/ticket/{id}/?token=...
	ChannelTicket ChannelKind = "ticket"

	// ChannelNotifications is the cross-ticket notification stream:
	// /ws/notifications/?token=...
	ChannelNotifications ChannelKind = "notifications"
)

// State is the connection state of a Transport.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateErrored      State = "errored"
)

// Default reconnection tuning: 1s base delay doubling per attempt up to a
// 30s cap, at most 5 attempts before requiring an explicit Connect.
const (
	DefaultReconnectInitial     = 1 * time.Second
	DefaultReconnectMax         = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultWriteTimeout         = 10 * time.Second
)

// Options configures a Transport. The zero value of each field falls back
// to the package default.
type Options struct {
	// BaseURL is the WebSocket origin, e.g. "ws://helpdesk.local:8000".
	// Endpoint paths are appended per ChannelKind.
	BaseURL string

	// Dialer performs the WebSocket handshake. Defaults to
	// websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// ReconnectInitial is the first reconnect delay.
	ReconnectInitial time.Duration

	// ReconnectMax caps the exponential backoff.
	ReconnectMax time.Duration

	// MaxReconnectAttempts bounds automatic reconnection. Once exhausted
	// the transport stays Disconnected until Connect is called again.
	MaxReconnectAttempts int

	// WriteTimeout bounds each outbound write.
	WriteTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.ReconnectInitial <= 0 {
		o.ReconnectInitial = DefaultReconnectInitial
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = DefaultReconnectMax
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
}

// Transport maintains one live duplex connection and dispatches its
// inbound frames as typed events.
type Transport struct {
	kind ChannelKind
	opts Options
	bus  *bus.Bus

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	gen            int // bumped on Disconnect, explicit Connect and each install; stale dials, timers and read loops check it and stand down
	ticketID       int64
	token          string
	attempts       int
	backoff        *backoff.ExponentialBackOff
	reconnectTimer *time.Timer
	delays         []time.Duration
}

// New creates a Transport for the given channel kind. No connection is
// opened until Connect.
func New(kind ChannelKind, opts Options) *Transport {
	opts.applyDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.ReconnectInitial
	b.MaxInterval = opts.ReconnectMax
	b.Multiplier = 2
	// Deterministic schedule: each delay doubles the previous one exactly.
	b.RandomizationFactor = 0
	// The attempt counter bounds retries, not elapsed time.
	b.MaxElapsedTime = 0
	b.Reset()

	return &Transport{
		kind:    kind,
		opts:    opts,
		bus:     bus.New(),
		state:   StateDisconnected,
		backoff: b,
	}
}

// Kind returns the channel kind this transport serves.
func (t *Transport) Kind() ChannelKind { return t.kind }

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ReconnectDelays returns the delays of the reconnect attempts scheduled
// since the last explicit Connect. Diagnostic surface; the schedule
// itself is internal.
func (t *Transport) ReconnectDelays() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]time.Duration, len(t.delays))
	copy(out, t.delays)
	return out
}

// On registers a handler on the transport's event bus. The subscription
// is dropped, along with all others, by Disconnect; re-registering on the
// next Connect is the caller's responsibility.
func (t *Transport) On(kind protocol.EventKind, fn bus.Handler) *bus.Subscription {
	return t.bus.On(kind, fn)
}

// Connect opens the connection for the given ticket and bearer credential.
// Idempotent: a no-op when already connected. The credential rides as a
// query parameter because the WebSocket handshake offers the client no
// header channel in this environment.
//
// A failed dial returns an error and also starts the automatic reconnect
// schedule, mirroring an unexpected close. Calling Connect explicitly
// resets the attempt budget.
//
// For ChannelNotifications transports, ticketID is ignored.
func (t *Transport) Connect(ticketID int64, token string) error {
	t.mu.Lock()
	if t.state == StateConnected {
		t.mu.Unlock()
		log.Printf("WebSocket already connected (%s)", t.kind)
		return nil
	}
	t.stopReconnectLocked()
	t.gen++ // orphan any dial still in flight from the previous schedule
	t.ticketID = ticketID
	t.token = token
	t.attempts = 0
	t.delays = nil
	t.backoff.Reset()
	t.mu.Unlock()

	return t.dial()
}

// Disconnect cancels any pending reconnect, closes the connection, and
// clears all event registrations. The transport ends up Disconnected; no
// close event is delivered because the listener register is already empty,
// matching the contract that listener cleanup is redone on next Connect.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.stopReconnectLocked()
	conn := t.conn
	t.conn = nil
	t.state = StateDisconnected
	t.gen++ // orphan the read loop and any in-flight dial so they exit without side effects
	t.mu.Unlock()

	if conn != nil {
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}

	t.bus.Reset()
	log.Printf("WebSocket disconnected (%s)", t.kind)
}

// Send marshals the payload and writes it as one text frame. It reports
// success synchronously and succeeds only while Connected; there is no
// outbound queue, so a false return means the message was not and will
// not be sent.
func (t *Transport) Send(payload any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateConnected || t.conn == nil {
		log.Printf("WebSocket not connected, dropping outbound message (%s)", t.kind)
		return false
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to marshal outbound message: %v", err)
		return false
	}

	t.conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("Write error (%s): %v", t.kind, err)
		return false
	}
	return true
}

// endpoint builds the connection URL for the configured kind.
func (t *Transport) endpoint() string {
	var path string
	switch t.kind {
	case ChannelNotifications:
		path = "/ws/notifications/"
	default:
		path = "/ws/ticket/" + strconv.FormatInt(t.ticketID, 10) + "/"
	}
	return t.opts.BaseURL + path + "?token=" + url.QueryEscape(t.token)
}

// dial attempts the handshake once, emitting open on success or routing a
// failure through the error/close/reconnect sequence.
//
// The handshake runs outside the mutex, so a Disconnect (or explicit
// Connect) can land while it is in flight. The generation captured on
// entry is re-checked before the result is acted on: a stale success is
// closed and discarded instead of installing a connection the caller
// already tore down.
func (t *Transport) dial() error {
	t.mu.Lock()
	if t.state == StateConnected {
		t.mu.Unlock()
		return nil
	}
	t.state = StateConnecting
	gen := t.gen
	endpoint := t.endpoint()
	t.mu.Unlock()

	conn, _, err := t.opts.Dialer.Dial(endpoint, nil)

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return nil
	}
	if err != nil {
		t.mu.Unlock()
		t.connectionLost(gen, err.Error())
		return apperrors.DialFailed(endpoint, err)
	}
	t.conn = conn
	t.gen++
	gen = t.gen
	t.state = StateConnected
	t.attempts = 0
	t.backoff.Reset()
	t.mu.Unlock()

	log.Printf("WebSocket connected (%s)", t.kind)
	t.bus.Emit(protocol.Event{Kind: protocol.EventOpen})

	go t.readLoop(conn, gen)
	return nil
}

// readLoop reads frames until the connection fails, dispatching each
// decoded event synchronously. All consumer handlers therefore observe
// events in wire order, on this goroutine.
func (t *Transport) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// connectionLost stands down if the generation moved: a
			// caller-initiated teardown or a newer connection owns the
			// state and there is nothing to report.
			t.connectionLost(gen, closeReason(err))
			return
		}

		ev, err := protocol.DecodeInbound(data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownKind) {
				log.Printf("Ignoring message (%s): %v", t.kind, err)
			} else {
				log.Printf("Dropping malformed message (%s): %v", t.kind, err)
			}
			continue
		}
		t.bus.Emit(ev)
	}
}

// connectionLost runs the unexpected-failure sequence: Errored, error
// event, Disconnected, close event, then the reconnect schedule. The
// whole sequence is generation-guarded: a teardown that landed after the
// failure makes it a no-op.
func (t *Transport) connectionLost(gen int, reason string) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.state = StateErrored
	t.mu.Unlock()

	log.Printf("WebSocket connection lost (%s): %s", t.kind, reason)
	t.bus.Emit(protocol.Event{Kind: protocol.EventConnectionError, Message: reason})

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.state = StateDisconnected
	t.mu.Unlock()
	t.bus.Emit(protocol.Event{Kind: protocol.EventClose, Message: reason})

	t.scheduleReconnect(gen)
}

// scheduleReconnect arms the next backoff-delayed attempt, or gives up
// once the attempt budget is spent. The generation is pinned into the
// armed timer: Disconnect cancels a pending timer, and a timer that
// already fired stands down against the moved generation instead of
// dialing for a torn-down schedule.
func (t *Transport) scheduleReconnect(gen int) {
	t.mu.Lock()
	if gen != t.gen || t.reconnectTimer != nil {
		t.mu.Unlock()
		return
	}
	if t.attempts >= t.opts.MaxReconnectAttempts {
		attempts := t.attempts
		t.mu.Unlock()
		err := apperrors.ReconnectExhausted(attempts)
		log.Printf("WebSocket reconnect exhausted (%s): %v", t.kind, err)
		t.bus.Emit(protocol.Event{Kind: protocol.EventConnectionError, Message: err.Message})
		return
	}
	t.attempts++
	attempt := t.attempts
	delay := t.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = t.opts.ReconnectMax
	}
	t.delays = append(t.delays, delay)
	log.Printf("Reconnect attempt %d/%d in %s (%s)", attempt, t.opts.MaxReconnectAttempts, delay, t.kind)
	t.reconnectTimer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		t.reconnectTimer = nil
		stale := gen != t.gen
		t.mu.Unlock()
		if stale {
			return
		}
		t.dial() // a failed dial schedules the next attempt itself
	})
	t.mu.Unlock()
}

func (t *Transport) stopReconnectLocked() {
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
}

// closeReason extracts a readable reason from a read error.
func closeReason(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Text != "" {
			return ce.Text
		}
		return "close " + strconv.Itoa(ce.Code)
	}
	return err.Error()
}
