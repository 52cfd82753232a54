package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/techdesk/realtime/internal/errors"
	"github.com/techdesk/realtime/internal/protocol"
)

var upgrader = websocket.Upgrader{}

// wsBase turns an httptest server URL into a WebSocket origin.
func wsBase(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// newEchoServer accepts one connection at a time and exposes the frames
// the transport writes plus a way to push frames down to it.
type echoServer struct {
	ts       *httptest.Server
	requests chan *http.Request
	conns    chan *websocket.Conn
	received chan []byte
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()
	s := &echoServer{
		requests: make(chan *http.Request, 8),
		conns:    make(chan *websocket.Conn, 8),
		received: make(chan []byte, 8),
	}
	s.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests <- r.Clone(r.Context())
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.received <- data
		}
	}))
	t.Cleanup(s.ts.Close)
	return s
}

func (s *echoServer) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a connection")
		return nil
	}
}

func waitEvent(t *testing.T, ch <-chan protocol.Event) protocol.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
		return protocol.Event{}
	}
}

func TestConnectEmitsOpenAndDialsTicketEndpoint(t *testing.T) {
	srv := newEchoServer(t)
	tr := New(ChannelTicket, Options{BaseURL: wsBase(srv.ts.URL)})
	defer tr.Disconnect()

	opened := make(chan protocol.Event, 1)
	tr.On(protocol.EventOpen, func(ev protocol.Event) { opened <- ev })

	if err := tr.Connect(42, "secret token"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitEvent(t, opened)

	if tr.State() != StateConnected {
		t.Fatalf("expected connected, got %s", tr.State())
	}

	req := <-srv.requests
	if req.URL.Path != "/ws/ticket/42/" {
		t.Fatalf("unexpected path: %s", req.URL.Path)
	}
	if got := req.URL.Query().Get("token"); got != "secret token" {
		t.Fatalf("unexpected token: %q", got)
	}
}

func TestNotificationsEndpoint(t *testing.T) {
	srv := newEchoServer(t)
	tr := New(ChannelNotifications, Options{BaseURL: wsBase(srv.ts.URL)})
	defer tr.Disconnect()

	if err := tr.Connect(0, "tok"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	req := <-srv.requests
	if req.URL.Path != "/ws/notifications/" {
		t.Fatalf("unexpected path: %s", req.URL.Path)
	}
}

func TestConnectIdempotentWhileConnected(t *testing.T) {
	srv := newEchoServer(t)
	tr := New(ChannelTicket, Options{BaseURL: wsBase(srv.ts.URL)})
	defer tr.Disconnect()

	if err := tr.Connect(1, "tok"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := tr.Connect(1, "tok"); err != nil {
		t.Fatalf("second connect failed: %v", err)
	}

	if len(srv.requests) != 1 {
		t.Fatalf("expected a single dial, got %d", len(srv.requests))
	}
}

func TestInboundFramesDispatchInWireOrder(t *testing.T) {
	srv := newEchoServer(t)
	tr := New(ChannelTicket, Options{BaseURL: wsBase(srv.ts.URL)})
	defer tr.Disconnect()

	events := make(chan protocol.Event, 8)
	tr.On(protocol.EventComment, func(ev protocol.Event) { events <- ev })

	if err := tr.Connect(1, "tok"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	conn := srv.conn(t)

	for _, id := range []int64{1, 2, 3} {
		frame := map[string]interface{}{
			"type": "comment",
			"comment": map[string]interface{}{
				"id":               id,
				"auteur":           map[string]interface{}{"id": 7, "nom_complet": "M", "email": "m@x", "role": "technicien"},
				"contenu":          "msg",
				"date_commentaire": "2025-03-10T14:30:00Z",
				"type_action":      "ajout_commentaire",
			},
		}
		if err := conn.WriteJSON(frame); err != nil {
			t.Fatalf("server write failed: %v", err)
		}
	}

	for _, want := range []int64{1, 2, 3} {
		ev := waitEvent(t, events)
		if ev.Comment.ID != want {
			t.Fatalf("expected comment %d, got %d", want, ev.Comment.ID)
		}
	}
}

func TestUnknownAndMalformedFramesAreSkipped(t *testing.T) {
	srv := newEchoServer(t)
	tr := New(ChannelTicket, Options{BaseURL: wsBase(srv.ts.URL)})
	defer tr.Disconnect()

	events := make(chan protocol.Event, 8)
	tr.On(protocol.EventComment, func(ev protocol.Event) { events <- ev })
	tr.On(protocol.EventServerError, func(ev protocol.Event) { events <- ev })

	if err := tr.Connect(1, "tok"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	conn := srv.conn(t)

	writes := []string{
		`{"type": "typing_indicator"}`,
		`not json at all`,
		`{"type": "comment"}`,
		`{"type": "error", "message": "refusé"}`,
	}
	for _, w := range writes {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(w)); err != nil {
			t.Fatalf("server write failed: %v", err)
		}
	}

	// Only the valid error frame survives; the connection stays up.
	ev := waitEvent(t, events)
	if ev.Kind != protocol.EventServerError || ev.Message != "refusé" {
		t.Fatalf("unexpected event: %#v", ev)
	}
	if tr.State() != StateConnected {
		t.Fatalf("bad frames must not drop the connection, state %s", tr.State())
	}
}

func TestSendWritesOneTextFrame(t *testing.T) {
	srv := newEchoServer(t)
	tr := New(ChannelTicket, Options{BaseURL: wsBase(srv.ts.URL)})
	defer tr.Disconnect()

	if err := tr.Connect(1, "tok"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	srv.conn(t)

	if !tr.Send(protocol.NewCommentEnvelope("bonjour")) {
		t.Fatal("send reported failure while connected")
	}

	select {
	case data := <-srv.received:
		var raw map[string]interface{}
		if err := json.Unmarshal(data, &raw); err != nil {
			t.Fatalf("server got unparseable frame: %v", err)
		}
		if raw["type"] != "comment" || raw["message"] != "bonjour" {
			t.Fatalf("unexpected frame: %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestSendWhileDisconnectedReturnsFalse(t *testing.T) {
	tr := New(ChannelTicket, Options{BaseURL: "ws://127.0.0.1:0"})
	if tr.Send(protocol.NewCommentEnvelope("dropped")) {
		t.Fatal("send must fail while disconnected")
	}
}

func TestDialFailureReturnsCodedErrorAndSchedulesRetries(t *testing.T) {
	var dials int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&dials, 1)
		http.Error(w, "no", http.StatusInternalServerError)
	}))
	defer ts.Close()

	tr := New(ChannelTicket, Options{
		BaseURL:              wsBase(ts.URL),
		ReconnectInitial:     2 * time.Millisecond,
		ReconnectMax:         100 * time.Millisecond,
		MaxReconnectAttempts: 5,
	})
	defer tr.Disconnect()

	exhausted := make(chan string, 1)
	tr.On(protocol.EventConnectionError, func(ev protocol.Event) {
		if strings.Contains(ev.Message, "reconnect") {
			select {
			case exhausted <- ev.Message:
			default:
			}
		}
	})

	err := tr.Connect(1, "tok")
	if err == nil {
		t.Fatal("expected dial error")
	}
	if !apperrors.IsCode(err, apperrors.CodeTransportDialFailed) {
		t.Fatalf("expected dial_failed code, got %v", err)
	}

	select {
	case <-exhausted:
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect schedule never exhausted")
	}

	if got := atomic.LoadInt32(&dials); got != 6 {
		t.Fatalf("expected 1 dial + 5 retries, got %d", got)
	}
	if tr.State() != StateDisconnected {
		t.Fatalf("expected disconnected after exhaustion, got %s", tr.State())
	}

	delays := tr.ReconnectDelays()
	if len(delays) != 5 {
		t.Fatalf("expected 5 scheduled delays, got %v", delays)
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] <= delays[i-1] {
			t.Fatalf("expected strictly increasing delays, got %v", delays)
		}
	}
	if delays[0] != 2*time.Millisecond {
		t.Fatalf("expected first delay to match the initial interval, got %v", delays[0])
	}
}

func TestReconnectDelaysRespectCap(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusInternalServerError)
	}))
	defer ts.Close()

	tr := New(ChannelTicket, Options{
		BaseURL:              wsBase(ts.URL),
		ReconnectInitial:     2 * time.Millisecond,
		ReconnectMax:         4 * time.Millisecond,
		MaxReconnectAttempts: 4,
	})
	defer tr.Disconnect()

	done := make(chan struct{}, 1)
	tr.On(protocol.EventConnectionError, func(ev protocol.Event) {
		if strings.Contains(ev.Message, "reconnect") {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})

	tr.Connect(1, "tok")
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect schedule never exhausted")
	}

	for _, d := range tr.ReconnectDelays() {
		if d > 4*time.Millisecond {
			t.Fatalf("delay %v exceeds the cap", d)
		}
	}
}

func TestServerCloseTriggersErrorCloseThenReconnect(t *testing.T) {
	srv := newEchoServer(t)
	tr := New(ChannelTicket, Options{
		BaseURL:              wsBase(srv.ts.URL),
		ReconnectInitial:     5 * time.Millisecond,
		ReconnectMax:         20 * time.Millisecond,
		MaxReconnectAttempts: 5,
	})
	defer tr.Disconnect()

	var seq []protocol.EventKind
	sequenced := make(chan protocol.EventKind, 8)
	for _, k := range []protocol.EventKind{protocol.EventConnectionError, protocol.EventClose, protocol.EventOpen} {
		kind := k
		tr.On(kind, func(protocol.Event) { sequenced <- kind })
	}

	if err := tr.Connect(1, "tok"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	conn := srv.conn(t)

	// open, then the drop sequence, then the reconnect's open.
	for len(seq) < 1 {
		seq = append(seq, waitKind(t, sequenced))
	}
	conn.Close()
	for len(seq) < 4 {
		seq = append(seq, waitKind(t, sequenced))
	}

	want := []protocol.EventKind{
		protocol.EventOpen,
		protocol.EventConnectionError,
		protocol.EventClose,
		protocol.EventOpen,
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("unexpected sequence: %v", seq)
		}
	}

	// Attempt budget resets on success; the schedule history restarts too.
	if tr.State() != StateConnected {
		t.Fatalf("expected reconnected, got %s", tr.State())
	}
}

func waitKind(t *testing.T, ch <-chan protocol.EventKind) protocol.EventKind {
	t.Helper()
	select {
	case k := <-ch:
		return k
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event kind")
		return ""
	}
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	var dials int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&dials, 1)
		http.Error(w, "no", http.StatusInternalServerError)
	}))
	defer ts.Close()

	tr := New(ChannelTicket, Options{
		BaseURL:              wsBase(ts.URL),
		ReconnectInitial:     50 * time.Millisecond,
		ReconnectMax:         time.Second,
		MaxReconnectAttempts: 5,
	})

	tr.Connect(1, "tok")
	tr.Disconnect()

	time.Sleep(200 * time.Millisecond)
	if got := atomic.LoadInt32(&dials); got != 1 {
		t.Fatalf("expected the pending retry to be cancelled, got %d dials", got)
	}
	if tr.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", tr.State())
	}
}

func TestDisconnectDuringInFlightDial(t *testing.T) {
	dialing := make(chan struct{}, 4)
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dialing <- struct{}{}
		<-release
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer ts.Close()

	tr := New(ChannelTicket, Options{BaseURL: wsBase(ts.URL)})

	done := make(chan error, 1)
	go func() { done <- tr.Connect(1, "tok") }()

	select {
	case <-dialing:
	case <-time.After(2 * time.Second):
		t.Fatal("dial never reached the server")
	}

	// Teardown lands while the handshake is still blocked server-side.
	tr.Disconnect()
	close(release)
	<-done

	time.Sleep(100 * time.Millisecond)
	if tr.State() != StateDisconnected {
		t.Fatalf("transport reports %s after Disconnect", tr.State())
	}
	if delays := tr.ReconnectDelays(); len(delays) != 0 {
		t.Fatalf("disconnected transport scheduled reconnects: %v", delays)
	}
}

func TestDisconnectDuringInFlightReconnectDial(t *testing.T) {
	var dials int32
	dialing := make(chan struct{}, 4)
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&dials, 1) == 1 {
			// First dial fails outright; the retry is the one that
			// stalls mid-handshake.
			http.Error(w, "no", http.StatusInternalServerError)
			return
		}
		dialing <- struct{}{}
		<-release
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer ts.Close()

	tr := New(ChannelTicket, Options{
		BaseURL:              wsBase(ts.URL),
		ReconnectInitial:     5 * time.Millisecond,
		ReconnectMax:         20 * time.Millisecond,
		MaxReconnectAttempts: 5,
	})

	tr.Connect(1, "tok")

	select {
	case <-dialing:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect dial never reached the server")
	}

	tr.Disconnect()
	close(release)

	time.Sleep(200 * time.Millisecond)
	if tr.State() != StateDisconnected {
		t.Fatalf("transport reports %s after Disconnect", tr.State())
	}
	if got := atomic.LoadInt32(&dials); got != 2 {
		t.Fatalf("disconnected transport kept dialing: %d dials", got)
	}
}

func TestDisconnectDropsSubscriptions(t *testing.T) {
	srv := newEchoServer(t)
	tr := New(ChannelTicket, Options{BaseURL: wsBase(srv.ts.URL)})

	events := make(chan protocol.Event, 8)
	tr.On(protocol.EventClose, func(ev protocol.Event) { events <- ev })

	if err := tr.Connect(1, "tok"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	srv.conn(t)
	tr.Disconnect()

	select {
	case ev := <-events:
		t.Fatalf("no event should be delivered for a caller-initiated teardown, got %s", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}
