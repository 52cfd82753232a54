package main

import (
	"testing"

	"github.com/techdesk/realtime/internal/channel"
)

// parse-only paths: none of these reach the network.
func TestHandleLineQuit(t *testing.T) {
	ch := channel.New(1, channel.Config{})
	defer ch.Close()

	if handleLine(ch, "/quit") {
		t.Fatal("/quit must signal exit")
	}
	if handleLine(ch, "  /quit  ") {
		t.Fatal("/quit must signal exit after trimming")
	}
}

func TestHandleLineEmpty(t *testing.T) {
	ch := channel.New(1, channel.Config{})
	defer ch.Close()

	if !handleLine(ch, "") {
		t.Fatal("empty line must not exit")
	}
	if !handleLine(ch, "   ") {
		t.Fatal("blank line must not exit")
	}
}

func TestHandleLineConfirmBadID(t *testing.T) {
	ch := channel.New(1, channel.Config{})
	defer ch.Close()

	if !handleLine(ch, "/confirm notanumber") {
		t.Fatal("bad confirm id must not exit")
	}
	if !handleLine(ch, "/confirmrest") {
		t.Fatal("missing confirm id must not exit")
	}
}
