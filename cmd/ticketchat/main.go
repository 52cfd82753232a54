// Command ticketchat is a terminal client for the helpdesk realtime
// guidance channel. It is the in-repo stand-in for the product's UI
// surfaces: it opens one ticket's channel, prints the conversation and
// live events, and drives the guidance protocol with slash commands.
//
// Usage:
//
//	ticketchat --ticket 42 --token JWT [--role technicien]
//	ticketchat --notifications --token JWT
//
// Commands while running:
//
//	/start            start a guidance session (technician)
//	/end [message]    end the session (technician)
//	/instruction TEXT send a numbered instruction (technician)
//	/confirm ID       confirm an instruction over the realtime channel
//	/confirmrest ID   confirm an instruction over REST
//	/reload           re-fetch the comment snapshot
//	/quit             exit
//
// Any other input line is sent as a plain chat message.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/techdesk/realtime/internal/channel"
	"github.com/techdesk/realtime/internal/config"
	apperrors "github.com/techdesk/realtime/internal/errors"
	"github.com/techdesk/realtime/internal/protocol"
	"github.com/techdesk/realtime/internal/transport"
)

func main() {
	var (
		configPath    = flag.String("config", "", "path to config file (default ~/.ticketchat/config.toml)")
		ticketID      = flag.Int64("ticket", 0, "ticket id to open")
		token         = flag.String("token", "", "bearer token")
		apiBase       = flag.String("api", "", "REST origin (overrides config)")
		wsBase        = flag.String("ws", "", "WebSocket origin (overrides config)")
		role          = flag.String("role", "", "viewer role: employe, technicien, admin")
		userID        = flag.Int64("user", 0, "viewer user id")
		notifications = flag.Bool("notifications", false, "follow the cross-ticket notification stream instead of a ticket")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags take precedence over file values.
	if *token != "" {
		cfg.Token = *token
	}
	if *apiBase != "" {
		cfg.APIBase = *apiBase
	}
	if *wsBase != "" {
		cfg.WSBase = *wsBase
	}
	if *role != "" {
		cfg.Role = *role
	}
	if *userID != 0 {
		cfg.UserID = *userID
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Token == "" {
		fmt.Fprintln(os.Stderr, "A bearer token is required (--token or config file)")
		os.Exit(1)
	}

	if *notifications {
		runNotifications(cfg)
		return
	}

	if *ticketID == 0 {
		fmt.Fprintln(os.Stderr, "A ticket id is required (--ticket)")
		os.Exit(1)
	}
	runTicket(cfg, *ticketID)
}

func runTicket(cfg *config.Config, ticketID int64) {
	ch := channel.New(ticketID, channel.Config{
		APIBase: cfg.APIBase,
		WSBase:  cfg.WSBase,
		Token:   cfg.Token,
		Viewer: protocol.Author{
			ID:       cfg.UserID,
			FullName: cfg.Name,
			Role:     protocol.Role(cfg.Role),
		},
		Transport: transport.Options{
			MaxReconnectAttempts: cfg.ReconnectMaxAttempts,
		},
	})
	defer ch.Close()

	ch.Subscribe(protocol.EventComment, func(ev protocol.Event) {
		printComment(ev.Comment)
	})
	ch.Subscribe(protocol.EventInstructionUpdated, func(ev protocol.Event) {
		fmt.Printf("-- instruction %d updated: confirmed=%v\n", ev.Comment.ID, ev.Comment.Confirmed)
	})
	ch.Subscribe(protocol.EventTicketUpdated, func(ev protocol.Event) {
		fmt.Printf("-- ticket updated: #%d %s [%s]\n", ev.Ticket.ID, ev.Ticket.Title, ev.Ticket.Status)
	})
	ch.Subscribe(protocol.EventServerError, func(ev protocol.Event) {
		fmt.Printf("!! server: %s\n", ev.Message)
	})
	ch.Subscribe(protocol.EventOpen, func(protocol.Event) {
		fmt.Println("-- realtime connected")
	})
	ch.Subscribe(protocol.EventClose, func(protocol.Event) {
		fmt.Println("-- realtime disconnected")
	})
	ch.Subscribe(protocol.EventConnectionError, func(ev protocol.Event) {
		fmt.Printf("-- realtime: %s\n", ev.Message)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := ch.Open(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open channel: %v\n", err)
		os.Exit(1)
	}

	for _, c := range ch.Comments() {
		printComment(&c)
	}
	printSession(ch)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-interrupt:
			fmt.Println("Interrupted")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handleLine(ch, line) {
				return
			}
		}
	}
}

// handleLine dispatches one input line. Returns false to exit.
func handleLine(ch *channel.Channel, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit":
		return false

	case "/start":
		if err := ch.StartGuidance(ctx); err != nil {
			fmt.Printf("!! %s\n", apperrors.GetMessage(err))
		}

	case "/end":
		if err := ch.EndGuidance(ctx, rest, true); err != nil {
			fmt.Printf("!! %s\n", apperrors.GetMessage(err))
		}

	case "/instruction":
		if _, err := ch.SendInstruction(rest); err != nil {
			fmt.Printf("!! %s\n", apperrors.GetMessage(err))
		}

	case "/confirm", "/confirmrest":
		id, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
		if err != nil {
			fmt.Println("!! usage: /confirm <comment id>")
			return true
		}
		via := channel.ConfirmRealtime
		if cmd == "/confirmrest" {
			via = channel.ConfirmREST
		}
		if _, err := ch.ConfirmInstruction(ctx, id, "", via); err != nil {
			fmt.Printf("!! %s\n", apperrors.GetMessage(err))
		}

	case "/reload":
		if err := ch.Reload(ctx); err != nil {
			fmt.Printf("!! %s\n", apperrors.GetMessage(err))
			return true
		}
		for _, c := range ch.Comments() {
			printComment(&c)
		}
		printSession(ch)

	default:
		if _, err := ch.SendPlain(line); err != nil {
			fmt.Printf("!! %s\n", apperrors.GetMessage(err))
		}
	}
	return true
}

func runNotifications(cfg *config.Config) {
	n := channel.NewNotifier(cfg.WSBase, transport.Options{
		MaxReconnectAttempts: cfg.ReconnectMaxAttempts,
	})
	defer n.Stop()

	if err := n.Start(cfg.Token); err != nil {
		fmt.Fprintf(os.Stderr, "Notification stream connect failed, retrying: %v\n", err)
	}

	for _, kind := range []protocol.EventKind{
		protocol.EventNewTicket,
		protocol.EventTicketUpdated,
		protocol.EventTicketAssigned,
	} {
		k := kind
		if _, err := n.Subscribe(k, func(ev protocol.Event) {
			fmt.Printf("[%s] #%d %s [%s]\n", k, ev.Ticket.ID, ev.Ticket.Title, ev.Ticket.Status)
		}); err != nil {
			fmt.Fprintf(os.Stderr, "Subscribe failed: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Println("Following notifications... Ctrl-C to exit")
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	<-interrupt
	fmt.Println("Interrupted")
}

func printComment(c *protocol.Comment) {
	ts := c.CreatedAt.Local().Format("15:04")
	tag := ""
	switch {
	case c.Action == protocol.ActionGuidanceStart:
		tag = " [guidance started]"
	case c.Action == protocol.ActionGuidanceEnd:
		tag = " [guidance ended]"
	case c.IsInstruction && c.StepNumber > 0:
		tag = fmt.Sprintf(" [step %d]", c.StepNumber)
		if c.Confirmed {
			tag += " [confirmed]"
		} else if c.RequiresConfirmation {
			tag += " [awaiting confirmation]"
		}
	case c.Action == protocol.ActionStepConfirmation:
		tag = " [confirmation]"
	}
	fmt.Printf("%s <%s>%s %s\n", ts, c.Author.FullName, tag, c.Content)

	for _, r := range c.Replies {
		fmt.Printf("        <%s> %s\n", r.Author.FullName, r.Content)
	}
}

func printSession(ch *channel.Channel) {
	s := ch.Session()
	if s.Active() {
		fmt.Printf("-- guidance session active (next step %d", s.CurrentStep)
		if s.PendingConfirmation {
			fmt.Printf(", confirmation pending on %d", s.PendingInstructionID)
		}
		fmt.Println(")")
	}
}
