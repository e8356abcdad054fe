// ABOUTME: Interactive terminal client for the plaza messaging API.
// ABOUTME: Conversation list, chat view, and optimistic sends over REST + ws.

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/plazalocal/plaza-chat/internal/api"
	"github.com/plazalocal/plaza-chat/internal/config"
	"github.com/plazalocal/plaza-chat/internal/conversation"
	"github.com/plazalocal/plaza-chat/internal/dedupe"
	"github.com/plazalocal/plaza-chat/internal/message"
	"github.com/plazalocal/plaza-chat/internal/realtime"
	"github.com/plazalocal/plaza-chat/internal/session"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Config file path")
	receiver := flag.String("to", "", "Open a conversation with this user id directly")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging.Level)

	provider, cleanup, err := buildSession(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Set PLAZA_TOKEN or sign in before starting the client.")
		os.Exit(1)
	}
	defer cleanup()

	sess, err := provider.Current()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	apiClient, err := api.New(cfg.API.BaseURL, provider, api.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	channel, err := realtime.Dial(ctx, cfg.Realtime.URL, sess.Token, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: connecting realtime channel: %v\n", err)
		os.Exit(1)
	}
	defer channel.Close()

	fmt.Printf("plaza-chat connected to %s as %s\n", cfg.API.BaseURL, sess.Username)
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	app := &app{
		cfg:      cfg,
		logger:   logger,
		provider: provider,
		api:      apiClient,
		channel:  channel,
		seen:     dedupe.New(0, 0),
	}
	defer app.seen.Close()
	defer app.closeDetail()

	if *receiver != "" {
		if err := app.open(ctx, conversation.OpenRequest{ReceiverID: *receiver}); err != nil {
			fmt.Printf("[error] %v\n", err)
		}
	}

	if err := app.run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nGoodbye!")
}

// buildSession prefers a PLAZA_TOKEN env token (persisting it for next time)
// and falls back to the saved session in the local store.
func buildSession(cfg *config.Config) (session.Provider, func(), error) {
	store, err := session.OpenStore(cfg.Session.DBPath)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { store.Close() }

	if token := os.Getenv("PLAZA_TOKEN"); token != "" {
		sess, err := session.FromToken(token)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		if err := store.Save(context.Background(), sess); err != nil {
			cleanup()
			return nil, nil, err
		}
		return &session.Static{Session: sess}, cleanup, nil
	}

	if _, err := store.Current(); err != nil {
		cleanup()
		return nil, nil, err
	}
	return store, cleanup, nil
}

type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	provider session.Provider
	api      *api.Client
	channel  *realtime.Channel
	seen     *dedupe.Cache

	detail    *conversation.DetailClient
	peerName  string
	summaries []conversation.Summary

	renderMu sync.Mutex
	rendered int
}

func (a *app) run(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		if a.detail != nil {
			fmt.Printf("[%s]> ", a.peerName)
		} else {
			fmt.Print("> ")
		}

		input, err := readLine(ctx, scanner)
		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		switch {
		case input == "/quit" || input == "/exit" || input == "/q":
			return nil
		case input == "/help":
			printHelp()
		case input == "/list":
			a.list(ctx)
		case input == "/close":
			a.closeDetail()
		case strings.HasPrefix(input, "/open"):
			a.openTarget(ctx, strings.TrimSpace(strings.TrimPrefix(input, "/open")))
		case strings.HasPrefix(input, "/"):
			fmt.Printf("Unknown command %q. /help for commands.\n", input)
		default:
			a.send(ctx, input)
		}
		fmt.Println()
	}
}

// readLine reads one line with context awareness so Ctrl+C interrupts the
// prompt instead of waiting for Enter.
func readLine(ctx context.Context, scanner *bufio.Scanner) (string, error) {
	inputCh := make(chan string, 1)
	errCh := make(chan error, 1)

	go func() {
		if scanner.Scan() {
			inputCh <- scanner.Text()
		} else if err := scanner.Err(); err != nil {
			errCh <- err
		} else {
			errCh <- io.EOF
		}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-errCh:
		return "", err
	case line := <-inputCh:
		return line, nil
	}
}

func (a *app) list(ctx context.Context) {
	lister := conversation.NewListClient(a.api, a.provider, nil)
	summaries, err := lister.Load(ctx)
	if err != nil {
		fmt.Printf("[error] %v\n", err)
		return
	}
	a.summaries = summaries

	if len(summaries) == 0 {
		fmt.Println("No conversations yet. /open <user-id> to start one.")
		return
	}
	for i, s := range summaries {
		name := s.DisplayName
		if s.IsStore {
			name = color.GreenString(name)
		}
		fmt.Printf("%2d. %s %s\n", i+1, name, color.HiBlackString(s.LastActivity))
		if s.LastMessage != "" {
			fmt.Printf("      %s\n", color.HiBlackString(truncate(s.LastMessage, 60)))
		}
	}
}

// openTarget accepts either a row number from the last /list or a user id.
func (a *app) openTarget(ctx context.Context, arg string) {
	if arg == "" {
		fmt.Println("Usage: /open <number from /list | user-id>")
		return
	}

	req := conversation.OpenRequest{ReceiverID: arg}
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(a.summaries) {
			fmt.Println("No such row; run /list first.")
			return
		}
		s := a.summaries[n-1]
		req = conversation.OpenRequest{ConversationID: s.ConversationID, ReceiverID: s.OtherID}
		a.peerName = s.DisplayName
	} else {
		a.peerName = arg
	}

	if err := a.open(ctx, req); err != nil {
		fmt.Printf("[error] %v\n", err)
	}
}

func (a *app) open(ctx context.Context, req conversation.OpenRequest) error {
	a.closeDetail()

	d := conversation.NewDetailClient(a.api, a.channel, a.provider, a.seen,
		conversation.WithOnChange(func() { a.render() }))
	if err := d.Open(ctx, req); err != nil {
		return err
	}
	a.renderMu.Lock()
	a.detail = d
	a.rendered = 0
	a.renderMu.Unlock()
	if a.peerName == "" {
		a.peerName = req.ReceiverID
	}
	a.render()
	return nil
}

func (a *app) closeDetail() {
	if a.detail != nil {
		a.detail.Close()
		a.renderMu.Lock()
		a.detail = nil
		a.rendered = 0
		a.renderMu.Unlock()
		a.peerName = ""
	}
}

func (a *app) send(ctx context.Context, text string) {
	if a.detail == nil {
		fmt.Println("No conversation open. /list then /open <n> first.")
		return
	}
	if err := a.detail.Send(ctx, text); err != nil {
		fmt.Printf("[error] %v\n", err)
	}
}

// render prints messages added since the last render. Replacements of
// optimistic placeholders keep their position, so only the tail is new.
// Called from both the prompt and the realtime delivery goroutine.
func (a *app) render() {
	a.renderMu.Lock()
	defer a.renderMu.Unlock()

	if a.detail == nil {
		return
	}
	msgs := a.detail.Messages()
	for ; a.rendered < len(msgs); a.rendered++ {
		printMessage(msgs[a.rendered])
	}
}

func printMessage(m message.Message) {
	sender := color.CyanString(m.SenderName)
	if m.SenderName == "" {
		sender = color.CyanString(m.SenderID)
	}

	text := m.Text
	switch m.State {
	case message.StatePending:
		text = color.HiBlackString(text + " …")
	case message.StateFailed:
		text = color.New(color.FgRed).Sprint(text + " (failed)")
	}
	if m.Kind == message.KindAppointment && m.Appointment != nil {
		text += color.YellowString(" [appointment: %s]", m.Appointment.Status)
	}
	fmt.Printf("%s %s: %s\n", color.HiBlackString(m.CreatedAt.Format("15:04")), sender, text)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /list          Show your conversations")
	fmt.Println("  /open <n|id>   Open a conversation by list row or user id")
	fmt.Println("  /close         Close the current conversation")
	fmt.Println("  /quit          Exit")
	fmt.Println("Anything else is sent as a message to the open conversation.")
}
