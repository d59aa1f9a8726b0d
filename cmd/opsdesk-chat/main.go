// ABOUTME: Terminal client for the opsdesk support chat
// ABOUTME: Keeps a live timeline over the SSE stream and sends lines typed on stdin

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/errgroup"

	"github.com/2389/opsdesk/internal/chatclient"
	"github.com/2389/opsdesk/internal/store"
)

func main() {
	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "help" || args[0] == "-h" || args[0] == "--help") {
		printUsage()
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, args); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	yellow := color.New(color.FgYellow)

	fmt.Println("Usage: opsdesk-chat [user-id]")
	fmt.Println()
	fmt.Println("Users chat in their own room. Admins pass the id of the user to talk to.")
	fmt.Println()
	yellow.Println("Commands (admin):")
	fmt.Println("  /delete <id>    Delete one message")
	fmt.Println("  /clear          Delete every message in the room")
	fmt.Println("  /threads        List rooms with unread counts")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  /seen           Mark the other side's messages as seen")
	fmt.Println("  /history        Redraw the conversation")
	fmt.Println("  /quit           Exit (or Ctrl+D)")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  OPSDESK_URL      Gateway base URL (default: http://localhost:8080)")
	fmt.Println("  OPSDESK_TOKEN    Bearer token (default: ~/.config/opsdesk/token)")
	fmt.Println()
}

func getBaseURL() string {
	if u := os.Getenv("OPSDESK_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func getToken() string {
	if token := os.Getenv("OPSDESK_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	data, err := os.ReadFile(filepath.Join(configDir, "opsdesk", "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// tokenRole reads the role claim without verifying the signature; the
// gateway does the verification.
func tokenRole(token string) (store.Role, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}
	role, _ := claims["role"].(string)
	if !store.Role(role).Valid() {
		return "", fmt.Errorf("token has no valid role claim")
	}
	return store.Role(role), nil
}

func run(ctx context.Context, args []string) error {
	token := getToken()
	if token == "" {
		return errors.New("OPSDESK_TOKEN is required")
	}
	role, err := tokenRole(token)
	if err != nil {
		return err
	}

	var userID int64
	if role == store.RoleAdmin {
		if len(args) < 1 {
			return errors.New("usage: opsdesk-chat <user-id>")
		}
		userID, err = strconv.ParseInt(args[0], 10, 64)
		if err != nil || userID <= 0 {
			return fmt.Errorf("invalid user id %q", args[0])
		}
	}

	// Logs would interleave with the conversation; keep errors only
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	client := chatclient.New(getBaseURL(), token)
	view := newView(os.Stdout, role)

	session, err := chatclient.NewSession(chatclient.SessionConfig{
		Client:   client,
		Role:     role,
		UserID:   userID,
		Logger:   logger,
		OnChange: view.update,
		OnStatus: view.status,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return session.Run(ctx)
	})
	g.Go(func() error {
		defer cancel()
		return readInput(ctx, os.Stdin, func(line string) bool {
			return handleLine(ctx, client, session, view, userID, role, line)
		})
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// readInput feeds stdin lines to handle until EOF, ctx ends, or handle
// returns false.
func readInput(ctx context.Context, r io.Reader, handle func(string) bool) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), 64*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !handle(line) {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, client *chatclient.Client, session *chatclient.Session, view *view, userID int64, role store.Role, line string) bool {
	if !strings.HasPrefix(line, "/") {
		// The timeline shows the failure; nothing else to do here
		_, _ = session.Send(ctx, line)
		return true
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	var err error
	switch cmd {
	case "quit", "exit":
		return false
	case "history":
		view.redraw(session.Timeline().Entries())
	case "seen":
		var n int64
		n, err = client.Seen(ctx, userID)
		if err == nil {
			view.notice("%d message(s) marked seen", n)
		}
	case "delete":
		if role != store.RoleAdmin {
			err = errors.New("only admins can delete messages")
			break
		}
		var id int64
		id, err = strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil {
			err = fmt.Errorf("usage: /delete <id>")
			break
		}
		err = client.Delete(ctx, id)
	case "clear":
		if role != store.RoleAdmin {
			err = errors.New("only admins can clear a conversation")
			break
		}
		var n int64
		n, err = client.Clear(ctx, userID)
		if err == nil {
			view.notice("%d message(s) removed", n)
		}
	case "threads":
		var threads []*store.Thread
		threads, err = client.Threads(ctx, 0)
		if err == nil {
			view.threads(threads)
		}
	default:
		err = fmt.Errorf("unknown command /%s", cmd)
	}

	if err != nil {
		view.notice("error: %v", err)
	}
	return true
}

// view prints timeline changes incrementally.
type view struct {
	mu      sync.Mutex
	out     io.Writer
	self    store.Role
	printed map[string]chatclient.EntryState
}

func newView(out io.Writer, self store.Role) *view {
	return &view{out: out, self: self, printed: make(map[string]chatclient.EntryState)}
}

func entryKey(e chatclient.Entry) string {
	if id := e.ID(); id > 0 {
		return "m" + strconv.FormatInt(id, 10)
	}
	return "c" + e.CorrelationID
}

// update prints entries that are new or whose state changed.
func (v *view) update(entries []chatclient.Entry) {
	v.mu.Lock()
	defer v.mu.Unlock()

	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		key := entryKey(e)
		present[key] = true
		// A confirmed send shows up under its id; don't repeat the line
		if e.CorrelationID != "" {
			if st, ok := v.printed["c"+e.CorrelationID]; ok && st == chatclient.EntryPending && e.State == chatclient.EntryConfirmed {
				delete(v.printed, "c"+e.CorrelationID)
				v.printed[key] = e.State
				continue
			}
		}
		if st, ok := v.printed[key]; ok && st == e.State {
			continue
		}
		v.printed[key] = e.State
		v.printEntry(e)
	}

	for key := range v.printed {
		if !present[key] {
			delete(v.printed, key)
			if strings.HasPrefix(key, "m") {
				color.New(color.Faint).Fprintf(v.out, "  [message %s removed]\n", key[1:])
			}
		}
	}
}

func (v *view) redraw(entries []chatclient.Entry) {
	v.mu.Lock()
	clear(v.printed)
	v.mu.Unlock()
	fmt.Fprintln(v.out)
	v.update(entries)
}

func (v *view) printEntry(e chatclient.Entry) {
	who := "support"
	if e.Role == v.self {
		who = "you"
	} else if e.Role == store.RoleUser {
		who = "user"
	}

	label := color.New(color.FgCyan)
	if e.Role == v.self {
		label = color.New(color.FgGreen)
	}

	switch e.State {
	case chatclient.EntryPending:
		color.New(color.Faint).Fprintf(v.out, "  %s: %s (sending)\n", who, e.Content)
	case chatclient.EntryFailed:
		color.New(color.FgRed).Fprintf(v.out, "  %s: %s (not sent: %v)\n", who, e.Content, e.Err)
	default:
		label.Fprintf(v.out, "  %s", who)
		fmt.Fprintf(v.out, " #%d %s: %s\n", e.ID(), e.Message.CreatedAt.Local().Format("15:04"), e.Content)
	}
}

func (v *view) status(st chatclient.Status) {
	switch st {
	case chatclient.StatusLive:
		color.New(color.FgGreen).Fprintln(v.out, "  ● connected")
	case chatclient.StatusReconnecting:
		color.New(color.FgYellow).Fprintln(v.out, "  ○ reconnecting…")
	}
}

func (v *view) notice(format string, a ...any) {
	color.New(color.FgHiBlack).Fprintf(v.out, "  "+format+"\n", a...)
}

func (v *view) threads(threads []*store.Thread) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(threads) == 0 {
		fmt.Fprintln(v.out, "  no conversations")
		return
	}
	w := tabwriter.NewWriter(v.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  USER\tLAST ACTIVITY\tUNREAD")
	for _, t := range threads {
		fmt.Fprintf(w, "  %d\t%s\t%d\n", t.UserID, t.LastTime.Local().Format("Jan 02 15:04"), t.Unread)
	}
	w.Flush()
}
