package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lokeshkhabiya/round0/internal/logger"
	"github.com/lokeshkhabiya/round0/internal/mentor"
	"github.com/lokeshkhabiya/round0/internal/models"
)

var (
	apiURL    string
	token     string
	sessionID string
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "mentor-cli",
		Short:        "Chat with the interview mentor from a terminal",
		Long:         "Reads questions from stdin, one per line, and prints the mentor's answer as it streams in.",
		SilenceUsage: true,
		RunE:         runChat,
	}
	root.PersistentFlags().StringVar(&apiURL, "api", envOr("MENTOR_API_URL", "http://localhost:8080"), "backend base URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("MENTOR_TOKEN"), "candidate access token")
	root.Flags().StringVar(&sessionID, "session", "", "continue an existing mentor session")

	root.AddCommand(sessionsCmd, historyCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List your mentor sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := transport()
		if err != nil {
			return err
		}
		rows, err := t.ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		for _, s := range rows {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", s.ID, s.CreatedAt.Format("2006-01-02 15:04"), s.Title)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <session_id>",
	Short: "Print the messages of a mentor session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := transport()
		if err != nil {
			return err
		}
		msgs, err := t.ListMessages(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, m := range msgs {
			status := ""
			if m.Status == models.MessageError {
				status = " (interrupted)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s]%s %s\n\n", m.MessengerRole, status, m.Content)
		}
		return nil
	},
}

func transport() (*mentor.HTTPTransport, error) {
	if token == "" {
		return nil, fmt.Errorf("a candidate token is required (--token or MENTOR_TOKEN)")
	}
	return mentor.NewHTTPTransport(apiURL, token), nil
}

func runChat(cmd *cobra.Command, _ []string) error {
	t, err := transport()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	engine := mentor.NewEngine(t, logger.New())
	if sessionID != "" {
		engine.SelectSession(sessionID)
	}
	defer engine.Cancel()

	p := &printer{w: out, printed: make(map[string]int)}
	engine.OnUpdate = p.update

	lines := bufio.NewScanner(cmd.InOrStdin())
	lines.Buffer(make([]byte, 64<<10), 1<<20)
	fmt.Fprint(out, "> ")
	for lines.Scan() {
		query := strings.TrimSpace(lines.Text())
		if query == "" {
			fmt.Fprint(out, "> ")
			continue
		}

		msg, err := engine.SendAndStream(ctx, query)
		if err != nil {
			fmt.Fprintf(out, "\n! %v\n> ", err)
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		snap, werr := msg.Wait(ctx)
		if werr != nil {
			return nil
		}
		if snap.Err != nil {
			fmt.Fprintf(out, "\n! answer interrupted: %v", snap.Err)
		}
		fmt.Fprint(out, "\n> ")
	}
	return lines.Err()
}

// printer writes only the part of each message it has not printed yet.
type printer struct {
	w       io.Writer
	mu      sync.Mutex
	printed map[string]int
}

func (p *printer) update(s mentor.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.printed[s.ID]
	if len(s.Content) > n {
		fmt.Fprint(p.w, s.Content[n:])
		p.printed[s.ID] = len(s.Content)
	}
	if s.Status.Frozen() {
		delete(p.printed, s.ID)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
