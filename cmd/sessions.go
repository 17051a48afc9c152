package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Vovarama1992/relay-ai-bridge/internal/relay"
	"github.com/Vovarama1992/relay-ai-bridge/internal/store"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	userStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	botStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and clear stored conversations",
	Long: `Query the configured conversation store.

Subcommands:
  list          - List live sessions
  show <id>     - Show one session's history
  clear <id>    - Delete one session
  count         - Count live sessions`,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session's history",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear <session-id>",
	Short: "Delete one session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsClear,
}

var sessionsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count live sessions",
	RunE:  runSessionsCount,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsClearCmd, sessionsCountCmd)
}

// withSessions opens the store and hands a query-only service to fn. The
// backend is never called on this path.
func withSessions(cmd *cobra.Command, fn func(relay.Service) error) error {
	st, err := store.Open(cmd.Context(), storeConfig(cfg), logger.Named("store"))
	if err != nil {
		return err
	}
	defer st.Close()

	policy, err := relay.NewPolicy(relay.PolicyOptions{})
	if err != nil {
		return err
	}
	return fn(relay.NewService(st, nil, policy, relay.Options{Logger: logger}))
}

func runSessionsList(cmd *cobra.Command, _ []string) error {
	return withSessions(cmd, func(svc relay.Service) error {
		ids, err := svc.ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		summaries := make([]relay.SessionSummary, 0, len(ids))
		for _, id := range ids {
			summaries = append(summaries, svc.SessionSummary(cmd.Context(), id))
		}
		renderSessionList(cmd.OutOrStdout(), summaries)
		return nil
	})
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	return withSessions(cmd, func(svc relay.Service) error {
		sum := svc.SessionSummary(cmd.Context(), args[0])
		if sum.Error != "" {
			return fmt.Errorf("session %s: %s", args[0], sum.Error)
		}
		if !sum.Exists {
			return fmt.Errorf("session %q not found; use 'relay sessions list' to see live sessions", args[0])
		}
		renderSession(cmd.OutOrStdout(), sum)
		return nil
	})
}

func runSessionsClear(cmd *cobra.Command, args []string) error {
	return withSessions(cmd, func(svc relay.Service) error {
		existed, err := svc.ClearSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !existed {
			return fmt.Errorf("session %q not found", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s cleared.\n", args[0])
		return nil
	})
}

func runSessionsCount(cmd *cobra.Command, _ []string) error {
	return withSessions(cmd, func(svc relay.Service) error {
		ids, err := svc.ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), len(ids))
		return nil
	})
}

func renderSessionList(w io.Writer, summaries []relay.SessionSummary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No live sessions.")
		return
	}
	fmt.Fprintln(w, titleStyle.Render("Live sessions"))
	fmt.Fprintln(w, strings.Repeat("─", 60))
	for i, s := range summaries {
		fmt.Fprintf(w, "  %d. %s  %s\n", i+1, s.SessionID,
			labelStyle.Render(fmt.Sprintf("%d msgs, expires in %s", s.MessageCount, time.Duration(s.TTLSeconds)*time.Second)))
	}
	fmt.Fprintln(w, strings.Repeat("─", 60))
	fmt.Fprintf(w, "Total: %d sessions\n", len(summaries))
}

func renderSession(w io.Writer, s relay.SessionSummary) {
	header := []string{
		titleStyle.Render(s.SessionID),
		labelStyle.Render(fmt.Sprintf("messages: %d (user %d, assistant %d)", s.MessageCount, s.UserMessages, s.AssistantMessages)),
		labelStyle.Render("platforms: " + strings.Join(s.Platforms, ", ")),
		labelStyle.Render(fmt.Sprintf("expires in: %s", time.Duration(s.TTLSeconds)*time.Second)),
	}
	if s.LastActivity != nil {
		header = append(header, labelStyle.Render("last activity: "+s.LastActivity.Format(time.RFC3339)))
	}

	lines := make([]string, 0, len(s.Turns))
	for _, t := range s.Turns {
		style := botStyle
		if t.Role == relay.RoleUser {
			style = userStyle
		}
		lines = append(lines, style.Render(string(t.Role)+":")+" "+t.Content)
	}

	fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left,
		boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header...)),
		strings.Join(lines, "\n"),
	))
}
