package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kingrea/alia-console/internal/api"
	"github.com/kingrea/alia-console/internal/logging"
	"github.com/kingrea/alia-console/internal/mockapi"
	"github.com/kingrea/alia-console/internal/report"
)

// backendClient builds a client for one-shot commands. Diagnostics go to
// stderr only when ALIA_DEBUG is set.
func backendClient(opts *globalOptions) (*api.Client, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	var logger api.Logger
	if os.Getenv("ALIA_DEBUG") != "" {
		logger = logging.NewWriter(os.Stderr)
	}
	return newClient(cfg, logger), nil
}

func bugsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "bugs",
		Aliases: []string{"bug"},
		Short:   "List and register fixed bugs",
	}
	cmd.AddCommand(bugsListCmd(opts), bugsCreateCmd(opts))
	return cmd
}

func bugsListCmd(opts *globalOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bugs awaiting verification",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := backendClient(opts)
			if err != nil {
				return err
			}
			out, err := client.ListBugs(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			shown := 0
			for _, b := range out.Bugs {
				pending := api.PendingVerification(b)
				if !all && !pending {
					continue
				}
				shown++
				marker := color.HiBlackString("·")
				if pending {
					marker = color.YellowString("●")
				}
				session := b.SessionStatus
				if session == "" {
					session = "none"
				}
				fmt.Fprintf(w, "%s %s %s %s\n", marker, color.CyanString("%-4s", b.Severity), b.Title, color.HiBlackString("(%s)", b.BugKey))
				fmt.Fprintf(w, "    status %s · fixed %s · session %s\n", b.Status, orDash(b.CompletedDate), session)
			}
			if shown == 0 {
				fmt.Fprintln(w, "No bugs awaiting verification.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include bugs that are not pending")
	return cmd
}

func bugsCreateCmd(opts *globalOptions) *cobra.Command {
	var (
		id, title, severity, date string
		assignee                  int
		startSession              bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a fixed bug",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(title) == "" {
				return fmt.Errorf("--title is required")
			}
			if date == "" {
				date = time.Now().Format("2006-01-02")
			}
			req := api.CreateBugRequest{
				BugID:         strings.TrimSpace(id),
				Title:         strings.TrimSpace(title),
				Severity:      strings.ToUpper(strings.TrimSpace(severity)),
				Status:        "completed",
				CompletedDate: &date,
			}
			if assignee > 0 {
				req.AssigneeID = &assignee
			}
			client, err := backendClient(opts)
			if err != nil {
				return err
			}
			bug, err := client.CreateBug(cmd.Context(), req)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s bug %s created\n", color.GreenString("✓"), bug.BugKey)
			if !startSession {
				return nil
			}
			sess, err := client.CreateSession(cmd.Context(), api.CreateSessionRequest{BugKey: bug.BugKey})
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s session %s started with %d conversations\n", color.GreenString("✓"), sess.SessionKey, len(sess.Conversations))
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "BUG-5001", "bug identifier")
	cmd.Flags().StringVar(&title, "title", "", "short description of the fix")
	cmd.Flags().StringVar(&severity, "severity", "P1", "P0, P1, P2 or P3")
	cmd.Flags().StringVar(&date, "date", "", "completion date, YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&assignee, "assignee", 0, "1-based employee number of the developer")
	cmd.Flags().BoolVar(&startSession, "start", false, "start a verification session straight away")
	return cmd
}

func sessionsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Inspect and start verification sessions",
	}
	cmd.AddCommand(sessionsListCmd(opts), sessionsShowCmd(opts), sessionsCreateCmd(opts))
	return cmd
}

func sessionsListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := backendClient(opts)
			if err != nil {
				return err
			}
			out, err := client.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(out.Sessions) == 0 {
				fmt.Fprintln(w, "No sessions yet.")
				return nil
			}
			for _, s := range out.Sessions {
				p := report.Summarize(&s, nil)
				fmt.Fprintf(w, "%s %s bug %s · %d/%d conversations done\n",
					sessionMarker(s.Status), s.SessionKey, s.BugKey, p.Completed, p.Total)
			}
			return nil
		},
	}
}

func sessionsShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-key>",
		Short: "Show the conversations of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := backendClient(opts)
			if err != nil {
				return err
			}
			s, err := client.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			p := report.Summarize(s, nil)
			fmt.Fprintf(w, "%s %s · %s · %d%% complete\n", sessionMarker(s.Status), s.SessionKey, s.Status, p.Percent())
			for _, part := range p.Participants {
				fmt.Fprintf(w, "  %s %-16s %-18s %d msgs\n",
					conversationMarker(part.Status), part.Name, color.HiBlackString(part.Role), part.Messages)
			}
			return nil
		},
	}
}

func sessionsCreateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <bug-key>",
		Short: "Start a verification session for a bug",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := backendClient(opts)
			if err != nil {
				return err
			}
			s, err := client.CreateSession(cmd.Context(), api.CreateSessionRequest{BugKey: args[0]})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s session %s started with %d conversations\n",
				color.GreenString("✓"), s.SessionKey, len(s.Conversations))
			return nil
		},
	}
}

func employeesCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "employees",
		Aliases: []string{"employee", "people"},
		Short:   "List stakeholders; ✓ marks default participants",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := backendClient(opts)
			if err != nil {
				return err
			}
			out, err := client.ListEmployees(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, e := range out.Employees {
				marker := color.HiBlackString(" ")
				if api.IsDefaultParticipant(e.Role) {
					marker = color.GreenString("✓")
				}
				fmt.Fprintf(w, "%s %-3s %-16s %s\n", marker, api.Initials(e.Name), e.Name, color.HiBlackString(e.Role))
			}
			return nil
		},
	}
}

func reportCmd(opts *globalOptions) *cobra.Command {
	var ontologyKey string
	var raw bool
	cmd := &cobra.Command{
		Use:   "report [session-key]",
		Short: "Print the skill report of a completed session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ontologyKey == "" && len(args) == 0 {
				return fmt.Errorf("pass a session key or --ontology")
			}
			client, err := backendClient(opts)
			if err != nil {
				return err
			}
			var data json.RawMessage
			if ontologyKey != "" {
				data, err = client.GetSkillOntology(cmd.Context(), ontologyKey)
			} else {
				data, err = client.GetSessionOntology(cmd.Context(), args[0])
			}
			if api.IsNotFound(err) {
				return fmt.Errorf("report not ready yet")
			}
			if err != nil {
				return err
			}
			if raw {
				var buf bytes.Buffer
				if err := json.Indent(&buf, data, "", "  "); err != nil {
					return fmt.Errorf("format report: %w", err)
				}
				buf.WriteByte('\n')
				_, err := buf.WriteTo(cmd.OutOrStdout())
				return err
			}
			r, err := report.Parse(data)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), r)
			return nil
		},
	}
	cmd.Flags().StringVar(&ontologyKey, "ontology", "", "fetch a report by its own key")
	cmd.Flags().BoolVar(&raw, "json", false, "print the backend payload as JSON")
	return cmd
}

func printReport(w io.Writer, r *report.Report) {
	fmt.Fprintf(w, "%s\n", color.CyanString("Skill report · %s (%s)", r.Subject.Name, r.Subject.Role))
	fmt.Fprintln(w, strings.Repeat("─", 60))
	if r.Bug.BugKey != "" || r.Bug.Title != "" {
		fmt.Fprintf(w, "Bug       %s %s · %s\n", r.Bug.BugKey, r.Bug.Title, r.Bug.Severity)
	}
	fmt.Fprintf(w, "Verifiers %d · confidence %d%%\n\n", r.Summary.TotalVerifiers, pct(r.Summary.OverallConfidence))
	for _, s := range r.Skills {
		fmt.Fprintf(w, "%s %s %s\n", color.GreenString("◆"), s.Name, color.HiBlackString("%d%%", pct(s.Confidence)))
		if s.Evidence != "" {
			fmt.Fprintf(w, "  %s\n", s.Evidence)
		}
		if s.BusinessImpact != "" {
			fmt.Fprintf(w, "  %s\n", color.HiBlackString("Impact: %s", s.BusinessImpact))
		}
		for _, v := range s.Verifications {
			fmt.Fprintf(w, "  ↳ %s (%s) %d%%", v.VerifiedBy, v.VerifierRole, pct(v.Confidence))
			if v.EvidenceQuote != "" {
				fmt.Fprintf(w, ": %q", v.EvidenceQuote)
			}
			fmt.Fprintln(w)
		}
	}
}

func mockServerCmd(opts *globalOptions) *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Serve the scripted backend until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			settings := mockapi.SettingsFromConfig(cfg)
			if host != "" {
				settings.Host = host
			}
			if cmd.Flags().Changed("port") {
				settings.Port = port
			}
			srv := mockapi.NewServer(settings, mockapi.WithLogger(logging.NewWriter(cmd.ErrOrStderr())))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := srv.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s mock backend on %s (ctrl+c to stop)\n", color.GreenString("●"), srv.BaseURL())
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "bind host (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "bind port, 0 picks a free one (default from config)")
	return cmd
}

func sessionMarker(status api.SessionStatus) string {
	switch status {
	case api.SessionCompleted:
		return color.GreenString("✓")
	case api.SessionActive:
		return color.BlueString("●")
	default:
		return color.HiBlackString("○")
	}
}

func conversationMarker(status api.ConversationStatus) string {
	switch status {
	case api.StatusCompleted:
		return color.GreenString("✓")
	case api.StatusWaitingResponse:
		return color.YellowString("●")
	case api.StatusActive, api.StatusTyping:
		return color.BlueString("●")
	default:
		return color.HiBlackString("○")
	}
}

func pct(f float64) int {
	return int(f*100 + 0.5)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
