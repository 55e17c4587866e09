// cmd/alia/main.go
//
// This is the entry point for the Alia console.
// With no subcommand it opens the verification TUI; subcommands inspect the
// backend from the shell or run the scripted mock backend.
//
// Flow:
// 1. Load config.yaml (created with defaults on first run)
// 2. Open the diagnostics log and the journey logbook
// 3. Launch the TUI against the configured backend

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kingrea/alia-console/internal/api"
	"github.com/kingrea/alia-console/internal/config"
	"github.com/kingrea/alia-console/internal/conversation"
	"github.com/kingrea/alia-console/internal/logbook"
	"github.com/kingrea/alia-console/internal/logging"
	"github.com/kingrea/alia-console/internal/mockapi"
	"github.com/kingrea/alia-console/internal/tui"
)

var version = "0.1.0"

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	apiURL     string
	noColor    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	var sessionKey string
	var withMock bool

	root := &cobra.Command{
		Use:   "alia",
		Short: "Terminal console for Alia skill verification",
		Long: `Alia interviews the stakeholders of a fixed bug and turns their answers
into a verified skill report.

Usage modes:
  alia              Open the verification console
  alia --mock       Open the console against a built-in scripted backend
  alia <command>    Inspect bugs, sessions and reports from the shell`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd.Context(), opts, sessionKey, withMock)
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $ALIA_HOME/config.yaml)")
	root.PersistentFlags().StringVar(&opts.apiURL, "api", "", "backend base URL, overrides the config file")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable coloured output")
	root.Flags().StringVar(&sessionKey, "session", "", "open this session directly")
	root.Flags().BoolVar(&withMock, "mock", false, "run against an in-process scripted backend")

	root.AddGroup(
		&cobra.Group{ID: "data", Title: "Backend data:"},
		&cobra.Group{ID: "dev", Title: "Development:"},
	)
	for _, cmd := range []*cobra.Command{bugsCmd(opts), sessionsCmd(opts), employeesCmd(opts), reportCmd(opts)} {
		cmd.GroupID = "data"
		root.AddCommand(cmd)
	}
	mock := mockServerCmd(opts)
	mock.GroupID = "dev"
	root.AddCommand(mock, versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "alia %s\n", version)
		},
	}
}

func loadConfig(opts *globalOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.apiURL != "" {
		if err := cfg.SetAPIBaseURL(opts.apiURL); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newClient(cfg *config.Config, logger api.Logger) *api.Client {
	return api.New(cfg.APIBaseURL(),
		api.WithTimeout(cfg.RequestTimeout()),
		api.WithLogger(logger),
	)
}

func delaysFromConfig(cfg *config.Config) conversation.Delays {
	return conversation.Delays{
		Typing:    cfg.File.Delays.Typing,
		AutoStart: cfg.File.Delays.AutoStart,
		PostSend:  cfg.File.Delays.PostSend,
	}
}

func runConsole(ctx context.Context, opts *globalOptions, sessionKey string, withMock bool) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogsDir())
	if err != nil {
		return err
	}
	defer logger.Close()

	if withMock {
		settings := mockapi.SettingsFromConfig(cfg)
		settings.Port = 0
		srv := mockapi.NewServer(settings, mockapi.WithLogger(logger.With("mock")))
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		if err := cfg.SetAPIBaseURL(srv.BaseURL()); err != nil {
			return err
		}
	}

	lb, err := logbook.New(cfg.JourneyPath())
	if err != nil {
		return fmt.Errorf("open journey log: %w", err)
	}
	logger.Printf("console starting against %s", cfg.APIBaseURL())

	app := tui.NewApp(newClient(cfg, logger.With("api")),
		tui.WithLogbook(lb),
		tui.WithLogger(logger),
		tui.WithDelays(delaysFromConfig(cfg)),
		tui.WithMaxMessageLength(cfg.MaxMessageLength()),
		tui.WithSessionKey(sessionKey),
	)
	defer app.Close()

	p := tea.NewProgram(
		app,
		tea.WithAltScreen(), // Use alternate screen buffer (like vim does)
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run console: %w", err)
	}
	return nil
}
