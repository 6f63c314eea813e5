// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Root command and per-invocation session.

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ckt1031/simple-chat/internal/app"
	"github.com/ckt1031/simple-chat/internal/config"
	"github.com/ckt1031/simple-chat/internal/logging"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// session carries what one invocation shares between commands. The App is
// opened on first use so commands like "version" never touch the database.
type session struct {
	configPath string
	jsonOut    bool
	logLevel   string

	out    io.Writer
	errOut io.Writer
	now    func() time.Time

	cfg *config.Config
	app *app.App
}

// resolvedConfigPath returns --config or the default location.
func (s *session) resolvedConfigPath() (string, error) {
	if s.configPath != "" {
		return s.configPath, nil
	}
	return config.DefaultPath()
}

// config loads the configuration once.
func (s *session) config() (*config.Config, error) {
	if s.cfg != nil {
		return s.cfg, nil
	}
	path, err := s.resolvedConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if s.logLevel != "" {
		cfg.Log.Level = s.logLevel
	}
	s.configPath = path
	s.cfg = cfg
	return cfg, nil
}

// open builds the App once.
func (s *session) open(ctx context.Context) (*app.App, error) {
	if s.app != nil {
		return s.app, nil
	}
	cfg, err := s.config()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(s.errOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, app.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	s.app = a
	return a, nil
}

func (s *session) close() error {
	if s.app == nil {
		return nil
	}
	err := s.app.Close()
	s.app = nil
	return err
}

// emit prints data as a JSON envelope in JSON mode, otherwise calls human.
func (s *session) emit(command string, data any, human func()) error {
	if s.jsonOut {
		return NewJSONResponse(command, data).Print(s.out)
	}
	human()
	return nil
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// newRootCommand builds the command tree writing to stdout and stderr.
func newRootCommand(stdout, stderr io.Writer) (*cobra.Command, *session) {
	s := &session{out: stdout, errOut: stderr, now: time.Now}

	root := &cobra.Command{
		Use:   "simple-chat",
		Short: "Local-first chat client for LLM providers",
		Long: `simple-chat keeps conversations in a local database, streams replies from
OpenAI-compatible providers or Ollama, and syncs to a remote folder.

Examples:
  simple-chat ask "Explain CRDTs in one paragraph"
  simple-chat ask --chat <id> "And in one sentence?"
  simple-chat chats list
  simple-chat sync`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVarP(&s.configPath, "config", "c", "", "config file (default ~/.simple-chat/config.toml)")
	root.PersistentFlags().BoolVar(&s.jsonOut, "json", false, "print JSON")
	root.PersistentFlags().StringVar(&s.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		askCmd(s),
		regenerateCmd(s),
		chatsCmd(s),
		foldersCmd(s),
		assetsCmd(s),
		syncCmd(s),
		backupCmd(s),
		modelsCmd(s),
		statsCmd(s),
		configCmd(s),
		daemonCmd(s),
		versionCmd(s),
	)
	return root, s
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root, s := newRootCommand(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if cerr := s.close(); err == nil {
		err = cerr
	}
	if err != nil {
		w := stderr
		if s.jsonOut {
			w = stdout
		}
		DisplayError(w, err, s.jsonOut)
		return GetExitCode(err)
	}
	return ExitSuccess
}

func versionCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data := map[string]string{"version": Version, "commit": GitCommit, "build_date": BuildDate}
			return s.emit("version", data, func() {
				fmt.Fprintf(s.out, "simple-chat %s (%s, %s)\n", Version, GitCommit, BuildDate)
			})
		},
	}
}
