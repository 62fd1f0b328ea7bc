package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lorrc/marketplace-realtime/internal/client/api"
	"github.com/lorrc/marketplace-realtime/internal/client/config"
	"github.com/lorrc/marketplace-realtime/internal/infrastructure/logging"
)

var errNotSignedIn = errors.New("not signed in; run marketctl login first")

// app is the state shared by every command of one invocation.
type app struct {
	out    io.Writer
	errOut io.Writer

	envFile  string
	verbose  bool
	language string

	cfg    *config.Config
	client *api.Client
	userID string
	logger *slog.Logger
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "marketctl",
		Short:         "Terminal client for the marketplace backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Dotenv file to load before the environment")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&a.language, "lang", "", "Preferred language (overrides MARKET_LANGUAGE)")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newNotificationsCmd(a),
		newChatCmd(a),
		newCatalogCmd(a),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.envFile)
	if err != nil {
		return err
	}
	if a.language != "" {
		cfg.Language = a.language
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	level := "warn"
	if a.verbose {
		level = "debug"
	}
	a.logger = logging.NewLogger(logging.Config{
		Level:       level,
		Format:      "text",
		Output:      a.errOut,
		ServiceName: "marketctl",
		Environment: "cli",
	})

	client, err := api.New(cfg.BackendURL,
		api.WithTimeout(cfg.Timeout),
		api.WithDefaultLanguage(cfg.Language),
		api.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}
	a.client = client

	userID, err := client.LoadSession(cfg.SessionFile)
	if err != nil {
		a.logger.Warn("ignoring saved session", "path", cfg.SessionFile, "error", err)
		return nil
	}
	a.userID = userID
	return nil
}

// requireSession fails fast when no token was restored.
func (a *app) requireSession() error {
	if a.client.Token() == "" {
		return errNotSignedIn
	}
	return nil
}

// explain turns backend errors into their user-facing message and keeps
// transport errors as they are.
func explain(op string, err error) error {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", op, apiErr.Message)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ctx attaches the configured language to the command context.
func (a *app) ctx(cmd *cobra.Command) context.Context {
	return api.WithLanguage(cmd.Context(), a.cfg.Language)
}
