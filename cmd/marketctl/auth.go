package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/lorrc/marketplace-realtime/internal/client/api"
)

func newLoginCmd(a *app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and save the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" || password == "" {
				return errors.New("--email and --password are required")
			}
			sess, err := a.client.Login(a.ctx(cmd), email, password)
			if err != nil {
				return explain("login", err)
			}
			if err := a.client.SaveSession(a.cfg.SessionFile, sess.User.UserID); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Signed in as %s <%s>\n", sess.User.FullName, sess.User.Email)
			if exp := sess.Expiry(); !exp.IsZero() {
				fmt.Fprintf(a.out, "Session expires %s\n", exp.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget it locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.client.Token() != "" {
				if err := a.client.Logout(a.ctx(cmd)); err != nil && !api.IsStatus(err, http.StatusUnauthorized) {
					a.logger.Warn("server logout failed", "error", err)
				}
			}
			if err := api.ClearSession(a.cfg.SessionFile); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Signed out")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			u, err := a.client.Me(a.ctx(cmd))
			if err != nil {
				return explain("whoami", err)
			}
			fmt.Fprintf(a.out, "%s <%s> role=%s id=%s\n", u.FullName, u.Email, u.Role, u.UserID)
			return nil
		},
	}
}
