package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"campusrelay/internal/auth"
	"campusrelay/internal/config"
	"campusrelay/pkg/types"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Relay token commands",
	}
	cmd.AddCommand(newTokenIssueCmd())
	return cmd
}

type issueOptions struct {
	userID string
	role   string
	paid   bool
	ttl    time.Duration
}

func newTokenIssueCmd() *cobra.Command {
	var opts issueOptions

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Print a signed relay token",
		Long:  "Signs a token with the configured JWT secret and issuer. The directory is not consulted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := issueToken(auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer), opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.userID, "user", "", "user id the token is issued to")
	cmd.Flags().StringVar(&opts.role, "role", string(types.RoleStudent), "Student, Counselor or Admin")
	cmd.Flags().BoolVar(&opts.paid, "paid", false, "mark the holder as a paid subscriber")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func issueToken(a *auth.Authenticator, opts issueOptions) (string, error) {
	if !types.IsValidUserID(opts.userID) {
		return "", fmt.Errorf("%w: %q", types.ErrInvalidUserID, opts.userID)
	}
	role := types.Role(opts.role)
	if !types.IsValidRole(role) {
		return "", fmt.Errorf("%w: %q", types.ErrInvalidRole, opts.role)
	}
	if opts.ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive, got %s", opts.ttl)
	}
	return a.Issue(opts.userID, role, opts.paid, opts.ttl)
}
