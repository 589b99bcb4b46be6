package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-fluency-battle/internal/auth"
	"github.com/tbourn/go-fluency-battle/internal/config"
)

func newTokenCommand() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token USER_ID",
		Short: "Sign a bearer token for a user (AUTH_MODE=jwt)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subject := strings.TrimSpace(args[0])
			if subject == "" {
				return errors.New("user id must not be blank")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Auth.Mode != config.AuthJWT {
				return fmt.Errorf("tokens are only used with AUTH_MODE=%s (current: %s)", config.AuthJWT, cfg.Auth.Mode)
			}
			v, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
			if err != nil {
				return err
			}
			tok, err := v.Issue(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime; 0 issues a token without expiry")
	return cmd
}
