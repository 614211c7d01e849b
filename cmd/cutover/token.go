package main

import (
	"fmt"
	"time"

	"github.com/bissquit/cutover-garden/internal/pkg/jwtauth"
	"github.com/spf13/cobra"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "token <user>",
		Short: "Issue a bearer token acting as user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			auth, err := jwtauth.New(jwtauth.Config{
				SecretKey:     cfg.JWT.SecretKey,
				TokenDuration: cfg.JWT.TokenDuration,
			})
			if err != nil {
				return err
			}

			token, err := auth.Issue(args[0], time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
}
