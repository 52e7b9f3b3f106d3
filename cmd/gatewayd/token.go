package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vango-dev/gateway/internal/config"
	"github.com/vango-dev/gateway/pkg/auth"
)

func tokenCmd(v *viper.Viper, configPath *string) *cobra.Command {
	var (
		principal auth.Principal
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development token",
		Long: `Mint a token signed with the configured auth settings.

Examples:
  gatewayd token --user alice
  gatewayd token --user bob --group lobby --group ops --ttl 1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath, v)
			if err != nil {
				return err
			}
			issuer, err := auth.NewJWTIssuer(cfg.JWTConfig())
			if err != nil {
				return err
			}
			token, err := issuer.Issue(principal, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&principal.ID, "user", "u", "", "User ID (required)")
	flags.StringVar(&principal.Name, "name", "", "Display name")
	flags.StringSliceVarP(&principal.Groups, "group", "g", nil, "Broadcast group to join")
	flags.DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
