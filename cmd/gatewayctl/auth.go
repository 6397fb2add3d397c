package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/modelgateway/core/internal/auth"
)

func newAuthCmd() *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage provider credentials",
	}
	authCmd.AddCommand(newAuthLoginCmd())
	return authCmd
}

func newAuthLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <provider>",
		Short: "Run the OAuth 2.0 + PKCE authorization flow for a provider and store the resulting tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := args[0]

			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			authCfg, ok := cfg.Auth[provider]
			if !ok {
				return fmt.Errorf("no auth configuration found for provider %q", provider)
			}
			settings := authCfg.ToProviderSettings(provider)
			if settings.ClientID == "" || settings.AuthorizationURL == "" || settings.TokenURL == "" {
				return fmt.Errorf("provider %q is missing OAuth client_id/authorization_url/token_url", provider)
			}

			store := auth.NewKeychainStore(log)
			client := auth.NewOAuthClient(auth.OpenBrowser, log)
			machine := auth.NewFlowMachine(log)

			timeout := settings.CallbackTimeout
			if timeout <= 0 {
				timeout = 5 * time.Minute
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			fmt.Printf("Opening browser for %s authorization...\n", provider)
			tokens, err := client.Login(ctx, settings, machine)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			if err := store.Save(provider, tokens); err != nil {
				return fmt.Errorf("save tokens: %w", err)
			}

			fmt.Printf("Authenticated %s, token expires at %s\n", provider, tokens.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
}
