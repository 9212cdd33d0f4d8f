package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/toolgate/pkg/composio"
)

func newOAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "oauth-status <user-id> <provider>",
		Short: "Check whether a user has connected a provider",
		Long: `Ask the upstream whether a user has an active connection for a provider
such as gmail or twilio. No session is created.`,
		Args: cobra.ExactArgs(2),
		RunE: runOAuthStatus,
	}
}

func runOAuthStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	client, err := composio.New(composio.Config{
		APIKey:          cfg.Composio.APIKey,
		BaseURL:         cfg.Composio.BaseURL,
		Timeout:         cfg.Composio.Timeout(),
		AllowedToolkits: cfg.Composio.AllowedToolkits,
	}, composio.WithLogger(zerolog.Nop()))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Composio.Timeout()+5*time.Second)
	defer cancel()

	userID, provider := args[0], strings.ToLower(args[1])
	status, err := client.CheckOAuth(ctx, userID, provider)
	if err != nil {
		return fmt.Errorf("failed to check connection: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "User: %s\n", userID)
	fmt.Fprintf(out, "Provider: %s\n", status.Provider)
	fmt.Fprintf(out, "Authenticated: %t\n", status.IsAuthenticated)
	if status.AuthURL != "" {
		fmt.Fprintf(out, "Authorize at: %s\n", status.AuthURL)
	}
	return nil
}
