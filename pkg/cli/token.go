package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/sellhub/pkg/auth"
	"github.com/platinummonkey/sellhub/pkg/config"
)

func newTokenCommand(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}
	cmd.AddCommand(newTokenCreateCommand(deps))
	return cmd
}

func newTokenCreateCommand(deps Deps) *cobra.Command {
	var (
		accountID int64
		name      string
		scopes    []string
		expires   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an API token for an account",
		Long:  "Issue an API token. The plaintext token is printed once and cannot be recovered.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if accountID <= 0 {
				return fmt.Errorf("--account is required")
			}
			req := &auth.CreateTokenRequest{Name: name}
			for _, s := range scopes {
				scope := auth.Scope(s)
				if !auth.ValidScope(scope) {
					return fmt.Errorf("%w: %s", auth.ErrInvalidScope, s)
				}
				req.Scopes = append(req.Scopes, scope)
			}
			if expires > 0 {
				at := time.Now().Add(expires).UTC()
				req.ExpiresAt = &at
			}

			return withBackend(cmd, deps, func(ctx context.Context, b Backend, _ *config.Config) error {
				resp, err := b.Tokens().Create(ctx, accountID, req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Token %d created for account %d\n", resp.APIToken.ID, accountID)
				if resp.APIToken.ExpiresAt != nil {
					fmt.Fprintf(out, "Expires: %s\n", resp.APIToken.ExpiresAt.Format(time.RFC3339))
				}
				fmt.Fprintln(out, resp.Token)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&accountID, "account", 0, "Account id that owns the token")
	cmd.Flags().StringVar(&name, "name", "cli", "Token name")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{string(auth.ScopeRead)}, "Scopes (read, write, admin, *)")
	cmd.Flags().DurationVar(&expires, "expires", 0, "Lifetime; zero never expires")

	return cmd
}
