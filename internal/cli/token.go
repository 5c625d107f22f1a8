package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"rangeclaims/api/internal/auth"
	"rangeclaims/api/internal/rbac"
)

func newTokenCommand(e *env) *cobra.Command {
	var (
		subject string
		name    string
		mail    string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed access token for an operator or smoke test",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(subject) == "" {
				return errors.New("--sub is required")
			}
			normalized := rbac.Normalize(role)
			if string(normalized) != role && role != "" {
				return fmt.Errorf("unknown role %q", role)
			}
			if e.cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is empty")
			}
			if ttl <= 0 {
				ttl = e.cfg.AccessTTL
			}
			token, err := auth.IssueToken([]byte(e.cfg.JWTSecret), subject, auth.Claims{
				Name:  name,
				Email: mail,
				Role:  string(normalized),
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "subject (profile id)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&mail, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", string(rbac.RoleAdmin), "role carried by the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default ACCESS_TTL)")
	return cmd
}
