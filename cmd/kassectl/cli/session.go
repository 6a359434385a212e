package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vereinskasse/vereinskasse/internal/platform/cache"
	"github.com/vereinskasse/vereinskasse/internal/shared"
)

// SessionIssuer writes and removes sessions.
type SessionIssuer interface {
	Issue(ctx context.Context, id string, actor shared.Actor) error
	Revoke(ctx context.Context, id string) error
}

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Issue or revoke API sessions for operators and local development",
	}

	var userID int64
	var roles []string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Create a session and print its id",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openSessions(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return issueSession(cmd.Context(), cmd.OutOrStdout(), store, userID, roles)
		},
	}
	issue.Flags().Int64Var(&userID, "user", 0, "member id the session acts as")
	issue.Flags().StringSliceVar(&roles, "roles", nil, "roles to grant (admin, treasurer, auditor)")
	_ = issue.MarkFlagRequired("user")

	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openSessions(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return store.Revoke(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(issue, revoke)
	return cmd
}

func openSessions(ctx context.Context) (*shared.SessionStore, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	client, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	store := shared.NewSessionStore(client, cfg.SessionCookie, cfg.SessionTTL)
	return store, func() { _ = client.Close() }, nil
}

var knownRoles = map[string]bool{
	shared.RoleAdmin:     true,
	shared.RoleTreasurer: true,
	shared.RoleAuditor:   true,
}

func issueSession(ctx context.Context, out io.Writer, store SessionIssuer, userID int64, roles []string) error {
	actor := shared.Actor{ID: userID}
	if err := shared.RequireActor(actor); err != nil {
		return errors.New("session: --user must be a positive member id")
	}
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if !knownRoles[role] {
			return fmt.Errorf("session: unknown role %q", role)
		}
		actor.Roles = append(actor.Roles, role)
	}
	id := uuid.NewString()
	if err := store.Issue(ctx, id, actor); err != nil {
		return err
	}
	fmt.Fprintln(out, id)
	return nil
}
