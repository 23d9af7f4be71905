package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asascience/matos/internal/plugins/auth"
)

func getApproveCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "approve <email>",
		Short: "Approves a registered user",
		Long:  "Approves the account with the given email, granting --role or the role the user requested.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var granted auth.Role
			if role != "" {
				r, ok := auth.ParseRole(role)
				if !ok {
					return fmt.Errorf("unknown role %q", role)
				}
				granted = r
			}

			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := context.Background()
			// Approval never touches sessions, so no Redis client is needed.
			svc := auth.NewAuthService(auth.NewUserRepository(db), nil, cfg.Auth.SessionTTL)
			user, err := svc.FindByEmail(ctx, args[0])
			if err != nil {
				return err
			}
			user, err = svc.Approve(ctx, user.ID, granted)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Approved %s as %s\n", user.Email, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role to grant (general, researcher, investigator, admin)")
	return cmd
}
