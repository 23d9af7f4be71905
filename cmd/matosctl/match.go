package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asascience/matos/internal/plugins/tags"
)

func getMatchCmd() *cobra.Command {
	var registry bool
	cmd := &cobra.Command{
		Use:   "match <codes>",
		Short: "Finds the deployment a tag report would match",
		Long: `Resolves comma-separated external or sensor codes the same way a public
report does. With --tag the codes are registry tag codes and the tag's
active deployment is returned.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := context.Background()
			svc := tags.NewTagService(tags.NewTagRepository(db))

			var d *tags.Deployment
			if registry {
				d, err = svc.ResolveTag(ctx, args[0])
			} else {
				d, err = svc.MatchCodes(ctx, args[0])
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if d == nil {
				fmt.Fprintln(out, "No matching deployment")
				return nil
			}
			fmt.Fprintf(out, "%s\n  id:    %s\n  study: %s\n  dates: %s\n", d.DisplayName(), d.ID, d.StudyName, d.DateRange())
			return nil
		},
	}
	cmd.Flags().BoolVar(&registry, "tag", false, "treat the codes as registry tag codes")
	return cmd
}
