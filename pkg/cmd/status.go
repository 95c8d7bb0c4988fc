package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// status creates the status command, reporting unrun changesets per
// datasource without mutating anything.
func status() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show unrun changesets per datasource",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return eachDatasource(currentConfig, func(rt *runtime) error {
				sess, err := rt.opener.Open(rt.ds.MasterFile(currentConfig.ChangelogDir))
				if err != nil {
					return err
				}

				sets, err := sess.ListUnrun(ctx)
				if err != nil {
					return err
				}

				if len(sets) == 0 {
					fmt.Fprintf(cmd.Writer, "%s: up to date\n", rt.ds.Name)
					return nil
				}

				fmt.Fprintf(cmd.Writer, "%s: %d unrun changesets\n", rt.ds.Name, len(sets))
				for _, set := range sets {
					fmt.Fprintf(cmd.Writer, "  %s::%s::%s\n", set.FilePath, set.ID, set.Author)
				}
				return nil
			})
		},
	}
}
