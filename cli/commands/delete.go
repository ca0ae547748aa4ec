package commands

import (
	"context"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/satishbabariya/recordkit/cli/internal/ui"
	"github.com/satishbabariya/recordkit/record"
	"github.com/satishbabariya/recordkit/runtime/client"
)

func newDeleteCommand(opts *globalOptions) *cobra.Command {
	var (
		yes        bool
		primaryKey string
	)

	cmd := &cobra.Command{
		Use:   "delete <table> <id>",
		Short: "Delete one row by primary key",
		Long: `Delete the row whose primary key equals id. Composite keys are
given with --primary-key a,b and an id of the form "1_2".`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, id := args[0], args[1]
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				desc, err := opts.descriptor(table, primaryKey)
				if err != nil {
					return err
				}
				m, err := c.Model(ctx, desc)
				if err != nil {
					return err
				}

				row, err := m.Find(ctx, id)
				if err != nil {
					return err
				}
				if row == nil {
					return fmt.Errorf("%s %s not found", table, id)
				}

				if !yes {
					if err := printRecords([]*record.Record{row}, nil); err != nil {
						return err
					}
					confirmed := false
					prompt := &survey.Confirm{
						Message: fmt.Sprintf("Delete %s %s?", table, id),
					}
					if err := survey.AskOne(prompt, &confirmed); err != nil {
						return err
					}
					if !confirmed {
						ui.PrintWarning("aborted")
						return nil
					}
				}

				deleted, err := m.Delete(ctx, id)
				if err != nil {
					return err
				}
				if !deleted {
					return fmt.Errorf("%s %s was not deleted", table, id)
				}
				ui.PrintSuccess("deleted %s %s", table, id)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	cmd.Flags().StringVar(&primaryKey, "primary-key", "", "comma separated primary key columns (default: id)")
	return cmd
}
