package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satishbabariya/recordkit/cli/internal/ui"
	"github.com/satishbabariya/recordkit/cli/internal/version"
)

func newVersionCommand() *cobra.Command {
	var require string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print version information. With --require the command fails unless
the CLI version satisfies the constraint, e.g. --require ">= 0.1, < 1.0".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			ui.PrintKeyValues(info.Pairs())
			if require == "" {
				return nil
			}
			ok, err := info.Satisfies(require)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("version %s does not satisfy %q", info.Version, require)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&require, "require", "", "fail unless the version satisfies this constraint")
	return cmd
}
