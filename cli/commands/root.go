// Package commands implements the recordkit CLI.
package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/satishbabariya/recordkit/cli/internal/ui"
	"github.com/satishbabariya/recordkit/cli/internal/version"
)

// globalOptions are the persistent flags shared by every subcommand
type globalOptions struct {
	configFile string
	connection string
	logLevel   string
	timeout    time.Duration
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "recordkit",
		Short: "Inspect and edit recordkit databases",
		Long: `recordkit talks to the connections declared in recordkit.yaml.
It can check connectivity, describe tables, page through rows with a
filter expression and delete single rows by primary key.`,
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ui.SetOutput(cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (default: recordkit.yaml in ., $HOME or $HOME/.config/recordkit)")
	flags.StringVar(&opts.connection, "connection", "", "connection name (default: database.default)")
	flags.StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "timeout for the whole command")

	cmd.AddCommand(newPingCommand(opts))
	cmd.AddCommand(newDescribeCommand(opts))
	cmd.AddCommand(newQueryCommand(opts))
	cmd.AddCommand(newDeleteCommand(opts))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// Execute runs the CLI against os.Args
func Execute() error {
	return NewRootCommand().Execute()
}
