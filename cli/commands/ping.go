package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/satishbabariya/recordkit/cli/internal/ui"
	"github.com/satishbabariya/recordkit/connection"
	"github.com/satishbabariya/recordkit/runtime/client"
)

func newPingCommand(opts *globalOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "ping [connection]",
		Short: "Check that a configured connection is reachable",
		Long: `Connect to the named connection (or the default one), run a
round trip and report the server version. With --all every configured
connection is checked and the command fails if any of them is down.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				names := []string{opts.connection}
				switch {
				case all:
					names = c.Config().Database.Names()
				case len(args) == 1:
					names = []string{args[0]}
				}
				return runPing(ctx, c, names)
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "ping every configured connection")
	return cmd
}

func runPing(ctx context.Context, c *client.Client, names []string) error {
	failed := 0
	for _, name := range names {
		if name == "" {
			name = c.Provider().Default()
		}
		start := time.Now()
		h, err := c.Connection(ctx, name)
		if err == nil {
			err = h.DB.PingContext(ctx)
		}
		if err != nil {
			failed++
			ui.PrintError("%s: %v", name, err)
			continue
		}

		ui.PrintSuccess("%s is reachable (%s)", name, time.Since(start).Round(time.Millisecond))
		pairs := [][2]string{{"Driver", string(h.Kind)}}
		if h.ServerVersion != "" {
			pairs = append(pairs, [2]string{"Server", h.ServerVersion})
			if flavor, ok, err := connection.SupportedVersion(h.Kind, h.ServerVersion); err == nil && !ok {
				ui.PrintWarning("%s %s is older than the supported minimum", flavor, h.ServerVersion)
			}
		}
		ui.PrintKeyValues(pairs)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d connections unreachable", failed, len(names))
	}
	return nil
}
