package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/satishbabariya/recordkit/activerecord"
	"github.com/satishbabariya/recordkit/config"
	"github.com/satishbabariya/recordkit/internal/debug"
	"github.com/satishbabariya/recordkit/runtime/client"
)

// withClient loads the configuration, opens a client and runs fn under the
// command timeout
func (o *globalOptions) withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	var loadOpts []config.Option
	if o.configFile != "" {
		loadOpts = append(loadOpts, config.WithConfigFile(o.configFile))
	}
	cfg, err := config.Load(loadOpts...)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	logger := debug.Init(debug.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})

	c, err := client.New(cfg, client.WithLogger(logger))
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()
	return fn(ctx, c)
}

// descriptor builds an ad-hoc descriptor for a table named on the command line
func (o *globalOptions) descriptor(table, primaryKey string) (*activerecord.Descriptor, error) {
	opts := []activerecord.DescriptorOption{activerecord.WithConnection(o.connection)}
	if primaryKey != "" {
		opts = append(opts, activerecord.WithPrimaryKey(splitList(primaryKey)...))
	}
	return activerecord.NewDescriptor(table, opts...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
