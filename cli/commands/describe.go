package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/satishbabariya/recordkit/cli/internal/ui"
	"github.com/satishbabariya/recordkit/introspect"
	"github.com/satishbabariya/recordkit/runtime/client"
)

func newDescribeCommand(opts *globalOptions) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "describe <table>",
		Short: "Show the columns, keys and row count of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				desc, err := opts.descriptor(args[0], "")
				if err != nil {
					return err
				}
				h, err := c.Connection(ctx, desc.Connection())
				if err != nil {
					return err
				}
				table, err := h.Schema.Table(ctx, h.DB, desc.Table())
				if err != nil {
					return err
				}
				m, err := c.Model(ctx, desc)
				if err != nil {
					return err
				}
				rows, err := m.Count(ctx, nil)
				if err != nil {
					return err
				}

				doc := describeMarkdown(h.Name, string(h.Kind), table, rows)
				if raw {
					_, err := fmt.Fprint(cmd.OutOrStdout(), doc)
					return err
				}
				return ui.PrintMarkdown(doc)
			})
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "print the markdown source instead of rendering it")
	return cmd
}

// describeMarkdown renders a table definition as a markdown document
func describeMarkdown(conn, driver string, t *introspect.Table, rows int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", t.Name)
	fmt.Fprintf(&b, "Connection `%s` (%s), %d rows.\n\n", conn, driver, rows)

	b.WriteString("| Column | Type | Nullable | Default | Key |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, col := range t.Columns {
		def := ""
		if col.Default != nil {
			def = "`" + *col.Default + "`"
		}
		var key []string
		if col.PrimaryKey > 0 {
			key = append(key, fmt.Sprintf("PK %d", col.PrimaryKey))
		}
		if col.AutoIncrement {
			key = append(key, "auto")
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			cell(col.Name), cell(col.Type), yesNo(col.Nullable), cell(def), strings.Join(key, ", "))
	}

	if len(t.ForeignKeys) > 0 {
		b.WriteString("\n## Foreign keys\n\n")
		for _, fk := range t.ForeignKeys {
			fmt.Fprintf(&b, "- `%s` references `%s(%s)`",
				strings.Join(fk.Columns, ", "), fk.ReferencedTable, strings.Join(fk.ReferencedColumns, ", "))
			if fk.OnDelete != "" {
				fmt.Fprintf(&b, " on delete %s", strings.ToLower(fk.OnDelete))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
