package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satishbabariya/recordkit/cli/internal/ui"
	"github.com/satishbabariya/recordkit/query/builder"
	"github.com/satishbabariya/recordkit/query/filter"
	"github.com/satishbabariya/recordkit/record"
	"github.com/satishbabariya/recordkit/runtime/client"
)

type queryOptions struct {
	where   string
	columns string
	orderBy string
	desc    bool
	page    int
	perPage int
}

func newQueryCommand(opts *globalOptions) *cobra.Command {
	q := &queryOptions{}

	cmd := &cobra.Command{
		Use:   "query <table>",
		Short: "Page through the rows of a table",
		Long: `Print one page of rows as a table. --where takes a filter expression:

  status IN ('active', 'pending') AND (age >= 18 OR role = 'admin')
  deleted_at IS NULL AND name LIKE 'ann%'`,
		Example: `  recordkit query users --where "status = 'active'" --columns id,username --per-page 20`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cond, err := filter.Parse(q.where)
			if err != nil {
				return err
			}
			return opts.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				desc, err := opts.descriptor(args[0], "")
				if err != nil {
					return err
				}
				m, err := c.Model(ctx, desc)
				if err != nil {
					return err
				}

				var order []builder.Order
				if q.orderBy != "" {
					if q.desc {
						order = append(order, builder.Desc(q.orderBy))
					} else {
						order = append(order, builder.Asc(q.orderBy))
					}
				}
				page, err := m.Paginate(ctx, q.page, q.perPage, cond, order...)
				if err != nil {
					return err
				}

				if len(page.Data) == 0 {
					ui.PrintInfo("no rows")
				} else if err := printRecords(page.Data, splitList(q.columns)); err != nil {
					return err
				}
				meta := page.Meta
				ui.PrintFooter("page %d of %d, rows %d-%d of %d",
					meta.CurrentPage, meta.LastPage, meta.From, meta.To, meta.Total)
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&q.where, "where", "w", "", "filter expression")
	flags.StringVar(&q.columns, "columns", "", "comma separated columns to show (default: all)")
	flags.StringVar(&q.orderBy, "order-by", "", "sort column (default: primary key descending)")
	flags.BoolVar(&q.desc, "desc", false, "sort --order-by descending")
	flags.IntVarP(&q.page, "page", "p", 1, "page number")
	flags.IntVar(&q.perPage, "per-page", 0, "rows per page (default: pagination.per_page)")
	return cmd
}

// printRecords renders rows as a table restricted to columns when given
func printRecords(rows []*record.Record, columns []string) error {
	headers := columns
	if len(headers) == 0 {
		headers = rows[0].Keys()
	}
	for _, col := range headers {
		if !rows[0].Has(col) {
			return fmt.Errorf("column %q is not in the result", col)
		}
	}

	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		line := make([]string, len(headers))
		for i, col := range headers {
			line[i] = ui.FormatValue(r.Value(col))
		}
		cells = append(cells, line)
	}
	return ui.PrintTable(headers, cells)
}
