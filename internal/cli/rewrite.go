package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"consentgate/internal/query"
	"consentgate/pkg/platform/strings"
)

func newRewriteCmd() *cobra.Command {
	var (
		fields []string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "rewrite <sql>",
		Short: "Show how a query is rewritten for a set of permitted fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			allowed := strings.DedupeAndTrim(fields)
			if len(allowed) == 0 {
				return errors.New("--fields must name at least one column")
			}
			if !query.Validate(args[0]) {
				return errors.New("query is not a single SELECT statement")
			}
			rewritten, err := query.Rewrite(args[0], allowed)
			if err != nil {
				return err
			}
			if limit > 0 {
				if rewritten, err = query.AddLimit(rewritten, limit); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), rewritten)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "Permitted columns, comma separated")
	cmd.Flags().IntVar(&limit, "limit", 0, "Row cap applied as a LIMIT clause")
	return cmd
}
