package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/golden-engine/pkg/services"
)

func newResolveCommand(opts *rootOptions) *cobra.Command {
	var (
		sourceRef string
		req       services.ResolveTableRequest
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve every row of a source table into golden objects",
		Long: `Resolve reads a table of a registered source and matches each row through
the identity rules. The table and id column must exist in the source catalog.
Rows that fail are counted and skipped.`,
		GroupID: "core",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, opts, func(ctx context.Context, a *app) error {
				reg, err := lookupSource(ctx, a, sourceRef)
				if err != nil {
					return err
				}
				req.SourceDBID = reg.ID

				stats, err := a.worker.ResolveTable(ctx, req)
				if stats != nil {
					if perr := printJSON(cmd.OutOrStdout(), stats); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&sourceRef, "source", "", "registered source (id or name)")
	cmd.Flags().StringVar(&req.Schema, "schema", "", "schema of the table (optional when the source has one schema)")
	cmd.Flags().StringVar(&req.Table, "table", "", "table to read")
	cmd.Flags().StringVar(&req.ObjectType, "object-type", "", "object type of the rows")
	cmd.Flags().StringVar(&req.SourceSystem, "source-system", "", "source system (default: the registration name)")
	cmd.Flags().StringVar(&req.IDColumn, "id-column", "", "column holding each row's source id")
	cmd.Flags().StringVar(&req.IDPrefix, "id-prefix", "", "prefix of generated ids for rows without one (default: upper-cased table name)")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "read at most this many rows (0 = all)")
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "compute golden ids without writing")
	for _, f := range []string{"source", "table", "object-type"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}
