package cli

import (
	"context"

	"github.com/spf13/cobra"
)

func newObjectsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "objects",
		Short:   "Inspect golden objects",
		GroupID: "core",
	}
	cmd.AddCommand(newObjectsGetCommand(opts), newObjectsLookupCommand(opts))
	return cmd
}

func newObjectsGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get GOLDEN_ID",
		Short: "List every source record folded into a golden object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts, func(ctx context.Context, a *app) error {
				objects, err := a.identity.GetObject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), objects)
			})
		},
	}
}

func newObjectsLookupCommand(opts *rootOptions) *cobra.Command {
	var sourceSystem, sourceID, objectType string

	cmd := &cobra.Command{
		Use:     "lookup",
		Short:   "Show the golden object of one source record",
		Example: `  golden-engine objects lookup --source-system crm --source-id C-1 --object-type customer`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, opts, func(ctx context.Context, a *app) error {
				obj, err := a.identity.Lookup(ctx, sourceSystem, sourceID, objectType)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), obj)
			})
		},
	}

	cmd.Flags().StringVar(&sourceSystem, "source-system", "", "source system of the record")
	cmd.Flags().StringVar(&sourceID, "source-id", "", "record id within the source system")
	cmd.Flags().StringVar(&objectType, "object-type", "", "object type, e.g. customer")
	for _, f := range []string{"source-system", "source-id", "object-type"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}
