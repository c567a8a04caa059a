package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/golden-engine/pkg/jsonutil"
	"github.com/ekaya-inc/golden-engine/pkg/models"
)

func newMatchCommand(opts *rootOptions) *cobra.Command {
	var (
		sourceSystem string
		sourceID     string
		objectType   string
		attributes   string
	)

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Resolve one record into a golden object",
		Example: `  golden-engine match --source-system crm --source-id C-1 --object-type customer \
    --attributes '{"email":"Test@Example.COM","phone":"(555) 123-4567"}'`,
		GroupID: "core",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			attrs := map[string]any{}
			if attributes != "" {
				decoded, err := jsonutil.DecodeObject([]byte(attributes))
				if err != nil {
					return fmt.Errorf("--attributes: %w", err)
				}
				attrs = decoded
			}

			return runWithApp(cmd, opts, func(ctx context.Context, a *app) error {
				result, err := a.identity.MatchAndUpsert(ctx, sourceSystem, sourceID, objectType, models.Attributes(attrs))
				if err != nil {
					return err
				}
				if result.Fallback {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: no active identity rule for %s/%s, fallback fingerprint used\n",
						objectType, sourceSystem)
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}

	cmd.Flags().StringVar(&sourceSystem, "source-system", "", "source system of the record")
	cmd.Flags().StringVar(&sourceID, "source-id", "", "record id within the source system")
	cmd.Flags().StringVar(&objectType, "object-type", "", "object type, e.g. customer")
	cmd.Flags().StringVar(&attributes, "attributes", "", "record attributes as a JSON object")
	for _, f := range []string{"source-system", "source-id", "object-type"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}
