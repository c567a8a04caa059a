package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/golden-engine/pkg/services"
)

func newRulesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rules",
		Short:   "Manage identity rules",
		GroupID: "management",
	}
	cmd.AddCommand(
		newRulesImportCommand(opts),
		newRulesListCommand(opts),
		newRulesDeactivateCommand(opts),
	)
	return cmd
}

func newRulesImportCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Create or replace identity rules from a YAML file",
		Example: `  # rules.yaml
  rules:
    - rule_id: rule-customer-default
      rule_name: Customer email and phone
      object_type: customer
      source_system: crm
      key_fields: [email, phone]
      normalization_rules:
        email: lowercase
        phone: digits_only`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := services.LoadRulesFile(args[0])
			if err != nil {
				return err
			}
			return runWithApp(cmd, opts, func(ctx context.Context, a *app) error {
				n, err := a.rules.Import(ctx, rules)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d rules\n", n)
				return nil
			})
		},
	}
}

func newRulesListCommand(opts *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List identity rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, opts, func(ctx context.Context, a *app) error {
				rules, err := a.rules.List(ctx, all)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rules)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include inactive rules")
	return cmd
}

func newRulesDeactivateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate RULE_ID",
		Short: "Deactivate an identity rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts, func(ctx context.Context, a *app) error {
				return a.rules.Deactivate(ctx, args[0])
			})
		},
	}
}
