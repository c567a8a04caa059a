// Package cli wires the engine's services into the golden-engine command tree.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
	version    string
}

// NewRootCommand builds the golden-engine command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{version: version}

	root := &cobra.Command{
		Use:   "golden-engine",
		Short: "Entity resolution engine",
		Long: `golden-engine profiles registered source databases and folds records
that describe the same real-world entity into golden objects, keyed by
fingerprints computed from configurable identity rules.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default config.yaml, optional)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")

	root.AddGroup(
		&cobra.Group{ID: "core", Title: "Core Commands:"},
		&cobra.Group{ID: "management", Title: "Management Commands:"},
	)

	root.AddCommand(
		newMigrateCommand(opts),
		newScanCommand(opts),
		newMatchCommand(opts),
		newResolveCommand(opts),
		newObjectsCommand(opts),
		newRulesCommand(opts),
		newSourcesCommand(opts),
	)
	return root
}

// Execute runs the command tree with args.
func Execute(ctx context.Context, version string, args []string) error {
	root := NewRootCommand(version)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// runWithApp builds the app for the duration of fn.
func runWithApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
