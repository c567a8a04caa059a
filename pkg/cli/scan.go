package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/golden-engine/pkg/models"
	"github.com/ekaya-inc/golden-engine/pkg/services"
)

func newScanCommand(opts *rootOptions) *cobra.Command {
	var (
		sourceRef   string
		metricsFile string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Profile registered source databases",
		Long: `Scan profiles every active registered source (or one, with --source),
records one scan run per source, stores table and column profiles, and
upserts object candidates. Failures are isolated per table and per source.`,
		GroupID: "core",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, opts, func(ctx context.Context, a *app) error {
				var (
					summary *services.ScanSummary
					err     error
				)
				if sourceRef != "" {
					summary, err = scanOne(ctx, a, sourceRef)
				} else {
					summary, err = a.scanner.ScanAllRegisteredSources(ctx)
				}

				if metricsFile != "" {
					if werr := a.metrics.WriteTextfile(metricsFile); werr != nil {
						a.logger.Error("Failed to write metrics file", zap.Error(werr))
					}
				}
				if err != nil {
					return err
				}

				if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
					return err
				}
				if summary.FailedSources > 0 {
					return fmt.Errorf("%d of %d sources failed", summary.FailedSources, len(summary.Sources))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&sourceRef, "source", "", "scan only this source (id or name)")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write prometheus metrics to this textfile when done")
	cmd.AddCommand(newScanShowCommand(opts))
	return cmd
}

func newScanShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show a scan run and the table profiles it stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id %q: %w", args[0], err)
			}
			return runWithApp(cmd, opts, func(ctx context.Context, a *app) error {
				report, err := a.scanner.ShowRun(ctx, runID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func scanOne(ctx context.Context, a *app, ref string) (*services.ScanSummary, error) {
	reg, err := lookupSource(ctx, a, ref)
	if err != nil {
		return nil, err
	}
	result, err := a.scanner.ScanSource(ctx, reg)
	if result == nil {
		return nil, err
	}
	summary := &services.ScanSummary{Sources: []*services.SourceScanResult{result}}
	if result.Failed() {
		summary.FailedSources = 1
	}
	return summary, nil
}

// lookupSource accepts a registration id or name.
func lookupSource(ctx context.Context, a *app, ref string) (*models.SourceRegistration, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return a.sources.Get(ctx, id)
	}
	return a.sources.GetByName(ctx, ref)
}
