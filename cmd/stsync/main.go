// Command stsync copies records one way from a Production tenant into an
// Integration sandbox: pricebook items, purchase orders (with their vendor,
// warehouse, and material dependencies), and jobs.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/natserract/stsync/pkg/auth"
	"github.com/natserract/stsync/pkg/config"
	"github.com/natserract/stsync/pkg/crosswalk"
	"github.com/natserract/stsync/pkg/entities"
	"github.com/natserract/stsync/pkg/httpclient"
	"github.com/natserract/stsync/pkg/syncer"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	Verbose    bool
	ConfigPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "stsync",
		Short:         "Prod → Integration record copier (items, POs, jobs)",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", entities.DefaultPath, "path to the entity endpoint config")

	cmd.AddCommand(newVerifyCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newCopyPOCommand(opts))

	return cmd
}

func newVerifyCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check env, config, and authenticate to both environments",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, logger, err := setup(opts)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if err := s.Verify(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Setup verified: environment, config, and both authentications OK")
			return nil
		},
	}
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	var (
		since  string
		limit  int
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:       "sync <kind>",
		Short:     "Copy records from Prod to Integration for an entity kind",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"items", "pos", "jobs"},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, logger, err := setup(opts)
			if err != nil {
				return err
			}
			defer logger.Sync()

			summary, runErr := s.Run(cmd.Context(), args[0], syncer.Options{
				Since:  since,
				Limit:  limit,
				DryRun: dryRun,
			})
			printSummary(summary)
			return runErr
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "ISO date filter (e.g. 2025-08-01)")
	cmd.Flags().IntVar(&limit, "limit", 0, "max records; 0 = unlimited")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log payloads; don't create anything")

	return cmd
}

func newCopyPOCommand(opts *rootOptions) *cobra.Command {
	var (
		poID               string
		defaultWarehouseID int64
		dryRun             bool
	)

	cmd := &cobra.Command{
		Use:   "copy-po",
		Short: "Copy a single purchase order by Production id",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, logger, err := setup(opts)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if err := s.CopyPurchaseOrder(cmd.Context(), poID, defaultWarehouseID, syncer.Options{DryRun: dryRun}); err != nil {
				return err
			}
			if !dryRun {
				fmt.Printf("Copied Production PO %s to Integration\n", poID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&poID, "id", "", "Production PO id to copy")
	cmd.Flags().Int64Var(&defaultWarehouseID, "default-warehouse-id", 0, "fallback Integration warehouse id if the source warehouse is missing")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log payloads; don't create anything")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

// setup wires the full stack: settings, entity config, crosswalk store,
// HTTP client, and auth provider. All of its failures are configuration
// errors and abort before any network activity.
func setup(opts *rootOptions) (*syncer.Syncer, *zap.Logger, error) {
	logger, err := newLogger(opts.Verbose)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	settings, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	ents, err := entities.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}

	store, err := crosswalk.Open(settings.DBPath, logger)
	if err != nil {
		return nil, nil, err
	}

	client := httpclient.NewClient(settings, logger)
	provider := auth.NewProvider(settings, client, logger)

	return syncer.New(settings, ents, client, provider, store, logger), logger, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	return cfg.Build()
}

func printSummary(sum *syncer.Summary) {
	if sum == nil {
		return
	}
	fmt.Println("\nSync Summary:")
	fmt.Printf("  Run:       %s\n", sum.RunID)
	fmt.Printf("  Processed: %d\n", sum.Processed)
	fmt.Printf("  Created:   %d\n", sum.Created)
	fmt.Printf("  Skipped:   %d\n", sum.Skipped)
	fmt.Printf("  Errors:    %d\n", sum.Errors)
	fmt.Printf("  Duration:  %s\n", sum.Duration.Round(time.Millisecond))
	if sum.DryRun {
		fmt.Println("DRY RUN - no records were actually created")
	}
}
