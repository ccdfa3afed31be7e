package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agencyops/ledger-archive/archive"
	"github.com/agencyops/ledger-archive/blob"
	"github.com/agencyops/ledger-archive/config"
	"github.com/agencyops/ledger-archive/logger"
	"github.com/agencyops/ledger-archive/store/sqlite"
)

var version = "1.0.0"

// cfg is set by main before any command runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "archiver",
	Short: "Periodic archival of caisses, bank accounts, transactions and invoices",
	Long: `archiver snapshots the agency ledger at period boundaries.

Monthly jobs archive cash registers and bank accounts, and archive then
purge the previous month's transactions. The annual job archives then
purges the previous year's invoices. Every job is idempotent per period.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides DATABASE_PATH)")
}

// deps is what every command needs to talk to the ledger.
type deps struct {
	store  *sqlite.Store
	blobs  blob.Store
	runner *archive.Runner
}

func (d *deps) Close() error { return d.store.Close() }

func openDeps(ctx context.Context, cmd *cobra.Command) (*deps, error) {
	dbPath := cfg.DatabasePath
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		dbPath = p
	}

	store, err := sqlite.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	blobs, err := blob.New(ctx, cfg.GetBlobConfig())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	months, err := archive.MonthNamesFor(cfg.Locale)
	if err != nil {
		store.Close()
		return nil, err
	}

	runnerLog := logger.WithComponent("runner")
	runner := archive.NewRunner(store, blobs, archive.Options{
		Location:     cfg.Location(),
		Workers:      cfg.Workers,
		StoreTimeout: cfg.StoreTimeout,
		LockTTL:      cfg.LockTTL,
		Months:       months,
		Logger:       &runnerLog,
	})
	return &deps{store: store, blobs: blobs, runner: runner}, nil
}
