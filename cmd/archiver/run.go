package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agencyops/ledger-archive/archive"
	"github.com/agencyops/ledger-archive/ledger"
	"github.com/agencyops/ledger-archive/logger"
)

var runCmd = &cobra.Command{
	Use:   "run <job>",
	Short: "Invoke one archive job and print its manifest",
	Long: `Invoke one archive job. The job's date gate applies: off its day the
job is skipped and the manifest says so.

Jobs:
  monthly_registers      Archive caisses and bank accounts, zero the caisses
  monthly_transactions   Snapshot, archive and purge last month's transactions
  annual_invoices        Archive and purge last year's invoices

Exit status is 1 only when the run failed as a whole. A partially
failed run exits 0; inspect the manifest's failed count.`,
	Example: `  # Run the registers job for today
  archiver run monthly_registers

  # Backfill as if today were March 1st 2025
  archiver run monthly_transactions --date 2025-03-01`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: jobNames(),
	RunE:      runJob,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("date", "", "Run as if today were this date (format: YYYY-MM-DD, default: today)")
}

func jobNames() []string {
	var names []string
	for _, k := range archive.JobKinds() {
		names = append(names, string(k))
	}
	return names
}

func runJob(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("run")

	kind, err := archive.ParseJobKind(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	d, err := openDeps(ctx, cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	now := d.runner.Now()
	if s, _ := cmd.Flags().GetString("date"); s != "" {
		date, err := ledger.ParseDate(s)
		if err != nil {
			return fmt.Errorf("invalid date, use YYYY-MM-DD: %w", err)
		}
		now = time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, now.Location())
	}

	log.Info().
		Str("job", string(kind)).
		Str("date", ledger.DateOf(now).String()).
		Msg("Running job")

	m, runErr := d.runner.RunAt(ctx, kind, now)

	// stdout carries only the manifest; logs go to LOG_OUTPUT.
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return err
	}
	return runErr
}
