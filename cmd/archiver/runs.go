package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent job run records",
	RunE:  listRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.Flags().String("job", "", "Only show runs of this job")
	runsCmd.Flags().Int("limit", 20, "Maximum number of runs to show")
}

func listRuns(cmd *cobra.Command, args []string) error {
	job, _ := cmd.Flags().GetString("job")
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		return fmt.Errorf("limit must be positive")
	}

	d, err := openDeps(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	runs, err := d.store.ListJobRuns(cmd.Context(), job, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tJOB\tPERIOD\tSTATE\tARCHIVED\tFAILED\tALREADY")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			r.StartedAt.Format("2006-01-02 15:04:05"), r.JobKind, r.PeriodKey, r.State,
			r.Archived, r.Failed, r.AlreadyArchived)
	}
	return w.Flush()
}
