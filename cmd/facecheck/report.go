package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facecheck/pkg/checker"
)

var reportCmd = &cobra.Command{
	Use:   "report <organization>",
	Short: "Show the recorded attendance of an organization",
	Long: `Print the last recorded presence of every person together with the
number of days they were seen. Does not load the recognition models.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().Bool("json", false, "Output as JSON")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	stores, err := checker.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	report, err := checker.BuildReport(ctx, args[0], stores.People, stores.History, stores.Runs)
	if err != nil {
		return withOrgHint(err, args[0])
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(cmd.OutOrStdout(), report)
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

func printReport(w io.Writer, r *checker.Report) {
	fmt.Fprintf(w, "Attendance of %s\n\n", r.OrgID)
	fmt.Fprintf(w, "  People:          %d\n", len(r.People))
	fmt.Fprintf(w, "  Checked:         %d\n", r.Checked)
	fmt.Fprintf(w, "  Present:         %d\n", r.Present)
	fmt.Fprintf(w, "  Attendance:      %.2f%%\n", r.AttendanceRate)
	if r.LastRun != nil {
		fmt.Fprintf(w, "  Last Run:        %s (%s)\n", r.LastRun.StartedAt.Local().Format(time.DateTime), r.LastRun.RunID)
	}
	if len(r.People) == 0 {
		return
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tLAST SEEN\tDAYS")
	for _, p := range r.People {
		status, lastSeen, days := "unchecked", "-", 0
		if p.Record != nil {
			status = "absent"
			if p.Present {
				status = "present"
			}
			if !p.Record.LastSeen.IsZero() {
				lastSeen = p.Record.LastSeen.Local().Format(time.DateTime)
			}
			days = p.Record.TotalDays()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", p.Person.ID, p.Person.FullName(), status, lastSeen, days)
	}
	_ = tw.Flush()
}
