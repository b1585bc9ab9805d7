package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facecheck/pkg/attendance"
	"github.com/MrCodeEU/facecheck/pkg/checker"
)

var runCmd = &cobra.Command{
	Use:   "run <organization>",
	Short: "Run an attendance check for an organization",
	Long: `Match every person of the organization against its gallery, record who
was present and print the summary.

Examples:
  # Check everybody
  facecheck run acme

  # Check two people only, by id or full name
  facecheck run acme --person p-17 --person "Ada Lovelace"

  # Output as JSON
  facecheck run acme --json`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSlice("person", nil, "Only check these people (id or full name)")
	runCmd.Flags().Int("workers", 0, "Number of parallel workers (0 = configured)")
	runCmd.Flags().Bool("json", false, "Output as JSON")
	runCmd.Flags().Bool("no-progress", false, "Disable the progress bar")
}

func runRun(cmd *cobra.Command, args []string) error {
	orgID := args[0]
	jsonOutput := mustGetBool(cmd, "json")
	showProgress := !jsonOutput && !mustGetBool(cmd, "no-progress")

	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	c, err := checker.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	opts := attendance.RunOptions{
		PersonIDs: mustGetStringSlice(cmd, "person"),
		Workers:   mustGetInt(cmd, "workers"),
	}
	var bar *progressbar.ProgressBar
	if showProgress {
		opts.OnStart = func(total int) { bar = newProgressBar(total) }
		opts.OnPerson = func(attendance.PersonAttendanceResult) { _ = bar.Add(1) }
	}

	result, err := c.Run(ctx, orgID, opts)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return withOrgHint(err, orgID)
	}

	if jsonOutput {
		return outputJSON(cmd.OutOrStdout(), result)
	}
	printRunResult(cmd.OutOrStdout(), result)
	return nil
}

// interruptContext cancels on Ctrl+C or SIGTERM.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newProgressBar(count int) *progressbar.ProgressBar {
	return progressbar.NewOptions(count,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Checking people"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("people"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}

func printRunResult(w io.Writer, r *attendance.RunResult) {
	s := r.Summary
	fmt.Fprintf(w, "Attendance run %s (%s)\n\n", r.RunID, r.OrgID)
	fmt.Fprintf(w, "  Checked:         %d\n", s.Checked)
	fmt.Fprintf(w, "  Present:         %d\n", s.Present)
	fmt.Fprintf(w, "  Absent:          %d\n", s.Absent)
	fmt.Fprintf(w, "  Attendance:      %.2f%%\n", s.AttendanceRate)
	fmt.Fprintf(w, "  Duration:        %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))

	fmt.Fprintln(w, "\nPeople:")
	for _, p := range r.People {
		status := "absent"
		if p.IsPresent {
			status = "present"
		}
		line := fmt.Sprintf("  %-8s %s", status, p.DisplayName)
		if len(p.AcceptedMatches) > 0 {
			ids := make([]string, len(p.AcceptedMatches))
			for i, m := range p.AcceptedMatches {
				ids[i] = m.GalleryEntryID
			}
			line += " [" + strings.Join(ids, ", ") + "]"
		}
		if p.Error != "" {
			line += " (error: " + p.Error + ")"
		}
		fmt.Fprintln(w, line)
	}

	if len(s.UnidentifiedGalleryIDs) > 0 {
		fmt.Fprintf(w, "\nUnidentified gallery faces: %s\n", strings.Join(s.UnidentifiedGalleryIDs, ", "))
	}
}

func outputJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
