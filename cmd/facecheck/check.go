package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facecheck/pkg/attendance"
	"github.com/MrCodeEU/facecheck/pkg/checker"
	"github.com/MrCodeEU/facecheck/pkg/match"
)

var checkCmd = &cobra.Command{
	Use:   "check <organization> <person>",
	Short: "Check a single person and show every gallery comparison",
	Long: `Match one person against the gallery and print the per-face scores,
ensemble and geometry verdicts. The person is given by id or full name.
Exits with 0 when the person is present and 1 when absent.

Examples:
  facecheck check acme p-17
  facecheck check acme "Ada Lovelace" --json`,
	Args: cobra.ExactArgs(2),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().Bool("json", false, "Output as JSON")
}

// checkOutput is the JSON form of a single person check.
type checkOutput struct {
	Result attendance.PersonAttendanceResult `json:"result"`
	Report *match.Report                     `json:"report,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	orgID, person := args[0], args[1]

	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	c, err := checker.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.Check(ctx, orgID, person)
	if err != nil {
		return withOrgHint(err, orgID)
	}
	if len(result.People) != 1 {
		return fmt.Errorf("expected one checked person, got %d", len(result.People))
	}
	p := result.People[0]

	if mustGetBool(cmd, "json") {
		if err := outputJSON(cmd.OutOrStdout(), checkOutput{Result: p, Report: p.Report}); err != nil {
			return err
		}
	} else {
		printCheck(cmd.OutOrStdout(), p)
	}

	if !p.IsPresent {
		return errNotPresent
	}
	return nil
}

func printCheck(w io.Writer, p attendance.PersonAttendanceResult) {
	status := "ABSENT"
	if p.IsPresent {
		status = "PRESENT"
	}
	fmt.Fprintf(w, "%s: %s\n", p.DisplayName, status)
	if p.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", p.Error)
	}
	if p.Report == nil || len(p.Report.Evaluations) == 0 {
		return
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GALLERY\tPRIMARY\tSECONDARY\tCOMPOSITE\tCLASS\tENSEMBLE\tGEOMETRY\tRESULT")
	for _, ev := range p.Report.Evaluations {
		fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.3f\t%s\t%s\t%s\t%s\n",
			ev.GalleryEntryID,
			ev.Sample.PrimaryScore,
			ev.Sample.SecondaryScore,
			ev.Sample.CompositeScore,
			ev.Sample.Classification,
			ensembleColumn(ev.Enhanced),
			geometryColumn(ev.Geometry),
			resultColumn(ev),
		)
	}
	_ = tw.Flush()
}

func ensembleColumn(e *match.EnhancedResult) string {
	if e == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", e.Composite)
}

func geometryColumn(g *match.GeometryVerdict) string {
	if g == nil {
		return "-"
	}
	if g.Status == match.GeometryMatch || g.Status == match.GeometryNoMatch {
		return fmt.Sprintf("%s (%.3f)", g.Status, g.Similarity)
	}
	return g.Status.String()
}

func resultColumn(ev match.Evaluation) string {
	switch {
	case ev.Vetoed:
		return "vetoed"
	case ev.Accepted:
		return "accepted (" + string(ev.AcceptedBy) + ")"
	default:
		return "rejected"
	}
}
