package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facecheck/pkg/checker"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/storage"
)

var importRosterCmd = &cobra.Command{
	Use:   "import-roster <organization> <people.yaml>",
	Short: "Replace the roster of an organization",
	Long: `Read a people file and store it as the roster of the organization,
creating the organization if needed. The file has the same layout as the
people.yaml of the file backend. Image references are stored as written.`,
	Args: cobra.ExactArgs(2),
	RunE: runImportRoster,
}

var orgsCmd = &cobra.Command{
	Use:   "orgs",
	Short: "List the known organizations",
	Args:  cobra.NoArgs,
	RunE:  runOrgs,
}

func init() {
	rootCmd.AddCommand(importRosterCmd)
	rootCmd.AddCommand(orgsCmd)

	orgsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runImportRoster(cmd *cobra.Command, args []string) error {
	orgID, path := args[0], args[1]

	people, err := storage.ReadRosterFile(path)
	if err != nil {
		return err
	}

	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	stores, err := checker.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	if err := stores.Roster.SavePeople(ctx, orgID, people); err != nil {
		return err
	}
	logging.WithFields(logging.Fields{"org": orgID, "people": len(people)}).Info("Roster imported")
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d people into %s\n", len(people), orgID)
	return nil
}

func runOrgs(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	stores, err := checker.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	orgs, err := stores.Roster.Organizations(ctx)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(cmd.OutOrStdout(), orgs)
	}
	for _, org := range orgs {
		fmt.Fprintln(cmd.OutOrStdout(), org)
	}
	return nil
}
