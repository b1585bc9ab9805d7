// Command facecheck runs attendance checks: it matches every person of an
// organization against the faces found in the organization's gallery.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facecheck/pkg/attendance"
	"github.com/MrCodeEU/facecheck/pkg/config"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/match"
	"github.com/MrCodeEU/facecheck/pkg/recognition"
	"github.com/MrCodeEU/facecheck/pkg/storage"
)

// Build metadata, set by -ldflags at compile time.
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildDate = "unknown"
)

// Exit codes:
//
//	0 = success (for check: person present)
//	1 = failure (for check: person absent)
//	2 = bad input (unknown organization, person, empty gallery or roster)
//	3 = system error (storage, models, configuration)
//	130 = interrupted
const (
	exitOK        = 0
	exitFailure   = 1
	exitBadInput  = 2
	exitSystem    = 3
	exitInterrupt = 130
)

var (
	configFile string
	debug      bool
	cfg        *config.Config
)

// errNotPresent marks a check whose person was not found in the gallery.
var errNotPresent = errors.New("person not present")

var rootCmd = &cobra.Command{
	Use:   "facecheck",
	Short: "Face-match attendance checks",
	Long: `facecheck decides which people of an organization appear in its gallery
of event photos. Each person's reference image is compared with every gallery
face by a two-stage cascade, an ensemble of independent scorers for gray-zone
pairs and a geometric veto on landmark structure.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func main() {
	os.Exit(execute(context.Background()))
}

func execute(ctx context.Context) int {
	cmd, err := rootCmd.ExecuteContextC(ctx)
	code := exitCode(err)
	if err != nil && !errors.Is(err, errNotPresent) {
		name := rootCmd.Name()
		if cmd != nil {
			name = cmd.Name()
		}
		logging.WithError(err).Errorf("Command '%s' failed", name)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return code
}

// setup loads the environment and configuration and initializes logging.
func setup(_ *cobra.Command, _ []string) error {
	// .env file is optional
	_ = godotenv.Load()

	var err error
	if configFile != "" {
		cfg, err = config.Load(configFile)
		if err != nil {
			return err
		}
	} else {
		cfg, err = config.LoadDefault()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
			cfg = config.DefaultConfig()
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	cfg.ExpandPaths()

	if err := logging.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	if debug {
		logging.SetLevel("debug")
	}
	if err := logging.SetFormat(cfg.Logging.Format); err != nil {
		return err
	}

	logging.Debugf("facecheck %s starting, data dir: %s", Version, cfg.Storage.DataDir)
	return nil
}

// exitCode maps a command error onto the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		return exitInterrupt
	case errors.Is(err, errNotPresent):
		return exitFailure
	case errors.Is(err, attendance.ErrUnknownOrganization),
		errors.Is(err, attendance.ErrPersonNotFound),
		errors.Is(err, attendance.ErrEmptyGallery),
		errors.Is(err, attendance.ErrNoPeople),
		errors.Is(err, storage.ErrInvalidOrganization):
		return exitBadInput
	case errors.Is(err, storage.ErrStorageAccess),
		errors.Is(err, storage.ErrEncryption),
		errors.Is(err, recognition.ErrModelNotLoaded),
		errors.Is(err, match.ErrInvalidThresholds),
		errors.Is(err, match.ErrInvalidWeights):
		return exitSystem
	default:
		return exitFailure
	}
}

// withOrgHint names the expected organization directory of the file backend.
func withOrgHint(err error, orgID string) error {
	if err == nil || cfg == nil || cfg.Storage.Backend != config.BackendFile ||
		!errors.Is(err, attendance.ErrUnknownOrganization) {
		return err
	}
	return fmt.Errorf("%w (expected directory %s)", err, cfg.OrgDir(orgID))
}
