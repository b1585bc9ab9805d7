package main

import (
	"fmt"
	"io"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facecheck/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		printConfig(cmd.OutOrStdout(), cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "facecheck %s\n", Version)
		fmt.Fprintf(w, "  Commit: %s\n", CommitSHA)
		fmt.Fprintf(w, "  Built:  %s\n", BuildDate)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func printConfig(w io.Writer, c *config.Config) {
	fmt.Fprintln(w, "Current Configuration:")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Recognition:")
	fmt.Fprintf(w, "  Model Path:      %s\n", c.Recognition.ModelPath)
	fmt.Fprintf(w, "  Max Image Size:  %d\n", c.Recognition.MaxImageSize)
	fmt.Fprintf(w, "  Primary:         %s/%s\n", c.Recognition.Primary.Detector, c.Recognition.Primary.Metric)
	fmt.Fprintf(w, "  Secondary:       %s/%s\n", c.Recognition.Secondary.Detector, c.Recognition.Secondary.Metric)

	fmt.Fprintln(w, "\nThresholds:")
	fmt.Fprintf(w, "  First:           %.2f\n", c.Thresholds.First)
	fmt.Fprintf(w, "  Second:          %.2f\n", c.Thresholds.Second)
	fmt.Fprintf(w, "  Gray Zone Lower: %.2f\n", c.Thresholds.GrayZoneLower)
	fmt.Fprintf(w, "  Enhanced:        %.2f\n", c.Thresholds.Enhanced)

	fmt.Fprintln(w, "\nEnsemble:")
	for _, v := range c.Ensemble.Variants {
		source := v.Detector + "/" + v.Metric
		if v.Kind == config.KindPerceptual {
			source = v.Hash
		}
		negative := v.Negative
		if negative == "" {
			negative = "clamp"
		}
		fmt.Fprintf(w, "  %-16s %-11s %-16s weight %.2f, negative %s\n", v.Name+":", v.Kind, source, v.Weight, negative)
	}

	fmt.Fprintln(w, "\nGeometry:")
	fmt.Fprintf(w, "  Enabled:         %t\n", c.Geometry.Enabled)
	if c.Geometry.Enabled {
		fmt.Fprintf(w, "  Detector:        %s\n", c.Geometry.Detector)
		fmt.Fprintf(w, "  Threshold:       %.2f\n", c.Geometry.Threshold)
		fmt.Fprintf(w, "  On Enhanced:     %t\n", c.Geometry.ApplyToEnhanced)
	}

	fmt.Fprintln(w, "\nReconciler:")
	fmt.Fprintf(w, "  Workers:         %d\n", c.Reconciler.Workers)
	fmt.Fprintf(w, "  Fetch Timeout:   %d seconds\n", c.Fetch.TimeoutSeconds)

	fmt.Fprintln(w, "\nStorage:")
	fmt.Fprintf(w, "  Backend:         %s\n", c.Storage.Backend)
	fmt.Fprintf(w, "  Data Dir:        %s\n", c.Storage.DataDir)
	if c.Storage.Backend == config.BackendPostgres {
		fmt.Fprintf(w, "  Database:        %s\n", redactURL(c.Storage.Database.URL))
	} else {
		fmt.Fprintf(w, "  Encryption:      %t\n", c.Storage.EncryptionEnabled)
	}

	fmt.Fprintln(w, "\nLogging:")
	fmt.Fprintf(w, "  Level:           %s\n", c.Logging.Level)
	fmt.Fprintf(w, "  Format:          %s\n", c.Logging.Format)
	fmt.Fprintf(w, "  File:            %s\n", c.Logging.File)
}

// redactURL hides the password of a connection URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
