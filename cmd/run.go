package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"landrecord-extractor/extractor"
	"landrecord-extractor/internal/app"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <portal> [portal...]",
		Short: "Search a portal and retrieve every document in the results",
		Long: `Run logs into each portal in turn, submits the configured search, walks all
result pages and retrieves the document behind each row. The run report is
printed as JSON on stdout.

Examples:
  # Default search (portal document types, first of the month to today)
  landrecord run fairfax

  # Two portals, JSON export, visible browser
  landrecord run fairfax loudoun --format json --headless=false`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRunCmd,
	}

	cmd.Flags().StringP("output", "o", "", "Output directory for exports and documents")
	cmd.Flags().StringP("format", "f", "", "Export format: csv or json")
	cmd.Flags().Bool("headless", true, "Run the browser headless")
	cmd.Flags().Bool("raster-to-pdf", false, "Also wrap converted TIFF pages into a PDF")

	return cmd
}

func runRunCmd(cmd *cobra.Command, args []string) error {
	a, logger, err := newApp(cmd)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, a); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reports []*extractor.RunReport
	var failed []string
	for _, portal := range args {
		report, err := a.Run(ctx, portal, nil)
		if err != nil {
			logger.Errorf("%s run failed: %v", portal, err)
			failed = append(failed, portal)
		}
		if report != nil {
			reports = append(reports, report)
		}
		if ctx.Err() != nil {
			break
		}
	}

	out, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run reports: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if ctx.Err() != nil {
		return errors.New("interrupted")
	}
	if len(failed) > 0 {
		return fmt.Errorf("runs failed: %v", failed)
	}
	return nil
}

// applyRunFlags layers explicitly set flags over the file settings.
func applyRunFlags(cmd *cobra.Command, a *app.App) error {
	flags := cmd.Flags()
	if flags.Changed("output") {
		a.Config.OutputDir, _ = flags.GetString("output")
	}
	if flags.Changed("format") {
		a.Config.OutputFormat, _ = flags.GetString("format")
	}
	if flags.Changed("headless") {
		a.Config.Headless, _ = flags.GetBool("headless")
	}
	if flags.Changed("raster-to-pdf") {
		a.Config.RasterToPDF, _ = flags.GetBool("raster-to-pdf")
	}
	if err := a.Config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
