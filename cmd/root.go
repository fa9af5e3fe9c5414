package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"landrecord-extractor/internal/app"
	"landrecord-extractor/internal/types"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "landrecord",
		Short: "Retrieve recorded documents from county land-record portals",
		Long: `landrecord logs into a county land-record portal, runs a recorded-document
search, walks every page of results and saves each document image next to a
CSV or JSON export of the result table.

Portal settings live in portals.yaml (current directory or the user config
directory). Credentials are taken from environment variables, by default
<PORTAL>_USERNAME and <PORTAL>_PASSWORD.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringP("config", "c", "", "Path to portals.yaml")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewProbeCmd())
	cmd.AddCommand(NewPortalsCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newApp builds the application from the persistent flags.
func newApp(cmd *cobra.Command) (*app.App, *logrus.Logger, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	configPath, _ := cmd.Flags().GetString("config")

	logger := app.NewLogger(verbose)
	a, err := app.New(configPath, types.DefaultConfig(), logger)
	if err != nil {
		return nil, nil, err
	}
	return a, logger, nil
}

// NewPortalsCmd creates the portals command.
func NewPortalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "portals",
		Short: "List supported portals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := newApp(cmd)
			if err != nil {
				return err
			}
			for _, name := range a.Portals() {
				pc := a.File.Portal(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s credentials: $%s / $%s\n", name, pc.UsernameEnv, pc.PasswordEnv)
			}
			return nil
		},
	}
}
