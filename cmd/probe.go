package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewProbeCmd creates the probe command.
func NewProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <portal>",
		Short: "Check which portal locators resolve against the live site",
		Long: `Probe opens the portal login page and reports whether each configured
locator is present. With --login it also signs in and checks the session and
search surfaces. Nothing is searched or downloaded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := newApp(cmd)
			if err != nil {
				return err
			}
			login, _ := cmd.Flags().GetBool("login")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			results, err := a.Probe(ctx, args[0], login)
			for _, r := range results {
				mark := "ok"
				if !r.Found {
					mark = "MISSING"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %-8s %-16s %s\n", mark, r.Surface, r.Element, r.Query)
			}
			return err
		},
	}
	cmd.Flags().Bool("login", false, "Sign in with the portal credentials and probe the search page")
	return cmd
}
