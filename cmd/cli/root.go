// Package cli implements the searchguard-admin command line tool. Every
// command is a thin client for the service's administrative HTTP API.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverAddr string
	adminToken string
)

var rootCmd = &cobra.Command{
	Use:   "searchguard-admin",
	Short: "Administer the SearchGuard rate limiting service",
	Long: `searchguard-admin performs administrative tasks against a running
SearchGuard instance: inspecting and resetting quota counters, managing
temporary blocks and replacing the policy table at runtime.`,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "http://localhost:8080", "SearchGuard server address")
	rootCmd.PersistentFlags().StringVar(&adminToken, "token", os.Getenv("SEARCHGUARD_ADMIN_TOKEN"), "Admin API token")
}
