package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Inspect and update the policy table",
}

var limitsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the current policy table",
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("GET", "/admin/v1/limits", nil)
	},
}

var limitsSetCmd = &cobra.Command{
	Use:   "set <table.json>",
	Short: "Replace the policy table from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var table map[string]interface{}
		if err := json.Unmarshal(raw, &table); err != nil {
			return fmt.Errorf("invalid table file: %w", err)
		}
		return call("PUT", "/admin/v1/limits", table)
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show current quota counters for an identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := url.Values{}
		addQuery(cmd, query, "user", "user_id")
		addQuery(cmd, query, "session", "session_id")
		addQuery(cmd, query, "ip", "ip_address")
		if len(query) == 0 {
			return fmt.Errorf("at least one of --user, --session, --ip is required")
		}
		return call("GET", "/admin/v1/usage?"+query.Encode(), nil)
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset quota counters for an identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		session, _ := cmd.Flags().GetString("session")
		ip, _ := cmd.Flags().GetString("ip")
		if user == "" && session == "" && ip == "" {
			return fmt.Errorf("at least one of --user, --session, --ip is required")
		}
		return call("POST", "/admin/v1/reset", map[string]string{
			"user_id":    user,
			"session_id": session,
			"ip_address": ip,
		})
	},
}

func addQuery(cmd *cobra.Command, query url.Values, flag, param string) {
	if v, _ := cmd.Flags().GetString(flag); v != "" {
		query.Set(param, v)
	}
}

func init() {
	limitsCmd.AddCommand(limitsGetCmd, limitsSetCmd)
	rootCmd.AddCommand(limitsCmd)

	for _, cmd := range []*cobra.Command{usageCmd, resetCmd} {
		cmd.Flags().String("user", "", "User ID")
		cmd.Flags().String("session", "", "Session ID")
		cmd.Flags().String("ip", "", "IP address")
		rootCmd.AddCommand(cmd)
	}
}
