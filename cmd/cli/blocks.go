package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var blocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "Manage temporary blocks",
}

var blocksGetCmd = &cobra.Command{
	Use:   "get <type> <identifier>",
	Short: "Show the active block for an identifier",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("GET", fmt.Sprintf("/admin/v1/blocks/%s/%s", args[0], args[1]), nil)
	},
}

var blocksCreateCmd = &cobra.Command{
	Use:   "create <type> <identifier>",
	Short: "Apply a temporary block",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetInt("duration")
		reason, _ := cmd.Flags().GetString("reason")
		return call("POST", "/admin/v1/blocks", map[string]interface{}{
			"type":             args[0],
			"identifier":       args[1],
			"duration_seconds": duration,
			"reason":           reason,
		})
	},
}

var blocksRemoveCmd = &cobra.Command{
	Use:   "remove <type> <identifier>",
	Short: "Release a block early",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("DELETE", fmt.Sprintf("/admin/v1/blocks/%s/%s", args[0], args[1]), nil)
	},
}

var apikeyStatsCmd = &cobra.Command{
	Use:   "apikey-stats <key-id>",
	Short: "Show aggregated usage for an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		return call("GET", fmt.Sprintf("/admin/v1/apikeys/%s/stats?days=%d", args[0], days), nil)
	},
}

func init() {
	blocksCreateCmd.Flags().Int("duration", 900, "Block duration in seconds")
	blocksCreateCmd.Flags().String("reason", "administrative block", "Block reason")
	apikeyStatsCmd.Flags().Int("days", 7, "Number of days to aggregate")

	blocksCmd.AddCommand(blocksGetCmd, blocksCreateCmd, blocksRemoveCmd)
	rootCmd.AddCommand(blocksCmd, apikeyStatsCmd)
}
