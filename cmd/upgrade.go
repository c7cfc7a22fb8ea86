package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is stamped by the release build via -ldflags.
var version = "dev"

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Show how to upgrade to the latest release",
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput {
			return printJSON(map[string]string{"version": version})
		}
		fmt.Printf("rv %s\n", version)
		fmt.Println("upgrade with: go install github.com/charliemeyer2000/rv@latest")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(upgradeCmd)
}
