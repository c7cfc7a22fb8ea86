package cmd

import (
	"fmt"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Show service-unit balances and storage quotas",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		// both queries are best-effort: auxiliary scheduler commands
		// misbehave routinely and must not break the tool
		allocs := sess.client.ListAllocations(cmd.Context())
		quotas := sess.client.ListQuotas(cmd.Context())

		if jsonOutput {
			return printJSON(map[string]interface{}{"allocations": allocs, "quotas": quotas})
		}

		if len(allocs) == 0 {
			fmt.Println("no allocation data available")
		} else {
			fmt.Printf("%-20s %12s %12s %12s\n", "ACCOUNT", "BALANCE", "RESERVED", "AVAILABLE")
			for _, a := range allocs {
				fmt.Printf("%-20s %12s %12s %12s\n", a.Account,
					humanize.CommafWithDigits(a.Balance, 0),
					humanize.CommafWithDigits(a.Reserved, 0),
					humanize.CommafWithDigits(a.Available, 0))
			}
		}
		if len(quotas) > 0 {
			fmt.Printf("\n%-16s %-30s %10s\n", "KIND", "PATH", "USED")
			for _, q := range quotas {
				fmt.Printf("%-16s %-30s %9.1fG\n", q.Kind, q.Path, q.SizeGB)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(costCmd)
}
