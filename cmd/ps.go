package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List your live jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		jobs, err := sess.client.ListJobs(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(jobs)
		}
		if len(jobs) == 0 {
			fmt.Println("no jobs")
			return nil
		}
		fmt.Printf("%-10s %-20s %-10s %-10s %-12s %s\n", "JOBID", "NAME", "STATE", "ELAPSED", "PARTITION", "NODES")
		for _, j := range jobs {
			nodes := strings.Join(j.Nodes, ",")
			if nodes == "" && j.Reason != "" {
				nodes = "(" + j.Reason + ")"
			}
			fmt.Printf("%-10s %-20s %-10s %-10s %-12s %s\n",
				j.ID, truncate(j.Name, 20), j.State, j.ElapsedText, j.Partition, nodes)
		}
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func init() {
	rootCmd.AddCommand(psCmd)
}
