package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Cluster snapshot: GPU availability, your queue, fair-share",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		state, err := sess.client.GetSystemState(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(state)
		}

		type avail struct{ free, total int }
		byType := map[string]*avail{}
		for _, n := range state.Nodes {
			if n.GPUType == "" {
				continue
			}
			a := byType[n.GPUType]
			if a == nil {
				a = &avail{}
				byType[n.GPUType] = a
			}
			a.free += n.GPUFree
			a.total += n.GPUTotal
		}
		types := make([]string, 0, len(byType))
		for t := range byType {
			types = append(types, t)
		}
		sort.Strings(types)

		fmt.Println("GPU availability (estimated):")
		for _, t := range types {
			a := byType[t]
			fmt.Printf("  %-12s %d/%d free\n", t, a.free, a.total)
		}
		fmt.Printf("\nYour jobs: %d running, %d pending\n", len(state.RunningJobs), len(state.PendingJobs))
		fmt.Printf("Fair-share factor: %.3f\n", state.FairShare)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
