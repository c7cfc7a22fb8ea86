package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/charliemeyer2000/rv/alloc"
	"github.com/charliemeyer2000/rv/slurm"
)

var gpuCmd = &cobra.Command{
	Use:   "gpu",
	Short: "Show the GPU type table and live availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := alloc.GPUTable(gpuOverlayPath())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(table)
		}

		fmt.Printf("%-10s %-12s %6s %8s %8s %8s %10s\n",
			"TYPE", "PARTITION", "VRAM", "SU/GPUh", "MAX/JOB", "MAX/USER", "WALLTIME")
		for _, spec := range table {
			fmt.Printf("%-10s %-12s %4dGB %8.2f %8d %8d %10s\n",
				spec.Type, spec.Partition, spec.VRAMGB, spec.SUPerGPUHour,
				spec.MaxPerJob, spec.MaxPerUser, slurm.FormatSeconds(spec.MaxWalltimeSecs))
		}

		// live availability is best-effort: the table is still useful offline
		sess, err := newSession()
		if err != nil {
			return nil
		}
		state, err := sess.client.GetSystemState(cmd.Context())
		if err != nil {
			return nil
		}
		fmt.Println()
		for _, spec := range table {
			free, total := 0, 0
			for _, n := range state.Nodes {
				if n.GPUType == spec.GresName {
					free += n.GPUFree
					total += n.GPUTotal
				}
			}
			if total > 0 {
				fmt.Printf("%-10s %d/%d free (estimated)\n", spec.Type, free, total)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(gpuCmd)
}
