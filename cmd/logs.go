package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/charliemeyer2000/rv/rverr"
	"github.com/charliemeyer2000/rv/tail"
)

var (
	logsStream string
	logsNode   int
	logsNodes  int
	logsRaw    bool
)

var logsCmd = &cobra.Command{
	Use:   "logs <jobid>",
	Short: "Stream a job's output until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		jobID := args[0]

		// the job name fixes the %x-%j log paths
		jobs, err := sess.client.ListJobs(cmd.Context())
		if err != nil {
			return err
		}
		name := ""
		nodes := logsNodes
		for _, j := range jobs {
			if j.ID == jobID {
				name = j.Name
				if nodes == 0 {
					nodes = len(j.Nodes)
				}
			}
		}
		if name == "" {
			return rverr.New(rverr.KindAllocator, "logs", "job %s is not in the live queue; pass its logs directly", jobID)
		}

		outPath, errPath := logPaths(name, jobID)
		res, err := tail.Tail(cmd.Context(), sess.client, jobID, outPath, errPath, tail.Options{
			Stream:     tail.Stream(logsStream),
			NodeCount:  nodes,
			NodeFilter: logsNode,
			Raw:        logsRaw,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(res)
		}
		fmt.Printf("job %s finished: %s (exit %d)\n", jobID, res.FinalState, res.ExitCode)
		if res.ExitCode != 0 {
			return rverr.RemoteExit("logs", res.ExitCode, "")
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().StringVar(&logsStream, "stream", "both", "Which stream to print (out, err, both)")
	logsCmd.Flags().IntVar(&logsNode, "node", -1, "Limit output to one node index")
	logsCmd.Flags().IntVar(&logsNodes, "nodes", 0, "Node count for per-node log files (0 = infer)")
	logsCmd.Flags().BoolVar(&logsRaw, "raw", false, "Keep progress-bar lines")
	rootCmd.AddCommand(logsCmd)
}
