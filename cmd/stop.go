package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/charliemeyer2000/rv/rverr"
)

var stopAll bool

var stopCmd = &cobra.Command{
	Use:   "stop [jobid...]",
	Short: "Cancel jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		ids := args
		if stopAll {
			jobs, err := sess.client.ListJobs(cmd.Context())
			if err != nil {
				return err
			}
			ids = ids[:0]
			for _, j := range jobs {
				ids = append(ids, j.ID)
			}
		}
		if len(ids) == 0 {
			return rverr.New(rverr.KindAllocator, "stop", "no job ids given (use --all for everything)")
		}
		if err := sess.client.CancelMany(cmd.Context(), ids); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]interface{}{"cancelled": ids})
		}
		fmt.Printf("cancelled %d job(s)\n", len(ids))
		return nil
	},
}

func init() {
	stopCmd.Flags().BoolVar(&stopAll, "all", false, "Cancel every live job")
	rootCmd.AddCommand(stopCmd)
}
