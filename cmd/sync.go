package cmd

import (
	"fmt"
	"path"

	"github.com/spf13/cobra"

	"github.com/charliemeyer2000/rv/gitutil"
	"github.com/charliemeyer2000/rv/remote"
	"github.com/charliemeyer2000/rv/rverr"
)

var (
	syncDelete bool
	syncDryRun bool
	syncAll    bool
)

var syncCmd = &cobra.Command{
	Use:   "sync [localDir]",
	Short: "Mirror the project to the remote, tracked files only by default",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		local := "."
		if len(args) == 1 {
			local = args[0]
		}

		branch := "work"
		if snap := gitutil.Read(local); snap != nil {
			branch = gitutil.SanitizeBranch(snap.Branch)
		}
		dest := path.Join(sess.cfg.Paths.Home, "projects", branch) + "/"

		opts := remote.StreamOptions{
			Delete:   syncDelete,
			DryRun:   syncDryRun,
			Excludes: []string{".git/"},
		}
		if syncAll {
			err = sess.exec.PushStream(cmd.Context(), local+"/", dest, opts)
		} else {
			files, ferr := gitutil.TrackedFiles(local)
			if ferr != nil {
				return rverr.Wrap(rverr.KindConfig, "sync", ferr,
					"%s is not a git repository (use --all to sync everything)", local)
			}
			err = sess.exec.PushStreamWithList(cmd.Context(), local+"/", dest, files, opts)
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]string{"dest": dest})
		}
		fmt.Printf("synced to %s\n", dest)
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncDelete, "delete", false, "Delete remote files not present locally")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Show what would transfer")
	syncCmd.Flags().BoolVar(&syncAll, "all", false, "Sync everything, not only VCS-tracked files")
	rootCmd.AddCommand(syncCmd)
}
