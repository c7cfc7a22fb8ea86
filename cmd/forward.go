package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/charliemeyer2000/rv/store"
)

var forwardCmd = &cobra.Command{
	Use:   "forward",
	Short: "Manage port forwards to compute nodes",
}

var forwardLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List live forwards (stale entries are pruned)",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := store.LoadForwards()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(f.Entries)
		}
		if len(f.Entries) == 0 {
			fmt.Println("no forwards")
			return nil
		}
		fmt.Printf("%-8s %-10s %-8s %-8s %-16s %s\n", "PID", "JOBID", "LOCAL", "REMOTE", "NODE", "STARTED")
		for _, e := range f.Entries {
			fmt.Printf("%-8d %-10s %-8d %-8d %-16s %s\n",
				e.PID, e.JobID, e.LocalPort, e.RemotePort, e.Node, humanize.Time(e.StartedAt))
		}
		return nil
	},
}

var forwardStartCmd = &cobra.Command{
	Use:   "start <jobid> <node> <localPort> <remotePort>",
	Short: "Open a background tunnel to a job's node",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		jobID, node := args[0], args[1]
		localPort, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("bad local port %q", args[2])
		}
		remotePort, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("bad remote port %q", args[3])
		}

		// the tunnel hops through the login node to reach the compute node
		spec := fmt.Sprintf("%d:%s:%d", localPort, node, remotePort)
		tunnel := exec.Command("ssh", "-N", "-L", spec, sess.cfg.Connection.HostAlias)
		if err := tunnel.Start(); err != nil {
			return err
		}

		f, err := store.LoadForwards()
		if err != nil {
			return err
		}
		if err := f.Add(store.TunnelEntry{
			PID:        tunnel.Process.Pid,
			JobID:      jobID,
			LocalPort:  localPort,
			RemotePort: remotePort,
			Node:       node,
			StartedAt:  time.Now(),
		}); err != nil {
			return err
		}
		fmt.Printf("forwarding localhost:%d -> %s:%d (pid %d)\n", localPort, node, remotePort, tunnel.Process.Pid)
		return nil
	},
}

var forwardStopCmd = &cobra.Command{
	Use:   "stop <pid>",
	Short: "Close a tunnel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("bad pid %q", args[0])
		}
		f, err := store.LoadForwards()
		if err != nil {
			return err
		}
		if p, err := os.FindProcess(pid); err == nil {
			p.Kill()
		}
		return f.Remove(pid)
	},
}

func init() {
	forwardCmd.AddCommand(forwardLsCmd, forwardStartCmd, forwardStopCmd)
	rootCmd.AddCommand(forwardCmd)
}
