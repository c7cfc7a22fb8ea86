package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/charliemeyer2000/rv/rverr"
)

var execCmd = &cobra.Command{
	Use:   "exec -- command...",
	Short: "Run a command on the login node and print its output",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		out, err := sess.exec.Exec(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

var sshCmd = &cobra.Command{
	Use:   "ssh [node]",
	Short: "Open an interactive shell on the login node or a compute node",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		var argv []string
		if len(args) == 1 {
			// hop from the login node onto the compute node
			argv = []string{"ssh", args[0]}
		}
		code, err := sess.exec.ExecInteractive(argv)
		if err != nil {
			return err
		}
		if code != 0 {
			return rverr.RemoteExit("ssh", code, "interactive session")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(execCmd, sshCmd)
}
