package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/charliemeyer2000/rv/rverr"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Verify the connection and prepare the remote state directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		out, err := sess.exec.Exec(cmd.Context(),
			"mkdir -p $HOME/.rv/env $HOME/.rv/scripts && echo ok")
		if err != nil {
			return err
		}
		if strings.TrimSpace(out) != "ok" {
			return rverr.New(rverr.KindConnection, "up", "unexpected response from %s: %q",
				sess.cfg.Connection.HostAlias, strings.TrimSpace(out))
		}
		if jsonOutput {
			return printJSON(map[string]string{"host": sess.cfg.Connection.HostAlias, "status": "ok"})
		}
		fmt.Printf("connected to %s, remote state directory ready\n", sess.cfg.Connection.HostAlias)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(upCmd)
}
