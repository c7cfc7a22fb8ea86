package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charliemeyer2000/rv/store"
)

var (
	initHost    string
	initUser    string
	initAccount string
	initTime    string
	initForce   bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the local config and probe the cluster for paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		if path, err := store.ConfigPath(); err == nil && !initForce {
			if _, lerr := store.LoadConfig(); lerr == nil {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}
		}
		if initHost == "" || initUser == "" || initAccount == "" {
			return fmt.Errorf("--host, --user and --account are required")
		}

		cfg := &store.Config{
			Connection: store.ConnectionConfig{
				HostAlias: initHost,
				User:      initUser,
			},
			Defaults: store.DefaultsConfig{
				Account: initAccount,
				Time:    initTime,
			},
		}

		// fill hostname and standard paths from the cluster itself; a failed
		// probe still leaves a usable config behind
		if sess, err := sessionFor(cfg); err == nil {
			outs, err := sess.exec.ExecBatch(cmd.Context(),
				[]string{"hostname", "echo $HOME", "echo ${SCRATCH:-/scratch/$USER}"})
			if err == nil && len(outs) == 3 {
				cfg.Connection.Hostname = strings.TrimSpace(outs[0])
				cfg.Paths.Home = strings.TrimSpace(outs[1])
				cfg.Paths.Scratch = strings.TrimSpace(outs[2])
			} else {
				color.Yellow("could not reach %s; wrote config without remote paths", initHost)
			}
		}

		if err := store.SaveConfig(cfg); err != nil {
			return err
		}
		path, _ := store.ConfigPath()
		if jsonOutput {
			return printJSON(map[string]string{"config": path})
		}
		fmt.Printf("wrote %s\n", path)
		fmt.Println("next: `rv up` to prepare the remote state directory")
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initHost, "host", "", "SSH alias or user@host for the login node")
	initCmd.Flags().StringVar(&initUser, "user", "", "Cluster username")
	initCmd.Flags().StringVar(&initAccount, "account", "", "Scheduler account to charge")
	initCmd.Flags().StringVar(&initTime, "time", "4h", "Default requested walltime")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config")
	rootCmd.AddCommand(initCmd)
}
