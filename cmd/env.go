package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/charliemeyer2000/rv/store"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Manage variables injected into every submitted job",
}

var envLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stored variables",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.LoadEnv()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(s.Vars)
		}
		keys := make([]string, 0, len(s.Vars))
		for k := range s.Vars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s=%s\n", k, s.Vars[k])
		}
		return nil
	},
}

var envSetCmd = &cobra.Command{
	Use:   "set KEY=VALUE...",
	Short: "Store variables",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.LoadEnv()
		if err != nil {
			return err
		}
		for _, arg := range args {
			k, v, ok := strings.Cut(arg, "=")
			if !ok {
				return fmt.Errorf("expected KEY=VALUE, got %q", arg)
			}
			if err := s.Set(k, v); err != nil {
				return err
			}
		}
		return nil
	},
}

var envUnsetCmd = &cobra.Command{
	Use:   "unset KEY...",
	Short: "Remove variables",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.LoadEnv()
		if err != nil {
			return err
		}
		for _, k := range args {
			if err := s.Unset(k); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	envCmd.AddCommand(envLsCmd, envSetCmd, envUnsetCmd)
	rootCmd.AddCommand(envCmd)
}
