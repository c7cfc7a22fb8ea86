package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charliemeyer2000/rv/remote"
	"github.com/charliemeyer2000/rv/rverr"
	"github.com/charliemeyer2000/rv/slurm"
	"github.com/charliemeyer2000/rv/store"
)

var (
	jsonOutput bool   // machine-readable output on every command
	logLevel   string // logrus verbosity
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:           "rv",
	Short:         "Race GPU allocation strategies on the cluster and stream the winner",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q", logLevel)
		}
		logrus.SetLevel(level)
		return nil
	},
}

// Execute runs the CLI root command. Remote-exit errors propagate the remote
// command's exit code verbatim; everything else exits 1.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !rverr.IsKind(err, rverr.KindRemoteExit) {
			fmt.Fprintf(os.Stderr, "rv: %v\n", err)
		}
		os.Exit(rverr.ExitCode(err, 1))
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Machine-readable JSON output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error)")
}

// session bundles the per-invocation handles every remote command needs.
type session struct {
	cfg    *store.Config
	exec   *remote.SSHExecutor
	client *slurm.Client
}

func newSession() (*session, error) {
	cfg, err := store.LoadConfig()
	if err != nil {
		return nil, err
	}
	return sessionFor(cfg)
}

// sessionFor builds a session from an in-memory config, used by `rv init`
// before anything is saved.
func sessionFor(cfg *store.Config) (*session, error) {
	dir, err := store.Dir()
	if err != nil {
		return nil, err
	}
	sockDir := filepath.Join(dir, "sockets")
	if err := os.MkdirAll(sockDir, 0o700); err != nil {
		return nil, err
	}
	exec := remote.NewSSHExecutor(cfg.Connection.HostAlias, sockDir)
	client := slurm.NewClient(exec, cfg.Connection.User, "")
	return &session{cfg: cfg, exec: exec, client: client}, nil
}

// printJSON renders v for --json consumers.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// gpuOverlayPath is the optional per-user GPU table override file.
func gpuOverlayPath() string {
	dir, err := store.Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "gputypes.yaml")
}
