package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charliemeyer2000/rv/alloc"
	"github.com/charliemeyer2000/rv/gitutil"
	"github.com/charliemeyer2000/rv/rverr"
	"github.com/charliemeyer2000/rv/script"
	"github.com/charliemeyer2000/rv/slurm"
	"github.com/charliemeyer2000/rv/store"
	"github.com/charliemeyer2000/rv/tail"
)

var (
	runGPUs    int
	runType    string
	runTime    string
	runName    string
	runMemory  int
	runVRAM    int
	runWorkDir string
	runVenv    string
	runDetach  bool
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- command...",
	Short: "Allocate GPUs by racing every viable strategy, then run and stream a command",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		return runAllocation(cmd.Context(), sess, strings.Join(args, " "))
	},
}

func init() {
	runCmd.Flags().IntVar(&runGPUs, "gpus", 1, "Number of GPUs")
	runCmd.Flags().StringVar(&runType, "type", "", "GPU type (empty = race all compatible types)")
	runCmd.Flags().StringVar(&runTime, "time", "", "Total runtime (2h, 90m, 1-00:00:00); defaults from config")
	runCmd.Flags().StringVar(&runName, "name", "", "Job name")
	runCmd.Flags().IntVar(&runMemory, "memory", 0, "Memory in GB (0 = partition default)")
	runCmd.Flags().IntVar(&runVRAM, "vram", 0, "Minimum VRAM per GPU in GB")
	runCmd.Flags().StringVar(&runWorkDir, "workdir", "", "Remote working directory")
	runCmd.Flags().StringVar(&runVenv, "venv", "", "Remote virtualenv to activate")
	runCmd.Flags().BoolVar(&runDetach, "detach", false, "Return after the winner starts instead of tailing logs")
	rootCmd.AddCommand(runCmd)
}

func runAllocation(ctx context.Context, sess *session, command string) error {
	req, err := buildRequest(sess.cfg, command)
	if err != nil {
		return err
	}

	table, err := alloc.GPUTable(gpuOverlayPath())
	if err != nil {
		return err
	}
	compatible := alloc.CompatibleTypes(table, req)
	if len(compatible) == 0 {
		return rverr.New(rverr.KindAllocator, "run",
			"no GPU type can serve %d GPUs with >=%d GB VRAM", req.GPUCount, req.VRAMMinGB)
	}

	fmt.Printf("Probing backfill windows for %d GPU types...\n", len(compatible))
	probes, err := alloc.ProbeBackfill(ctx, sess.client, compatible, req, time.Now())
	if err != nil {
		return err
	}

	strategies := alloc.RankStrategies(alloc.GenerateStrategies(compatible, req, probes), req)
	if len(strategies) == 0 {
		return rverr.New(rverr.KindAllocator, "run", "no viable strategies for this request")
	}
	for _, s := range strategies {
		logrus.Infof("strategy %s: %s (score %.0f, wait ~%ds, %.0f SU)",
			s.ID, s.Label, s.Score, s.EstimatedWaitSeconds, s.EstimatedSU)
	}

	envStore, err := store.LoadEnv()
	if err != nil {
		return err
	}
	scriptCfg := scriptConfig(sess.cfg, req)
	synth := func(s alloc.Strategy) (string, error) {
		return script.Synthesize(req, s, scriptCfg), nil
	}

	fmt.Printf("Submitting %d strategies...\n", len(strategies))
	subs, err := alloc.SubmitAll(ctx, sess.client, synth, strategies, envStore.Vars)
	if err != nil {
		return err
	}
	recordRequest(req, subs)

	// first Ctrl-C cancels everything still pending so the fan-out does not
	// leak queued jobs; second one force-exits
	cleanup := installInterruptCancel(sess, subs)
	defer cleanup()

	fmt.Printf("Racing %d submissions...\n", len(subs))
	monitor := &alloc.Monitor{Scheduler: sess.client}
	result, err := monitor.Run(ctx, subs)
	if err != nil {
		return err
	}
	winner := result.Winner
	markWinner(req, winner)

	verification, err := alloc.VerifyAllocation(ctx, sess.client, table, winner)
	if err == nil {
		for _, w := range verification.Warnings {
			color.Yellow("warning: %s", w)
		}
		if verification.Mismatch {
			color.Yellow("warning: allocated %s but strategy requested %s",
				verification.ObservedLabel, winner.Strategy.GPUType)
		}
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"winner":           winner.JobID,
			"strategy":         winner.Strategy.Label,
			"nodes":            winner.Nodes,
			"allocationTimeMs": result.AllocationTime.Milliseconds(),
		})
	} else {
		fmt.Printf("Job %s started on %s (%s) after %s\n",
			winner.JobID, strings.Join(winner.Nodes, ","), winner.Strategy.Label,
			result.AllocationTime.Round(time.Second))
	}
	if runDetach || winner.State == slurm.StateCompleted {
		return nil
	}

	outPath, errPath := logPaths(req.JobName, winner.JobID)
	res, err := tail.Tail(ctx, sess.client, winner.JobID, outPath, errPath, tail.Options{
		NodeCount:  winner.Strategy.Nodes,
		NodeFilter: -1,
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return rverr.RemoteExit("run", res.ExitCode, fmt.Sprintf("job %s finished %s", winner.JobID, res.FinalState))
	}
	return nil
}

func buildRequest(cfg *store.Config, command string) (*alloc.UserRequest, error) {
	timeText := runTime
	if timeText == "" {
		timeText = cfg.Defaults.Time
	}
	if timeText == "" {
		return nil, rverr.New(rverr.KindConfig, "run", "no --time given and no default in config")
	}
	dur, err := slurm.ParseDuration(timeText)
	if err != nil {
		return nil, rverr.Wrap(rverr.KindConfig, "run", err, "bad time %q", timeText)
	}

	gpuType := runType
	if gpuType == "" {
		gpuType = cfg.Defaults.GPUType
	}
	name := runName
	if name == "" {
		name = defaultJobName()
	}

	return &alloc.UserRequest{
		GPUCount:         runGPUs,
		GPUType:          alloc.GPUType(gpuType),
		TotalTimeSeconds: dur.Seconds,
		TotalTimeText:    dur.Formatted,
		JobName:          name,
		Account:          cfg.Defaults.Account,
		User:             cfg.Connection.User,
		Command:          command,
		WorkDir:          runWorkDir,
		VenvPath:         runVenv,
		MemoryGB:         runMemory,
		VRAMMinGB:        runVRAM,
		NotifyEndpoint:   cfg.Notifications.Endpoint,
	}, nil
}

func defaultJobName() string {
	branch := "work"
	if snap := gitutil.Read("."); snap != nil {
		branch = gitutil.SanitizeBranch(snap.Branch)
	}
	return fmt.Sprintf("rv-%s", branch)
}

func scriptConfig(cfg *store.Config, req *alloc.UserRequest) script.Config {
	sc := script.Config{
		User:    cfg.Connection.User,
		Account: cfg.Defaults.Account,
		Scratch: cfg.Paths.Scratch,
		Venv:    req.VenvPath,
		WorkDir: req.WorkDir,
	}
	if cfg.Notifications.Enabled {
		sc.NotifyEndpoint = cfg.Notifications.Endpoint
		sc.NotifySecret = cfg.Notifications.Token
	}
	if shared, ok := cfg.SharedCaches["hf"]; ok {
		sc.SharedHFCache = shared
	}
	return sc
}

// logPaths mirrors the #SBATCH %x-%j expansion relative to the remote home.
func logPaths(name, jobID string) (string, string) {
	return fmt.Sprintf("%s-%s.out", name, jobID), fmt.Sprintf("%s-%s.err", name, jobID)
}

func recordRequest(req *alloc.UserRequest, subs []*alloc.Submission) {
	reqs, err := store.LoadRequests()
	if err != nil {
		logrus.Warnf("request history unavailable: %v", err)
		return
	}
	rec := store.RequestRecord{
		ID:        store.NewID(),
		Name:      req.JobName,
		CreatedAt: time.Now(),
	}
	if snap := gitutil.Read("."); snap != nil {
		rec.Branch, rec.Commit, rec.Dirty = snap.Branch, snap.Commit, snap.Dirty
	}
	for _, s := range subs {
		rec.Jobs = append(rec.Jobs, store.SubmittedJob{
			JobID:       s.JobID,
			GPUType:     string(s.Strategy.GPUType),
			Partition:   s.Strategy.Partition,
			Topology:    s.Strategy.Topology,
			Checkpoint:  s.Strategy.Checkpoint,
			GPUsPerNode: s.Strategy.GPUsPerNode,
			Nodes:       s.Strategy.Nodes,
		})
	}
	lastRequestID = rec.ID
	if err := reqs.Add(rec); err != nil {
		logrus.Warnf("request history not written: %v", err)
	}
}

var lastRequestID string

func markWinner(req *alloc.UserRequest, winner *alloc.Submission) {
	if lastRequestID == "" {
		return
	}
	reqs, err := store.LoadRequests()
	if err != nil {
		return
	}
	if err := reqs.SetWinner(lastRequestID, winner.JobID); err != nil {
		logrus.Warnf("winner not recorded: %v", err)
	}
}

// installInterruptCancel registers a SIGINT handler that cancels every
// submission still able to run, then exits 130.
func installInterruptCancel(sess *session, subs []*alloc.Submission) func() {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		ids := alloc.LiveJobIDs(subs)
		if len(ids) > 0 {
			fmt.Fprintf(os.Stderr, "\ninterrupted, cancelling %d submissions...\n", len(ids))
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := sess.client.CancelMany(ctx, ids); err != nil {
				fmt.Fprintf(os.Stderr, "cancel failed: %v\n", err)
			}
		}
		os.Exit(130)
	}()
	return func() { signal.Stop(ch) }
}
