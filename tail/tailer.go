// Package tail streams a job's remote log files to the local terminal until
// the job reaches a terminal state, then resolves the final exit code.
package tail

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/charliemeyer2000/rv/slurm"
)

// Stream selects which log streams to print.
type Stream string

const (
	StreamOut  Stream = "out"
	StreamErr  Stream = "err"
	StreamBoth Stream = "both"
)

// Cluster is the remote surface the tailer needs. *slurm.Client satisfies it.
type Cluster interface {
	ExecBatch(ctx context.Context, commands []string) ([]string, error)
	ListJobs(ctx context.Context) ([]slurm.Job, error)
	JobExit(ctx context.Context, jobID string) (slurm.JobState, int, error)
}

// Options tune one tail session.
type Options struct {
	Stream     Stream // default both
	NodeCount  int    // >1 switches to per-node files
	NodeFilter int    // -1 = all nodes, otherwise a single node index
	Raw        bool   // keep progress-bar carriage-return lines
	Silent     bool   // track state but print nothing

	// PreambleFallbackPolls is how many content-free polls to tolerate
	// before falling back from per-node files to the sbatch-level ones
	// (preamble failures happen before srun opens per-node output).
	// 0 means the default of 3.
	PreambleFallbackPolls int

	Interval time.Duration // default 3s
	Out      io.Writer     // default os.Stdout; test hook
}

// Result is the resolved end of a tailed job.
type Result struct {
	FinalState slurm.JobState
	ExitCode   int
}

type trackedFile struct {
	path     string
	nodeIdx  int  // -1 for sbatch-level files
	isStderr bool
	lines    int
}

var progressRe = regexp.MustCompile(`\d+%\|`)

var nodeColors = []*color.Color{
	color.New(color.FgCyan),
	color.New(color.FgMagenta),
	color.New(color.FgYellow),
	color.New(color.FgGreen),
}

// Tailer polls the remote files for one job.
type Tailer struct {
	Cluster Cluster
	Opts    Options

	files    []trackedFile
	fallback []trackedFile // sbatch-level files kept warm for preamble fallback
	fellBack bool
	polls    int
	sawNode  bool // any per-node file ever produced content
}

// Tail runs the polling loop to completion. outPath/errPath are the
// sbatch-level log paths; per-node paths are derived from them.
func Tail(ctx context.Context, cluster Cluster, jobID, outPath, errPath string, opts Options) (*Result, error) {
	t := &Tailer{Cluster: cluster, Opts: opts}
	t.init(outPath, errPath)
	return t.run(ctx, jobID)
}

func (t *Tailer) init(outPath, errPath string) {
	if t.Opts.Stream == "" {
		t.Opts.Stream = StreamBoth
	}
	if t.Opts.Interval == 0 {
		t.Opts.Interval = 3 * time.Second
	}
	if t.Opts.PreambleFallbackPolls == 0 {
		t.Opts.PreambleFallbackPolls = 3
	}
	if t.Opts.Out == nil {
		t.Opts.Out = color.Output
	}

	sbatchLevel := []trackedFile{}
	if t.Opts.Stream != StreamErr {
		sbatchLevel = append(sbatchLevel, trackedFile{path: outPath, nodeIdx: -1})
	}
	if t.Opts.Stream != StreamOut {
		sbatchLevel = append(sbatchLevel, trackedFile{path: errPath, nodeIdx: -1, isStderr: true})
	}

	if t.Opts.NodeCount <= 1 {
		t.files = sbatchLevel
		return
	}
	for k := 0; k < t.Opts.NodeCount; k++ {
		if t.Opts.NodeFilter >= 0 && k != t.Opts.NodeFilter {
			continue
		}
		if t.Opts.Stream != StreamErr {
			t.files = append(t.files, trackedFile{path: nodeFile(outPath, k), nodeIdx: k})
		}
		if t.Opts.Stream != StreamOut {
			t.files = append(t.files, trackedFile{path: nodeFile(errPath, k), nodeIdx: k, isStderr: true})
		}
	}
	// the sbatch-level stderr is watched silently so a preamble failure
	// before srun starts is not invisible
	t.fallback = sbatchLevel
}

// nodeFile derives the per-node log path the multi-node script writes:
// "name-<jobid>.out" -> "name-<jobid>-node0.out".
func nodeFile(path string, k int) string {
	if i := strings.LastIndexByte(path, '.'); i > 0 {
		return fmt.Sprintf("%s-node%d%s", path[:i], k, path[i:])
	}
	return fmt.Sprintf("%s-node%d", path, k)
}

func (t *Tailer) run(ctx context.Context, jobID string) (*Result, error) {
	for {
		terminal, liveState, err := t.jobState(ctx, jobID)
		if err != nil {
			return nil, err
		}

		if err := t.tick(ctx); err != nil {
			return nil, err
		}

		if terminal {
			// one last fetch already happened in the tick above; resolve
			return t.resolve(ctx, jobID, liveState)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.Opts.Interval):
		}
	}
}

// jobState reports whether the job left the live queue or reached a terminal
// state, plus the live state if one was observed.
func (t *Tailer) jobState(ctx context.Context, jobID string) (bool, slurm.JobState, error) {
	jobs, err := t.Cluster.ListJobs(ctx)
	if err != nil {
		return false, slurm.StateUnknown, err
	}
	for _, j := range jobs {
		if j.ID == jobID {
			return j.State.Terminal(), j.State, nil
		}
	}
	return true, slurm.StateUnknown, nil
}

// tick does one batched size check plus one batched delta fetch.
func (t *Tailer) tick(ctx context.Context) error {
	t.polls++
	files := t.activeFiles()

	wcCmds := make([]string, len(files))
	for i, f := range files {
		wcCmds[i] = fmt.Sprintf("wc -l < %q 2>/dev/null || echo 0", f.path)
	}
	counts, err := t.Cluster.ExecBatch(ctx, wcCmds)
	if err != nil {
		return err
	}

	var tailCmds []string
	var grew []*trackedFile
	var deltas []int
	for i := range files {
		f := files[i]
		n, convErr := strconv.Atoi(strings.TrimSpace(counts[i]))
		if convErr != nil || n <= f.lines {
			continue
		}
		delta := n - f.lines
		tailCmds = append(tailCmds, fmt.Sprintf("tail -n +%d %q 2>/dev/null | head -n %d", f.lines+1, f.path, delta))
		grew = append(grew, f)
		deltas = append(deltas, delta)
	}
	if len(tailCmds) > 0 {
		outs, err := t.Cluster.ExecBatch(ctx, tailCmds)
		if err != nil {
			return err
		}
		for i, f := range grew {
			t.print(f, outs[i])
			f.lines += deltas[i]
			if f.nodeIdx >= 0 && outs[i] != "" {
				t.sawNode = true
			}
		}
	}

	t.maybeFallback()
	return nil
}

// activeFiles returns pointers so tick can advance line counters in place.
func (t *Tailer) activeFiles() []*trackedFile {
	var out []*trackedFile
	for i := range t.files {
		out = append(out, &t.files[i])
	}
	// watch the sbatch-level stderr alongside per-node files until content
	// appears somewhere
	if !t.fellBack {
		for i := range t.fallback {
			out = append(out, &t.fallback[i])
		}
	}
	return out
}

// maybeFallback switches to sbatch-level tailing when the multi-node
// preamble failed before any per-node file was created.
func (t *Tailer) maybeFallback() {
	if t.fellBack || len(t.fallback) == 0 || t.sawNode {
		return
	}
	if t.polls < t.Opts.PreambleFallbackPolls {
		return
	}
	sbatchHasContent := false
	for _, f := range t.fallback {
		if f.isStderr && f.lines > 0 {
			sbatchHasContent = true
		}
	}
	if !sbatchHasContent {
		return
	}
	logrus.Debugf("no per-node output after %d polls, falling back to sbatch-level logs", t.polls)
	t.files = t.fallback
	// everything fetched while suppressed was never shown; rewind so the
	// next tick replays it from the top
	for i := range t.files {
		t.files[i].lines = 0
	}
	t.fallback = nil
	t.fellBack = true
}

func (t *Tailer) print(f *trackedFile, chunk string) {
	if t.Opts.Silent || chunk == "" {
		return
	}
	// per-node files exist but the fallback stderr is only printed after
	// falling back
	if f.nodeIdx < 0 && len(t.fallback) > 0 && !t.fellBack && t.Opts.NodeCount > 1 {
		return
	}
	for _, line := range strings.Split(chunk, "\n") {
		if !t.Opts.Raw && (strings.ContainsRune(line, '\r') || progressRe.MatchString(line)) {
			continue
		}
		prefix := ""
		if f.nodeIdx >= 0 && t.Opts.NodeCount > 1 {
			c := nodeColors[f.nodeIdx%len(nodeColors)]
			prefix = c.Sprintf("[node%d] ", f.nodeIdx)
		}
		if f.isStderr && t.Opts.Stream == StreamBoth {
			prefix += color.RedString("[stderr] ")
		}
		fmt.Fprintln(t.Opts.Out, prefix+line)
	}
}

// resolve turns the last observed live state into an authoritative final
// state and exit code.
func (t *Tailer) resolve(ctx context.Context, jobID string, liveState slurm.JobState) (*Result, error) {
	state := liveState
	exitCode := -1

	if state == slurm.StateUnknown || state == slurm.StateCompleting || !state.Terminal() {
		acctState, acctExit, err := t.Cluster.JobExit(ctx, jobID)
		if err != nil {
			logrus.Debugf("accounting lookup for %s failed: %v", jobID, err)
		} else {
			state = acctState
			exitCode = acctExit
		}
	}
	if state == slurm.StateUnknown || state == slurm.StateCompleting {
		if exitCode == 0 {
			state = slurm.StateCompleted
		} else {
			state = slurm.StateFailed
		}
	}
	if exitCode < 0 {
		if state == slurm.StateCompleted {
			exitCode = 0
		} else {
			exitCode = 1
		}
	}
	return &Result{FinalState: state, ExitCode: exitCode}, nil
}
