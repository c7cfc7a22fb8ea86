// Package testutil provides shared scripted fakes for the remote and
// scheduler surfaces, used across the allocator, tailer, and client tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charliemeyer2000/rv/remote"
	"github.com/charliemeyer2000/rv/slurm"
)

// FakeCluster is a scripted scheduler. It satisfies both the allocator's
// Scheduler interface and the tailer's Cluster interface, so one fixture
// covers the whole submit-monitor-tail path.
//
// Listing responses are consumed one snapshot per call; the last snapshot
// repeats once the queue is exhausted, which models a stable queue.
type FakeCluster struct {
	mu sync.Mutex

	JobLists  [][]slurm.Job // successive ListJobs snapshots
	listCalls int
	ListErr   error

	History    []slurm.Accounting
	HistoryErr error

	SubmitIDs        []string // job ids handed out in order
	SubmitErr        error
	SubmittedScripts []string

	CancelErr error
	Cancels   [][]string // one entry per CancelMany call

	// ProbeStarts scripts dry-run responses, keyed by ProbeKey. Missing
	// entries mean the scheduler reported no estimate.
	ProbeStarts map[string]*time.Time
	ProbeErr    error
	ProbeCalls  [][]slurm.ProbeRequest

	EnvWrites map[string]map[string]string
	EnvErr    error

	Gres map[string]string // node -> gres string

	BatchFunc  func(commands []string) ([]string, error)
	BatchCalls [][]string

	ExitState slurm.JobState
	ExitCode  int
	ExitErr   error
}

func (f *FakeCluster) ListJobs(ctx context.Context) ([]slurm.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	if len(f.JobLists) == 0 {
		return nil, nil
	}
	i := f.listCalls
	if i >= len(f.JobLists) {
		i = len(f.JobLists) - 1
	}
	f.listCalls++
	return f.JobLists[i], nil
}

func (f *FakeCluster) ListHistory(ctx context.Context, since time.Time) ([]slurm.Accounting, error) {
	if f.HistoryErr != nil {
		return nil, f.HistoryErr
	}
	return f.History, nil
}

func (f *FakeCluster) Submit(ctx context.Context, scriptText string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}
	f.SubmittedScripts = append(f.SubmittedScripts, scriptText)
	if len(f.SubmitIDs) == 0 {
		return fmt.Sprintf("%d", 1000+len(f.SubmittedScripts)), nil
	}
	id := f.SubmitIDs[0]
	f.SubmitIDs = f.SubmitIDs[1:]
	return id, nil
}

func (f *FakeCluster) CancelMany(ctx context.Context, jobIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cancels = append(f.Cancels, append([]string(nil), jobIDs...))
	return f.CancelErr
}

func (f *FakeCluster) ProbeBatch(ctx context.Context, reqs []slurm.ProbeRequest) ([]*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ProbeErr != nil {
		return nil, f.ProbeErr
	}
	f.ProbeCalls = append(f.ProbeCalls, reqs)
	out := make([]*time.Time, len(reqs))
	for i, r := range reqs {
		out[i] = f.ProbeStarts[ProbeKey(r.Gres, r.WalltimeSeconds)]
	}
	return out, nil
}

// ProbeKey is the scripting key for one dry-run probe.
func ProbeKey(gres string, walltime int) string {
	return fmt.Sprintf("%s@%d", gres, walltime)
}

func (f *FakeCluster) WriteEnvFile(ctx context.Context, jobID string, vars map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EnvErr != nil {
		return f.EnvErr
	}
	if f.EnvWrites == nil {
		f.EnvWrites = map[string]map[string]string{}
	}
	f.EnvWrites[jobID] = vars
	return nil
}

func (f *FakeCluster) NodeGres(ctx context.Context, node string) (string, error) {
	if g, ok := f.Gres[node]; ok {
		return g, nil
	}
	return "", fmt.Errorf("no gres scripted for node %s", node)
}

func (f *FakeCluster) ExecBatch(ctx context.Context, commands []string) ([]string, error) {
	f.mu.Lock()
	f.BatchCalls = append(f.BatchCalls, append([]string(nil), commands...))
	fn := f.BatchFunc
	f.mu.Unlock()
	if fn == nil {
		return make([]string, len(commands)), nil
	}
	return fn(commands)
}

func (f *FakeCluster) JobExit(ctx context.Context, jobID string) (slurm.JobState, int, error) {
	if f.ExitErr != nil {
		return slurm.StateUnknown, -1, f.ExitErr
	}
	return f.ExitState, f.ExitCode, nil
}

// FakeExecutor is a scripted remote.Executor for client-level tests. Exec
// responses are matched by substring against the command; scripts must use
// substrings that identify a single command.
type FakeExecutor struct {
	mu sync.Mutex

	Responses map[string]string // command substring -> stdout
	Err       error

	Commands []string // every command seen, batches flattened
	Writes   map[string][]byte
}

var _ remote.Executor = (*FakeExecutor)(nil)

func (f *FakeExecutor) lookup(command string) string {
	for sub, out := range f.Responses {
		if strings.Contains(command, sub) {
			return out
		}
	}
	return ""
}

func (f *FakeExecutor) Exec(ctx context.Context, command string) (string, error) {
	return f.ExecTimeout(ctx, command, 0)
}

func (f *FakeExecutor) ExecTimeout(ctx context.Context, command string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Commands = append(f.Commands, command)
	if f.Err != nil {
		return "", f.Err
	}
	return f.lookup(command), nil
}

func (f *FakeExecutor) ExecBatch(ctx context.Context, commands []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]string, len(commands))
	for i, c := range commands {
		f.Commands = append(f.Commands, c)
		out[i] = f.lookup(c)
	}
	return out, nil
}

func (f *FakeExecutor) WriteFile(ctx context.Context, remotePath string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if f.Writes == nil {
		f.Writes = map[string][]byte{}
	}
	f.Writes[remotePath] = append([]byte(nil), data...)
	return nil
}

func (f *FakeExecutor) PullStream(ctx context.Context, remotePath, localPath string, opts remote.StreamOptions) error {
	return f.Err
}

func (f *FakeExecutor) PushStream(ctx context.Context, localPath, remotePath string, opts remote.StreamOptions) error {
	return f.Err
}

func (f *FakeExecutor) PushStreamWithList(ctx context.Context, localPath, remotePath string, files []string, opts remote.StreamOptions) error {
	return f.Err
}

func (f *FakeExecutor) ExecInteractive(argv []string) (int, error) {
	return 0, f.Err
}

// TimePtr is a literal-friendly helper for probe scripts.
func TimePtr(t time.Time) *time.Time { return &t }
