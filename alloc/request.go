package alloc

import (
	"context"
	"time"

	"github.com/charliemeyer2000/rv/slurm"
)

// UserRequest is the immutable input to the allocation engine.
type UserRequest struct {
	GPUCount         int
	GPUType          GPUType // empty means any
	TotalTimeSeconds int
	TotalTimeText    string // Slurm rendering of TotalTimeSeconds
	JobName          string
	Account          string
	User             string
	Command          string // empty for interactive allocations
	WorkDir          string
	VenvPath         string
	MemoryGB         int    // 0 = partition default
	VRAMMinGB        int    // floor on per-GPU memory, 0 = any
	NotifyEndpoint   string
	SharedCachePath  string // group-shared HF cache, optional
}

// Scheduler is the slice of the scheduler client the allocator consumes.
// *slurm.Client satisfies it; tests substitute a scripted fake.
type Scheduler interface {
	ListJobs(ctx context.Context) ([]slurm.Job, error)
	ListHistory(ctx context.Context, since time.Time) ([]slurm.Accounting, error)
	Submit(ctx context.Context, scriptText string) (string, error)
	CancelMany(ctx context.Context, jobIDs []string) error
	ProbeBatch(ctx context.Context, reqs []slurm.ProbeRequest) ([]*time.Time, error)
	WriteEnvFile(ctx context.Context, jobID string, vars map[string]string) error
	NodeGres(ctx context.Context, node string) (string, error)
}

// probeGPUsPerNode is the per-node GPU count a probe (and later the real
// submission) will request: the full count when one node can hold it, half
// rounded up for the two-node split.
func probeGPUsPerNode(spec GPUSpec, count int) (perNode, nodes int) {
	if count <= spec.MaxPerJob {
		return count, 1
	}
	return ceilDiv(count, 2), 2
}
