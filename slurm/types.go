package slurm

import "time"

// JobState is the closed set of scheduler states the tool reasons about.
// Anything the scheduler emits outside this set maps to StateUnknown.
type JobState string

const (
	StatePending     JobState = "PENDING"
	StateRunning     JobState = "RUNNING"
	StateCompleting  JobState = "COMPLETING"
	StateCompleted   JobState = "COMPLETED"
	StateFailed      JobState = "FAILED"
	StateCancelled   JobState = "CANCELLED"
	StateTimeout     JobState = "TIMEOUT"
	StateNodeFail    JobState = "NODE_FAIL"
	StateOutOfMemory JobState = "OUT_OF_MEMORY"
	StatePreempted   JobState = "PREEMPTED"
	StateSuspended   JobState = "SUSPENDED"
	StateUnknown     JobState = "UNKNOWN"
)

// ParseJobState normalizes scheduler state strings. Slurm appends "+" to
// CANCELLED states with a reason ("CANCELLED by 123"); the leading word wins.
func ParseJobState(s string) JobState {
	if i := indexByteAny(s, " +"); i >= 0 {
		s = s[:i]
	}
	switch JobState(s) {
	case StatePending, StateRunning, StateCompleting, StateCompleted, StateFailed,
		StateCancelled, StateTimeout, StateNodeFail, StateOutOfMemory,
		StatePreempted, StateSuspended:
		return JobState(s)
	}
	return StateUnknown
}

func indexByteAny(s, chars string) int {
	for i := 0; i < len(s); i++ {
		for j := 0; j < len(chars); j++ {
			if s[i] == chars[j] {
				return i
			}
		}
	}
	return -1
}

// Terminal reports whether a job in this state will never run again.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateTimeout,
		StateNodeFail, StateOutOfMemory, StatePreempted:
		return true
	}
	return false
}

// Job is one row of the live squeue listing.
type Job struct {
	ID             string
	Name           string
	State          JobState
	ElapsedText    string
	ElapsedSeconds int
	LimitText      string
	LimitSeconds   int
	Partition      string
	Gres           string
	Nodes          []string
	Reason         string // free-form pending reason, empty when running
}

// Accounting is one row of the sacct history listing.
type Accounting struct {
	ID             string
	Name           string
	State          JobState
	ElapsedSeconds int
	ExitCode       int
	Partition      string
	Nodes          []string
}

// NodeState is the inventory state of one compute node.
type NodeState string

const (
	NodeIdle      NodeState = "idle"
	NodeMixed     NodeState = "mixed"
	NodeAllocated NodeState = "allocated"
	NodeDraining  NodeState = "draining"
	NodeDown      NodeState = "down"
	NodeUnknown   NodeState = "unknown"
)

// Node is one row of the sinfo inventory.
type Node struct {
	Name     string
	State    NodeState
	Gres     string
	GPUType  string
	GPUTotal int
	GPUFree  int
	CPUAlloc int
	CPUIdle  int
	CPUTotal int
	MemoryMB int
}

// Allocation is one row of the service-unit balance table.
type Allocation struct {
	Account   string
	Balance   float64
	Reserved  float64
	Available float64
}

// Quota is one row of the storage quota report.
type Quota struct {
	Kind    string
	Path    string
	SizeGB  float64
	UnitRaw string
}

// SystemState bundles the queries the allocator needs, fetched in one
// batched round-trip.
type SystemState struct {
	Nodes       []Node
	RunningJobs []Job
	PendingJobs []Job
	FairShare   float64
	FetchedAt   time.Time
}
